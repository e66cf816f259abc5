package lssi

import (
	"testing"

	"github.com/dekarrin/ictcex/internal/bitset"
	"github.com/dekarrin/ictcex/internal/ictiobus/facts"
	"github.com/dekarrin/ictcex/internal/ictiobus/grammar"
	"github.com/dekarrin/ictcex/internal/sig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, src string) (facts.Facts, *sig.Graph) {
	t.Helper()
	g := grammar.MustParse(src)
	f, err := facts.Build(g)
	require.NoError(t, err)
	graph, err := sig.New(f, nil)
	require.NoError(t, err)
	return f, graph
}

func Test_EligibleStateItems_includesTarget(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	eligible := EligibleStateItems(graph, 0)
	assert.True(t, eligible.Test(0))
}

func Test_EligibleStateItems_followsRevTransAndRevProds(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	bRule := -1
	for id, r := range f.Rules {
		if f.Symbols.Name(r.LHS) == "B" && len(r.RHS) == 1 {
			bRule = id
			break
		}
	}
	require.GreaterOrEqual(t, bRule, 0, "expected to find rule B -> b")

	// Find the reduce item for "B -> b ." and confirm every state item that
	// can reach it (by shift or production) is marked eligible.
	var target int
	found := false
	for i, si := range graph.StateItems {
		if graph.IsReduceItem(i) && f.RuleOfItem(si.Item) == bRule {
			target = i
			found = true
			break
		}
	}
	require.True(t, found)

	eligible := EligibleStateItems(graph, target)
	assert.True(t, eligible.Test(target))

	for _, prev := range graph.RevTrans[target].Bits() {
		assert.True(t, eligible.Test(prev))
	}
	if rp := graph.RevProdsLookup(target); rp != nil {
		for _, prev := range rp.Bits() {
			assert.True(t, eligible.Test(prev))
		}
	}
}

// Test_ShortestPathFromStart_startStateIdentity verifies the path always
// begins at state-item index 0, the kernel item of the automaton's start
// state.
func Test_ShortestPathFromStart_startStateIdentity(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	endTok, ok := f.Symbols.ID(facts.EndMarkerName)
	require.True(t, ok)

	// The start item's own transition target (shift on 'S') is trivially
	// reachable from the start item itself.
	target := graph.StateItems[0].Trans
	require.GreaterOrEqual(t, target, 0)

	path, err := ShortestPathFromStart(graph, target, endTok)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, 0, path[0])
	assert.Equal(t, target, path[len(path)-1])
}

// Test_ShortestPathFromStart_startItemIsItsOwnPath covers the degenerate
// case: searching for the start item itself on the end marker needs no edges
// at all.
func Test_ShortestPathFromStart_startItemIsItsOwnPath(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	endTok, ok := f.Symbols.ID(facts.EndMarkerName)
	require.True(t, ok)

	path, err := ShortestPathFromStart(graph, 0, endTok)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, path)
}

// Test_ShortestPathFromStart_trivialShift covers the one-edge case: shifting
// directly out of the start item.
func Test_ShortestPathFromStart_trivialShift(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	endTok, ok := f.Symbols.ID(facts.EndMarkerName)
	require.True(t, ok)

	target := graph.StateItems[0].Trans
	require.GreaterOrEqual(t, target, 0)

	path, err := ShortestPathFromStart(graph, target, endTok)
	require.NoError(t, err)
	assert.Equal(t, []int{0, target}, path)
}

func Test_ShortestPathFromStart_noPath(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	aTok, ok := f.Symbols.ID("a")
	require.True(t, ok)

	// No state item carries 'a' itself as a legal lookahead in this
	// grammar (it only ever appears as the very first shift).
	_, err := ShortestPathFromStart(graph, 0, aTok)
	assert.ErrorIs(t, err, ErrNoPath)
}

func Test_ReverseProduction_findsPredecessor(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	bID, ok := f.Symbols.ID("B")
	require.True(t, ok)

	var src, dst int
	found := false
	for i, si := range graph.StateItems {
		sym, ok := f.SymbolAfterDot(si.Item)
		if !ok || sym != bID {
			continue
		}
		prod := graph.ProdsLookup(i)
		if prod == nil {
			continue
		}
		src = i
		dst = prod.Bits()[0]
		found = true
		break
	}
	require.True(t, found)

	preds := ReverseProduction(graph, dst, nil)
	assert.Contains(t, preds, src)
}

// Test_ReverseProduction_nullableTail is a regression test for the decision
// to resolve a production predecessor's applicability by walking the local
// dotted-production tail (tracking a nullableTail flag inline) rather than
// re-querying a separate global nullability function: the walk must
// continue past a nullable symbol to test the symbol(s) that follow it.
func Test_ReverseProduction_nullableTail(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B c ;\nB -> b | ε ;")

	bID, ok := f.Symbols.ID("B")
	require.True(t, ok)
	cID, ok := f.Symbols.ID("c")
	require.True(t, ok)
	require.True(t, f.Nullable.Test(bID), "B must be nullable for this regression to be meaningful")

	// Locate "S -> a . B c" (src) and one of its production targets, a
	// B-rule item with the dot at position 0 (dst).
	var src, dst int
	found := false
	for i, si := range graph.StateItems {
		sym, ok := f.SymbolAfterDot(si.Item)
		if !ok || sym != bID {
			continue
		}
		prod := graph.ProdsLookup(i)
		if prod == nil {
			continue
		}
		src = i
		dst = prod.Bits()[0]
		found = true
		break
	}
	require.True(t, found)

	// Lookahead is 'c', which does not intersect tfirsts(B) ({b}); only a
	// walk that continues past the nullable B finds it compatible.
	lookahead := bitset.New(f.Symbols.NSyms())
	lookahead.Set(cID)

	preds := ReverseProduction(graph, dst, lookahead)
	assert.Contains(t, preds, src,
		"reverse production must walk past the nullable B to find 'c' compatible in the tail")
}

func Test_ReverseProduction_incompatibleLookaheadExcluded(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B c ;\nB -> b | ε ;")

	bID, ok := f.Symbols.ID("B")
	require.True(t, ok)
	aID, ok := f.Symbols.ID("a")
	require.True(t, ok)

	var src, dst int
	found := false
	for i, si := range graph.StateItems {
		sym, ok := f.SymbolAfterDot(si.Item)
		if !ok || sym != bID {
			continue
		}
		prod := graph.ProdsLookup(i)
		if prod == nil {
			continue
		}
		src = i
		dst = prod.Bits()[0]
		found = true
		break
	}
	require.True(t, found)

	// 'a' can never legally follow B in this grammar: neither tfirsts(B)
	// nor the symbol that follows B ('c') is 'a', and B is nullable but its
	// tail still only ever yields 'c'.
	lookahead := bitset.New(f.Symbols.NSyms())
	lookahead.Set(aID)

	preds := ReverseProduction(graph, dst, lookahead)
	assert.NotContains(t, preds, src)
}

func Test_ReverseTransition_mirrorsRevTrans(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	// The start item "S-P -> . S" shifts over S.
	sID, ok := f.Symbols.ID("S")
	require.True(t, ok)

	target := graph.StateItems[0].Trans
	require.GreaterOrEqual(t, target, 0)

	result := ReverseTransition(graph, target, sID, nil, nil)
	assert.True(t, result.Test(0))
}

func Test_ReverseTransition_wrongSymbolEmpty(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	bID, ok := f.Symbols.ID("B")
	require.True(t, ok)

	target := graph.StateItems[0].Trans
	require.GreaterOrEqual(t, target, 0)

	result := ReverseTransition(graph, target, bID, nil, nil)
	assert.True(t, result.Empty())
}

func Test_ReverseProductionChains_ordersInnermostFirst(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	bID, ok := f.Symbols.ID("B")
	require.True(t, ok)

	var dst int
	found := false
	for i, si := range graph.StateItems {
		sym, ok := f.SymbolAfterDot(si.Item)
		if !ok || sym != bID {
			continue
		}
		if graph.ProdsLookup(i) != nil {
			dst = graph.ProdsLookup(i).Bits()[0]
			found = true
			break
		}
	}
	require.True(t, found)

	chains := ReverseProductionChains(graph, dst, nil)
	require.NotEmpty(t, chains)
	for _, chain := range chains {
		require.NotEmpty(t, chain)

		// The target itself is excluded from each chain; its last element
		// must instead carry a production edge into the target.
		last := chain[len(chain)-1]
		assert.NotEqual(t, dst, last)
		prod := graph.ProdsLookup(last)
		require.NotNil(t, prod)
		assert.True(t, prod.Test(dst),
			"the last element of each chain must produce into the original target")
	}
}

// Test_LSSI_deduplication exercises the visited-set bookkeeping directly: a
// node that maps to an already-visited (state item, lookahead) pair must not
// be enqueued twice.
func Test_LSSI_deduplication(t *testing.T) {
	la := bitset.New(4)
	la.Set(1)

	visited := map[string]bool{}
	var queue []*node

	first := &node{si: 5, lookahead: la}
	assert.True(t, appendNode(first, visited, &queue))

	dup := &node{si: 5, lookahead: la.Copy()}
	assert.False(t, appendNode(dup, visited, &queue))
	assert.False(t, dup.owns)

	assert.Len(t, queue, 1)
}

func Test_Searcher_delegatesToPackageFunctions(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")
	s := NewSearcher(graph)

	endTok, ok := f.Symbols.ID(facts.EndMarkerName)
	require.True(t, ok)
	target := graph.StateItems[0].Trans
	require.GreaterOrEqual(t, target, 0)

	path, err := s.ShortestPathFromStart(target, endTok)
	require.NoError(t, err)
	assert.Equal(t, []int{0, target}, path)

	chains := s.ReverseProductionChains(0, nil)
	assert.Empty(t, chains, "the start item has no production predecessors")
}
