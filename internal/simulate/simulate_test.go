package simulate

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

func Test_Empty_hasNoItems(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	ps := Empty(graph)
	assert.Equal(t, -1, ps.Head)
	assert.Equal(t, -1, ps.Tail)
	assert.Nil(t, ps.DerivHead)
	assert.Nil(t, ps.DerivTail)
	assert.Equal(t, 0, ps.TotalItems)
}

func Test_Copy_inheritsHeadTail(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	root := Empty(graph)
	root.AppendItem(0, NewDerivation(1, nil))

	child := root.Copy(false)
	assert.Equal(t, root.Head, child.Head)
	assert.Equal(t, root.Tail, child.Tail)
	assert.Same(t, root.DerivHead, child.DerivHead)
	assert.Same(t, root.DerivTail, child.DerivTail)
	assert.Equal(t, root.TotalItems, child.TotalItems)
	assert.Same(t, root, child.Parent)
}

// Test_New_derivsHeadTailIndependentOfSis is a regression test for the
// decision to compute a bulk-constructed node's derivation head/tail from
// the derivs slice's own length, not the sis slice's: the two can differ in
// length (a production step, for instance, appends a state item with no
// paired derivation), and indexing derivs by a length taken from sis would
// read the wrong element or panic outright.
func Test_New_derivsHeadTailIndependentOfSis(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")
	parent := Empty(graph)

	sis := []int{1, 2, 3, 4, 5}
	d1 := NewDerivation(10, nil)
	d2 := NewDerivation(11, nil)
	derivs := []*Derivation{d1, d2}

	ret := New(sis, derivs, false, parent)

	assert.Same(t, d1, ret.DerivHead)
	assert.Same(t, d2, ret.DerivTail)
	assert.Equal(t, sis[0], ret.Head)
	assert.Equal(t, sis[len(sis)-1], ret.Tail)
}

func Test_New_prependSetsHeadFromNewContent(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")
	parent := Empty(graph)
	parent.AppendItem(9, nil)

	ret := New([]int{1, 2}, nil, true, parent)
	assert.Equal(t, 1, ret.Head, "prepend must make the new content's first element the new head")
	assert.Equal(t, parent.Tail, ret.Tail, "prepend must not disturb an already-set tail")
}

func Test_Release_balancedCopyDropsChunks(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	root := Empty(graph)
	root.AppendItem(0, NewDerivation(1, nil))
	require.Equal(t, 1, root.refCount)

	child := root.Copy(false)
	child.AppendItem(1, nil)
	assert.Equal(t, 2, root.refCount, "a child must hold a reference to its parent")

	child.Release()
	assert.Equal(t, 0, child.refCount)
	assert.Nil(t, child.ownItems, "a fully released state drops its own chunks")
	assert.Equal(t, 1, root.refCount, "releasing the child returns the parent's count to its pre-copy value")

	root.Release()
	assert.Nil(t, root.ownItems)
}

func Test_Release_visitedKeepsIdentityUntilLastReference(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	root := Empty(graph)
	root.AppendItem(0, nil)
	root.Visited = true

	child := root.Copy(false)

	// The creator's reference dies but the child still holds one; a visited
	// node's chunks go as soon as only that last reference remains.
	root.Release()
	assert.Equal(t, 1, root.refCount)
	assert.Nil(t, root.ownItems, "a visited node's payload is dropped once a single reference remains")

	child.Release()
}

func Test_Transition_appendsShiftedItem(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	ps := Empty(graph)
	ps.AppendItem(0, nil)

	results := Transition(ps)
	require.NotEmpty(t, results)

	// The start item "S-P -> . S" shifts over S.
	sID, ok := f.Symbols.ID("S")
	require.True(t, ok)
	assert.Equal(t, graph.StateItems[0].Trans, results[0].Tail)
	require.NotNil(t, results[0].DerivTail)
	assert.Equal(t, sID, results[0].DerivTail.Symbol)
}

func Test_Transition_nullableClosureSynthesizesEmptyDerivation(t *testing.T) {
	f, graph := buildGraph(t, "S -> a A b ;\nA -> ε ;")

	aTerm, ok := f.Symbols.ID("a")
	require.True(t, ok)
	aNT, ok := f.Symbols.ID("A")
	require.True(t, ok)
	require.True(t, f.Nullable.Test(aNT))

	// Locate "S -> . a A b" and shift over 'a'; the dot then sits before the
	// nullable A, so the closure must follow the A-transition too and record
	// an empty derivation of A along the way.
	var srcIdx int
	found := false
	for i, si := range graph.StateItems {
		sym, ok := f.SymbolAfterDot(si.Item)
		if ok && sym == aTerm {
			srcIdx = i
			found = true
			break
		}
	}
	require.True(t, found)

	ps := Empty(graph)
	ps.AppendItem(srcIdx, nil)

	results := Transition(ps)
	require.Len(t, results, 2, "the shift plus one nullable-closure step")

	shifted := results[0]
	closed := results[1]

	assert.Equal(t, graph.StateItems[srcIdx].Trans, shifted.Tail)
	assert.Equal(t, graph.StateItems[shifted.Tail].Trans, closed.Tail)
	require.NotNil(t, closed.DerivTail)
	assert.Equal(t, aNT, closed.DerivTail.Symbol)
	assert.Empty(t, closed.DerivTail.Children, "a nullable closure derivation has an empty right-hand side")
	assert.Equal(t, ps.Depth, closed.Depth, "nullable closure must not count as a production step")
}

func Test_Transition_prunedReturnsNil(t *testing.T) {
	g := grammar.MustParse("S -> a B ;\nB -> b | ε ;")
	f, err := facts.Build(g)
	require.NoError(t, err)

	for i := range f.States {
		for sym := range f.States[i].Transitions {
			delete(f.States[i].Transitions, sym)
		}
	}

	graph, err := sig.New(f, nil)
	require.NoError(t, err)

	ps := Empty(graph)
	ps.AppendItem(0, nil)

	assert.Nil(t, Transition(ps))
}

func Test_Production_filtersByCompatibility(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	// Find the state item "S -> a . B" (dot before B).
	bID, ok := f.Symbols.ID("B")
	require.True(t, ok)
	bTerm, ok := f.Symbols.ID("b")
	require.True(t, ok)

	var srcIdx int
	found := false
	for i, si := range graph.StateItems {
		sym, ok := f.SymbolAfterDot(si.Item)
		if ok && sym == bID {
			srcIdx = i
			found = true
			break
		}
	}
	require.True(t, found)

	ps := Empty(graph)
	ps.AppendItem(srcIdx, nil)

	compatible := Production(ps, bTerm)
	assert.NotEmpty(t, compatible, "a production step into B must be reachable when looking for 'b'")

	aID, ok := f.Symbols.ID("a")
	require.True(t, ok)
	incompatible := Production(ps, aID)
	for _, r := range incompatible {
		assert.NotEqual(t, srcIdx, r.Parent.Tail, "no production step should be compatible with a symbol B can never start with")
	}
}

func Test_Reduction_continuesWindowWhenPrefixTracked(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	bID, ok := f.Symbols.ID("B")
	require.True(t, ok)
	bTerm, ok := f.Symbols.ID("b")
	require.True(t, ok)

	// Build a tracked window: shift 'a', then shift 'b' (so the rule B -> b
	// is fully shifted and its reduce item is the tail), keeping the
	// preceding "S -> a . B" item in the window so a transition exists to
	// resume from after the reduction.
	var srcIdx int
	found := false
	for i, si := range graph.StateItems {
		sym, ok := f.SymbolAfterDot(si.Item)
		if ok && sym == bID {
			srcIdx = i
			found = true
			break
		}
	}
	require.True(t, found)

	ps := Empty(graph)
	ps.AppendItem(srcIdx, nil)

	prods := Production(ps, bTerm)
	require.NotEmpty(t, prods)

	var withB *ParseState
	for _, p := range prods {
		sym, ok := f.SymbolAfterDot(graph.StateItems[p.Tail].Item)
		if ok && sym == bTerm {
			withB = p
			break
		}
	}
	require.NotNil(t, withB, "expected a production landing on the B -> . b item")

	shifted := Transition(withB)
	require.NotEmpty(t, shifted)
	reduceItem := shifted[0]
	require.True(t, graph.IsReduceItem(reduceItem.Tail))

	ruleID := f.RuleOfItem(graph.StateItems[reduceItem.Tail].Item)
	lookahead := bitset.New(f.Symbols.NSyms())

	results := Reduction(reduceItem, graph.StateItems[reduceItem.Tail].Item, f.Rules[ruleID].Len(), lookahead)
	require.NotEmpty(t, results)
	assert.GreaterOrEqual(t, results[0].Tail, 0)
}
