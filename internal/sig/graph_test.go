package sig

import (
	"testing"

	"github.com/dekarrin/ictcex/internal/ictiobus/facts"
	"github.com/dekarrin/ictcex/internal/ictiobus/grammar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, src string) (facts.Facts, *Graph) {
	t.Helper()
	g := grammar.MustParse(src)
	f, err := facts.Build(g)
	require.NoError(t, err)
	graph, err := New(f, nil)
	require.NoError(t, err)
	return f, graph
}

// findRule returns the id of the rule whose LHS name and RHS symbol names
// (in order) match, or fails the test.
func findRule(t *testing.T, f facts.Facts, lhs string, rhs ...string) int {
	t.Helper()
	for id, r := range f.Rules {
		if f.Symbols.Name(r.LHS) != lhs || len(r.RHS) != len(rhs) {
			continue
		}
		match := true
		for i, want := range rhs {
			if f.Symbols.Name(r.RHS[i]) != want {
				match = false
				break
			}
		}
		if match {
			return id
		}
	}
	require.Fail(t, "no such rule", "%s -> %v", lhs, rhs)
	return -1
}

func Test_New_transAndRevTransAreInverse(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	for i, si := range graph.StateItems {
		if si.Trans < 0 {
			continue
		}
		assert.True(t, graph.RevTrans[si.Trans].Test(i),
			"trans[%d]=%d but %d not present in rev_trans[%d]", i, si.Trans, i, si.Trans)
	}
	for j := range graph.StateItems {
		for _, i := range graph.RevTrans[j].Bits() {
			assert.Equal(t, j, graph.StateItems[i].Trans)
		}
	}
}

func Test_New_transAdvancesDotByOne(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	for _, si := range graph.StateItems {
		if si.Trans < 0 {
			continue
		}
		dst := graph.StateItems[si.Trans]
		assert.Equal(t, si.Item+1, dst.Item)
	}
}

func Test_New_prodsLinkSameState(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	for i := range graph.StateItems {
		prod := graph.ProdsLookup(i)
		if prod == nil {
			continue
		}
		src := graph.StateItems[i]
		sym, ok := f.SymbolAfterDot(src.Item)
		require.True(t, ok)
		for _, j := range prod.Bits() {
			dst := graph.StateItems[j]
			assert.Equal(t, src.State, dst.State, "production edge must stay within a state")
			assert.Equal(t, sym, f.Rules[f.RuleOfItem(dst.Item)].LHS)
		}
	}
}

func Test_New_revProdsMirrorsProds(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	for i := range graph.StateItems {
		prod := graph.ProdsLookup(i)
		if prod == nil {
			continue
		}
		for _, j := range prod.Bits() {
			rev := graph.RevProdsLookup(j)
			require.NotNil(t, rev)
			assert.True(t, rev.Test(i))
		}
	}
}

func Test_New_everyReduceItemHasLookahead(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	for i := range graph.StateItems {
		if graph.IsReduceItem(i) {
			assert.NotNil(t, graph.StateItems[i].Lookahead, "reduce item %d must carry a lookahead", i)
			assert.False(t, graph.StateItems[i].Lookahead.Empty())
		}
	}
}

func Test_New_lookaheadSharedAlongRevTrans(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	for i := range graph.StateItems {
		if !graph.IsReduceItem(i) || graph.StateItems[i].Lookahead == nil {
			continue
		}
		lookahead := graph.StateItems[i].Lookahead
		queue := []int{i}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			assert.Same(t, lookahead, graph.StateItems[cur].Lookahead,
				"state item %d reachable from reduce item %d must share its lookahead pointer", cur, i)
			queue = append(queue, graph.RevTrans[cur].Bits()...)
		}
	}
}

func Test_New_tfirstsAreTerminalsOnly(t *testing.T) {
	f, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	bID, ok := f.Symbols.ID("B")
	require.True(t, ok)
	require.NotNil(t, graph.TFirsts[bID])

	bTerm, ok := f.Symbols.ID("b")
	require.True(t, ok)
	assert.True(t, graph.TFirsts[bID].Test(bTerm))

	for _, sid := range graph.TFirsts[bID].Bits() {
		assert.True(t, f.Symbols.IsToken(sid))
	}
}

func Test_New_pruningDisablesUnreachableTransition(t *testing.T) {
	g := grammar.MustParse("S -> a B ;\nB -> b | ε ;")
	f, err := facts.Build(g)
	require.NoError(t, err)

	bID, ok := f.Symbols.ID("b")
	require.True(t, ok)

	// Find and disable the transition on 'b' wherever it occurs, simulating
	// a parse-table entry the conflict-resolution pass removed.
	disabledAny := false
	for i := range f.States {
		if _, ok := f.States[i].Transitions[bID]; ok {
			delete(f.States[i].Transitions, bID)
			disabledAny = true
		}
	}
	require.True(t, disabledAny, "test grammar must have a transition on 'b'")

	graph, err := New(f, nil)
	require.NoError(t, err)

	var sawDisabled bool
	for i, si := range graph.StateItems {
		sym, ok := f.SymbolAfterDot(si.Item)
		if ok && sym == bID {
			assert.Equal(t, -2, si.Trans, "state item %d shifts on disabled symbol 'b'", i)
			assert.Nil(t, graph.ProdsLookup(i))
			assert.Nil(t, graph.RevProdsLookup(i))
			sawDisabled = true
		}
	}
	assert.True(t, sawDisabled)
}

func Test_ProductionAllowed_precedenceBlocksLowerRule(t *testing.T) {
	f, graph := buildGraph(t, "S -> E ;\nE -> E plus E | id ;")

	plusRule := findRule(t, f, "E", "E", "plus", "E")
	idRule := findRule(t, f, "E", "id")

	f.Rules[plusRule].Prec = 2
	f.Rules[idRule].Prec = 1

	// Find a production edge whose source rule is plusRule and whose
	// destination rule is idRule.
	var a, b int
	found := false
	for i, si := range graph.StateItems {
		if f.RuleOfItem(si.Item) != plusRule {
			continue
		}
		prod := graph.ProdsLookup(i)
		if prod == nil {
			continue
		}
		for _, j := range prod.Bits() {
			if f.RuleOfItem(graph.StateItems[j].Item) == idRule {
				a, b, found = i, j, true
			}
		}
	}
	require.True(t, found, "expected a production edge from the plus-rule to the id-rule")

	assert.False(t, graph.ProductionAllowed(a, b), "higher-precedence source must block production into a lower-precedence rule")
}

func Test_ProductionAllowed_equalPrecedenceLeftAssocBlocks(t *testing.T) {
	f, graph := buildGraph(t, "S -> E ;\nE -> E plus E | id ;")

	plusRule := findRule(t, f, "E", "E", "plus", "E")

	// Find a production edge whose source and destination are both items
	// of the self-recursive plus-rule ("E -> E plus . E" producing into
	// "E -> . E plus E").
	var a, b int
	found := false
	for i, si := range graph.StateItems {
		if f.RuleOfItem(si.Item) != plusRule {
			continue
		}
		prod := graph.ProdsLookup(i)
		if prod == nil {
			continue
		}
		for _, j := range prod.Bits() {
			if f.RuleOfItem(graph.StateItems[j].Item) == plusRule {
				a, b, found = i, j, true
			}
		}
	}
	require.True(t, found, "expected a production edge within the self-recursive plus-rule")

	f.Rules[plusRule].Prec = 1
	f.Rules[plusRule].Assoc = facts.AssocLeft
	assert.False(t, graph.ProductionAllowed(a, b),
		"equal precedence with a left-associative source rule must block the production")

	f.Rules[plusRule].Assoc = facts.AssocRight
	assert.True(t, graph.ProductionAllowed(a, b),
		"equal precedence with a non-left-associative rule must allow the production")
}

func Test_ProductionAllowed_noPrecedenceAlwaysAllowed(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	for i := range graph.StateItems {
		for j := range graph.StateItems {
			assert.True(t, graph.ProductionAllowed(i, j))
		}
	}
}

func Test_StateItemLookup_outOfRange(t *testing.T) {
	_, graph := buildGraph(t, "S -> a B ;\nB -> b | ε ;")

	_, ok := graph.StateItemLookup(0, 10000)
	assert.False(t, ok)

	_, ok = graph.StateItemLookup(len(graph.StateItemMap), 0)
	assert.False(t, ok)
}
