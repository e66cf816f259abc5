package facts

import (
	"testing"

	"github.com/dekarrin/ictcex/internal/ictiobus/grammar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildOrFail(t *testing.T, src string) Facts {
	t.Helper()
	g := grammar.MustParse(src)
	f, err := Build(g)
	require.NoError(t, err)
	return f
}

func Test_Build_symbols(t *testing.T) {
	f := buildOrFail(t, "S -> a B ;\nB -> b | ε ;")

	assert.Equal(t, EndMarkerName, f.Symbols.Name(EndMarker))
	assert.True(t, f.Symbols.IsToken(EndMarker))

	id, ok := f.Symbols.ID("a")
	require.True(t, ok)
	assert.True(t, f.Symbols.IsToken(id))

	ntID, ok := f.Symbols.ID("B")
	require.True(t, ok)
	assert.False(t, f.Symbols.IsToken(ntID))
}

func Test_Build_noConflictsForUnambiguousGrammar(t *testing.T) {
	f := buildOrFail(t, "S -> a B ;\nB -> b | ε ;")
	assert.Empty(t, f.Conflicts)
}

func Test_Build_detectsShiftReduceConflict(t *testing.T) {
	f := buildOrFail(t, "S -> E ;\nE -> E plus E | id ;")

	require.NotEmpty(t, f.Conflicts)

	var sawShiftReduce bool
	for _, c := range f.Conflicts {
		if c.Kind == ShiftReduce {
			sawShiftReduce = true
			assert.Equal(t, "plus", f.Symbols.Name(c.Symbol))
		}
	}
	assert.True(t, sawShiftReduce, "expected at least one shift/reduce conflict on 'plus'")
}

func Test_Build_stateItemsCoverKernelAndProductionItems(t *testing.T) {
	f := buildOrFail(t, "S -> a B ;\nB -> b | ε ;")

	start := f.States[f.Start]
	require.NotEmpty(t, start.Items)

	var sawKernel bool
	for _, it := range start.Items {
		if it.Kernel {
			sawKernel = true
		}
	}
	assert.True(t, sawKernel, "start state must have at least one kernel item")
}

func Test_Build_reductionLookaheadsAreNonEmpty(t *testing.T) {
	f := buildOrFail(t, "S -> a B ;\nB -> b | ε ;")

	for _, st := range f.States {
		for _, red := range st.Reductions {
			assert.False(t, red.Lookahead.Empty(), "every reduction must carry a non-empty lookahead")
		}
	}
}

func Test_Build_ritemEncodesRuleEndsAsNegatives(t *testing.T) {
	f := buildOrFail(t, "S -> a B ;\nB -> b | ε ;")

	for ruleID, start := range f.RuleItemStart {
		endIdx := start + f.Rules[ruleID].Len()
		assert.True(t, f.IsReduceItem(endIdx))
		assert.Equal(t, ruleID, f.RuleOfItem(endIdx))
	}
}
