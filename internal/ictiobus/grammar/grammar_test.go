package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Grammar_Validate(t *testing.T) {
	testCases := []struct {
		name      string
		terminals []string
		rules     map[string][]string
		expectErr bool
	}{
		{
			name:      "empty grammar",
			expectErr: true,
		},
		{
			name:      "no rules in grammar",
			terminals: []string{"int"},
			expectErr: true,
		},
		{
			name: "no terms in grammar",
			rules: map[string][]string{
				"S": {"S"},
			},
			expectErr: true,
		},
		{
			name:      "single rule grammar",
			terminals: []string{"int"},
			rules: map[string][]string{
				"S": {"int"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			g := Grammar{}
			for _, term := range tc.terminals {
				g.AddTerm(term)
			}
			for nt, alts := range tc.rules {
				g.AddRule(nt, alts)
			}

			actual := g.Validate()

			if tc.expectErr {
				assert.Error(actual)
			} else {
				assert.NoError(actual)
			}
		})
	}
}

func Test_Grammar_Parse(t *testing.T) {
	g, err := Parse("S -> C C ;\nC -> c C | d ;")
	require.NoError(t, err)

	assert.Equal(t, "S", g.StartSymbol())
	assert.ElementsMatch(t, []string{"c", "d"}, g.Terminals())
	assert.ElementsMatch(t, []string{"S", "C"}, g.NonTerminals())

	cRule := g.Rule("C")
	assert.Len(t, cRule.Productions, 2)
}

func Test_Grammar_Parse_epsilon(t *testing.T) {
	g, err := Parse("S -> A ;\nA -> a A | ε ;")
	require.NoError(t, err)

	aRule := g.Rule("A")
	var sawEpsilon bool
	for _, p := range aRule.Productions {
		if p.IsEpsilon() {
			sawEpsilon = true
		}
	}
	assert.True(t, sawEpsilon)
}

func Test_Grammar_Augmented(t *testing.T) {
	g := MustParse("S -> C C ;\nC -> c C | d ;")
	aug := g.Augmented()

	assert.Equal(t, "S-P", aug.StartSymbol())
	startRule := aug.Rule(aug.StartSymbol())
	require.Len(t, startRule.Productions, 1)
	assert.Equal(t, Production{"S"}, startRule.Productions[0])

	// original grammar is untouched
	assert.Equal(t, "S", g.StartSymbol())
}

func Test_Grammar_Nullable(t *testing.T) {
	g := MustParse("S -> A C ;\nA -> a | ε ;\nC -> c ;")

	nullable := g.Nullable()
	assert.True(t, nullable.Has("A"))
	assert.False(t, nullable.Has("C"))
	assert.False(t, nullable.Has("S"))
}

func Test_Grammar_FIRST(t *testing.T) {
	testCases := []struct {
		name   string
		gram   string
		sym    string
		expect []string
	}{
		{
			name:   "terminal is its own FIRST",
			gram:   "S -> a ;",
			sym:    "a",
			expect: []string{"a"},
		},
		{
			name:   "simple non-terminal",
			gram:   "S -> a S | b ;",
			sym:    "S",
			expect: []string{"a", "b"},
		},
		{
			name:   "nullable alternative includes epsilon",
			gram:   "S -> A a ;\nA -> b | ε ;",
			sym:    "A",
			expect: []string{"b", Epsilon[0]},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := MustParse(tc.gram)
			actual := g.FIRST(tc.sym)

			assert.ElementsMatch(t, tc.expect, actual.Elements())
		})
	}
}

func Test_Grammar_RemoveEpsilons(t *testing.T) {
	g := MustParse("S -> A C A ;\nA -> a | ε ;\nC -> c ;")

	noEps := g.RemoveEpsilons()

	sRule := noEps.Rule("S")
	for _, p := range sRule.Productions {
		assert.False(t, p.IsEpsilon(), "S should have no bare epsilon production")
	}

	// terminals are unaffected by epsilon removal
	assert.ElementsMatch(t, g.Terminals(), noEps.Terminals())
}

func Test_Grammar_LR0Items(t *testing.T) {
	g := MustParse("S -> a ;")

	items := g.LR0Items()

	// dot before 'a' and dot after 'a'
	assert.Len(t, items, 2)
}
