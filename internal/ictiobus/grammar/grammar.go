package grammar

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dekarrin/ictcex/internal/util"
)

// Epsilon is the production consisting of a single empty symbol, used to
// represent nullable/empty alternatives in a grammar.
var Epsilon = Production{""}

// Production is one alternative right-hand side of a rule. A Production of
// Epsilon represents the empty string.
type Production []string

// String returns the space-joined symbols of p, or "ε" if p is empty.
func (p Production) String() string {
	if p.IsEpsilon() {
		return "ε"
	}
	return strings.Join(p, " ")
}

// IsEpsilon returns whether p represents the empty production.
func (p Production) IsEpsilon() bool {
	return len(p) == 0 || (len(p) == 1 && p[0] == "")
}

// Equal returns whether p and o contain the same symbols in the same order.
func (p Production) Equal(o any) bool {
	other, ok := o.(Production)
	if !ok {
		otherPtr, ok := o.(*Production)
		if !ok {
			return false
		}
		if otherPtr == nil {
			return false
		}
		other = *otherPtr
	}

	if p.IsEpsilon() && other.IsEpsilon() {
		return true
	}
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Rule is a single non-terminal and every alternative production it expands
// to.
type Rule struct {
	NonTerminal string
	Productions []Production
}

// String gives the "A -> alpha | beta" textual form of the rule.
func (r Rule) String() string {
	var sb strings.Builder
	sb.WriteString(r.NonTerminal)
	sb.WriteString(" -> ")
	for i, p := range r.Productions {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(p.String())
	}
	return sb.String()
}

// Equal compares rules by non-terminal and production set membership,
// ignoring production order.
func (r Rule) Equal(o any) bool {
	other, ok := o.(Rule)
	if !ok {
		otherPtr, ok := o.(*Rule)
		if !ok {
			return false
		}
		if otherPtr == nil {
			return false
		}
		other = *otherPtr
	}

	if r.NonTerminal != other.NonTerminal {
		return false
	}
	if len(r.Productions) != len(other.Productions) {
		return false
	}

	matched := make([]bool, len(other.Productions))
	for _, p := range r.Productions {
		found := false
		for j, op := range other.Productions {
			if matched[j] {
				continue
			}
			if p.Equal(op) {
				matched[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IndexOfProduction returns the index of the production equal to alts, or -1.
func (r Rule) IndexOfProduction(alts Production) int {
	for i, p := range r.Productions {
		if p.Equal(alts) {
			return i
		}
	}
	return -1
}

// Grammar is a context-free grammar made up of terminal symbols and rules
// over non-terminal symbols. Symbol casing determines kind: an ALL-CAPS-ISH
// symbol (anything for which strings.ToUpper(sym) == sym) is a non-terminal;
// anything else is expected to have been registered with AddTerm.
type Grammar struct {
	rules       []Rule
	ruleTable   map[string]int
	terminals   []string
	terminalSet map[string]bool
	start       string
}

// AddTerm registers id as a valid terminal symbol of the grammar. id must be
// lowercase and not already used as a non-terminal.
func (g *Grammar) AddTerm(id string) {
	if g.terminalSet == nil {
		g.terminalSet = map[string]bool{}
	}
	if g.terminalSet[id] {
		return
	}
	g.terminalSet[id] = true
	g.terminals = append(g.terminals, id)
}

// AddRule adds alts as one production of nonTerminal. If nonTerminal has not
// been seen before it becomes a new rule, added in encounter order; the
// first rule added to a fresh Grammar becomes its start symbol.
func (g *Grammar) AddRule(nonTerminal string, alts []string) {
	if g.ruleTable == nil {
		g.ruleTable = map[string]int{}
	}

	prod := Production(alts)

	idx, ok := g.ruleTable[nonTerminal]
	if !ok {
		if g.start == "" {
			g.start = nonTerminal
		}
		idx = len(g.rules)
		g.ruleTable[nonTerminal] = idx
		g.rules = append(g.rules, Rule{NonTerminal: nonTerminal})
	}

	r := g.rules[idx]
	if r.IndexOfProduction(prod) == -1 {
		r.Productions = append(r.Productions, prod)
	}
	g.rules[idx] = r
}

// Rule retrieves the rule for the given non-terminal. Returns the zero Rule
// if nonTerminal has no rule.
func (g Grammar) Rule(nonTerminal string) Rule {
	idx, ok := g.ruleTable[nonTerminal]
	if !ok {
		return Rule{}
	}
	return g.rules[idx]
}

// StartSymbol returns the grammar's start non-terminal: the left-hand side
// of the first rule added.
func (g Grammar) StartSymbol() string {
	return g.start
}

// Terminals returns all terminal symbols in the order they were added.
func (g Grammar) Terminals() []string {
	terms := make([]string, len(g.terminals))
	copy(terms, g.terminals)
	return terms
}

// NonTerminals returns all non-terminal symbols in the order their rules
// were added.
func (g Grammar) NonTerminals() []string {
	nts := make([]string, len(g.rules))
	for i, r := range g.rules {
		nts[i] = r.NonTerminal
	}
	return nts
}

// IsTerminal returns whether sym was registered via AddTerm.
func (g Grammar) IsTerminal(sym string) bool {
	return g.terminalSet[sym]
}

// IsNonTerminal returns whether sym has a rule associated with it.
func (g Grammar) IsNonTerminal(sym string) bool {
	_, ok := g.ruleTable[sym]
	return ok
}

// Augmented returns a copy of g with a new start rule S-P -> S prepended,
// where S is g's existing start symbol. The new start symbol is S with a
// "-P" (prime) suffix appended, repeated until it is unique.
func (g Grammar) Augmented() Grammar {
	newStart := g.StartSymbol() + "-P"
	for g.IsNonTerminal(newStart) {
		newStart += "-P"
	}

	aug := g.Copy()
	aug.rules = append([]Rule{{NonTerminal: newStart, Productions: []Production{{g.StartSymbol()}}}}, aug.rules...)
	aug.ruleTable = map[string]int{newStart: 0}
	for i := 1; i < len(aug.rules); i++ {
		aug.ruleTable[aug.rules[i].NonTerminal] = i
	}
	aug.start = newStart

	return aug
}

// Copy returns a duplicate of g.
func (g Grammar) Copy() Grammar {
	cp := Grammar{
		start: g.start,
	}
	cp.rules = make([]Rule, len(g.rules))
	copy(cp.rules, g.rules)
	cp.ruleTable = make(map[string]int, len(g.ruleTable))
	for k, v := range g.ruleTable {
		cp.ruleTable[k] = v
	}
	cp.terminals = make([]string, len(g.terminals))
	copy(cp.terminals, g.terminals)
	cp.terminalSet = make(map[string]bool, len(g.terminalSet))
	for k, v := range g.terminalSet {
		cp.terminalSet[k] = v
	}
	return cp
}

// Validate checks that g has at least one terminal and at least one rule,
// and that every symbol referenced on the right-hand side of a production is
// either a known terminal or a known non-terminal.
func (g Grammar) Validate() error {
	if len(g.terminals) < 1 {
		return fmt.Errorf("grammar has no terminals defined")
	}
	if len(g.rules) < 1 {
		return fmt.Errorf("grammar has no rules defined")
	}

	for _, r := range g.rules {
		for _, p := range r.Productions {
			if p.IsEpsilon() {
				continue
			}
			for _, sym := range p {
				if !g.IsTerminal(sym) && !g.IsNonTerminal(sym) {
					return fmt.Errorf("rule %q references undefined symbol %q", r.NonTerminal, sym)
				}
			}
		}
	}

	return nil
}

// LR0Items returns every LR(0) item obtainable by placing a dot at each
// position (including before the first and after the last symbol) of every
// production of every rule in g.
func (g Grammar) LR0Items() []LR0Item {
	var items []LR0Item

	for _, r := range g.rules {
		for _, p := range r.Productions {
			prod := []string(p)
			if p.IsEpsilon() {
				prod = nil
			}

			for dot := 0; dot <= len(prod); dot++ {
				left := make([]string, dot)
				copy(left, prod[:dot])
				right := make([]string, len(prod)-dot)
				copy(right, prod[dot:])

				items = append(items, LR0Item{
					NonTerminal: r.NonTerminal,
					Left:        left,
					Right:       right,
				})
			}
		}
	}

	return items
}

// Nullable computes the set of non-terminals that can derive the empty
// string.
func (g Grammar) Nullable() util.StringSet {
	nullable := util.NewStringSet()

	changed := true
	for changed {
		changed = false
		for _, r := range g.rules {
			if nullable.Has(r.NonTerminal) {
				continue
			}
			for _, p := range r.Productions {
				if p.IsEpsilon() {
					nullable.Add(r.NonTerminal)
					changed = true
					break
				}
				allNullable := true
				for _, sym := range p {
					if !nullable.Has(sym) {
						allNullable = false
						break
					}
				}
				if allNullable {
					nullable.Add(r.NonTerminal)
					changed = true
					break
				}
			}
		}
	}

	return nullable
}

// FIRST computes FIRST(sym): the set of terminals (and possibly Epsilon[0])
// that can begin some string derived from sym.
func (g Grammar) FIRST(sym string) util.StringSet {
	visiting := util.NewStringSet()
	return g.first(sym, visiting)
}

func (g Grammar) first(sym string, visiting util.StringSet) util.StringSet {
	set := util.NewStringSet()

	if g.IsTerminal(sym) || sym == "$" {
		set.Add(sym)
		return set
	}

	if sym == "" {
		set.Add(Epsilon[0])
		return set
	}

	if visiting.Has(sym) {
		return set
	}
	visiting.Add(sym)

	r := g.Rule(sym)
	for _, p := range r.Productions {
		if p.IsEpsilon() {
			set.Add(Epsilon[0])
			continue
		}

		allNullable := true
		for _, s := range p {
			sFirst := g.first(s, visiting)
			for t := range sFirst {
				if t != Epsilon[0] {
					set.Add(t)
				}
			}
			if !sFirst.Has(Epsilon[0]) {
				allNullable = false
				break
			}
		}
		if allNullable {
			set.Add(Epsilon[0])
		}
	}

	return set
}

// firstOfString computes FIRST(X1 X2 ... Xn) for a sequence of symbols,
// accounting for nullable prefixes.
func (g Grammar) firstOfString(symbols []string) util.StringSet {
	set := util.NewStringSet()

	if len(symbols) == 0 {
		set.Add(Epsilon[0])
		return set
	}

	allNullable := true
	for _, s := range symbols {
		sFirst := g.FIRST(s)
		for t := range sFirst {
			if t != Epsilon[0] {
				set.Add(t)
			}
		}
		if !sFirst.Has(Epsilon[0]) {
			allNullable = false
			break
		}
	}
	if allNullable {
		set.Add(Epsilon[0])
	}

	return set
}

// LR0_CLOSURE computes the LR(0) closure of the kernel item set I.
func (g Grammar) LR0_CLOSURE(i util.SVSet[LR0Item]) util.SVSet[LR0Item] {
	closure := util.NewSVSet(map[string]LR0Item(i))

	changed := true
	for changed {
		changed = false
		for _, item := range closure {
			if len(item.Right) == 0 {
				continue
			}
			B := item.Right[0]
			if !g.IsNonTerminal(B) {
				continue
			}

			for _, gamma := range g.Rule(B).Productions {
				right := []string(gamma)
				if gamma.IsEpsilon() {
					right = nil
				}
				newItem := LR0Item{NonTerminal: B, Right: right}
				key := newItem.String()
				if !closure.Has(key) {
					closure.Set(key, newItem)
					changed = true
				}
			}
		}
	}

	return closure
}

// LR1_CLOSURE computes the LR(1) closure of the kernel item set I, following
// Algorithm 4.53 from the purple dragon book.
func (g Grammar) LR1_CLOSURE(i util.SVSet[LR1Item]) util.SVSet[LR1Item] {
	closure := util.NewSVSet(map[string]LR1Item(i))

	changed := true
	for changed {
		changed = false

		keys := util.OrderedKeys(map[string]LR1Item(closure))
		for _, key := range keys {
			item := closure[key]
			if len(item.Right) == 0 {
				continue
			}
			B := item.Right[0]
			if !g.IsNonTerminal(B) {
				continue
			}
			beta := item.Right[1:]

			lookaheads := g.firstOfString(append(append([]string{}, beta...), item.Lookahead))

			for _, gamma := range g.Rule(B).Productions {
				right := []string(gamma)
				if gamma.IsEpsilon() {
					right = nil
				}

				for _, b := range util.OrderedKeys(map[string]bool(lookaheads)) {
					if b == Epsilon[0] {
						continue
					}
					newItem := LR1Item{
						LR0Item:   LR0Item{NonTerminal: B, Right: right},
						Lookahead: b,
					}
					key := newItem.String()
					if !closure.Has(key) {
						closure.Set(key, newItem)
						changed = true
					}
				}
			}
		}
	}

	return closure
}

// RemoveEpsilons returns a grammar equivalent to g with all epsilon
// productions eliminated by inlining nullable non-terminals at each of their use sites,
// following the standard construction (purple dragon book, around 4.4.6).
func (g Grammar) RemoveEpsilons() Grammar {
	nullable := g.Nullable()

	out := Grammar{start: g.start}
	out.terminals = make([]string, len(g.terminals))
	copy(out.terminals, g.terminals)
	out.terminalSet = make(map[string]bool, len(g.terminalSet))
	for k, v := range g.terminalSet {
		out.terminalSet[k] = v
	}
	out.ruleTable = map[string]int{}

	for _, r := range g.rules {
		var newProds []Production
		seen := map[string]bool{}

		for _, p := range r.Productions {
			if p.IsEpsilon() {
				continue
			}
			for _, variant := range expandNullableVariants([]string(p), nullable) {
				if len(variant) == 0 {
					continue
				}
				key := Production(variant).String()
				if seen[key] {
					continue
				}
				seen[key] = true
				newProds = append(newProds, Production(variant))
			}
		}

		if len(newProds) == 0 {
			continue
		}

		idx := len(out.rules)
		out.ruleTable[r.NonTerminal] = idx
		out.rules = append(out.rules, Rule{NonTerminal: r.NonTerminal, Productions: newProds})
	}

	return out
}

// expandNullableVariants returns every variant of symbols obtained by
// independently including or omitting each nullable non-terminal occurrence.
func expandNullableVariants(symbols []string, nullable util.StringSet) [][]string {
	variants := [][]string{{}}

	for _, sym := range symbols {
		var next [][]string
		for _, v := range variants {
			withSym := append(append([]string{}, v...), sym)
			next = append(next, withSym)
			if nullable.Has(sym) {
				next = append(next, append([]string{}, v...))
			}
		}
		variants = next
	}

	return variants
}

// String gives a textual dump of every rule in g, one per line.
func (g Grammar) String() string {
	var sb strings.Builder
	for i, r := range g.rules {
		if i > 0 {
			sb.WriteRune('\n')
		}
		sb.WriteString(r.String())
	}
	return sb.String()
}

// MustParse is like Parse but panics on error.
func MustParse(text string) Grammar {
	g, err := Parse(text)
	if err != nil {
		panic(err.Error())
	}
	return g
}

// Parse reads a grammar from a small DSL of the form:
//
//	S -> C C ;
//	C -> c C | d ;
//
// Rules are terminated with ';' and alternatives separated by '|'. A symbol
// is treated as a non-terminal if strings.ToUpper(sym) == sym, and as a
// terminal otherwise; terminals are auto-registered with AddTerm the first
// time they are seen. "ε" (any case) denotes the empty production.
func Parse(text string) (Grammar, error) {
	var g Grammar

	ruleChunks := strings.Split(text, ";")
	for _, chunk := range ruleChunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}

		sides := strings.SplitN(chunk, "->", 2)
		if len(sides) != 2 {
			return Grammar{}, fmt.Errorf("malformed rule (missing '->'): %q", chunk)
		}

		nonTerminal := strings.TrimSpace(sides[0])
		if nonTerminal == "" {
			return Grammar{}, fmt.Errorf("empty non-terminal name in rule: %q", chunk)
		}
		if strings.ToUpper(nonTerminal) != nonTerminal {
			return Grammar{}, fmt.Errorf("rule left-hand side must be a non-terminal (uppercase): %q", nonTerminal)
		}

		alts := strings.Split(sides[1], "|")
		for _, alt := range alts {
			fields := strings.Fields(alt)
			var prod []string
			for _, f := range fields {
				if strings.ToLower(f) == "ε" || strings.ToLower(f) == "epsilon" {
					continue
				}
				prod = append(prod, f)
				if strings.ToUpper(f) != f {
					g.AddTerm(f)
				}
			}
			g.AddRule(nonTerminal, prod)
		}
	}

	return g, nil
}

// sortedTerminals is a convenience used by diagnostic printers that want a
// stable terminal ordering independent of insertion order.
func (g Grammar) sortedTerminals() []string {
	terms := g.Terminals()
	sort.Strings(terms)
	return terms
}
