// Package facts bridges the LALR(1) viable-prefix automaton built by
// internal/ictiobus/automaton into the flat, Bison-shaped arrays the
// state-item graph, LSSI search, and parse simulation packages consume as
// read-only input: a symbol table, a flattened rule/ritem encoding, per-state
// kernel/production items, per-state transitions and reductions, and the
// shift/reduce and reduce/reduce conflicts the reductions expose.
package facts

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dekarrin/ictcex/internal/bitset"
	"github.com/dekarrin/ictcex/internal/ictiobus/automaton"
	"github.com/dekarrin/ictcex/internal/ictiobus/grammar"
	"github.com/dekarrin/ictcex/internal/util"
)

// EndMarker is the reserved symbol id for the end-of-input lookahead symbol,
// always assigned id 0.
const EndMarker = 0

// EndMarkerName is the textual form of the end marker, matching the
// lookahead string LR1Item.Lookahead uses for the augmented start rule.
const EndMarkerName = "$"

// Symbols is a bidirectional table between symbol names and small integer
// ids. Ids [0, NTokens) are terminals (id 0 always being the end marker);
// ids [NTokens, NSyms) are non-terminals.
type Symbols struct {
	names   []string
	index   map[string]int
	ntokens int
}

// ID returns the id assigned to name, or false if name is unknown.
func (s Symbols) ID(name string) (int, bool) {
	id, ok := s.index[name]
	return id, ok
}

// MustID is like ID but panics if name is unknown.
func (s Symbols) MustID(name string) int {
	id, ok := s.ID(name)
	if !ok {
		panic(fmt.Sprintf("unknown symbol: %q", name))
	}
	return id
}

// Name returns the symbol name assigned to id.
func (s Symbols) Name(id int) string {
	return s.names[id]
}

// IsToken returns whether id names a terminal symbol (including the end
// marker).
func (s Symbols) IsToken(id int) bool {
	return id >= 0 && id < s.ntokens
}

// NTokens returns the number of terminal symbols, including the end marker.
func (s Symbols) NTokens() int {
	return s.ntokens
}

// NSyms returns the total number of symbols (terminals plus non-terminals).
func (s Symbols) NSyms() int {
	return len(s.names)
}

// Assoc is the declared associativity of a rule's precedence, consulted by
// production_allowed to break ties between equally-precedenced rules.
type Assoc int

const (
	AssocNone Assoc = iota
	AssocLeft
	AssocRight
	AssocNonAssoc
)

// NoPrec marks a rule as carrying no explicit precedence declaration.
const NoPrec = -1

// Rule is one production: a left-hand side symbol id and its right-hand side
// as a sequence of symbol ids (empty for an epsilon production). Prec/Assoc
// mirror Bison's per-rule %prec declaration; this grammar layer has no
// precedence syntax, so Build always leaves them at NoPrec/AssocNone, but
// sig's ProductionAllowed check is fully general over them.
type Rule struct {
	LHS   int
	RHS   []int
	Prec  int
	Assoc Assoc
}

// Len returns the number of symbols on the right-hand side.
func (r Rule) Len() int {
	return len(r.RHS)
}

// Item is a single state item within a State: a reference into RItem/Rules
// (ItemIndex) plus whether it is a kernel item (present before closure) or a
// production item (added by closure).
type Item struct {
	ItemIndex int
	Kernel    bool
}

// Reduction records that Rule may be reduced in a state whenever the next
// input token is in Lookahead.
type Reduction struct {
	Rule      int
	Lookahead *bitset.Set
}

// State is one state of the LALR(1) automaton, described purely in terms of
// the state items it contains, its outgoing transitions, and its
// reductions.
type State struct {
	Items       []Item
	Transitions map[int]int
	Reductions  []Reduction
}

// ConflictKind distinguishes the two kinds of LALR(1) action conflict.
type ConflictKind int

const (
	ShiftReduce ConflictKind = iota
	ReduceReduce
)

func (k ConflictKind) String() string {
	switch k {
	case ShiftReduce:
		return "shift/reduce"
	case ReduceReduce:
		return "reduce/reduce"
	default:
		return "unknown"
	}
}

// Conflict records a single symbol on which a state's action table cannot
// decide between a shift and a reduction, or between two reductions.
type Conflict struct {
	State  int
	Symbol int
	Kind   ConflictKind
	Rules  []int
}

// Facts is the complete read-only input the counterexample search core
// operates over.
type Facts struct {
	Grammar       grammar.Grammar
	Symbols       Symbols
	Rules         []Rule
	RItem         []int
	RuleItemStart []int
	itemRule      []int
	States        []State
	Start         int
	Conflicts     []Conflict
	Nullable      *bitset.Set
}

// ItemAt returns the RItem index of the dotted position dot (0..Rule.Len())
// within the given rule.
func (f Facts) ItemAt(ruleID, dot int) int {
	return f.RuleItemStart[ruleID] + dot
}

// RuleOfItem returns the rule that owns the RItem slot at idx.
func (f Facts) RuleOfItem(idx int) int {
	return f.itemRule[idx]
}

// DotOfItem returns the dot position the RItem slot at idx represents within
// its owning rule.
func (f Facts) DotOfItem(idx int) int {
	return idx - f.RuleItemStart[f.itemRule[idx]]
}

// IsReduceItem returns whether the RItem slot at idx marks the end of a
// rule's right-hand side (a negative, rule-number-encoding sentinel).
func (f Facts) IsReduceItem(idx int) bool {
	return f.RItem[idx] < 0
}

// SymbolAfterDot returns the symbol id that follows the dot at idx, and
// false if idx is a reduce item (no symbol follows).
func (f Facts) SymbolAfterDot(idx int) (int, bool) {
	sym := f.RItem[idx]
	if sym < 0 {
		return 0, false
	}
	return sym, true
}

// Build constructs Facts from a non-augmented grammar by running it through
// the LALR(1) viable-prefix automaton construction in
// internal/ictiobus/automaton and flattening the result.
func Build(g grammar.Grammar) (Facts, error) {
	if err := g.Validate(); err != nil {
		return Facts{}, fmt.Errorf("facts: invalid grammar: %w", err)
	}

	dfa, err := automaton.NewLALR1ViablePrefixDFA(g)
	if err != nil {
		return Facts{}, fmt.Errorf("facts: %w", err)
	}
	dfa.NumberStates()

	aug := g.Augmented()

	symbols := buildSymbols(aug)
	rules, ritem, ruleStart, itemRule, ruleLookup := buildRules(aug, symbols)

	nullableNT := aug.Nullable()
	nullable := bitset.New(symbols.NSyms())
	for _, nt := range aug.NonTerminals() {
		if nullableNT.Has(nt) {
			nullable.Set(symbols.MustID(nt))
		}
	}

	states, err := buildStates(dfa, aug, symbols, rules, ruleStart, ruleLookup)
	if err != nil {
		return Facts{}, err
	}

	startID, err := strconv.Atoi(dfa.Start)
	if err != nil {
		return Facts{}, fmt.Errorf("facts: non-numeric start state %q after NumberStates", dfa.Start)
	}

	f := Facts{
		Grammar:       aug,
		Symbols:       symbols,
		Rules:         rules,
		RItem:         ritem,
		RuleItemStart: ruleStart,
		itemRule:      itemRule,
		States:        states,
		Start:         startID,
		Nullable:      nullable,
	}
	f.Conflicts = detectConflicts(f)

	return f, nil
}

func buildSymbols(g grammar.Grammar) Symbols {
	terms := g.Terminals()
	nts := g.NonTerminals()

	names := make([]string, 0, 1+len(terms)+len(nts))
	names = append(names, EndMarkerName)
	names = append(names, terms...)
	names = append(names, nts...)

	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}

	return Symbols{
		names:   names,
		index:   index,
		ntokens: 1 + len(terms),
	}
}

func buildRules(g grammar.Grammar, symbols Symbols) (rules []Rule, ritem []int, ruleStart []int, itemRule []int, lookup map[string]map[string]int) {
	lookup = map[string]map[string]int{}

	for _, nt := range g.NonTerminals() {
		r := g.Rule(nt)
		prodLookup := map[string]int{}

		for _, p := range r.Productions {
			ruleID := len(rules)

			var rhs []int
			if !p.IsEpsilon() {
				rhs = make([]int, len(p))
				for i, sym := range p {
					rhs[i] = symbols.MustID(sym)
				}
			}

			rules = append(rules, Rule{LHS: symbols.MustID(nt), RHS: rhs, Prec: NoPrec})
			prodLookup[p.String()] = ruleID

			ruleStart = append(ruleStart, len(ritem))
			for _, sid := range rhs {
				ritem = append(ritem, sid)
				itemRule = append(itemRule, ruleID)
			}
			ritem = append(ritem, -(ruleID + 1))
			itemRule = append(itemRule, ruleID)
		}

		lookup[nt] = prodLookup
	}

	return rules, ritem, ruleStart, itemRule, lookup
}

type itemAccum struct {
	core      grammar.LR0Item
	ruleID    int
	lookahead *bitset.Set
	isReduce  bool
}

func buildStates(dfa automaton.DFA[util.SVSet[grammar.LR1Item]], g grammar.Grammar, symbols Symbols, rules []Rule, ruleStart []int, ruleLookup map[string]map[string]int) ([]State, error) {
	stateNames := dfa.States().Elements()

	numStates := len(stateNames)
	states := make([]State, numStates)

	for _, name := range stateNames {
		stateID, err := strconv.Atoi(name)
		if err != nil {
			return nil, fmt.Errorf("facts: non-numeric state name %q; call NumberStates first", name)
		}

		itemSet := dfa.GetValue(name)

		accums := map[string]*itemAccum{}
		for _, key := range util.OrderedKeys(map[string]grammar.LR1Item(itemSet)) {
			lr1 := itemSet[key]
			coreKey := lr1.LR0Item.String()

			acc, ok := accums[coreKey]
			if !ok {
				prodLookup, ok := ruleLookup[lr1.NonTerminal]
				if !ok {
					return nil, fmt.Errorf("facts: state item references unknown non-terminal %q", lr1.NonTerminal)
				}
				full := append(append([]string{}, lr1.Left...), lr1.Right...)
				ruleID, ok := prodLookup[grammar.Production(full).String()]
				if !ok {
					return nil, fmt.Errorf("facts: could not match item %q to a known rule", lr1.String())
				}
				acc = &itemAccum{core: lr1.LR0Item, ruleID: ruleID, isReduce: len(lr1.Right) == 0}
				accums[coreKey] = acc
			}

			if acc.isReduce {
				if acc.lookahead == nil {
					acc.lookahead = bitset.New(symbols.NSyms())
				}
				id, ok := symbols.ID(lr1.Lookahead)
				if !ok {
					return nil, fmt.Errorf("facts: unknown lookahead symbol %q", lr1.Lookahead)
				}
				acc.lookahead.Set(id)
			}
		}

		coreKeys := make([]string, 0, len(accums))
		for k := range accums {
			coreKeys = append(coreKeys, k)
		}
		sort.Strings(coreKeys)

		isKernel := func(acc *itemAccum) bool {
			if len(acc.core.Left) > 0 {
				return true
			}
			return stateID == 0 && acc.core.NonTerminal == g.StartSymbol()
		}

		var kernelKeys, prodKeys []string
		for _, k := range coreKeys {
			if isKernel(accums[k]) {
				kernelKeys = append(kernelKeys, k)
			} else {
				prodKeys = append(prodKeys, k)
			}
		}

		var items []Item
		reductions := map[int]*bitset.Set{}
		var reductionOrder []int

		appendItem := func(key string, kernel bool) {
			acc := accums[key]
			dot := len(acc.core.Left)
			itemIdx := ruleStart[acc.ruleID] + dot
			items = append(items, Item{ItemIndex: itemIdx, Kernel: kernel})

			if acc.isReduce {
				if _, ok := reductions[acc.ruleID]; !ok {
					reductionOrder = append(reductionOrder, acc.ruleID)
				}
				reductions[acc.ruleID] = acc.lookahead
			}
		}
		for _, k := range kernelKeys {
			appendItem(k, true)
		}
		for _, k := range prodKeys {
			appendItem(k, false)
		}

		sort.Ints(reductionOrder)
		var reductionList []Reduction
		for _, rid := range reductionOrder {
			reductionList = append(reductionList, Reduction{Rule: rid, Lookahead: reductions[rid]})
		}

		transitions := map[int]int{}
		for sid := 1; sid < symbols.NSyms(); sid++ {
			sym := symbols.Name(sid)
			dest := dfa.Next(name, sym)
			if dest == "" {
				continue
			}
			destID, err := strconv.Atoi(dest)
			if err != nil {
				return nil, fmt.Errorf("facts: non-numeric destination state %q", dest)
			}
			transitions[sid] = destID
		}

		states[stateID] = State{
			Items:       items,
			Transitions: transitions,
			Reductions:  reductionList,
		}
	}

	return states, nil
}

func detectConflicts(f Facts) []Conflict {
	var conflicts []Conflict

	for stateID, st := range f.States {
		for _, red := range st.Reductions {
			for _, sym := range red.Lookahead.Bits() {
				if _, shifts := st.Transitions[sym]; shifts {
					conflicts = append(conflicts, Conflict{
						State:  stateID,
						Symbol: sym,
						Kind:   ShiftReduce,
						Rules:  []int{red.Rule},
					})
				}
			}
		}

		for i := 0; i < len(st.Reductions); i++ {
			for j := i + 1; j < len(st.Reductions); j++ {
				a, b := st.Reductions[i], st.Reductions[j]
				if a.Lookahead.Intersects(b.Lookahead) {
					shared := a.Lookahead.Copy()
					shared.Intersect(b.Lookahead)
					for _, sym := range shared.Bits() {
						conflicts = append(conflicts, Conflict{
							State:  stateID,
							Symbol: sym,
							Kind:   ReduceReduce,
							Rules:  []int{a.Rule, b.Rule},
						})
					}
				}
			}
		}
	}

	return conflicts
}
