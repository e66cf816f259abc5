// Package sig builds the state-item graph the counterexample search core
// runs over: a precomputed directed graph whose nodes are state items (an
// LR state paired with a dotted item within it), connected by transition and
// production edges (and their reverses), with per-node lookahead sets and
// the terminal-projected FIRST sets ("tfirsts") the search needs to compute
// lookahead compatibility.
//
// Construction happens in a fixed order: lay out the state items, build
// transition edges and their reverses, build production edges and their
// reverses, propagate lookaheads backwards, project FIRST sets down to
// terminals, and finally prune items whose shift transition was disabled.
// The DFA construction and item closure happen upstream, in
// internal/ictiobus/automaton and internal/ictiobus/facts.
package sig

import (
	"fmt"
	"io"

	"github.com/dekarrin/ictcex/internal/bitset"
	"github.com/dekarrin/ictcex/internal/ictiobus/facts"
	"github.com/dekarrin/rosed"
)

// StateItem is a single node of the graph: an LR state paired with a dotted
// position (an index into the flattened facts.Facts.RItem array) within it.
type StateItem struct {
	State int
	Item  int

	// Lookahead is the bitset of terminals (sized Facts.Symbols.NSyms())
	// that may legally follow this position. Reduce items own theirs
	// (shared with the owning facts.Reduction); non-reduce items inherit a
	// shared pointer via backward propagation (see propagateLookaheads) and
	// are nil until reached.
	Lookahead *bitset.Set

	// Trans is the destination state-item index reached by shifting the dot
	// over the symbol after it: -1 means no edge (a reduce item, or a shift
	// edge not yet computed/disabled), -2 means the item was pruned: its own
	// shift is disabled in the parse table, or its transition leads into an
	// item pruned for that reason.
	Trans int
}

// Graph is the complete state-item graph for one grammar's automaton. It is
// built once by New and is read-only thereafter, so it may be shared freely
// across LSSI searches and parse simulations.
type Graph struct {
	Facts facts.Facts

	// StateItems is the flat array of every state item, ordered by state
	// and, within a state, kernel items before production items (the same
	// order facts.State.Items already establishes).
	StateItems []StateItem

	// StateItemMap[s]..StateItemMap[s+1] is the index range in StateItems
	// belonging to state s. Has len(Facts.States)+1 entries.
	StateItemMap []int

	// RevTrans[j] is the bitset of state-item indices i such that
	// StateItems[i].Trans == j.
	RevTrans []*bitset.Set

	// Prods[i], for an item i whose next symbol A is a non-terminal, is the
	// bitset of production-item indices within i's state whose rule's LHS
	// is A. Nil otherwise, or once pruned.
	Prods []*bitset.Set

	// RevProds[j] is the bitset of indices with a production edge into j.
	RevProds []*bitset.Set

	// AccessingSymbol[s] is the symbol whose shift created state s (the
	// unique symbol some other state transitions to s on), or -1 for the
	// start state, which is reached by no transition.
	AccessingSymbol []int

	// TFirsts[sym], for a non-terminal symbol id sym, is the bitset (sized
	// Facts.Symbols.NSyms(), the same universe every lookahead bitset in
	// this package uses, so they can be unioned together directly) of
	// terminals that can begin a derivation of sym. Indexed by full symbol
	// id; entries for terminal ids are unused.
	TFirsts []*bitset.Set
}

type itemKey struct {
	state, item int
}

// New builds the state-item graph from f. If report is non-nil, a summary
// and (for every state item) its edges are written to it.
//
// New performs all construction steps in one pass; there is no separate
// "already initialized" guard, since a Graph is a freshly allocated value
// the caller owns outright.
func New(f facts.Facts, report io.Writer) (*Graph, error) {
	g := &Graph{Facts: f}

	if err := g.layoutStateItems(); err != nil {
		return nil, err
	}
	g.computeAccessingSymbols()
	lookup := g.buildLookup()
	if err := g.buildTransitions(lookup); err != nil {
		return nil, err
	}
	g.buildProductions()
	g.propagateLookaheads()
	g.computeTFirsts()
	g.pruneDisabledPaths()

	if report != nil {
		fmt.Fprintf(report, "# state items: %d\n", len(g.StateItems))
		g.Report(report)
	}

	return g, nil
}

func (g *Graph) layoutStateItems() error {
	f := g.Facts
	g.StateItemMap = make([]int, len(f.States)+1)

	idx := 0
	for s, st := range f.States {
		g.StateItemMap[s] = idx
		idx += len(st.Items)
	}
	g.StateItemMap[len(f.States)] = idx

	g.StateItems = make([]StateItem, idx)
	g.RevTrans = make([]*bitset.Set, idx)
	g.Prods = make([]*bitset.Set, idx)
	g.RevProds = make([]*bitset.Set, idx)

	for s, st := range f.States {
		base := g.StateItemMap[s]
		reductionByRule := make(map[int]*bitset.Set, len(st.Reductions))
		for _, red := range st.Reductions {
			reductionByRule[red.Rule] = red.Lookahead
		}

		for i, item := range st.Items {
			si := StateItem{State: s, Item: item.ItemIndex, Trans: -1}
			if f.IsReduceItem(item.ItemIndex) {
				if la, ok := reductionByRule[f.RuleOfItem(item.ItemIndex)]; ok {
					si.Lookahead = la
				}
			}
			g.StateItems[base+i] = si
		}
	}

	for i := range g.StateItems {
		g.RevTrans[i] = bitset.New(len(g.StateItems))
	}

	return nil
}

// computeAccessingSymbols records, for every state but the start state, the
// symbol whose shift created it: the canonical LR(0)/LALR(1) construction
// guarantees each non-start state is the transition target of exactly one
// symbol.
func (g *Graph) computeAccessingSymbols() {
	f := g.Facts
	g.AccessingSymbol = make([]int, len(f.States))
	for i := range g.AccessingSymbol {
		g.AccessingSymbol[i] = -1
	}
	for _, st := range f.States {
		for sym, dest := range st.Transitions {
			g.AccessingSymbol[dest] = sym
		}
	}
}

func (g *Graph) buildLookup() map[itemKey]int {
	lookup := make(map[itemKey]int, len(g.StateItems))
	for i, si := range g.StateItems {
		lookup[itemKey{si.State, si.Item}] = i
	}
	return lookup
}

// buildTransitions builds the shift edges: for every non-reduce
// state item, find the state-item it reaches by shifting the dot over its
// next symbol, within the destination state reached by that symbol.
func (g *Graph) buildTransitions(lookup map[itemKey]int) error {
	f := g.Facts

	for i, si := range g.StateItems {
		sym, ok := f.SymbolAfterDot(si.Item)
		if !ok {
			continue // reduce item: no transition
		}
		dest, ok := f.States[si.State].Transitions[sym]
		if !ok {
			continue // transition disabled in the parse table
		}
		destIdx, ok := lookup[itemKey{dest, si.Item + 1}]
		if !ok {
			return fmt.Errorf("sig: state %d has no item at dot position %d in destination state %d (shift on %q)",
				si.State, si.Item+1, dest, f.Symbols.Name(sym))
		}
		g.StateItems[i].Trans = destIdx
		g.RevTrans[destIdx].Set(i)
	}

	return nil
}

// buildProductions builds the production edges: group each state's
// production items by the LHS of the rule they belong to, then link every
// item whose next symbol is that LHS to the group.
func (g *Graph) buildProductions() {
	f := g.Facts

	for s := range f.States {
		lo, hi := g.StateItemMap[s], g.StateItemMap[s+1]

		byLHS := map[int]*bitset.Set{}
		for j := lo; j < hi; j++ {
			si := g.StateItems[j]
			if g.isProductionItem(f, j) {
				lhs := f.Rules[f.RuleOfItem(si.Item)].LHS
				b, ok := byLHS[lhs]
				if !ok {
					b = bitset.New(len(g.StateItems))
					byLHS[lhs] = b
				}
				b.Set(j)
			}
		}

		for j := lo; j < hi; j++ {
			sym, ok := f.SymbolAfterDot(g.StateItems[j].Item)
			if !ok || f.Symbols.IsToken(sym) {
				continue
			}
			group, ok := byLHS[sym]
			if !ok {
				continue
			}
			g.Prods[j] = group
			for _, k := range group.Bits() {
				if g.RevProds[k] == nil {
					g.RevProds[k] = bitset.New(len(g.StateItems))
				}
				g.RevProds[k].Set(j)
			}
		}
	}
}

// isProductionItem reports whether the state item at global index idx is a
// production item: one added to its state by closure rather than present in
// the state's kernel. facts.State.Items already distinguishes this via
// Item.Kernel, recorded in the same order state items are laid out in
// layoutStateItems, so recovering it here is a straightforward index walk.
func (g *Graph) isProductionItem(f facts.Facts, globalIdx int) bool {
	si := g.StateItems[globalIdx]
	offset := globalIdx - g.StateItemMap[si.State]
	return !f.States[si.State].Items[offset].Kernel
}

// propagateLookaheads spreads lookaheads backwards: reduce items are the
// only state items facts gives a lookahead to directly; every item reached
// from one via reverse transitions shares that same lookahead pointer.
func (g *Graph) propagateLookaheads() {
	for i := range g.StateItems {
		si := &g.StateItems[i]
		if si.Lookahead == nil {
			continue
		}
		lookahead := si.Lookahead

		queue := []int{i}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			g.StateItems[cur].Lookahead = lookahead
			for _, prev := range g.RevTrans[cur].Bits() {
				queue = append(queue, prev)
			}
		}
	}
}

// computeTFirsts projects each non-terminal's FIRST set down to terminals.
// Grammar.FIRST already resolves FIRST(A) fully to terminals, so tfirsts is
// simply FIRST(A) minus the epsilon marker, re-encoded as a bitset over
// terminal ids.
func (g *Graph) computeTFirsts() {
	f := g.Facts
	gr := f.Grammar

	g.TFirsts = make([]*bitset.Set, f.Symbols.NSyms())
	for sid := f.Symbols.NTokens(); sid < f.Symbols.NSyms(); sid++ {
		name := f.Symbols.Name(sid)
		first := gr.FIRST(name)

		tf := bitset.New(f.Symbols.NSyms())
		for term := range first {
			if term == "" {
				continue // epsilon marker
			}
			if tid, ok := f.Symbols.ID(term); ok {
				tf.Set(tid)
			}
		}
		g.TFirsts[sid] = tf
	}
}

// pruneDisabledPaths disables dead ends: any non-reduce item
// whose shift transition never resolved (the destination state's
// corresponding transition was disabled in the parse table) is unreachable
// via an enabled path; mark it and everything that can only reach it
// disabled, and strip its production-edge entries.
func (g *Graph) pruneDisabledPaths() {
	f := g.Facts

	var seeds []int
	for i, si := range g.StateItems {
		if si.Trans == -1 {
			if _, ok := f.SymbolAfterDot(si.Item); ok {
				seeds = append(seeds, i)
			}
		}
	}

	for _, seed := range seeds {
		queue := []int{seed}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if g.StateItems[cur].Trans == -2 {
				continue
			}
			g.StateItems[cur].Trans = -2
			g.Prods[cur] = nil
			g.RevProds[cur] = nil
			for _, prev := range g.RevTrans[cur].Bits() {
				queue = append(queue, prev)
			}
		}
	}
}

// StateItemLookup returns the state item at position offset within state s
// (0-based, in the kernel-then-production order facts.State.Items uses),
// and whether that position exists.
func (g *Graph) StateItemLookup(s, offset int) (StateItem, bool) {
	if s < 0 || s+1 >= len(g.StateItemMap) {
		return StateItem{}, false
	}
	idx := g.StateItemMap[s] + offset
	if idx < 0 || idx >= g.StateItemMap[s+1] {
		return StateItem{}, false
	}
	return g.StateItems[idx], true
}

// ProdsLookup returns the production-edge bitset for state-item index i, or
// nil if i has none (a reduce item, a shift item over a terminal, or a
// pruned item).
func (g *Graph) ProdsLookup(i int) *bitset.Set {
	if i < 0 || i >= len(g.Prods) {
		return nil
	}
	return g.Prods[i]
}

// RevProdsLookup returns the reverse production-edge bitset into state-item
// index i, or nil if nothing produces into it.
func (g *Graph) RevProdsLookup(i int) *bitset.Set {
	if i < 0 || i >= len(g.RevProds) {
		return nil
	}
	return g.RevProds[i]
}

// ProductionAllowed reports whether a production step from state item a to
// state item b is permitted by precedence and associativity: it is
// forbidden only when both rules declare an explicit precedence and either
// a's is strictly higher, or they are equal and a's rule is
// left-associative.
func (g *Graph) ProductionAllowed(a, b int) bool {
	f := g.Facts
	ra := f.Rules[f.RuleOfItem(g.StateItems[a].Item)]
	rb := f.Rules[f.RuleOfItem(g.StateItems[b].Item)]

	if ra.Prec >= 0 && rb.Prec >= 0 {
		if ra.Prec > rb.Prec {
			return false
		}
		if ra.Prec == rb.Prec && ra.Assoc == facts.AssocLeft {
			return false
		}
	}
	return true
}

// Free drops the graph's edge tables, lookahead sets, and tfirsts so a
// long-lived caller can release their memory before the Graph value itself
// goes out of scope. The Graph is unusable afterward.
func (g *Graph) Free() {
	g.StateItems = nil
	g.StateItemMap = nil
	g.RevTrans = nil
	g.Prods = nil
	g.RevProds = nil
	g.AccessingSymbol = nil
	g.TFirsts = nil
}

// AccessingSymbolOf returns the symbol whose shift created the state
// containing state-item i, and false if that state is the start state.
func (g *Graph) AccessingSymbolOf(i int) (int, bool) {
	sym := g.AccessingSymbol[g.StateItems[i].State]
	if sym < 0 {
		return 0, false
	}
	return sym, true
}

// IsReduceItem reports whether the state item at index i has its dot at the
// end of its rule's right-hand side.
func (g *Graph) IsReduceItem(i int) bool {
	return g.Facts.IsReduceItem(g.StateItems[i].Item)
}

// StateItemString renders a single state item as
// "state:rule text {lookahead...}".
func (g *Graph) StateItemString(i int) string {
	f := g.Facts
	si := g.StateItems[i]
	ruleID := f.RuleOfItem(si.Item)
	dot := f.DotOfItem(si.Item)
	rule := f.Rules[ruleID]

	text := f.Symbols.Name(rule.LHS) + " ->"
	for k, sym := range rule.RHS {
		if k == dot {
			text += " ."
		}
		text += " " + f.Symbols.Name(sym)
	}
	if dot == len(rule.RHS) {
		text += " ."
	}

	out := fmt.Sprintf("%d:%s", si.State, text)
	if si.Lookahead != nil {
		out += " " + si.Lookahead.String()
	}
	return out
}

// Report writes a per-state-item summary of every state item and its edges,
// formatted as a table with github.com/dekarrin/rosed.
func (g *Graph) Report(w io.Writer) {
	headers := []string{"SI", "STATE ITEM", "TRANS", "LOOKAHEAD"}
	data := [][]string{headers}

	for i := range g.StateItems {
		si := g.StateItems[i]
		trans := "-"
		switch si.Trans {
		case -1:
			trans = ""
		case -2:
			trans = "disabled"
		default:
			trans = fmt.Sprintf("-> %d", si.Trans)
		}
		la := ""
		if si.Lookahead != nil {
			la = si.Lookahead.String()
		}
		data = append(data, []string{
			fmt.Sprintf("%d", i),
			g.StateItemString(i),
			trans,
			la,
		})
	}

	fmt.Fprintln(w, rosed.
		Edit("").
		InsertTableOpts(0, data, 20, rosed.Options{
			TableHeaders:             true,
			NoTrailingLineSeparators: true,
		}).
		String())
}
