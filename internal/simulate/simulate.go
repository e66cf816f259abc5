// Package simulate replays a parser's shift/reduce behavior over a state-item
// graph (internal/sig) without an input token stream: starting from a
// conflict, it simulates the transitions, productions, and reductions that
// could have led there, building a derivation forest alongside each
// candidate parse.
//
// Parse states are persistent: each one extends its parent and shares the
// parent's contents rather than copying them, so the many branches of a
// search stay cheap. Release declares one reference to a parse state dead;
// a search driver that marks states Visited for cycle detection keeps their
// identity around even after their payloads have been dropped.
package simulate

import (
	"fmt"
	"io"

	"github.com/dekarrin/ictcex/internal/bitset"
	"github.com/dekarrin/ictcex/internal/lssi"
	"github.com/dekarrin/ictcex/internal/sig"
)

// Derivation is one node of the derivation tree built alongside a simulated
// parse: a symbol, its children (nil for a terminal or an unexpanded
// nonterminal), and, for the single reduction that happens at the conflict
// point itself, the position of the dot within the children for display.
type Derivation struct {
	Symbol   int
	Children []*Derivation
	HasDot   bool
	DotAt    int
}

// NewDerivation returns a derivation node for symbol with the given children.
func NewDerivation(symbol int, children []*Derivation) *Derivation {
	return &Derivation{Symbol: symbol, Children: children}
}

// ParseState is one node in the tree of parser configurations explored
// during counterexample search: a persistent, copy-on-write extension of its
// Parent. Transition, Production, and Reduction never mutate an existing
// ParseState; they return new leaves, so many search branches can share long
// common prefixes of the same underlying chain.
//
// The chain as a whole represents a window of the parser's state-item
// history (not necessarily the whole stack back to the start state); Head
// and Tail track its two ends so most operations need not walk the chain.
type ParseState struct {
	Graph *sig.Graph

	ownItems  []int
	ownDerivs []*Derivation

	// Prepend records which end of the chain this node's own contribution
	// was added to: false (append) for every ordinary simulation step,
	// true only for the reverse-production reconstruction Reduction
	// performs when a reduction consumes the whole tracked window.
	Prepend bool
	Parent  *ParseState

	Head int
	Tail int

	DerivHead *Derivation
	DerivTail *Derivation

	TotalItems  int
	TotalDerivs int

	// Depth counts production steps minus reductions along the chain: 0 is
	// the conflict item's own level, Production adds one while it is not
	// negative, and Reduction subtracts one, so a negative value stops the
	// count. Reduction consults it to decide whether this is the
	// conflict-level reduction that should carry the dot marker.
	Depth int

	// Visited marks a node a search loop has chosen to keep for cycle
	// detection: Release keeps a Visited node's identity alive (for
	// set-membership checks) while still dropping its payload once only
	// that marker holds it. Simulation steps never set it.
	Visited bool

	// refCount tracks the creator's reference plus one per live child;
	// Release decrements it.
	refCount int
}

// Empty returns a fresh root parse state with no state items or derivations,
// bound to g.
func Empty(g *sig.Graph) *ParseState {
	return &ParseState{Graph: g, Head: -1, Tail: -1, refCount: 1}
}

// Copy returns a new leaf extending ps: it inherits ps's Head/Tail/Depth and
// totals, starts with empty own contents, and records ps as its Parent.
func (ps *ParseState) Copy(prepend bool) *ParseState {
	ps.refCount++
	return &ParseState{
		refCount:    1,
		Graph:       ps.Graph,
		Prepend:     prepend,
		Parent:      ps,
		Head:        ps.Head,
		Tail:        ps.Tail,
		DerivHead:   ps.DerivHead,
		DerivTail:   ps.DerivTail,
		TotalItems:  ps.TotalItems,
		TotalDerivs: ps.TotalDerivs,
		Depth:       ps.Depth,
	}
}

// New returns a new leaf extending parent whose own contribution is sis and
// derivs in bulk (rather than built up one append/prepend at a time). The
// two slices may differ in length (a state item need not carry a paired
// derivation), so the derivation head/tail come from derivs alone.
func New(sis []int, derivs []*Derivation, prepend bool, parent *ParseState) *ParseState {
	parent.refCount++
	ret := &ParseState{
		refCount:    1,
		Graph:       parent.Graph,
		Prepend:     prepend,
		Parent:      parent,
		Head:        parent.Head,
		Tail:        parent.Tail,
		DerivHead:   parent.DerivHead,
		DerivTail:   parent.DerivTail,
		TotalItems:  parent.TotalItems,
		TotalDerivs: parent.TotalDerivs,
		Depth:       parent.Depth,
	}

	if len(sis) > 0 {
		ret.ownItems = append([]int(nil), sis...)
		ret.TotalItems += len(sis)
		if prepend || ret.Head == -1 {
			ret.Head = sis[0]
		}
		if !prepend || ret.Tail == -1 {
			ret.Tail = sis[len(sis)-1]
		}
	}

	if len(derivs) > 0 {
		ret.ownDerivs = append([]*Derivation(nil), derivs...)
		ret.TotalDerivs += len(derivs)
		if prepend || ret.DerivHead == nil {
			ret.DerivHead = derivs[0]
		}
		if !prepend || ret.DerivTail == nil {
			ret.DerivTail = derivs[len(derivs)-1]
		}
	}

	return ret
}

// Release declares one reference to ps dead. When only a cycle-detection
// marker still needs ps's identity (refCount 1 and Visited), or nothing
// needs it at all (refCount 0, not Visited), its chunks are dropped and the
// parent is released in turn; a Visited node itself stays reachable for
// set-membership checks until its marker is the last thing standing.
func (ps *ParseState) Release() {
	if ps == nil {
		return
	}
	ps.refCount--
	if (ps.refCount == 1 && ps.Visited) || (ps.refCount == 0 && !ps.Visited) {
		ps.ownItems = nil
		ps.ownDerivs = nil
		ps.Parent.Release()
	}
}

// AppendItem appends a single state item (and, if non-nil, its paired
// derivation) to ps's own contribution.
func (ps *ParseState) AppendItem(item int, deriv *Derivation) {
	ps.ownItems = append(ps.ownItems, item)
	ps.TotalItems++
	ps.Tail = item
	if ps.Head == -1 {
		ps.Head = item
	}
	if deriv != nil {
		ps.AppendDeriv(deriv)
	}
}

// AppendItems bulk-appends items and their paired derivations, as New does
// for a fresh node, but onto an already-constructed ps.
func (ps *ParseState) AppendItems(items []int, derivs []*Derivation) {
	if len(items) > 0 {
		ps.ownItems = append(ps.ownItems, items...)
		ps.TotalItems += len(items)
		ps.Tail = items[len(items)-1]
		if ps.Head == -1 {
			ps.Head = items[0]
		}
	}
	if len(derivs) > 0 {
		ps.ownDerivs = append(ps.ownDerivs, derivs...)
		ps.TotalDerivs += len(derivs)
		ps.DerivTail = derivs[len(derivs)-1]
		if ps.DerivHead == nil {
			ps.DerivHead = derivs[0]
		}
	}
}

// AppendDeriv appends a single derivation node, independent of any state
// item, to ps's own contribution.
func (ps *ParseState) AppendDeriv(d *Derivation) {
	ps.ownDerivs = append(ps.ownDerivs, d)
	ps.TotalDerivs++
	ps.DerivTail = d
	if ps.DerivHead == nil {
		ps.DerivHead = d
	}
}

// Flatten returns the full ordered sequence of state-item indices and
// derivations the chain from the root down to ps represents: every
// ancestor's own contribution, in chronological stack order: every append
// contribution in oldest-first order, preceded by any prepend contributions
// in newest-first order.
func (ps *ParseState) Flatten() (items []int, derivs []*Derivation) {
	var prependItems, appendItems [][]int
	var prependDerivs, appendDerivs [][]*Derivation

	for n := ps; n != nil; n = n.Parent {
		if n.Prepend {
			prependItems = append(prependItems, n.ownItems)
			prependDerivs = append(prependDerivs, n.ownDerivs)
		} else {
			appendItems = append([][]int{n.ownItems}, appendItems...)
			appendDerivs = append([][]*Derivation{n.ownDerivs}, appendDerivs...)
		}
	}

	for _, c := range prependItems {
		items = append(items, c...)
	}
	for _, c := range appendItems {
		items = append(items, c...)
	}
	for _, c := range prependDerivs {
		derivs = append(derivs, c...)
	}
	for _, c := range appendDerivs {
		derivs = append(derivs, c...)
	}
	return items, derivs
}

// nullableClosure extends ps by repeatedly taking the transition out of its
// current tail whenever the symbol after that tail's dot is a nullable
// nonterminal, returning the chain of parse states this produces (ps itself
// is not included; it is the state the closure starts from).
func nullableClosure(ps *ParseState) []*ParseState {
	g := ps.Graph
	f := g.Facts

	var result []*ParseState
	current := ps
	prev := ps.Tail

	for {
		sym, ok := f.SymbolAfterDot(g.StateItems[prev].Item)
		if !ok || f.Symbols.IsToken(sym) || !f.Nullable.Test(sym) {
			break
		}
		next := g.StateItems[prev].Trans
		if next < 0 {
			break
		}
		current = current.Copy(false)
		current.AppendItem(next, NewDerivation(sym, nil))
		result = append(result, current)
		prev = next
	}

	return result
}

// Transition simulates a shift out of ps's current tail state item,
// returning the resulting parse state plus every further parse state
// reached immediately afterward by the nullable closure. An empty result
// means the tail item's transition was pruned (disabled in the parse table).
func Transition(ps *ParseState) []*ParseState {
	g := ps.Graph
	f := g.Facts

	tail := g.StateItems[ps.Tail]
	sym, ok := f.SymbolAfterDot(tail.Item)
	if !ok || tail.Trans < 0 {
		return nil
	}

	next := ps.Copy(false)
	next.AppendItem(tail.Trans, NewDerivation(sym, nil))

	result := []*ParseState{next}
	result = append(result, nullableClosure(next)...)
	return result
}

// compatible reports whether sym1 and sym2 are the same symbol, or one is a
// terminal beginning a derivation of the other (a non-terminal), or both are
// non-terminals with overlapping tfirsts.
func compatible(g *sig.Graph, sym1, sym2 int) bool {
	if sym1 == sym2 {
		return true
	}
	f := g.Facts
	tok1, tok2 := f.Symbols.IsToken(sym1), f.Symbols.IsToken(sym2)
	switch {
	case tok1 && !tok2:
		return g.TFirsts[sym2].Test(sym1)
	case !tok1 && tok2:
		return g.TFirsts[sym1].Test(sym2)
	case !tok1 && !tok2:
		return g.TFirsts[sym1].Intersects(g.TFirsts[sym2])
	default:
		return false
	}
}

// Production simulates every production step out of ps's current tail state
// item whose target's leading symbol is compatible with compatSym (the
// symbol the search is trying to match next) and whose precedence permits
// it, returning one parse state per eligible target plus its nullable
// closure.
func Production(ps *ParseState, compatSym int) []*ParseState {
	g := ps.Graph
	f := g.Facts

	prod := g.ProdsLookup(ps.Tail)
	if prod == nil {
		return nil
	}

	var result []*ParseState
	for _, next := range prod.Bits() {
		nextSym, ok := f.SymbolAfterDot(g.StateItems[next].Item)
		if !ok {
			continue // target is an empty production, nothing to compare
		}
		if !compatible(g, nextSym, compatSym) || !g.ProductionAllowed(ps.Tail, next) {
			continue
		}

		nextPS := ps.Copy(false)
		nextPS.AppendItem(next, nil)
		if nextPS.Depth >= 0 {
			nextPS.Depth++
		}

		result = append(result, nextPS)
		result = append(result, nullableClosure(nextPS)...)
	}
	return result
}

// Reduction simulates a reduction of the ruleLen-symbol rule whose dot has
// just reached the end at ps's tail item, given conflictItem (the RItem
// index of the state item the conflict search is trying to reach, used only
// to place the dot marker in the reduction's own derivation when this is the
// conflict-level reduction) and lookahead (the terminal set the reduction
// must remain compatible with if reconstructing a prefix by reverse
// production).
//
// If the tracked window holds more state items than this rule consumed, the
// reduction simply continues the window: one new parse state shifts the
// produced nonterminal over from the state before the rule began. Otherwise
// the whole tracked window was consumed and there is no state left to shift
// from, so every reverse-production chain (internal/lssi) compatible with
// lookahead is reconstructed and prepended, one parse state per chain.
func Reduction(ps *ParseState, conflictItem int, ruleLen int, lookahead *bitset.Set) []*ParseState {
	g := ps.Graph
	f := g.Facts

	items, derivs := ps.Flatten()
	sSize, dSize := len(items), len(derivs)

	keepItems := items[:sSize-ruleLen-1]
	keepDerivs := derivs[:dSize-ruleLen]
	poppedDerivs := append([]*Derivation(nil), derivs[dSize-ruleLen:]...)

	newRoot := Empty(g)
	newRoot.AppendItems(keepItems, keepDerivs)

	ruleID := f.RuleOfItem(g.StateItems[ps.Tail].Item)
	lhs := f.Rules[ruleID].LHS
	deriv := NewDerivation(lhs, poppedDerivs)

	if ps.Depth == 0 {
		dotPos := 0
		for i := conflictItem - 1; i >= 0 && f.RItem[i] >= 0; i-- {
			dotPos++
		}
		deriv.HasDot = true
		deriv.DotAt = dotPos
	}
	newRoot.Depth = ps.Depth - 1
	newRoot.AppendDeriv(deriv)

	var result []*ParseState
	if sSize != ruleLen+1 {
		newRoot.AppendItem(g.StateItems[newRoot.Tail].Trans, nil)
		result = append(result, newRoot)
		return result
	}

	// The tracked window bottomed out at a production item with no
	// transition of its own to resume from; reconstruct every compatible
	// prefix chain and prepend it ahead of newRoot.
	head := items[0]
	for _, chain := range lssi.ReverseProductionChains(g, head, lookahead) {
		prefixed := New(chain, nil, true, newRoot)
		extended := prefixed.Copy(false)
		extended.AppendItem(g.StateItems[extended.Tail].Trans, nil)
		result = append(result, extended)
		result = append(result, nullableClosure(extended)...)
	}
	return result
}

// String renders the derivation tree rooted at d as an indented outline, the
// dot marker (if any) printed as its own line at its position among the
// children.
func (d *Derivation) String() string {
	var buf []byte
	d.write(&buf, 0)
	return string(buf)
}

func (d *Derivation) write(buf *[]byte, indent int) {
	pad := func(n int) {
		for i := 0; i < n; i++ {
			*buf = append(*buf, ' ', ' ')
		}
	}
	pad(indent)
	*buf = append(*buf, []byte(fmt.Sprintf("%d\n", d.Symbol))...)
	for i, c := range d.Children {
		if d.HasDot && i == d.DotAt {
			pad(indent + 1)
			*buf = append(*buf, []byte(".\n")...)
		}
		c.write(buf, indent+1)
	}
	if d.HasDot && d.DotAt == len(d.Children) {
		pad(indent + 1)
		*buf = append(*buf, []byte(".\n")...)
	}
}

// Print writes a diagnostic summary of ps to w: its size and depth, its
// head/tail state items, and the outline of its last derivation (if any).
func (ps *ParseState) Print(w io.Writer) {
	items, _ := ps.Flatten()
	fmt.Fprintf(w, "(size %d depth %d)\n", len(items), ps.Depth)
	if ps.Head >= 0 {
		fmt.Fprintf(w, "head: %s\n", ps.Graph.StateItemString(ps.Head))
	}
	if ps.Tail >= 0 {
		fmt.Fprintf(w, "tail: %s\n", ps.Graph.StateItemString(ps.Tail))
	}
	if ps.DerivTail != nil {
		fmt.Fprint(w, ps.DerivTail.String())
	}
}
