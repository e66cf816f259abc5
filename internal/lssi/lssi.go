// Package lssi implements the lookahead-sensitive search over a state-item
// graph (internal/sig): breadth-first exploration that tracks a lookahead
// bitset along each path, used to reconstruct the shortest derivation from
// the start state to a conflicting state item on a specific lookahead
// symbol, and to answer reverse-production / reverse-transition queries
// constrained by lookahead compatibility.
//
// Two nodes of the search are considered equivalent when they sit on the
// same state item with bitset-equal lookaheads; the BFS drops equivalent
// nodes so each (state item, lookahead) pair is expanded at most once.
package lssi

import (
	"errors"
	"fmt"

	"github.com/dekarrin/ictcex/internal/bitset"
	"github.com/dekarrin/ictcex/internal/sig"
)

// ErrNoPath is returned by ShortestPathFromStart when no lookahead-sensitive
// path reaches the target state item on the requested symbol.
var ErrNoPath = errors.New("cannot find shortest path to conflict state item")

// optimizeShortestPath, when true, makes searches first restrict their
// frontier to state items that can reach the target at all, pruning the BFS
// without changing which path is found (the pruned items can never lie on a
// shortest path to the target in the first place).
const optimizeShortestPath = true

// node is a single BFS frontier entry. Sibling nodes enqueued by one
// production step share a single freshly computed lookahead bitset; owns
// records which of them is responsible for it.
type node struct {
	si        int
	parent    *node
	lookahead *bitset.Set
	owns      bool
}

func visitKey(si int, lookahead *bitset.Set) string {
	if lookahead == nil {
		return fmt.Sprintf("%d:-", si)
	}
	return fmt.Sprintf("%d:%s", si, lookahead.String())
}

// appendNode enqueues n unless an equivalent node (same state item, bitset-
// equal lookahead) was already visited. Returns whether n was actually
// enqueued.
func appendNode(n *node, visited map[string]bool, queue *[]*node) bool {
	k := visitKey(n.si, n.lookahead)
	if visited[k] {
		n.owns = false
		return false
	}
	visited[k] = true
	*queue = append(*queue, n)
	return true
}

// EligibleStateItems returns the set of state items that can reach target
// via any combination of reverse transitions and reverse productions. Used
// by ShortestPathFromStart to prune its search frontier.
func EligibleStateItems(g *sig.Graph, target int) *bitset.Set {
	result := bitset.New(len(g.StateItems))

	queue := []int{target}
	for len(queue) > 0 {
		si := queue[0]
		queue = queue[1:]
		if result.Test(si) {
			continue
		}
		result.Set(si)

		queue = append(queue, g.RevTrans[si].Bits()...)
		if rp := g.RevProdsLookup(si); rp != nil {
			queue = append(queue, rp.Bits()...)
		}
	}

	return result
}

// productionLookahead computes the lookahead after the dot for a production
// step out of si: the terminals that can
// immediately follow the production taken, derived by walking the symbols
// after si's dot until a terminal is found, a non-nullable nonterminal is
// found, or the end of the production is reached (in which case the
// parent's own lookahead is inherited, since the production's result is
// followed by whatever follows si itself).
func productionLookahead(g *sig.Graph, si int, parentLookahead *bitset.Set) *bitset.Set {
	f := g.Facts
	lookahead := bitset.New(f.Symbols.NSyms())

	pos := g.StateItems[si].Item + 1
	for {
		sym := f.RItem[pos]
		if sym < 0 {
			lookahead.Union(parentLookahead)
			return lookahead
		}
		if f.Symbols.IsToken(sym) {
			lookahead.Set(sym)
			return lookahead
		}
		lookahead.Union(g.TFirsts[sym])
		if !f.Nullable.Test(sym) {
			return lookahead
		}
		pos++
	}
}

// ShortestPathFromStart computes the shortest lookahead-sensitive path from
// the start state item (global state-item index 0, the kernel item of the
// automaton's start state, guaranteed index 0 by
// internal/ictiobus/automaton.DFA.NumberStates) to target, such that sym is
// a legal lookahead at target along that path. The path is made of
// transition and production edges; ties are broken by BFS enqueue order
// (transition before productions, productions in bitset iteration order).
//
// Returns ErrNoPath if the search queue drains without reaching target.
func ShortestPathFromStart(g *sig.Graph, target, sym int) ([]int, error) {
	var eligible *bitset.Set
	if optimizeShortestPath {
		eligible = EligibleStateItems(g, target)
	}

	visited := map[string]bool{}

	initLookahead := bitset.New(g.Facts.Symbols.NSyms())
	initLookahead.Set(0)
	start := &node{si: 0, lookahead: initLookahead, owns: true}
	visited[visitKey(start.si, start.lookahead)] = true

	queue := []*node{start}

	var found *node
search:
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if n.si == target && n.lookahead.Test(sym) {
			found = n
			break search
		}

		if t := g.StateItems[n.si].Trans; t >= 0 {
			if !optimizeShortestPath || eligible.Test(t) {
				next := &node{si: t, parent: n, lookahead: n.lookahead, owns: false}
				appendNode(next, visited, &queue)
			}
		}

		if prod := g.ProdsLookup(n.si); prod != nil {
			lookahead := productionLookahead(g, n.si, n.lookahead)
			lookaheadUsed := false
			for _, dst := range prod.Bits() {
				if optimizeShortestPath && !eligible.Test(dst) {
					continue
				}
				next := &node{si: dst, parent: n, lookahead: lookahead, owns: !lookaheadUsed}
				if appendNode(next, visited, &queue) {
					lookaheadUsed = true
				}
			}
		}
	}

	if found == nil {
		return nil, ErrNoPath
	}

	var path []int
	for n := found; n != nil; n = n.parent {
		path = append([]int{n.si}, path...)
	}
	return path, nil
}

// intersectSymbol reports whether sym is in syms, or can begin a
// nonterminal present in syms. A nil syms is treated as universal (always
// matches).
func intersectSymbol(g *sig.Graph, sym int, syms *bitset.Set) bool {
	if syms == nil {
		return true
	}
	f := g.Facts
	for _, sn := range syms.Bits() {
		if sn == sym {
			return true
		}
		if !f.Symbols.IsToken(sn) && g.TFirsts[sn].Test(sym) {
			return true
		}
	}
	return false
}

// intersect reports whether ts and syms share a terminal, or some
// nonterminal in syms has a tfirsts set overlapping ts. Either side nil is
// treated as universal.
func intersect(g *sig.Graph, ts, syms *bitset.Set) bool {
	if syms == nil || ts == nil {
		return true
	}
	f := g.Facts
	for _, sn := range syms.Bits() {
		if ts.Test(sn) {
			return true
		}
		if !f.Symbols.IsToken(sn) && ts.Intersects(g.TFirsts[sn]) {
			return true
		}
	}
	return false
}

// reverseProduction returns every node that could reach n's state item via
// a single production step, filtered by precedence and lookahead
// compatibility, with the lookahead each predecessor would carry.
func reverseProduction(g *sig.Graph, n *node) []*node {
	revProd := g.RevProdsLookup(n.si)
	if revProd == nil {
		return nil
	}

	f := g.Facts
	var result []*node

	for _, prev := range revProd.Bits() {
		if !g.ProductionAllowed(prev, n.si) {
			continue
		}

		prevLookahead := g.StateItems[prev].Lookahead
		var nextLookahead *bitset.Set

		if g.IsReduceItem(prev) {
			if !intersect(g, prevLookahead, n.lookahead) {
				continue
			}
			nextLookahead = bitset.New(f.Symbols.NSyms())
			if n.lookahead != nil {
				nextLookahead.Union(n.lookahead)
			}
			if prevLookahead != nil {
				nextLookahead.Union(prevLookahead)
			}
		} else {
			if n.lookahead != nil {
				applicable := false
				nullableTail := true
				for pos := g.StateItems[prev].Item; !applicable && nullableTail; pos++ {
					sym := f.RItem[pos]
					if sym < 0 {
						break // end of production; nothing left to check
					}
					if f.Symbols.IsToken(sym) {
						applicable = intersectSymbol(g, sym, n.lookahead)
						nullableTail = false
					} else {
						applicable = intersect(g, g.TFirsts[sym], n.lookahead)
						if !applicable {
							nullableTail = f.Nullable.Test(sym)
						}
					}
				}
				if !applicable && !nullableTail {
					continue
				}
			}
			nextLookahead = bitset.New(f.Symbols.NSyms())
			if prevLookahead != nil {
				nextLookahead.Union(prevLookahead)
			}
		}

		result = append(result, &node{si: prev, parent: n, lookahead: nextLookahead, owns: true})
	}

	return result
}

// ReverseProduction returns every state item that could reach si via a
// single production step while remaining compatible with lookahead, in
// rev_prods bitset-iteration order.
func ReverseProduction(g *sig.Graph, si int, lookahead *bitset.Set) []int {
	cands := reverseProduction(g, &node{si: si, lookahead: lookahead})
	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.si
	}
	return out
}

// ReverseTransition computes the set of state items that can transition on
// sym into s under lookahead, optionally restricted to states named in
// guide (a bitset of LR state numbers, not state-item indices).
//
// If s is a genuine transition-target item (the symbol before its dot is a
// symbol number), it enumerates rev_trans[s] directly. Otherwise s is a
// production item with no predecessor transition of its own within this
// state, so the "reverse transition" is really a reverse production step
// within the same state.
func ReverseTransition(g *sig.Graph, s, sym int, lookahead, guide *bitset.Set) *bitset.Set {
	result := bitset.New(len(g.StateItems))

	f := g.Facts
	si := g.StateItems[s]
	accessingSym, ok := g.AccessingSymbolOf(s)
	if !ok || accessingSym != sym {
		return result
	}

	if s > 0 && si.Item > 0 {
		if prevSym := f.RItem[si.Item-1]; prevSym >= 0 {
			for _, prev := range g.RevTrans[s].Bits() {
				prevState := g.StateItems[prev].State
				if guide != nil && !guide.Test(prevState) {
					continue
				}
				if lookahead != nil && !intersect(g, g.StateItems[prev].Lookahead, lookahead) {
					continue
				}
				result.Set(prev)
			}
			return result
		}
	}

	for _, c := range reverseProduction(g, &node{si: s, lookahead: lookahead}) {
		result.Set(c.si)
	}
	return result
}

// ReverseProductionChains computes every sequence of state items that can
// make production steps to si such that the resulting lookahead symbols are
// compatible with lookahead. Each returned chain is ordered innermost
// (furthest from si) first, the order a caller prepends onto a parse-state
// stack.
func ReverseProductionChains(g *sig.Graph, si int, lookahead *bitset.Set) [][]int {
	var result [][]int

	for _, cand := range reverseProduction(g, &node{si: si, lookahead: lookahead}) {
		var chain []int
		for n := cand; n.parent != nil; n = n.parent {
			chain = append([]int{n.si}, chain...)
		}
		result = append(result, chain)
	}

	return result
}

// Searcher is a thin handle binding a state-item graph for drivers that run
// several searches against the same graph and want one bound value instead
// of passing the graph at every call.
type Searcher struct {
	G *sig.Graph
}

// NewSearcher returns a Searcher bound to g.
func NewSearcher(g *sig.Graph) *Searcher {
	return &Searcher{G: g}
}

// ReverseProductionChains delegates to the package-level function of the
// same name, bound to s.G.
func (s *Searcher) ReverseProductionChains(si int, lookahead *bitset.Set) [][]int {
	return ReverseProductionChains(s.G, si, lookahead)
}

// ShortestPathFromStart delegates to the package-level function of the same
// name, bound to s.G.
func (s *Searcher) ShortestPathFromStart(target, sym int) ([]int, error) {
	return ShortestPathFromStart(s.G, target, sym)
}
