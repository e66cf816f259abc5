package main

import (
	"fmt"
	"io"

	"github.com/dekarrin/ictcex/internal/bitset"
	"github.com/dekarrin/ictcex/internal/ictiobus/facts"
	"github.com/dekarrin/ictcex/internal/ictiobus/grammar"
	"github.com/dekarrin/ictcex/internal/lssi"
	"github.com/dekarrin/ictcex/internal/sig"
	"github.com/dekarrin/ictcex/internal/simulate"
	"github.com/dekarrin/rosed"
	"github.com/google/uuid"
)

// conflictReport is one conflict's derivation, ready for printing.
type conflictReport struct {
	Conflict        facts.Conflict
	Path            []int
	ReduceStateItem int
	Continuations   int
}

// run builds the grammar's automaton facts, builds the state-item graph, and
// searches for a lookahead-sensitive derivation reaching each LALR(1)
// conflict, printing a report of what it finds to stdout.
func run(src string, runID uuid.UUID, traceOut io.Writer) error {
	g, err := grammar.Parse(src)
	if err != nil {
		return fmt.Errorf("parsing grammar: %w", err)
	}

	f, err := facts.Build(g)
	if err != nil {
		return fmt.Errorf("building automaton facts: %w", err)
	}

	graph, err := sig.New(f, traceOut)
	if err != nil {
		return fmt.Errorf("building state-item graph: %w", err)
	}
	defer graph.Free()

	fmt.Printf("cex run %s: %d states, %d state items, %d conflicts\n",
		runID, len(f.States), len(graph.StateItems), len(f.Conflicts))

	if len(f.Conflicts) == 0 {
		fmt.Println("no LALR(1) conflicts found; grammar is unambiguous under this construction")
		return nil
	}

	searcher := lssi.NewSearcher(graph)

	var reports []conflictReport
	for _, c := range f.Conflicts {
		rep, err := searchConflict(searcher, c)
		if err != nil {
			fmt.Printf("conflict in state %d on %q (%s): %s\n",
				c.State, f.Symbols.Name(c.Symbol), c.Kind, err)
			continue
		}
		reports = append(reports, rep)
	}

	printReports(graph, reports)
	return nil
}

// searchConflict finds the reduce-item state item the conflict's first rule
// puts in conflict.State, the shortest lookahead-sensitive path from the
// start state reaching it on conflict.Symbol, and the reductions a parse
// simulation finds once that path is replayed.
func searchConflict(searcher *lssi.Searcher, c facts.Conflict) (conflictReport, error) {
	graph := searcher.G
	f := graph.Facts

	target, ok := findReduceItem(graph, c.State, c.Rules[0])
	if !ok {
		return conflictReport{}, fmt.Errorf("no reduce item for rule %d in state %d", c.Rules[0], c.State)
	}

	path, err := searcher.ShortestPathFromStart(target, c.Symbol)
	if err != nil {
		return conflictReport{}, err
	}

	ps, err := replayPath(graph, path)
	if err != nil {
		return conflictReport{}, err
	}

	ruleID := f.RuleOfItem(graph.StateItems[target].Item)
	ruleLen := f.Rules[ruleID].Len()

	lookahead := bitset.New(f.Symbols.NSyms())
	lookahead.Set(c.Symbol)

	continuations := simulate.Reduction(ps, graph.StateItems[target].Item, ruleLen, lookahead)

	return conflictReport{
		Conflict:        c,
		Path:            path,
		ReduceStateItem: target,
		Continuations:   len(continuations),
	}, nil
}

// findReduceItem returns the state-item index of rule's reduce item within
// state, if present.
func findReduceItem(graph *sig.Graph, state, rule int) (int, bool) {
	f := graph.Facts
	lo, hi := graph.StateItemMap[state], graph.StateItemMap[state+1]
	for i := lo; i < hi; i++ {
		si := graph.StateItems[i]
		if graph.IsReduceItem(i) && f.RuleOfItem(si.Item) == rule {
			return i, true
		}
	}
	return 0, false
}

// replayPath drives a fresh parse state along path, a sequence of state-item
// indices from internal/lssi.ShortestPathFromStart, using
// internal/simulate.Transition/Production to take each edge, exercising the
// same simulation primitives a real search driver would use once it decided
// which path to take.
func replayPath(graph *sig.Graph, path []int) (*simulate.ParseState, error) {
	f := graph.Facts
	ps := simulate.Empty(graph)
	ps.AppendItem(path[0], nil)

	for i := 1; i < len(path); i++ {
		cur, next := path[i-1], path[i]

		var candidates []*simulate.ParseState
		if graph.StateItems[cur].Trans == next {
			candidates = simulate.Transition(ps)
		} else if nextSym, ok := f.SymbolAfterDot(graph.StateItems[next].Item); ok {
			candidates = simulate.Production(ps, nextSym)
		} else {
			// next is itself a reduce item reached directly by production
			// (an empty right-hand side); no compatibility symbol to check.
			direct := ps.Copy(false)
			direct.AppendItem(next, nil)
			candidates = []*simulate.ParseState{direct}
		}

		match, ok := findByTail(candidates, next)
		if !ok {
			return nil, fmt.Errorf("no simulated edge from state item %d to %d", cur, next)
		}
		ps = match
	}

	return ps, nil
}

func findByTail(candidates []*simulate.ParseState, tail int) (*simulate.ParseState, bool) {
	for _, c := range candidates {
		if c.Tail == tail {
			return c, true
		}
	}
	return nil, false
}

// printReports renders every conflict's derivation as a table via
// github.com/dekarrin/rosed, the same table-rendering library
// internal/sig.Graph.Report uses.
func printReports(graph *sig.Graph, reports []conflictReport) {
	f := graph.Facts
	headers := []string{"STATE", "SYMBOL", "KIND", "RULES", "PATH LEN", "CONTINUATIONS"}
	data := [][]string{headers}

	for _, r := range reports {
		rules := ""
		for i, rid := range r.Conflict.Rules {
			if i > 0 {
				rules += ", "
			}
			rules += fmt.Sprintf("%d", rid)
		}
		data = append(data, []string{
			fmt.Sprintf("%d", r.Conflict.State),
			f.Symbols.Name(r.Conflict.Symbol),
			r.Conflict.Kind.String(),
			rules,
			fmt.Sprintf("%d", len(r.Path)),
			fmt.Sprintf("%d", r.Continuations),
		})
	}

	fmt.Println(rosed.
		Edit("").
		InsertTableOpts(0, data, 20, rosed.Options{
			TableHeaders:             true,
			NoTrailingLineSeparators: true,
		}).
		String())

	for _, r := range reports {
		fmt.Printf("\nderivation path to state %d on %q:\n", r.Conflict.State, f.Symbols.Name(r.Conflict.Symbol))
		for _, si := range r.Path {
			fmt.Printf("  %s\n", graph.StateItemString(si))
		}
	}
}
