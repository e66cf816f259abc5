/*
Cex runs the counterexample search core over a grammar and prints a
lookahead-sensitive derivation report for each LALR(1) conflict it finds.

It builds the grammar's LALR(1) automaton, constructs the state-item graph
(internal/sig), and for every shift/reduce or reduce/reduce conflict the
automaton has, searches for the shortest lookahead-sensitive path from the
start state to the conflicting reduction (internal/lssi) and replays it with
a parse simulation (internal/simulate) to show how the parser could have
reached that conflict.

Usage:

	cex [flags]

The flags are:

	-v, --version
		Give the current version of cex and then exit.

	-c, --config FILE
		Read a TOML config file (see Config) layered over built-in
		defaults and overridden by any other flag given.

	-g, --grammar FILE
		Search the grammar defined in FILE instead of the built-in demo
		grammar.

	-t, --trace
		Write a full state-item graph report to stderr before searching.
*/
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dekarrin/ictcex/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const (
	// ExitSuccess indicates a successful program execution.
	ExitSuccess = iota

	// ExitConfigError indicates a problem reading the config file or the
	// requested grammar file.
	ExitConfigError

	// ExitBuildError indicates a problem building the grammar's automaton or
	// state-item graph.
	ExitBuildError
)

var (
	returnCode  int     = ExitSuccess
	flagVersion *bool   = pflag.BoolP("version", "v", false, "Gives the version info")
	flagConfig  *string = pflag.StringP("config", "c", "", "Path to a TOML config file layered under flag values")
	flagGrammar *string = pflag.StringP("grammar", "g", "", "A grammar source file to search for conflicts instead of the built-in demo grammar")
	flagTrace   *bool   = pflag.BoolP("trace", "t", false, "Write a full state-item graph report to stderr before searching")
)

func main() {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			panic(fmt.Sprintf("unrecoverable panic occurred: %v", panicErr))
		} else {
			os.Exit(returnCode)
		}
	}()

	pflag.Parse()

	if *flagVersion {
		fmt.Printf("%s\n", version.Current)
		return
	}

	cfg, err := LoadConfigFile(*flagConfig, DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		returnCode = ExitConfigError
		return
	}
	if *flagGrammar != "" {
		cfg.Grammar = *flagGrammar
	}
	if *flagTrace {
		cfg.TraceConflicts = true
	}

	src := demoGrammarSource
	if cfg.Grammar != "" {
		data, err := os.ReadFile(cfg.Grammar)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
			returnCode = ExitConfigError
			return
		}
		src = string(data)
	}

	var traceOut io.Writer
	if cfg.TraceConflicts {
		traceOut = os.Stderr
	}

	if err := run(src, uuid.New(), traceOut); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		returnCode = ExitBuildError
		return
	}
}
