package main

// demoGrammarSource is the built-in grammar cex searches when no -grammar
// flag points it at a file: the classic ambiguous-expression grammar, whose
// self-recursive addition rule forces the LALR(1) construction into a
// shift/reduce conflict on "plus" (shift to keep growing the right operand,
// or reduce the left operand first). internal/sig and internal/ictiobus/facts
// use the same grammar to exercise conflict detection in their own tests.
const demoGrammarSource = `
S -> E ;
E -> E plus E | id ;
`
