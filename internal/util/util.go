package util

import (
	"sort"
	"strings"
)

// OrderedKeys returns the keys of m sorted in increasing lexical order. Used
// throughout the automaton and state-item packages so that map-backed sets
// produce deterministic iteration order.
func OrderedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Stack is a simple LIFO of T. The zero value is an empty, usable stack.
type Stack[T any] struct {
	Of []T
}

// Push adds v to the top of the stack.
func (s *Stack[T]) Push(v T) {
	s.Of = append(s.Of, v)
}

// Pop removes and returns the item on top of the stack. Panics if the stack
// is empty.
func (s *Stack[T]) Pop() T {
	if len(s.Of) == 0 {
		panic("pop of empty stack")
	}
	v := s.Of[len(s.Of)-1]
	s.Of = s.Of[:len(s.Of)-1]
	return v
}

// Peek returns the item on top of the stack without removing it. Panics if
// the stack is empty.
func (s Stack[T]) Peek() T {
	if len(s.Of) == 0 {
		panic("peek of empty stack")
	}
	return s.Of[len(s.Of)-1]
}

// Len returns the number of items currently in the stack.
func (s Stack[T]) Len() int {
	return len(s.Of)
}

// Empty returns whether the stack has no items in it.
func (s Stack[T]) Empty() bool {
	return len(s.Of) == 0
}

// MakeTextList gives a nice list of things based on their display name.
//
// TODO: turn this into a generic function that accepts displayable OR ~string
func MakeTextList(items []string) string {
	if len(items) < 1 {
		return ""
	}

	output := ""

	if len(items) == 1 {
		output += items[0]
	} else if len(items) == 2 {
		output += items[0] + " and " + items[1]
	} else {
		// if its more than two, use an oxford comma
		items[len(items)-1] = "and " + items[len(items)-1]
		output += strings.Join(items, ", ")
	}

	return output
}
