// Package command implements word-tree parsing for multi-word bot commands
// such as "acl allow <context> <hostmask>".
package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrAmbiguousTree is returned when two different variables would sit at the
// same level of the tree.
var ErrAmbiguousTree = errors.New("ambiguous command tree")

// SyntaxError is a user-facing parse failure. Callers reply with it rather
// than logging it.
type SyntaxError struct {
	Msg string
}

func (e *SyntaxError) Error() string {
	return e.Msg
}

// Action runs a matched pattern. Vars holds the values bound to <name>
// placeholders. The returned lines are sent back to the caller.
type Action func(vars map[string]string) ([]string, error)

type node struct {
	literals map[string]*node
	varName  string
	variable *node
	action   Action
	pattern  string
}

func newNode() *node {
	return &node{literals: make(map[string]*node)}
}

// Tree dispatches argument lists to actions.
type Tree struct {
	root *node
}

// New creates an empty tree
func New() *Tree {
	return &Tree{root: newNode()}
}

// Handle registers an action for a space separated pattern. Words wrapped
// in angle brackets are variables. Literals match case-insensitively.
func (t *Tree) Handle(pattern string, action Action) error {
	words := strings.Fields(pattern)
	if len(words) == 0 {
		return fmt.Errorf("empty command pattern")
	}
	if action == nil {
		return fmt.Errorf("pattern %q has no action", pattern)
	}

	n := t.root
	for _, w := range words {
		if name, ok := variableName(w); ok {
			if n.variable == nil {
				n.varName = name
				n.variable = newNode()
			} else if n.varName != name {
				return fmt.Errorf("%w: <%s> conflicts with <%s> in %q", ErrAmbiguousTree, name, n.varName, pattern)
			}
			n = n.variable
			continue
		}

		key := strings.ToLower(w)
		next, ok := n.literals[key]
		if !ok {
			next = newNode()
			n.literals[key] = next
		}
		n = next
	}

	if n.action != nil {
		return fmt.Errorf("pattern %q already registered as %q", pattern, n.pattern)
	}
	n.action = action
	n.pattern = strings.Join(words, " ")
	return nil
}

// MustHandle is Handle for static registrations that cannot fail at runtime.
func (t *Tree) MustHandle(pattern string, action Action) {
	if err := t.Handle(pattern, action); err != nil {
		panic(err)
	}
}

// Execute walks args through the tree and runs the matching action.
func (t *Tree) Execute(args []string) ([]string, error) {
	n := t.root
	vars := make(map[string]string)

	for _, arg := range args {
		if len(n.literals) == 0 && n.variable == nil {
			return nil, &SyntaxError{Msg: "Too many parameters"}
		}
		if next, ok := n.literals[strings.ToLower(arg)]; ok {
			n = next
			continue
		}
		if n.variable != nil {
			vars[n.varName] = arg
			n = n.variable
			continue
		}
		return nil, &SyntaxError{Msg: fmt.Sprintf("Syntax error. Unknown parameter '%s'", arg)}
	}

	if n.action == nil {
		return nil, &SyntaxError{Msg: "Not enough parameters"}
	}
	return n.action(vars)
}

// Usage lists every registered pattern in sorted order.
func (t *Tree) Usage() []string {
	var out []string
	var walk func(n *node)
	walk = func(n *node) {
		if n.action != nil {
			out = append(out, n.pattern)
		}
		for _, child := range n.literals {
			walk(child)
		}
		if n.variable != nil {
			walk(n.variable)
		}
	}
	walk(t.root)
	sort.Strings(out)
	return out
}

func variableName(word string) (string, bool) {
	if len(word) > 2 && strings.HasPrefix(word, "<") && strings.HasSuffix(word, ">") {
		return word[1 : len(word)-1], true
	}
	return "", false
}
