// Package filter implements the trigger filter language: a recursive boolean
// expression tree of match, all, any and not nodes evaluated against an
// event context document.
//
// Filters are decoded once into a closed set of node types. Evaluation is
// pure and terminates in time bounded by the size of the tree.
package filter

// Node is a decoded filter expression. The set of implementations is closed.
type Node interface {
	Eval(ctx interface{}) bool
	node()
}

// Always matches every context. It is the decoded form of an empty or
// absent filter.
type Always struct{}

// Match requires every clause to hold.
type Match struct {
	Clauses []Clause
}

// Clause compares the value at Path with Expected. When Options is non-nil
// the clause holds if the resolved value equals any option.
type Clause struct {
	Path     string
	Expected interface{}
	Options  []interface{}
}

// All is a conjunction evaluated left to right.
type All struct {
	Children []Node
}

// Any is a disjunction evaluated left to right.
type Any struct {
	Children []Node
}

// Not negates its child.
type Not struct {
	Child Node
}

// Invalid stands in for a malformed node. It never matches.
type Invalid struct {
	Path   string
	Reason string
}

func (Always) node()  {}
func (Match) node()   {}
func (All) node()     {}
func (Any) node()     {}
func (Not) node()     {}
func (Invalid) node() {}

func (Always) Eval(interface{}) bool { return true }

func (m Match) Eval(ctx interface{}) bool {
	for _, c := range m.Clauses {
		if !c.holds(ctx) {
			return false
		}
	}
	return true
}

func (c Clause) holds(ctx interface{}) bool {
	actual, found := Resolve(c.Path, ctx)
	if !found {
		return false
	}
	if c.Options != nil {
		for _, option := range c.Options {
			if valuesEqual(actual, option) {
				return true
			}
		}
		return false
	}
	return valuesEqual(actual, c.Expected)
}

func (a All) Eval(ctx interface{}) bool {
	for _, child := range a.Children {
		if !child.Eval(ctx) {
			return false
		}
	}
	return true
}

func (a Any) Eval(ctx interface{}) bool {
	for _, child := range a.Children {
		if child.Eval(ctx) {
			return true
		}
	}
	return false
}

func (n Not) Eval(ctx interface{}) bool {
	return !n.Child.Eval(ctx)
}

func (Invalid) Eval(interface{}) bool { return false }

// Evaluate reports whether node matches ctx. A nil node matches everything.
func Evaluate(node Node, ctx interface{}) bool {
	if node == nil {
		return true
	}
	return node.Eval(ctx)
}
