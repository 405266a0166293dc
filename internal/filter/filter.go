package filter

import "encoding/json"

// Filter is a decoded trigger filter kept alongside the warnings produced
// when it was decoded.
type Filter struct {
	Root     Node
	Warnings []Warning
}

// Compile decodes raw once for repeated evaluation.
func Compile(raw interface{}) *Filter {
	root, warnings := Decode(raw)
	return &Filter{Root: root, Warnings: warnings}
}

// CompileJSON decodes a JSON filter document.
func CompileJSON(data json.RawMessage) *Filter {
	root, warnings := DecodeJSON(data)
	return &Filter{Root: root, Warnings: warnings}
}

// Matches reports whether the filter accepts ctx. A broken filter rejects
// every context.
func (f *Filter) Matches(ctx interface{}) bool {
	if f == nil {
		return true
	}
	if f.Broken() {
		return false
	}
	return Evaluate(f.Root, ctx)
}

// Malformed reports whether decoding produced any warning.
func (f *Filter) Malformed() bool {
	return f != nil && len(f.Warnings) > 0
}

// Broken reports whether the filter contains a node that could not be
// decoded. A broken filter never matches as a whole.
func (f *Filter) Broken() bool {
	return f != nil && containsInvalid(f.Root)
}

func containsInvalid(n Node) bool {
	switch n := n.(type) {
	case Invalid:
		return true
	case All:
		for _, c := range n.Children {
			if containsInvalid(c) {
				return true
			}
		}
	case Any:
		for _, c := range n.Children {
			if containsInvalid(c) {
				return true
			}
		}
	case Not:
		return containsInvalid(n.Child)
	}
	return false
}
