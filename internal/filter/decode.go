package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"automation-engine/internal/common/errors"
)

const (
	keyAll   = "all"
	keyAny   = "any"
	keyNot   = "not"
	keyMatch = "match"
)

func isReserved(key string) bool {
	switch key {
	case keyAll, keyAny, keyNot, keyMatch:
		return true
	}
	return false
}

// Warning describes a malformed or suspicious filter node found while
// decoding. Path locates the node, e.g. "$.all[1].not".
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Path + ": " + w.Message
}

// Err converts the warning into a malformed filter error.
func (w Warning) Err() error {
	return errors.MalformedFilterError(w.Path, w.Message)
}

// Decode turns a raw filter document into a Node. Malformed parts become
// Invalid nodes that never match, and each one is reported as a Warning.
// A nil or empty document decodes to Always.
func Decode(raw interface{}) (Node, []Warning) {
	d := &decoder{}
	if raw == nil {
		return Always{}, nil
	}
	if obj, ok := raw.(map[string]interface{}); ok && len(obj) == 0 {
		return Always{}, nil
	}
	node := d.decode(raw, "$")
	return node, d.warnings
}

// DecodeJSON decodes a JSON-encoded filter. Empty input, "null" and "{}"
// decode to Always.
func DecodeJSON(data []byte) (Node, []Warning) {
	if len(data) == 0 {
		return Always{}, nil
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Invalid{Path: "$", Reason: "invalid JSON"}, []Warning{{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}
	return Decode(raw)
}

// Validate reports every warning Decode would produce for raw.
func Validate(raw interface{}) []Warning {
	_, warnings := Decode(raw)
	return warnings
}

type decoder struct {
	warnings []Warning
}

func (d *decoder) warn(path, format string, args ...interface{}) {
	d.warnings = append(d.warnings, Warning{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (d *decoder) invalid(path, format string, args ...interface{}) Node {
	d.warn(path, format, args...)
	return Invalid{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func (d *decoder) decode(raw interface{}, path string) Node {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return d.invalid(path, "expected an object, got %s", describe(raw))
	}
	if len(obj) == 0 {
		d.warn(path, "empty expression always matches")
		return Match{}
	}

	var reserved []string
	for key := range obj {
		if isReserved(key) {
			reserved = append(reserved, key)
		}
	}

	switch {
	case len(reserved) == 0:
		return d.decodeClauses(obj, path)
	case len(obj) > 1:
		sort.Strings(reserved)
		return d.invalid(path, "operator %q cannot be combined with other keys", reserved[0])
	}

	key := reserved[0]
	value := obj[key]
	childPath := path + "." + key

	switch key {
	case keyAll, keyAny:
		items, ok := value.([]interface{})
		if !ok {
			return d.invalid(childPath, "expected a list of expressions, got %s", describe(value))
		}
		if len(items) == 0 {
			d.warn(childPath, "empty list")
		}
		children := make([]Node, len(items))
		for i, item := range items {
			children[i] = d.decode(item, childPath+"["+strconv.Itoa(i)+"]")
		}
		if key == keyAll {
			return All{Children: children}
		}
		return Any{Children: children}

	case keyNot:
		if _, ok := value.(map[string]interface{}); !ok {
			return d.invalid(childPath, "expected a single expression, got %s", describe(value))
		}
		return Not{Child: d.decode(value, childPath)}

	default:
		clauses, ok := value.(map[string]interface{})
		if !ok {
			return d.invalid(childPath, "expected an object of path/value pairs, got %s", describe(value))
		}
		if len(clauses) == 0 {
			d.warn(childPath, "empty match always matches")
			return Match{}
		}
		return d.decodeClauses(clauses, childPath)
	}
}

func (d *decoder) decodeClauses(pairs map[string]interface{}, path string) Node {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]Clause, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			return d.invalid(path, "empty path in match")
		}
		v := pairs[k]
		clause := Clause{Path: k, Expected: v}
		if list, ok := v.([]interface{}); ok {
			if len(list) == 0 {
				d.warn(path+"."+k, "empty list never matches")
			}
			clause.Options = list
			if clause.Options == nil {
				clause.Options = []interface{}{}
			}
			clause.Expected = nil
		}
		clauses = append(clauses, clause)
	}
	return Match{Clauses: clauses}
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []interface{}:
		return "list"
	case map[string]interface{}:
		return "object"
	default:
		if _, ok := toFloat(v); ok {
			return "number"
		}
		return fmt.Sprintf("%T", v)
	}
}
