package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"automation-engine/internal/filter"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)
	wholePattern       = regexp.MustCompile(`^\s*\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}\s*$`)
)

// System is the engine-provided part of every render scope, reachable as
// "system.*" in templates.
type System struct {
	Now          time.Time
	Timezone     string
	AutomationID string
	TaskID       string
	EventType    string
	RunID        string
	Trigger      string
}

func (s System) values() map[string]interface{} {
	return map[string]interface{}{
		"now":           s.Now.Format(time.RFC3339),
		"timezone":      s.Timezone,
		"automation_id": s.AutomationID,
		"task_id":       s.TaskID,
		"event_type":    s.EventType,
		"run_id":        s.RunID,
		"trigger":       s.Trigger,
	}
}

// Scope builds the render scope for an execution: the top-level keys of an
// object event context plus "system". A non-object context is reachable as
// "event".
func Scope(eventContext interface{}, sys System) map[string]interface{} {
	scope := make(map[string]interface{})
	switch ctx := eventContext.(type) {
	case nil:
	case map[string]interface{}:
		for k, v := range ctx {
			scope[k] = v
		}
	default:
		scope["event"] = ctx
	}
	scope["system"] = sys.values()
	return scope
}

// DecodeTemplate parses a JSON payload template. Numbers are kept as
// json.Number so rendering does not change their representation.
func DecodeTemplate(raw json.RawMessage) (interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid payload template: %w", err)
	}
	return v, nil
}

// Render resolves "{{ path }}" placeholders in every string of tmpl against
// scope. A string that is exactly one placeholder becomes the resolved value
// with its type intact; placeholders embedded in longer strings are
// interpolated. Unresolved placeholders become nil or "" respectively.
// tmpl is not modified.
func Render(tmpl interface{}, scope interface{}) interface{} {
	switch v := tmpl.(type) {
	case string:
		return renderString(v, scope)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = Render(item, scope)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = Render(item, scope)
		}
		return out
	default:
		return v
	}
}

func renderString(s string, scope interface{}) interface{} {
	if !strings.Contains(s, "{{") {
		return s
	}
	if m := wholePattern.FindStringSubmatch(s); m != nil {
		value, found := filter.Resolve(m[1], scope)
		if !found {
			return nil
		}
		return value
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		value, found := filter.Resolve(path, scope)
		if !found {
			return ""
		}
		return stringify(value)
	})
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339)
	case map[string]interface{}, []interface{}, []string, []map[string]interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
