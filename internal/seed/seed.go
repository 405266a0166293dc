// Package seed loads automation and task definitions from YAML and upserts
// them by name through the catalog.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"automation-engine/internal/catalog"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/filter"
	"automation-engine/internal/storage"

	"gopkg.in/yaml.v3"
)

// Document is the top level of a definitions file.
type Document struct {
	Automations []Automation `yaml:"automations"`
	Tasks       []Task       `yaml:"tasks"`
}

type Automation struct {
	Name           string      `yaml:"name"`
	Description    string      `yaml:"description"`
	Kind           string      `yaml:"kind"`
	CronExpression string      `yaml:"cron_expression"`
	Cadence        string      `yaml:"cadence"`
	ScheduledTime  *time.Time  `yaml:"scheduled_time"`
	RunOnce        bool        `yaml:"run_once"`
	TriggerEvent   string      `yaml:"trigger_event"`
	TriggerFilter  interface{} `yaml:"trigger_filter"`
	ActionModule   string      `yaml:"action_module"`
	ActionPayload  interface{} `yaml:"action_payload"`
	Active         *bool       `yaml:"active"`
}

type Task struct {
	Name                string      `yaml:"name"`
	Command             string      `yaml:"command"`
	Cron                string      `yaml:"cron"`
	Payload             interface{} `yaml:"payload"`
	Active              *bool       `yaml:"active"`
	MaxRetries          int         `yaml:"max_retries"`
	RetryBackoffSeconds int         `yaml:"retry_backoff_seconds"`
}

// Result summarises one Apply.
type Result struct {
	Created  []string
	Updated  []string
	Failed   map[string]error
	Warnings map[string][]filter.Warning
}

// Load reads and parses a definitions file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("read seed file %s: %v", path, err))
	}
	return Parse(data)
}

// Parse decodes a definitions document. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, errors.ValidationError("invalid seed document: " + err.Error())
	}
	return &doc, nil
}

// Apply upserts every definition. A failing entry does not stop the rest;
// the returned error is non-nil when any entry failed.
func Apply(ctx context.Context, svc *catalog.Service, doc *Document, logger logging.Logger) (*Result, error) {
	res := &Result{Failed: map[string]error{}, Warnings: map[string][]filter.Warning{}}

	for _, def := range doc.Automations {
		key := "automation:" + def.Name
		in, err := def.input()
		if err != nil {
			res.Failed[key] = err
			continue
		}
		_, created, warnings, err := svc.UpsertAutomation(ctx, in)
		if len(warnings) > 0 {
			res.Warnings[key] = warnings
		}
		res.record(key, created, err)
	}

	for _, def := range doc.Tasks {
		key := "task:" + def.Name
		in, err := def.input()
		if err != nil {
			res.Failed[key] = err
			continue
		}
		_, created, err := svc.UpsertTask(ctx, in)
		res.record(key, created, err)
	}

	logger.Info("Seed applied",
		logging.Int("created", len(res.Created)),
		logging.Int("updated", len(res.Updated)),
		logging.Int("failed", len(res.Failed)))

	if len(res.Failed) > 0 {
		return res, errors.ValidationError(fmt.Sprintf("%d seed definitions failed", len(res.Failed)))
	}
	return res, nil
}

func (r *Result) record(key string, created bool, err error) {
	switch {
	case err != nil:
		r.Failed[key] = err
	case created:
		r.Created = append(r.Created, key)
	default:
		r.Updated = append(r.Updated, key)
	}
}

func (a Automation) input() (catalog.AutomationInput, error) {
	filterDoc, err := toJSON(a.TriggerFilter)
	if err != nil {
		return catalog.AutomationInput{}, err
	}
	payload, err := toJSON(a.ActionPayload)
	if err != nil {
		return catalog.AutomationInput{}, err
	}
	return catalog.AutomationInput{
		Name:           a.Name,
		Description:    a.Description,
		Kind:           storage.AutomationKind(a.Kind),
		CronExpression: a.CronExpression,
		Cadence:        a.Cadence,
		ScheduledTime:  a.ScheduledTime,
		RunOnce:        a.RunOnce,
		TriggerEvent:   a.TriggerEvent,
		TriggerFilter:  filterDoc,
		ActionModule:   a.ActionModule,
		ActionPayload:  payload,
		Active:         a.Active,
	}, nil
}

func (t Task) input() (catalog.TaskInput, error) {
	payload, err := toJSON(t.Payload)
	if err != nil {
		return catalog.TaskInput{}, err
	}
	return catalog.TaskInput{
		Name:                t.Name,
		Command:             t.Command,
		Cron:                t.Cron,
		Payload:             payload,
		Active:              t.Active,
		MaxRetries:          t.MaxRetries,
		RetryBackoffSeconds: t.RetryBackoffSeconds,
	}, nil
}

// toJSON converts a YAML-decoded value to a JSON document. Nil stays nil.
func toJSON(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, errors.ValidationError("document is not representable as JSON: " + err.Error())
	}
	return data, nil
}

// stringKeys rewrites map[interface{}]interface{} nodes, which YAML
// produces for non-string keys, into JSON-compatible maps.
func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]interface{}:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}
