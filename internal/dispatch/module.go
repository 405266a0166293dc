package dispatch

import "context"

// ResultStatus is the outcome a module reports for one invocation.
type ResultStatus string

const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
	ResultSkipped   ResultStatus = "skipped"
)

// Result is what a module returns from Invoke.
type Result struct {
	Status    ResultStatus `json:"status"`
	Output    interface{}  `json:"output,omitempty"`
	Error     string       `json:"error,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
}

// Succeeded builds a successful result carrying output.
func Succeeded(output interface{}) Result {
	return Result{Status: ResultSucceeded, Output: output}
}

// Failed builds a failed result.
func Failed(message string, retryable bool) Result {
	return Result{Status: ResultFailed, Error: message, Retryable: retryable}
}

// Skipped builds a result for a module that chose not to act.
func Skipped(reason string) Result {
	return Result{Status: ResultSkipped, Output: map[string]interface{}{"reason": reason}}
}

// InvokeOptions travel with every module call.
type InvokeOptions struct {
	// SuppressRecursiveTriggers asks the module not to emit events that
	// would fire automations again. The dispatcher always sets it.
	SuppressRecursiveTriggers bool

	AutomationID string
	TaskID       string
	RunID        string
	EventType    string
}

// Module is a named action handler.
type Module interface {
	Invoke(ctx context.Context, payload interface{}, opts InvokeOptions) (Result, error)
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(ctx context.Context, payload interface{}, opts InvokeOptions) (Result, error)

func (f ModuleFunc) Invoke(ctx context.Context, payload interface{}, opts InvokeOptions) (Result, error) {
	return f(ctx, payload, opts)
}
