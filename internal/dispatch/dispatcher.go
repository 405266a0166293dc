// Package dispatch invokes action modules on behalf of the scheduler and the
// event service. Every dispatch renders the payload template, calls the
// module under a timeout with recursive triggers suppressed, and records
// exactly one run row that ends in a terminal state on every path.
package dispatch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"automation-engine/internal/common/clock"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/common/utils"
	"automation-engine/internal/storage"
)

const defaultTimeout = 30 * time.Second

// Request describes one dispatch.
type Request struct {
	Module   string
	Template json.RawMessage
	// Context is the event context for event automations, nil for
	// scheduled units.
	Context interface{}
	System  System
	Ledger  Ledger
}

// RunResult is the terminal outcome of a dispatch.
type RunResult struct {
	RunID      string
	Status     storage.RunStatus
	Skipped    bool
	Output     interface{}
	Error      string
	Retryable  bool
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	// Opened is false when the run row could not be written and the module
	// was never called.
	Opened bool

	// Err is set when the run ledger could not be written. Status is then
	// still the module outcome, but the row may not reflect it.
	Err error
}

// Observer is notified after every dispatch that opened a run row.
type Observer interface {
	RunFinished(ctx context.Context, req Request, res RunResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, req Request, res RunResult)

func (f ObserverFunc) RunFinished(ctx context.Context, req Request, res RunResult) {
	f(ctx, req, res)
}

// Options configures a Dispatcher.
type Options struct {
	Clock     clock.Clock
	Timeout   time.Duration
	Location  *time.Location
	Logger    logging.Logger
	Observers []Observer
	// LedgerRetry governs closing the run row.
	LedgerRetry *utils.RetryConfig
}

// Dispatcher invokes registered modules.
type Dispatcher struct {
	registry    *Registry
	clock       clock.Clock
	timeout     time.Duration
	loc         *time.Location
	logger      logging.Logger
	ledgerRetry utils.RetryConfig

	mu        sync.RWMutex
	observers []Observer
}

func New(reg *Registry, opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	retry := utils.DefaultRetryConfig()
	if opts.LedgerRetry != nil {
		retry = *opts.LedgerRetry
	}
	if retry.RetryableErrors == nil {
		retry.RetryableErrors = errors.IsRetryable
	}
	return &Dispatcher{
		registry:    reg,
		clock:       opts.Clock,
		timeout:     opts.Timeout,
		loc:         opts.Location,
		logger:      opts.Logger.WithFields(logging.String("component", "dispatcher")),
		ledgerRetry: retry,
		observers:   append([]Observer(nil), opts.Observers...),
	}
}

// AddObserver registers o for subsequent dispatches.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Registry returns the module registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs req to completion. When the run row cannot be opened the
// module is not called and the returned result carries Err.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) RunResult {
	res := RunResult{
		RunID:     utils.GenerateID(),
		StartedAt: d.clock.Now().In(d.loc),
	}
	logger := d.logger.WithFields(
		logging.String("run_id", res.RunID),
		logging.String("module", req.Module),
	)

	if req.Ledger != nil {
		if err := req.Ledger.Begin(ctx, res.RunID, res.StartedAt); err != nil {
			res.Status = storage.RunFailed
			res.Error = "failed to open run"
			res.Err = errors.InfrastructureError("open run", err)
			res.FinishedAt = res.StartedAt
			logger.Error("Failed to open run", err)
			return res
		}
	}

	res.Opened = true
	sys := req.System
	sys.RunID = res.RunID
	if sys.Now.IsZero() {
		sys.Now = res.StartedAt
	}
	if sys.Timezone == "" {
		sys.Timezone = d.loc.String()
	}

	result := d.invoke(ctx, req, sys)
	res.FinishedAt = d.clock.Now().In(d.loc)
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	if res.Duration < 0 {
		res.Duration = 0
	}
	res.Output = result.Output
	res.Retryable = result.Retryable

	var payload interface{} = result.Output
	switch result.Status {
	case ResultSucceeded:
		res.Status = storage.RunSucceeded
	case ResultSkipped:
		res.Status = storage.RunSucceeded
		res.Skipped = true
		payload = skippedPayload(result.Output)
	default:
		res.Status = storage.RunFailed
		res.Error = result.Error
		if res.Error == "" {
			res.Error = "module failed"
		}
	}

	if req.Ledger != nil {
		rec := RunRecord{
			RunID:      res.RunID,
			Status:     res.Status,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
			DurationMs: res.Duration.Milliseconds(),
			Result:     encodeResult(payload),
			Error:      res.Error,
		}
		// The row must close even when the caller's context is gone.
		closeCtx := context.WithoutCancel(ctx)
		err := utils.RetryWithBackoff(closeCtx, d.ledgerRetry, func() error {
			err := req.Ledger.Finish(closeCtx, rec)
			if stderrors.Is(err, storage.ErrInvalidState) {
				return errors.PermanentError("run already finished", err)
			}
			return err
		})
		if err != nil {
			res.Err = errors.InfrastructureError("close run", err)
			logger.Error("Failed to close run", err)
		}
	}

	if res.Status == storage.RunFailed {
		logger.Warn("Module run failed",
			logging.String("error", res.Error),
			logging.Bool("retryable", res.Retryable),
			logging.Duration("duration", res.Duration))
	} else {
		logger.Debug("Module run finished",
			logging.Bool("skipped", res.Skipped),
			logging.Duration("duration", res.Duration))
	}

	d.notify(ctx, req, res)
	return res
}

func (d *Dispatcher) invoke(ctx context.Context, req Request, sys System) Result {
	tmpl, err := DecodeTemplate(req.Template)
	if err != nil {
		return Failed(err.Error(), false)
	}
	payload := Render(tmpl, Scope(req.Context, sys))

	module, timeout, err := d.registry.Lookup(req.Module)
	if err != nil {
		return Failed(fmt.Sprintf("unknown module %q", req.Module), false)
	}
	if timeout <= 0 {
		timeout = d.timeout
	}

	callCtx, cancel := context.WithTimeout(WithSuppressedTriggers(ctx), timeout)
	defer cancel()

	opts := InvokeOptions{
		SuppressRecursiveTriggers: true,
		AutomationID:              sys.AutomationID,
		TaskID:                    sys.TaskID,
		RunID:                     sys.RunID,
		EventType:                 sys.EventType,
	}

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failed(fmt.Sprintf("module panicked: %v", r), false)
			}
		}()
		result, err := module.Invoke(callCtx, payload, opts)
		done <- normalise(result, err)
	}()

	select {
	case result := <-done:
		return result
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Failed(fmt.Sprintf("dispatch cancelled: %v", ctx.Err()), true)
		}
		return Failed(fmt.Sprintf("module %s timed out after %s", req.Module, timeout), true)
	}
}

// normalise folds a module's error return into its Result.
func normalise(result Result, err error) Result {
	if err != nil {
		msg := err.Error()
		if result.Error != "" {
			msg = result.Error + ": " + msg
		}
		return Result{
			Status:    ResultFailed,
			Output:    result.Output,
			Error:     msg,
			Retryable: result.Retryable || errors.IsRetryable(err),
		}
	}
	switch result.Status {
	case ResultSucceeded, ResultFailed, ResultSkipped:
		return result
	case "":
		result.Status = ResultSucceeded
		return result
	default:
		return Failed(fmt.Sprintf("module returned unknown status %q", result.Status), false)
	}
}

func skippedPayload(output interface{}) map[string]interface{} {
	payload := map[string]interface{}{"skipped": true}
	if m, ok := output.(map[string]interface{}); ok {
		for k, v := range m {
			if k != "skipped" {
				payload[k] = v
			}
		}
	} else if output != nil {
		payload["output"] = output
	}
	return payload
}

func encodeResult(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"unencodable_output": fmt.Sprint(v)})
	}
	return data
}

func (d *Dispatcher) notify(ctx context.Context, req Request, res RunResult) {
	d.mu.RLock()
	observers := append([]Observer(nil), d.observers...)
	d.mu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("Run observer panicked", fmt.Errorf("%v", r),
						logging.String("run_id", res.RunID))
				}
			}()
			o.RunFinished(ctx, req, res)
		}()
	}
}
