package modules

import (
	"context"

	"automation-engine/internal/common/logging"
	"automation-engine/internal/dispatch"
)

// NewLog returns the log module, which writes the rendered payload at info.
func NewLog(logger logging.Logger) dispatch.Module {
	logger = logger.WithFields(logging.String("module", LogID))
	return dispatch.ModuleFunc(func(_ context.Context, payload interface{}, opts dispatch.InvokeOptions) (dispatch.Result, error) {
		logger.Info("Automation log",
			logging.String("automation_id", opts.AutomationID),
			logging.String("task_id", opts.TaskID),
			logging.String("run_id", opts.RunID),
			logging.String("event_type", opts.EventType),
			logging.Any("payload", payload))
		return dispatch.Succeeded(map[string]interface{}{"logged": true}), nil
	})
}

// Noop echoes its payload back as the run output.
func Noop() dispatch.Module {
	return dispatch.ModuleFunc(func(_ context.Context, payload interface{}, _ dispatch.InvokeOptions) (dispatch.Result, error) {
		return dispatch.Succeeded(payload), nil
	})
}
