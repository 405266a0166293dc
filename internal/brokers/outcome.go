package brokers

import (
	"context"
	"encoding/json"
	"time"

	"automation-engine/internal/common/clock"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/dispatch"
)

// Outcome is the message body published for every finished run.
type Outcome struct {
	RunID        string      `json:"run_id"`
	AutomationID string      `json:"automation_id,omitempty"`
	TaskID       string      `json:"task_id,omitempty"`
	Module       string      `json:"module"`
	Trigger      string      `json:"trigger,omitempty"`
	EventType    string      `json:"event_type,omitempty"`
	Status       string      `json:"status"`
	Skipped      bool        `json:"skipped,omitempty"`
	Error        string      `json:"error,omitempty"`
	Output       interface{} `json:"output,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
	DurationMs   int64       `json:"duration_ms"`
}

// OutcomePublisher is a dispatch.Observer that publishes run outcomes.
// Outcomes carry the suppress header so no event source re-ingests them.
type OutcomePublisher struct {
	broker  Broker
	topic   string
	timeout time.Duration
	clock   clock.Clock
	logger  logging.Logger
}

func NewOutcomePublisher(b Broker, topic string, logger logging.Logger) *OutcomePublisher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &OutcomePublisher{
		broker:  b,
		topic:   topic,
		timeout: 5 * time.Second,
		clock:   clock.New(),
		logger:  logger.WithFields(logging.String("component", "outcome_publisher")),
	}
}

func (p *OutcomePublisher) RunFinished(ctx context.Context, req dispatch.Request, res dispatch.RunResult) {
	body, err := json.Marshal(Outcome{
		RunID:        res.RunID,
		AutomationID: req.System.AutomationID,
		TaskID:       req.System.TaskID,
		Module:       req.Module,
		Trigger:      req.System.Trigger,
		EventType:    req.System.EventType,
		Status:       string(res.Status),
		Skipped:      res.Skipped,
		Error:        res.Error,
		Output:       res.Output,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
		DurationMs:   res.Duration.Milliseconds(),
	})
	if err != nil {
		p.logger.Error("Failed to encode run outcome", err, logging.String("run_id", res.RunID))
		return
	}

	msg := NewMessage(p.topic, body, p.clock.Now())
	msg.Key = req.System.AutomationID
	if msg.Key == "" {
		msg.Key = req.System.TaskID
	}
	msg.Headers[HeaderSuppressTriggers] = "true"

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.broker.Publish(pubCtx, msg); err != nil {
		p.logger.Warn("Failed to publish run outcome",
			logging.String("run_id", res.RunID),
			logging.Err(err))
	}
}
