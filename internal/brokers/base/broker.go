// Package base holds the pieces every broker implementation shares: the
// common identity and logger, handler invocation with consistent logging,
// and header conversion for transports that carry string attributes.
package base

import (
	"automation-engine/internal/common/logging"
)

// BaseBroker carries the broker type and a logger scoped to it.
type BaseBroker struct {
	brokerType string
	logger     logging.Logger
}

// NewBaseBroker scopes logger to the broker type and a redacted endpoint.
func NewBaseBroker(brokerType, endpoint string, logger logging.Logger) *BaseBroker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &BaseBroker{
		brokerType: brokerType,
		logger: logger.WithFields(
			logging.String("broker", brokerType),
			logging.String("endpoint", endpoint),
		),
	}
}

func (b *BaseBroker) Type() string {
	return b.brokerType
}

func (b *BaseBroker) Logger() logging.Logger {
	return b.logger
}
