// Package utils provides small helpers shared across the engine.
//
// This package contains identifier generation, randomness for jitter,
// retry with backoff, extended duration parsing and the time conversions
// used by the storage layer.
package utils

import (
	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

// GenerateID returns a collision-resistant identifier for persisted rows.
//
// IDs are cuids: URL-safe, roughly time-ordered and safe to generate
// concurrently from several processes without coordination.
func GenerateID() string {
	return cuid.New()
}

// GenerateRequestID returns a random UUID v4 used to correlate HTTP
// requests across log lines.
func GenerateRequestID() string {
	return uuid.NewString()
}

// GenerateClaimToken returns an opaque token identifying one claim of a
// schedulable unit. Tokens let a worker release only the claim it owns.
func GenerateClaimToken() string {
	return uuid.NewString()
}
