package utils

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// RandomInt64n returns a random int64 in the range [0, n).
//
// Uses crypto/rand with a fallback to time-based randomness if the system
// source fails. Returns 0 when n <= 0.
func RandomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano() % n
	}

	// Clear the sign bit so the modulo stays non-negative.
	val := int64(binary.BigEndian.Uint64(buf[:]) &^ (1 << 63))
	return val % n
}

// JitterSource produces a jitter amount in [0, max).
// Tests substitute a deterministic source.
type JitterSource func(max time.Duration) time.Duration

// CryptoJitter is the default JitterSource backed by RandomInt64n.
func CryptoJitter(max time.Duration) time.Duration {
	return time.Duration(RandomInt64n(int64(max)))
}

// NoJitter always returns zero.
func NoJitter(time.Duration) time.Duration {
	return 0
}
