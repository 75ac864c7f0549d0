// Package ratelimit provides per-agent admission control.
//
// The runtime ships an in-memory sliding-window limiter (WindowLimiter).
// Deployments that need cross-instance coordination can substitute their own
// implementation — the Limiter interface is the contract.
package ratelimit

import "time"

// DefaultQPM is the admission budget used for agents with no explicit limit.
const DefaultQPM = 6

// Limiter decides whether a call for a named agent should be admitted.
// Implementations must be safe for concurrent use, and admission checks for
// distinct agents must not serialize on each other.
type Limiter interface {
	// SetLimit records the queries-per-minute budget for an agent,
	// overwriting any prior value.
	SetLimit(agent string, qpm int)

	// Admit reports whether a call for agent is within budget. An admitted
	// call is recorded; a denied call leaves the window unchanged.
	Admit(agent string) bool

	// ResetTime returns when the oldest recorded admission leaves the
	// window, freeing a slot. ok is false when the window is empty.
	ResetTime(agent string) (t time.Time, ok bool)
}

// NoopLimiter admits every call. Used when admission control is disabled.
type NoopLimiter struct{}

// SetLimit is a no-op.
func (NoopLimiter) SetLimit(string, int) {}

// Admit always returns true.
func (NoopLimiter) Admit(string) bool { return true }

// ResetTime always reports an empty window.
func (NoopLimiter) ResetTime(string) (time.Time, bool) { return time.Time{}, false }
