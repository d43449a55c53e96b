// Package backoff implements the rate-limit backoff state machine shared
// by the ingest driver (spec.md §4.7) and persisted by the state store
// (spec.md §3 "Backoff state"). It is adapted from the reference
// codebase's in-memory RestartTracker (pkg/daemon/restart.go), rewritten
// around the spec's exact formula and its persisted document instead of
// an in-memory attempt list: next_retry_ts = now + min(MAX, BASE*2^(n-1)).
package backoff

import "time"

// State is the persisted backoff document (spec.md §6:
// pending_backoff.json).
type State struct {
	NextRetryTS           float64 `json:"next_retry_ts"`
	ConsecutiveRateLimits int     `json:"consecutive_rate_limits"`
	Reason                string  `json:"reason"`
}

const ReasonRateLimit = "rate_limit"

// Config holds the base and cap for the exponential backoff formula.
type Config struct {
	BaseSeconds int
	MaxSeconds  int
}

// Active reports whether the backoff is still in effect relative to now.
func (s State) Active(now time.Time) bool {
	return s.NextRetryTS > float64(now.Unix())
}

// RemainingWait returns how long is left before NextRetryTS, or zero if
// the backoff has already elapsed.
func (s State) RemainingWait(now time.Time) time.Duration {
	remaining := s.NextRetryTS - float64(now.Unix())
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining * float64(time.Second))
}

// Cleared returns the zero-value state; next fully successful sync clears
// backoff unconditionally (spec.md §3 invariant).
func Cleared() State {
	return State{}
}

// Arm increments ConsecutiveRateLimits and recomputes NextRetryTS from
// now using the capped exponential formula. Must be called only when a
// rate-limit error was observed during the sync (spec.md §4.7 step 10).
func (s State) Arm(cfg Config, now time.Time) State {
	next := s
	next.ConsecutiveRateLimits++
	next.Reason = ReasonRateLimit

	backoffSeconds := cfg.BaseSeconds
	for i := 1; i < next.ConsecutiveRateLimits; i++ {
		backoffSeconds *= 2
		if backoffSeconds > cfg.MaxSeconds {
			backoffSeconds = cfg.MaxSeconds
			break
		}
	}
	if backoffSeconds > cfg.MaxSeconds {
		backoffSeconds = cfg.MaxSeconds
	}

	next.NextRetryTS = float64(now.Unix() + int64(backoffSeconds))
	return next
}
