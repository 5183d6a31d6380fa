// Package ratelimit tracks the Freshservice per-account request budget and
// paces requests before the API starts answering 429. Freshservice reports
// the budget in the X-RateLimit-Total and X-RateLimit-Remaining headers and,
// on 429, how long to back off in Retry-After.
//
// The state lives in Redis so that every partition worker, and every exporter
// process sharing the same account, sees the same budget.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "ticket_export:rate_limit:remaining"
	RedisKeyTotal          = "ticket_export:rate_limit:total"
	RedisKeyResetTimestamp = "ticket_export:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "ticket_export:rate_limit:last_update"
)

// Response headers.
const (
	HeaderTotal      = "X-RateLimit-Total"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderRetryAfter = "Retry-After"
)

// Thresholds for rate limit decisions.
const (
	// RemainingThresholdCritical holds requests until the window resets when
	// remaining requests fall below this value.
	RemainingThresholdCritical = 5

	// RemainingThresholdWarning applies throttling below this value.
	RemainingThresholdWarning = 50

	// Window is the Freshservice rate limit window, used as the reset estimate
	// when no Retry-After header is present.
	Window = time.Minute
)

// State represents the last observed rate limit budget.
type State struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// Total is the account's requests per window.
	Total int `json:"total"`

	// ResetAt is when the window is expected to reset.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= RemainingThresholdWarning.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should wait for the reset.
// A reset time in the past means the window has already rolled over.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < RemainingThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < RemainingThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingThresholdWarning
}
