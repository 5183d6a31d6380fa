package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *State
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &State{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &State{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			state:    &State{LastUpdate: time.Now().Add(-4 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.state.IsStale(tt.maxAge); result != tt.expected {
				t.Errorf("IsStale() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestState_Decisions(t *testing.T) {
	future := time.Now().Add(30 * time.Second)
	past := time.Now().Add(-30 * time.Second)

	tests := []struct {
		name           string
		remaining      int
		resetAt        time.Time
		expectBlock    bool
		expectThrottle bool
	}{
		{name: "healthy", remaining: 4000, resetAt: future},
		{name: "at warning threshold", remaining: RemainingThresholdWarning, resetAt: future},
		{name: "just below warning threshold", remaining: RemainingThresholdWarning - 1, resetAt: future, expectThrottle: true},
		{name: "at critical threshold", remaining: RemainingThresholdCritical, resetAt: future, expectThrottle: true},
		{name: "just below critical threshold", remaining: RemainingThresholdCritical - 1, resetAt: future, expectBlock: true},
		{name: "exhausted", remaining: 0, resetAt: future, expectBlock: true},
		{name: "exhausted but window rolled over", remaining: 0, resetAt: past},
		{name: "low but window rolled over", remaining: 10, resetAt: past},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{Remaining: tt.remaining, ResetAt: tt.resetAt}

			if got := state.NeedsCriticalBlock(); got != tt.expectBlock {
				t.Errorf("NeedsCriticalBlock() = %v, want %v (remaining=%d)", got, tt.expectBlock, tt.remaining)
			}
			if got := state.NeedsThrottling(); got != tt.expectThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v (remaining=%d)", got, tt.expectThrottle, tt.remaining)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	state := &State{ResetAt: time.Now().Add(5 * time.Minute)}
	diff := state.TimeUntilReset() - 5*time.Minute
	if diff < -time.Second || diff > time.Second {
		t.Errorf("TimeUntilReset() = %v, want approximately 5m", state.TimeUntilReset())
	}

	state = &State{ResetAt: time.Now().Add(-5 * time.Minute)}
	if got := state.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0 for past reset time", got)
	}
}

func TestState_UpdateHealth(t *testing.T) {
	tests := []struct {
		remaining       int
		expectedHealthy bool
	}{
		{remaining: 5000, expectedHealthy: true},
		{remaining: RemainingThresholdWarning, expectedHealthy: true},
		{remaining: RemainingThresholdWarning - 1, expectedHealthy: false},
		{remaining: 0, expectedHealthy: false},
	}

	for _, tt := range tests {
		state := &State{Remaining: tt.remaining}
		state.UpdateHealth()
		if state.IsHealthy != tt.expectedHealthy {
			t.Errorf("UpdateHealth() set IsHealthy = %v, want %v (remaining=%d)",
				state.IsHealthy, tt.expectedHealthy, tt.remaining)
		}
	}
}

func TestThresholdConstants(t *testing.T) {
	if RemainingThresholdCritical >= RemainingThresholdWarning {
		t.Errorf("RemainingThresholdCritical (%d) must be less than RemainingThresholdWarning (%d)",
			RemainingThresholdCritical, RemainingThresholdWarning)
	}
}
