package domain

import "time"

// RateLimitState is a snapshot of one principal's window.
type RateLimitState struct {
	PrincipalID  string        `json:"principal_id"`
	Count        int           `json:"count"`
	WindowStart  time.Time     `json:"window_start"`
	WindowLength time.Duration `json:"window_length"`
	MaxRequests  int           `json:"max_requests"`
}

// Remaining returns how many more requests fit in the window.
func (s RateLimitState) Remaining() int {
	if s.Count >= s.MaxRequests {
		return 0
	}
	return s.MaxRequests - s.Count
}

// ResetsAt returns when the window's counter expires.
func (s RateLimitState) ResetsAt() time.Time {
	return s.WindowStart.Add(s.WindowLength)
}
