package server

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// RateLimiter applies a per-connection sliding window so one abusive client
// cannot starve the table.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time
	mu          sync.Mutex
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow reports whether a connection may send another message. Timestamps
// outside the window are discarded on every call, so the map stays bounded by
// live traffic.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[connectionID]
	valid := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[connectionID] = valid
		return false
	}

	valid = append(valid, now)
	r.requests[connectionID] = valid
	return true
}

// RemoveConnection drops rate limit data when a websocket disconnects.
func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

const (
	maxNameLength = 20
	maxChatLength = 500
)

// ValidateName checks display name requirements before a join is attempted.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("NAME_INVALID: Name cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("NAME_INVALID: Name too long (max %d characters)", maxNameLength)
	}
	return nil
}

// ValidateChatText bounds chat messages; content is passed through otherwise.
func ValidateChatText(text string) error {
	if text == "" {
		return fmt.Errorf("CHAT_INVALID: Message cannot be empty")
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		return fmt.Errorf("CHAT_INVALID: Message too long (max %d characters)", maxChatLength)
	}
	return nil
}
