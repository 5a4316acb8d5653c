package transfer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// RetryPolicy defines how long and how often a side waits for the other
type RetryPolicy struct {
	MaxRetries          int           `json:"max_retries"`          // Waits allowed per chunk
	ConfirmationTimeout time.Duration `json:"confirmation_timeout"` // Length of one wait
	ResendEvery         int           `json:"resend_every"`         // Re-emit the frame on every n-th unanswered wait
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          27,
		ConfirmationTimeout: 2 * time.Second,
		ResendEvery:         9,
	}
}

// Validate checks the policy bounds
func (rp RetryPolicy) Validate() error {
	if rp.MaxRetries < 1 {
		return errors.New("max_retries must be at least 1")
	}
	if rp.ConfirmationTimeout <= 0 {
		return errors.New("confirmation_timeout must be positive")
	}
	if rp.ResendEvery < 1 {
		return errors.New("resend_every must be at least 1")
	}
	return nil
}

// ShouldResend reports whether the given unanswered wait re-emits the frame
func (rp RetryPolicy) ShouldResend(attempt int) bool {
	return attempt > 0 && attempt%rp.ResendEvery == 0
}

// RetryManager counts attempts per chunk index and lets a waiter sleep until
// either a notification or the confirmation timeout. A counter only grows
// until Succeed removes it; once it reaches MaxRetries it is final.
type RetryManager struct {
	policy RetryPolicy

	mu      sync.Mutex
	counts  map[int]int
	changed chan struct{}
}

// NewRetryManager creates a manager for one transfer
func NewRetryManager(policy RetryPolicy) *RetryManager {
	return &RetryManager{
		policy:  policy,
		counts:  make(map[int]int),
		changed: make(chan struct{}),
	}
}

// Policy returns the policy the manager was built with
func (m *RetryManager) Policy() RetryPolicy {
	return m.policy
}

// Attempt consumes one attempt for key. It returns the new count, or false
// without counting when the budget is already spent.
func (m *RetryManager) Attempt(key int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.counts[key]
	if n >= m.policy.MaxRetries {
		return n, false
	}
	n++
	m.counts[key] = n
	return n, true
}

// Succeed drops the counter for key and wakes any waiter
func (m *RetryManager) Succeed(key int) {
	m.mu.Lock()
	delete(m.counts, key)
	m.broadcastLocked()
	m.mu.Unlock()
}

// Count returns the attempts spent on key
func (m *RetryManager) Count(key int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// ExhaustedKeys returns every key whose budget is spent, ascending
func (m *RetryManager) ExhaustedKeys() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []int
	for k, n := range m.counts {
		if n >= m.policy.MaxRetries {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Notify wakes every goroutine blocked in Await so it re-checks its condition
func (m *RetryManager) Notify() {
	m.mu.Lock()
	m.broadcastLocked()
	m.mu.Unlock()
}

func (m *RetryManager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Await blocks for at most one confirmation timeout. It returns true as soon
// as cond holds, re-checking after every Notify.
func (m *RetryManager) Await(ctx context.Context, cond func() bool) (bool, error) {
	timer := time.NewTimer(m.policy.ConfirmationTimeout)
	defer timer.Stop()

	for {
		// Take the channel before checking so a notification in between is not lost.
		m.mu.Lock()
		changed := m.changed
		m.mu.Unlock()

		if cond() {
			return true, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return cond(), nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// AckSet is the sender's record of confirmed chunk indices
type AckSet struct {
	mu    sync.RWMutex
	acked map[int]struct{}
}

// NewAckSet creates an empty set
func NewAckSet() *AckSet {
	return &AckSet{acked: make(map[int]struct{})}
}

// Confirm records index and reports whether it was new
func (a *AckSet) Confirm(index int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.acked[index]; ok {
		return false
	}
	a.acked[index] = struct{}{}
	return true
}

// Has reports whether index is confirmed
func (a *AckSet) Has(index int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.acked[index]
	return ok
}

// Len returns the number of confirmed indices
func (a *AckSet) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.acked)
}

// Contiguous returns the largest k such that 1..k are all confirmed
func (a *AckSet) Contiguous() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	k := 0
	for {
		if _, ok := a.acked[k+1]; !ok {
			return k
		}
		k++
	}
}
