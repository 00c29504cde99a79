package mcpadapter

import (
	"sync"
	"time"
)

// BackoffWindow is the per-server call-failure backoff of
// spec.md §4.8.2's "tool" mode and §8 scenario 3.
const BackoffWindow = 60 * time.Second

// FailureTracker records the most recent tool-call failure per server
// so a subsequent call inside the backoff window is rejected with a
// "retry in Ns" message instead of being attempted again immediately.
type FailureTracker struct {
	mu       sync.Mutex
	failedAt map[string]time.Time
}

// NewFailureTracker builds an empty tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{failedAt: make(map[string]time.Time)}
}

// Blocked reports whether server is still inside its backoff window,
// and the whole seconds remaining if so.
func (t *FailureTracker) Blocked(server string) (bool, int) {
	t.mu.Lock()
	at, ok := t.failedAt[server]
	t.mu.Unlock()
	if !ok {
		return false, 0
	}
	elapsed := time.Since(at)
	if elapsed >= BackoffWindow {
		return false, 0
	}
	remaining := BackoffWindow - elapsed
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return true, secs
}

// RecordFailure marks server as having just failed, starting a fresh
// backoff window.
func (t *FailureTracker) RecordFailure(server string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failedAt[server] = time.Now()
}

// Clear removes any recorded failure for server, on a successful call.
func (t *FailureTracker) Clear(server string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failedAt, server)
}
