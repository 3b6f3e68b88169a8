package adapter

import (
	"sync"
	"time"

	kit "remindbot/internal/transport"
)

// ackMaxAge bounds how long an unclosed window is tracked. Windows are
// normally closed by CollectAcknowledgers long before this.
const ackMaxAge = time.Hour

type ackKey struct {
	chatID int64
	msgID  int
}

type ackWindow struct {
	opened time.Time
	users  map[int64]struct{}
}

// ackTracker remembers who pressed the ack button on each open prompt.
type ackTracker struct {
	mu      sync.Mutex
	windows map[ackKey]*ackWindow
	now     func() time.Time
}

func newAckTracker() *ackTracker {
	return &ackTracker{windows: map[ackKey]*ackWindow{}, now: time.Now}
}

func keyOf(ref kit.MessageRef) ackKey { return ackKey{chatID: ref.ChatID, msgID: ref.MessageID} }

func (t *ackTracker) open(ref kit.MessageRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows[keyOf(ref)] = &ackWindow{opened: t.now(), users: map[int64]struct{}{}}
}

// record reports whether the press landed in an open window.
func (t *ackTracker) record(ref kit.MessageRef, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.windows[keyOf(ref)]
	if w == nil {
		return false
	}
	w.users[userID] = struct{}{}
	return true
}

// close forgets the window and returns its acknowledgers (never nil).
func (t *ackTracker) close(ref kit.MessageRef) map[int64]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyOf(ref)
	w := t.windows[k]
	delete(t.windows, k)
	if w == nil {
		return map[int64]struct{}{}
	}
	return w.users
}

func (t *ackTracker) prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, w := range t.windows {
		if now.Sub(w.opened) > ackMaxAge {
			delete(t.windows, k)
			n++
		}
	}
	return n
}
