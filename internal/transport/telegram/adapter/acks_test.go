package adapter

import (
	"testing"
	"time"

	kit "remindbot/internal/transport"
)

func TestAckTrackerPrunesAbandonedWindows(t *testing.T) {
	t.Parallel()
	tr := newAckTracker()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	old := kit.MessageRef{ChatID: -1, MessageID: 1}
	fresh := kit.MessageRef{ChatID: -1, MessageID: 2}
	tr.open(old)
	tr.now = func() time.Time { return base.Add(50 * time.Minute) }
	tr.open(fresh)

	if n := tr.prune(base.Add(ackMaxAge + time.Minute)); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if tr.record(old, 1) {
		t.Fatal("pruned window still accepts presses")
	}
	if !tr.record(fresh, 1) {
		t.Fatal("fresh window was pruned")
	}
}

func TestAckTrackerKeysByChatAndMessage(t *testing.T) {
	t.Parallel()
	tr := newAckTracker()
	a := kit.MessageRef{ChatID: -1, MessageID: 5}
	b := kit.MessageRef{ChatID: -2, MessageID: 5}
	tr.open(a)
	if tr.record(b, 9) {
		t.Fatal("press in another chat landed in the window")
	}
	tr.record(kit.MessageRef{ChatID: -1, ThreadID: 3, MessageID: 5}, 9)
	if got := tr.close(a); len(got) != 1 {
		t.Fatalf("acks = %v", got)
	}
}
