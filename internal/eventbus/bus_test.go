package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeReminderFired})
	b.Publish(Event{Type: TypeReminderDelivered})

	if got := len(a); got != 1 {
		t.Fatalf("small subscriber buffered %d events, want 1", got)
	}
	if got := len(c); got != 2 {
		t.Fatalf("large subscriber buffered %d events, want 2", got)
	}
	e := <-c
	if e.Type != TypeReminderFired || e.Time.IsZero() {
		t.Fatalf("unexpected first event: %+v", e)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish(Event{Type: TypeReminderFired})
}
