package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPipelineContainsPanic(t *testing.T) {
	t.Parallel()
	r, _, _, _ := newTestRouter(t)
	cmd := Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }}
	rq := req(ownerID)
	rq.Command = "boom"

	err := r.commandPipeline(&cmd)(context.Background(), rq)
	if err == nil || !strings.Contains(err.Error(), "/boom panicked: kaboom") {
		t.Fatalf("err = %v", err)
	}
}

func TestPipelineBoundsHandler(t *testing.T) {
	t.Parallel()
	r, _, _, _ := newTestRouter(t)
	cmd := Command{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Handle: func(ctx context.Context, _ *Request) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	err := r.commandPipeline(&cmd)(context.Background(), req(ownerID))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	var got time.Duration
	cmd = Command{Name: "plain", Handle: func(ctx context.Context, _ *Request) error {
		dl, _ := ctx.Deadline()
		got = time.Until(dl)
		return nil
	}}
	if err := r.commandPipeline(&cmd)(context.Background(), req(ownerID)); err != nil {
		t.Fatal(err)
	}
	if got <= 0 || got > defaultTimeout {
		t.Fatalf("default deadline in %s, want within %s", got, defaultTimeout)
	}
}

func TestGateRefusesWithoutCallingHandler(t *testing.T) {
	t.Parallel()
	r, ad, _, _ := newTestRouter(t)
	called := false
	cmd := Command{Name: "x", GroupOnly: true, Handle: func(context.Context, *Request) error {
		called = true
		return nil
	}}
	private := req(ownerID)
	private.IsGroup = false
	if err := r.commandPipeline(&cmd)(context.Background(), private); err != nil {
		t.Fatal(err)
	}
	if called || !strings.Contains(ad.last(), "group chats only") {
		t.Fatalf("called=%v reply=%q", called, ad.last())
	}
}
