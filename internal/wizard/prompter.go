package wizard

import (
	"context"
	"sync"
)

// SendFunc renders a question to the user.
type SendFunc func(ctx context.Context, q Question) error

// ChanPrompter is a Prompter fed by Offer. The chat router offers every
// message (or button press) the session's user sends in the session's chat.
type ChanPrompter struct {
	send    SendFunc
	answers chan string
}

func NewChanPrompter(send SendFunc) *ChanPrompter {
	return &ChanPrompter{send: send, answers: make(chan string, 1)}
}

// Offer hands an answer to a pending Ask. It never blocks; an answer that
// arrives while one is already queued is dropped.
func (p *ChanPrompter) Offer(answer string) bool {
	select {
	case p.answers <- answer:
		return true
	default:
		return false
	}
}

// Ask sends q and waits for the next offered answer or ctx's end.
func (p *ChanPrompter) Ask(ctx context.Context, q Question) (string, error) {
	// Answers typed before the question was shown belong to no question.
	select {
	case <-p.answers:
	default:
	}
	if err := p.send(ctx, q); err != nil {
		return "", err
	}
	select {
	case a := <-p.answers:
		return a, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Key identifies a conversation: one user in one chat.
type Key struct {
	ChatID int64
	UserID int64
}

// Registry tracks live sessions so the router can feed them.
type Registry struct {
	mu sync.Mutex
	m  map[Key]*ChanPrompter
}

func NewRegistry() *Registry { return &Registry{m: map[Key]*ChanPrompter{}} }

// Begin registers p under k. It fails when k already has a live session.
func (r *Registry) Begin(k Key, p *ChanPrompter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.m[k]; busy {
		return false
	}
	r.m[k] = p
	return true
}

// End removes k's session if it is still p.
func (r *Registry) End(k Key, p *ChanPrompter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m[k] == p {
		delete(r.m, k)
	}
}

// Offer routes answer to k's session. ok is false when k has none.
func (r *Registry) Offer(k Key, answer string) (ok bool) {
	r.mu.Lock()
	p := r.m[k]
	r.mu.Unlock()
	if p == nil {
		return false
	}
	p.Offer(answer)
	return true
}

// Active reports whether k has a live session.
func (r *Registry) Active(k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.m[k]
	return ok
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
