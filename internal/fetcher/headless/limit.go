package headless

import (
	"context"
	"fmt"
	"sync"
)

// sessionSlots bounds how many browser sessions are open at once. A nil
// value places no bound.
type sessionSlots chan struct{}

func newSessionSlots(n int) sessionSlots {
	if n <= 0 {
		return nil
	}
	return make(sessionSlots, n)
}

func (s sessionSlots) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for browser slot: %w", ctx.Err())
	}
}

func (s sessionSlots) release() {
	if s == nil {
		return
	}
	<-s
}

// LimitSessions wraps opener so that at most n of its sessions are open at
// once. Open blocks until a slot frees up or ctx ends; Close frees the slot.
func LimitSessions(opener Opener, n int) Opener {
	return &limitedOpener{opener: opener, slots: newSessionSlots(n)}
}

type limitedOpener struct {
	opener Opener
	slots  sessionSlots
}

func (o *limitedOpener) Open(ctx context.Context) (Session, error) {
	if err := o.slots.acquire(ctx); err != nil {
		return nil, err
	}
	session, err := o.opener.Open(ctx)
	if err != nil {
		o.slots.release()
		return nil, err
	}
	return &limitedSession{Session: session, release: sync.OnceFunc(o.slots.release)}, nil
}

type limitedSession struct {
	Session
	release func()
}

func (s *limitedSession) Close(ctx context.Context) error {
	defer s.release()
	return s.Session.Close(ctx)
}
