package headless

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeElement is an in-memory DOM node.
type fakeElement struct {
	text     string
	textErr  error
	attrs    map[string]string
	children map[string][]*fakeElement
	panicOn  string
}

func (e *fakeElement) Text(context.Context) (string, error) {
	return e.text, e.textErr
}

func (e *fakeElement) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *fakeElement) Find(ctx context.Context, selector string) (Element, error) {
	return first(e.FindAll(ctx, selector))
}

func (e *fakeElement) FindAll(_ context.Context, selector string) ([]Element, error) {
	if e.panicOn == selector {
		panic("dom exploded")
	}
	return toElements(e.children[selector]), nil
}

func toElements(nodes []*fakeElement) []Element {
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	return out
}

// fakeSession serves a fixed page and records lifecycle calls.
type fakeSession struct {
	mu         sync.Mutex
	page       map[string][]*fakeElement
	readyState string
	navErr     error
	waitErr    error
	waited     []string
	waitedFor  time.Duration
	navigates  int
	reloads    int
	closes     int
}

func (s *fakeSession) Navigate(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigates++
	return s.navErr
}

func (s *fakeSession) Reload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	return nil
}

func (s *fakeSession) Evaluate(_ context.Context, script string, out any) error {
	if script != "document.readyState" {
		return errors.New("unexpected script")
	}
	if p, ok := out.(*string); ok {
		*p = s.readyState
	}
	return nil
}

func (s *fakeSession) Find(ctx context.Context, selector string) (Element, error) {
	return first(s.FindAll(ctx, selector))
}

func (s *fakeSession) FindAll(_ context.Context, selector string) ([]Element, error) {
	return toElements(s.page[selector]), nil
}

func (s *fakeSession) WaitVisible(_ context.Context, selector string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waited = append(s.waited, selector)
	s.waitedFor = timeout
	return s.waitErr
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeOpener struct {
	session *fakeSession
	err     error
	opens   int
}

func (o *fakeOpener) Open(context.Context) (Session, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type recordedWaits struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordedWaits) wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedWaits) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.waits {
		if w == d {
			n++
		}
	}
	return n
}
