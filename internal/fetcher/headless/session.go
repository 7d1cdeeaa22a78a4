// Package headless implements the scraped-page source: it drives a browser
// session against a status page and reads the rendered DOM into a snapshot.
package headless

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Find when no element matches the selector.
var ErrNotFound = errors.New("element not found")

// Element is a handle to one node in the rendered page.
type Element interface {
	Text(ctx context.Context) (string, error)
	// Attribute reports the attribute value and whether it was present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	Find(ctx context.Context, selector string) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
}

// Session is one browser session. Implementations must tolerate Close being
// called after a failed operation.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Evaluate(ctx context.Context, script string, out any) error
	Find(ctx context.Context, selector string) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Close(ctx context.Context) error
}

// Opener creates fresh browser sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}
