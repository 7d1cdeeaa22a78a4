package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FailureKind classifies why a source fetch failed.
type FailureKind string

// Failure kinds.
const (
	KindNetwork            FailureKind = "network"
	KindHTTPStatus         FailureKind = "http_status"
	KindDecode             FailureKind = "decode"
	KindScrape             FailureKind = "scrape"
	KindSessionUnavailable FailureKind = "session_unavailable"
	KindInternal           FailureKind = "internal"
)

// FetchError is the typed failure every source returns.
type FetchError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Attempts   int
	At         time.Time
	Err        error
}

// NewFetchError builds a FetchError of the given kind wrapping err.
func NewFetchError(kind FailureKind, err error) *FetchError {
	fe := &FetchError{Kind: kind, Err: err}
	if err != nil {
		fe.Message = err.Error()
	}
	return fe
}

// HTTPStatusError builds a KindHTTPStatus failure for a non-2xx response.
func HTTPStatusError(code int) *FetchError {
	return &FetchError{
		Kind:       KindHTTPStatus,
		StatusCode: code,
		Message:    fmt.Sprintf("unexpected http status %d", code),
	}
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus && e.StatusCode != 0 {
		return fmt.Sprintf("%s(%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could plausibly succeed.
// A browser session that cannot be opened is not retried within a cycle.
func (e *FetchError) Retryable() bool {
	if e.Kind == KindSessionUnavailable {
		return false
	}
	return !errors.Is(e.Err, context.Canceled)
}

// AsFetchError converts any error into a FetchError, classifying unknown
// errors under fallback.
func AsFetchError(err error, fallback FailureKind) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return NewFetchError(fallback, err)
}

// Outcome is the result of fetching one source in one poll cycle: either a
// complete snapshot or a failure, never both.
type Outcome struct {
	snapshot Snapshot
	err      *FetchError
}

// Succeeded wraps a snapshot as a successful outcome.
func Succeeded(snap Snapshot) Outcome {
	return Outcome{snapshot: snap.Normalize()}
}

// Failed wraps a fetch error as a failed outcome.
func Failed(err *FetchError) Outcome {
	if err == nil {
		err = &FetchError{Kind: KindInternal, Message: "unspecified failure"}
	}
	return Outcome{err: err}
}

// OK reports whether the outcome carries a snapshot.
func (o Outcome) OK() bool {
	return o.err == nil
}

// Snapshot returns the snapshot of a successful outcome.
func (o Outcome) Snapshot() (Snapshot, bool) {
	return o.snapshot, o.err == nil
}

// Err returns the failure of a failed outcome, or nil.
func (o Outcome) Err() *FetchError {
	return o.err
}

type failedEntry struct {
	Status     string      `json:"status"`
	Error      string      `json:"error"`
	Kind       FailureKind `json:"kind"`
	HTTPStatus int         `json:"http_status,omitempty"`
	Attempts   int         `json:"attempts"`
	Timestamp  time.Time   `json:"timestamp"`
}

// MarshalJSON renders a success as the snapshot itself and a failure as a
// "failed" entry carrying the error description.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.err == nil {
		return json.Marshal(o.snapshot)
	}
	return json.Marshal(failedEntry{
		Status:     "failed",
		Error:      o.err.Error(),
		Kind:       o.err.Kind,
		HTTPStatus: o.err.StatusCode,
		Attempts:   o.err.Attempts,
		Timestamp:  o.err.At,
	})
}

// SourceKind tags the acquisition strategy of a source.
type SourceKind string

// Source kinds.
const (
	SourceAPI    SourceKind = "api"
	SourceScrape SourceKind = "scrape"
)

// ParseSourceKind accepts a case-insensitive kind tag.
func ParseSourceKind(raw string) (SourceKind, error) {
	switch SourceKind(strings.ToLower(strings.TrimSpace(raw))) {
	case SourceAPI:
		return SourceAPI, nil
	case SourceScrape:
		return SourceScrape, nil
	default:
		return "", fmt.Errorf("unsupported source kind %q", raw)
	}
}

// Source is one upstream status origin with a fixed fetch strategy.
type Source interface {
	Name() string
	Kind() SourceKind
	Fetch(ctx context.Context) (Snapshot, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
