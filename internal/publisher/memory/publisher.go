// Package memory keeps the latest published report in process for the HTTP
// surface to serve.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/statuswatch/internal/publisher"
)

// Store holds the most recent report and its encoded body.
type Store struct {
	mu        sync.RWMutex
	report    publisher.Report
	body      []byte
	updatedAt time.Time
	publishes int
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Name identifies the sink.
func (s *Store) Name() string {
	return "memory"
}

// Publish replaces the stored report.
func (s *Store) Publish(_ context.Context, report publisher.Report, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = report
	s.body = append([]byte(nil), body...)
	s.updatedAt = report.Timestamp
	s.publishes++
	return nil
}

// Latest returns a copy of the latest encoded report.
func (s *Store) Latest() ([]byte, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.body == nil {
		return nil, time.Time{}, publisher.ErrNoReport
	}
	out := make([]byte, len(s.body))
	copy(out, s.body)
	return out, s.updatedAt, nil
}

// Report returns the latest report value.
func (s *Store) Report() (publisher.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report, s.body != nil
}

// Publishes returns how many reports have been stored.
func (s *Store) Publishes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishes
}
