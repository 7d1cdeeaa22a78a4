// Package aggregator runs one poll cycle across every configured source and
// collects a keyed set of outcomes. A failing source never affects the rest.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/statuswatch/internal/metrics"
	"github.com/JakeFAU/statuswatch/internal/status"
)

// Runner fetches one source to a final outcome, retries included.
type Runner interface {
	Do(ctx context.Context, src status.Source) status.Outcome
}

// IDGenerator produces cycle identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Result is the outcome of one poll cycle. Outcomes holds exactly one entry
// per configured source.
type Result struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   map[string]status.Outcome
	Succeeded  int
	Failed     int
}

// Outcome returns the outcome recorded for source.
func (r Result) Outcome(source string) (status.Outcome, bool) {
	o, ok := r.Outcomes[source]
	return o, ok
}

// Clone returns a copy whose map can be handed to another goroutine.
func (r Result) Clone() Result {
	r.Outcomes = maps.Clone(r.Outcomes)
	return r
}

// Aggregator polls a set of sources.
type Aggregator struct {
	mu      sync.RWMutex
	sources []status.Source

	runner Runner
	clock  status.Clock
	ids    IDGenerator
	limit  int
	logger *zap.Logger
	tp     trace.TracerProvider
}

const tracerName = "github.com/JakeFAU/statuswatch/internal/aggregator"

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithConcurrency bounds how many sources are fetched at once. 1 polls
// sources sequentially.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Aggregator) {
		a.tp = tp
	}
}

// New builds an Aggregator over sources.
func New(sources []status.Source, runner Runner, clock status.Clock, ids IDGenerator, opts ...Option) (*Aggregator, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	a := &Aggregator{
		runner: runner,
		clock:  clock,
		ids:    ids,
		limit:  4,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.SetSources(sources); err != nil {
		return nil, err
	}
	return a, nil
}

// SetSources replaces the source list. It takes effect on the next cycle.
func (a *Aggregator) SetSources(sources []status.Source) error {
	seen := make(map[string]struct{}, len(sources))
	for i, src := range sources {
		if src == nil {
			return fmt.Errorf("source %d is nil", i)
		}
		if _, dup := seen[src.Name()]; dup {
			return fmt.Errorf("duplicate source name %q", src.Name())
		}
		seen[src.Name()] = struct{}{}
	}
	a.mu.Lock()
	a.sources = append([]status.Source(nil), sources...)
	a.mu.Unlock()
	return nil
}

// Sources returns the configured sources.
func (a *Aggregator) Sources() []status.Source {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]status.Source(nil), a.sources...)
}

// PollAll fetches every source once and returns a fresh result. Each call is
// independent; no state is shared between cycles.
func (a *Aggregator) PollAll(ctx context.Context) Result {
	sources := a.Sources()
	started := a.clock.Now()
	cycleID, err := a.ids.NewID()
	if err != nil {
		a.logger.Warn("cycle id generation failed", zap.Error(err))
		cycleID = fmt.Sprintf("cycle-%d", started.UnixNano())
	}
	logger := a.logger.With(zap.String("cycle_id", cycleID))
	logger.Info("poll cycle started", zap.Int("sources", len(sources)))

	tracer := a.tracer()
	ctx, span := tracer.Start(ctx, "poll_cycle", trace.WithAttributes(
		attribute.String("cycle.id", cycleID),
		attribute.Int("cycle.sources", len(sources)),
	))
	defer span.End()

	slots := make([]status.Outcome, len(sources))
	var g errgroup.Group
	g.SetLimit(a.limit)
	for i, src := range sources {
		g.Go(func() error {
			slots[i] = a.fetchOne(ctx, tracer, src, logger)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{
		CycleID:   cycleID,
		StartedAt: started,
		Outcomes:  make(map[string]status.Outcome, len(sources)),
	}
	for i, src := range sources {
		result.Outcomes[src.Name()] = slots[i]
		if slots[i].OK() {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	result.FinishedAt = a.clock.Now()

	duration := result.FinishedAt.Sub(started)
	span.SetAttributes(
		attribute.Int("cycle.succeeded", result.Succeeded),
		attribute.Int("cycle.failed", result.Failed),
	)
	metrics.ObservePoll(result.Failed, duration)
	logger.Info("poll cycle finished",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", duration),
	)
	return result
}

// fetchOne isolates one source: panics become internal failures.
func (a *Aggregator) fetchOne(ctx context.Context, tracer trace.Tracer, src status.Source, logger *zap.Logger) (out status.Outcome) {
	name := src.Name()
	start := a.clock.Now()
	ctx, span := tracer.Start(ctx, "fetch_source", trace.WithAttributes(
		attribute.String("source.name", name),
		attribute.String("source.kind", string(src.Kind())),
	))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("source fetch panicked",
				zap.String("source", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			out = status.Failed(&status.FetchError{
				Kind:     status.KindInternal,
				Message:  fmt.Sprintf("panic: %v", r),
				Attempts: 1,
				At:       a.clock.Now(),
			})
		}
		a.record(name, out, a.clock.Now().Sub(start), logger)
		if fe := out.Err(); fe != nil {
			span.RecordError(fe)
			span.SetStatus(codes.Error, string(fe.Kind))
			span.SetAttributes(attribute.Int("fetch.attempts", fe.Attempts))
		}
		span.End()
	}()
	return a.runner.Do(ctx, src)
}

func (a *Aggregator) tracer() trace.Tracer {
	if a.tp != nil {
		return a.tp.Tracer(tracerName)
	}
	return otel.Tracer(tracerName)
}

func (a *Aggregator) record(name string, out status.Outcome, elapsed time.Duration, logger *zap.Logger) {
	if out.OK() {
		metrics.ObserveFetch(name, true, "", elapsed)
		logger.Debug("source fetched", zap.String("source", name), zap.Duration("elapsed", elapsed))
		return
	}
	fe := out.Err()
	metrics.ObserveFetch(name, false, string(fe.Kind), elapsed)
	logger.Error("source failed",
		zap.String("source", name),
		zap.String("kind", string(fe.Kind)),
		zap.Int("attempts", fe.Attempts),
		zap.Error(fe),
	)
}
