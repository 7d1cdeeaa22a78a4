// Package publisher turns a poll result into the published report and fans
// it out to every configured sink.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/statuswatch/internal/aggregator"
	"github.com/JakeFAU/statuswatch/internal/metrics"
	"github.com/JakeFAU/statuswatch/internal/status"
)

// Report is the document consumers read. Data holds one entry per source:
// the snapshot on success, a "failed" entry otherwise. DisplayNames maps each
// Data key to the provider name shown to people.
type Report struct {
	CycleID      string                    `json:"cycle_id"`
	Timestamp    time.Time                 `json:"timestamp"`
	Summary      Summary                   `json:"summary"`
	DisplayNames map[string]string         `json:"display_names,omitempty"`
	Data         map[string]status.Outcome `json:"data"`
}

// Summary counts outcomes in one cycle.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// NewReport builds a report from a poll result. The report owns its own map.
func NewReport(res aggregator.Result) Report {
	res = res.Clone()
	if res.Outcomes == nil {
		res.Outcomes = map[string]status.Outcome{}
	}
	return Report{
		CycleID:   res.CycleID,
		Timestamp: res.FinishedAt.UTC(),
		Summary:   Summary{Succeeded: res.Succeeded, Failed: res.Failed},
		Data:      res.Outcomes,
	}
}

// WithDisplayNames returns a copy of r naming every source in Data. Sources
// missing from names are shown under their key.
func (r Report) WithDisplayNames(names map[string]string) Report {
	out := make(map[string]string, len(r.Data))
	for source := range r.Data {
		if name := names[source]; name != "" {
			out[source] = name
		} else {
			out[source] = source
		}
	}
	r.DisplayNames = out
	return r
}

// DisplayName returns the display name of source, or source itself.
func (r Report) DisplayName(source string) string {
	if name := r.DisplayNames[source]; name != "" {
		return name
	}
	return source
}

// FailedSources lists sources whose outcome failed.
func (r Report) FailedSources() []string {
	var out []string
	for name, o := range r.Data {
		if !o.OK() {
			out = append(out, name)
		}
	}
	return out
}

// Encode renders the report as indented JSON.
func (r Report) Encode() ([]byte, error) {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return body, nil
}

// Sink receives every published report with its encoded form.
type Sink interface {
	Name() string
	Publish(ctx context.Context, report Report, body []byte) error
}

// Publisher fans reports out to sinks. Sink failures are logged and combined
// but never stop the other sinks.
type Publisher struct {
	sinks  []Sink
	logger *zap.Logger

	mu    sync.RWMutex
	names map[string]string
}

// New creates a Publisher over sinks.
func New(logger *zap.Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{sinks: sinks, logger: logger}
}

// SetDisplayNames replaces the source display names used by later reports.
func (p *Publisher) SetDisplayNames(names map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = maps.Clone(names)
}

// Sinks returns the configured sink names.
func (p *Publisher) Sinks() []string {
	names := make([]string, 0, len(p.sinks))
	for _, s := range p.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Publish builds the report for res and hands it to each sink.
func (p *Publisher) Publish(ctx context.Context, res aggregator.Result) (Report, error) {
	p.mu.RLock()
	report := NewReport(res).WithDisplayNames(p.names)
	p.mu.RUnlock()
	body, err := report.Encode()
	if err != nil {
		return report, err
	}

	var errs error
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, report, body); err != nil {
			metrics.ObserveSinkError(sink.Name())
			p.logger.Error("publish to sink failed",
				zap.String("sink", sink.Name()),
				zap.String("cycle_id", report.CycleID),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	if errs != nil {
		return report, errs
	}
	p.logger.Debug("report published",
		zap.String("cycle_id", report.CycleID),
		zap.Int("sinks", len(p.sinks)),
		zap.Int("bytes", len(body)),
	)
	return report, nil
}

// Close closes sinks that hold resources.
func (p *Publisher) Close() error {
	var errs error
	for _, sink := range p.sinks {
		if c, ok := sink.(interface{ Close() error }); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}

// ErrNoReport is returned by readers before the first cycle completes.
var ErrNoReport = errors.New("no report published yet")
