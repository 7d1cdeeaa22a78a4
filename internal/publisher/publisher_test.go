package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/JakeFAU/statuswatch/internal/aggregator"
	"github.com/JakeFAU/statuswatch/internal/status"
)

type recordingSink struct {
	name   string
	err    error
	bodies [][]byte
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, _ Report, body []byte) error {
	s.bodies = append(s.bodies, body)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func sampleResult() aggregator.Result {
	fe := status.HTTPStatusError(500)
	fe.Attempts = 3
	fe.At = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return aggregator.Result{
		CycleID:    "0192f0c4-1111-7000-8000-000000000001",
		StartedAt:  time.Date(2026, 10, 19, 8, 59, 50, 0, time.UTC),
		FinishedAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		Outcomes: map[string]status.Outcome{
			"openai": status.Succeeded(status.Snapshot{
				Page:       status.PageInfo{ID: "openai", Name: "OpenAI"},
				Components: []status.ComponentStatus{{ID: "c1", Name: "API", Status: status.StatusOperational}},
				Overall:    status.OverallStatus{Indicator: status.SeverityNone, Description: "All Systems Operational"},
			}),
			"anthropic": status.Failed(fe),
		},
		Succeeded: 1,
		Failed:    1,
	}
}

func TestReportEncodesSuccessAndFailureEntries(t *testing.T) {
	t.Parallel()

	body, err := NewReport(sampleResult()).Encode()
	require.NoError(t, err)

	var doc struct {
		CycleID string                     `json:"cycle_id"`
		Summary Summary                    `json:"summary"`
		Data    map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	require.Equal(t, Summary{Succeeded: 1, Failed: 1}, doc.Summary)
	require.NotEmpty(t, doc.CycleID)

	var ok map[string]any
	require.NoError(t, json.Unmarshal(doc.Data["openai"], &ok))
	require.Contains(t, ok, "page")
	require.Contains(t, ok, "components")
	require.Equal(t, []any{}, ok["incidents"])
	require.Equal(t, []any{}, ok["scheduled_maintenances"])

	var failed map[string]any
	require.NoError(t, json.Unmarshal(doc.Data["anthropic"], &failed))
	require.Equal(t, "failed", failed["status"])
	require.Equal(t, "http_status", failed["kind"])
	require.EqualValues(t, 500, failed["http_status"])
	require.EqualValues(t, 3, failed["attempts"])
	require.NotEmpty(t, failed["error"])
}

func TestReportDoesNotAliasResult(t *testing.T) {
	t.Parallel()

	res := sampleResult()
	report := NewReport(res)
	report.Data["extra"] = status.Failed(nil)
	require.Len(t, res.Outcomes, 2)
	require.Equal(t, []string{"anthropic"}, NewReport(res).FailedSources())
}

func TestPublishFansOutAndCombinesErrors(t *testing.T) {
	t.Parallel()

	good := &recordingSink{name: "file"}
	bad := &recordingSink{name: "redis", err: errors.New("connection refused")}
	worse := &recordingSink{name: "gcs", err: errors.New("403")}
	p := New(nil, good, bad, worse)
	require.Equal(t, []string{"file", "redis", "gcs"}, p.Sinks())

	report, err := p.Publish(context.Background(), sampleResult())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorContains(t, err, "redis")
	require.Equal(t, 1, report.Summary.Failed)
	require.Len(t, good.bodies, 1)
	require.Len(t, bad.bodies, 1)
	require.Equal(t, good.bodies[0], worse.bodies[0])

	require.NoError(t, p.Close())
	require.True(t, good.closed)
}

func TestPublishNamesEverySource(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{name: "memory"}
	p := New(nil, sink)
	p.SetDisplayNames(map[string]string{"openai": "OpenAI", "mistral": "Mistral"})

	report, err := p.Publish(context.Background(), sampleResult())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"openai": "OpenAI", "anthropic": "anthropic"}, report.DisplayNames)
	require.Equal(t, "OpenAI", report.DisplayName("openai"))
	require.Equal(t, "unknown", report.DisplayName("unknown"))

	var doc struct {
		DisplayNames map[string]string `json:"display_names"`
	}
	require.NoError(t, json.Unmarshal(sink.bodies[0], &doc))
	require.Equal(t, "OpenAI", doc.DisplayNames["openai"])
}

func TestPublishWithEmptyResult(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{name: "memory"}
	report, err := New(nil, sink).Publish(context.Background(), aggregator.Result{CycleID: "c"})
	require.NoError(t, err)
	require.NotNil(t, report.Data)
	require.JSONEq(t, `{"cycle_id":"c","timestamp":"0001-01-01T00:00:00Z","summary":{"succeeded":0,"failed":0},"data":{}}`, string(sink.bodies[0]))
}
