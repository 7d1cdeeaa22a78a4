package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/statuswatch/internal/aggregator"
	"github.com/JakeFAU/statuswatch/internal/publisher"
	"github.com/JakeFAU/statuswatch/internal/publisher/memory"
	"github.com/JakeFAU/statuswatch/internal/status"
)

func TestStatusJSONNotFoundBeforeFirstReport(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, "")
	rec := serve(srv, http.MethodGet, "/status.json")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusJSONServesLatestReportUncached(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, nil, "")
	body := publishSample(t, store)

	rec := serve(srv, http.MethodGet, "/status.json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	require.NotEmpty(t, rec.Header().Get("Last-Modified"))
	require.JSONEq(t, string(body), rec.Body.String())
}

func TestReadyzWaitsForFirstReport(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, nil, "")
	require.Equal(t, http.StatusServiceUnavailable, serve(srv, http.MethodGet, "/readyz").Code)
	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/healthz").Code)

	publishSample(t, store)
	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/readyz").Code)
}

func TestListSourcesSummarizesOutcomes(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, nil, "")
	require.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/api/sources").Code)
	publishSample(t, store)

	rec := serve(srv, http.MethodGet, "/api/sources")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		CycleID string      `json:"cycle_id"`
		Sources []sourceDTO `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "cycle-7", payload.CycleID)
	require.Len(t, payload.Sources, 2)

	failed, ok := payload.Sources[0], payload.Sources[1]
	require.Equal(t, "anthropic", failed.Name)
	require.Equal(t, "Anthropic", failed.DisplayName)
	require.False(t, failed.OK)
	require.Equal(t, status.KindHTTPStatus, failed.Kind)
	require.Equal(t, 3, failed.Attempts)

	require.Equal(t, "openai", ok.Name)
	require.Equal(t, "OpenAI", ok.DisplayName)
	require.True(t, ok.OK)
	require.Equal(t, status.SeverityMinor, ok.Indicator)
	require.Equal(t, 1, ok.Components)
	require.Equal(t, 1, ok.Incidents)
}

func TestGetSource(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, nil, "")
	publishSample(t, store)

	rec := serve(srv, http.MethodGet, "/api/sources/anthropic")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Source      string          `json:"source"`
		DisplayName string          `json:"display_name"`
		Entry       json.RawMessage `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "anthropic", payload.Source)
	require.Equal(t, "Anthropic", payload.DisplayName)
	require.Contains(t, string(payload.Entry), `"status":"failed"`)

	require.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/api/sources/mistral").Code)
}

func TestTriggerPoll(t *testing.T) {
	t.Parallel()

	trig := &fakeTrigger{}
	srv, _ := newTestServer(t, trig, "")

	require.Equal(t, http.StatusAccepted, serve(srv, http.MethodPost, "/api/poll").Code)
	require.Equal(t, http.StatusConflict, serve(srv, http.MethodPost, "/api/poll").Code)
	require.Equal(t, int32(2), trig.calls.Load())

	noTrigger, _ := newTestServer(t, nil, "")
	require.Equal(t, http.StatusNotFound, serve(noTrigger, http.MethodPost, "/api/poll").Code)
}

func TestTriggerPollIsThrottledPerClient(t *testing.T) {
	t.Parallel()

	trig := &countingTrigger{}
	srv := NewServer(memory.New(), trig, Config{TriggerRPS: 0.001, TriggerBurst: 2}, zap.NewNop())

	post := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/poll", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusAccepted, post("198.51.100.7:4000").Code)
	require.Equal(t, http.StatusAccepted, post("198.51.100.7:4001").Code)
	rec := post("198.51.100.7:4002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.Equal(t, http.StatusAccepted, post("203.0.113.9:4000").Code)
	require.Equal(t, int32(3), trig.calls.Load())
}

func TestStatusJSONConditionalGet(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, nil, "")
	publishSample(t, store)

	first := serve(srv, http.MethodGet, "/status.json")
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	for _, header := range []string{etag, "W/" + etag, `"other", ` + etag, "*"} {
		req := httptest.NewRequest(http.MethodGet, "/status.json", nil)
		req.Header.Set("If-None-Match", header)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusNotModified, rec.Code, header)
		require.Empty(t, rec.Body.Bytes())
	}

	req := httptest.NewRequest(http.MethodGet, "/status.json", nil)
	req.Header.Set("If-None-Match", `"stale"`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, etag, rec.Header().Get("ETag"))
}

func TestServesFrontendDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>status</h1>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status.json"), []byte(`{"stale":true}`), 0o600))
	srv, store := newTestServer(t, nil, dir)

	rec := serve(srv, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<h1>status</h1>")

	// The in-memory report wins over a file of the same name.
	publishSample(t, store)
	rec = serve(srv, http.MethodGet, "/status.json")
	require.NotContains(t, rec.Body.String(), "stale")
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpointExposesHTTPCounters(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, "")
	serve(srv, http.MethodGet, "/healthz")

	rec := serve(srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	dec := expfmt.NewDecoder(rec.Body, expfmt.ResponseFormat(rec.Header()))
	families := map[string]*dto.MetricFamily{}
	for {
		mf := &dto.MetricFamily{}
		if err := dec.Decode(mf); err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		families[mf.GetName()] = mf
	}
	mf, ok := families["http_requests_total"]
	require.True(t, ok, "http_requests_total missing")
	require.Equal(t, dto.MetricType_COUNTER, mf.GetType())
	require.NotEmpty(t, mf.GetMetric())
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, "")
	rec := serve(srv, http.MethodGet, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusJSONStoreError(t *testing.T) {
	t.Parallel()

	srv := NewServer(brokenReports{}, nil, Config{}, zap.NewNop())
	rec := serve(srv, http.MethodGet, "/status.json")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func newTestServer(t *testing.T, trigger Trigger, frontendDir string) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	return NewServer(store, trigger, Config{FrontendDir: frontendDir}, zap.NewNop()), store
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func publishSample(t *testing.T, store *memory.Store) []byte {
	t.Helper()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	fe := status.HTTPStatusError(502)
	fe.Attempts = 3
	fe.At = now

	res := aggregator.Result{
		CycleID:    "cycle-7",
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
		Succeeded:  1,
		Failed:     1,
		Outcomes: map[string]status.Outcome{
			"openai": status.Succeeded(status.Snapshot{
				Page:       status.PageInfo{ID: "p", Name: "OpenAI"},
				Components: []status.ComponentStatus{{ID: "c1", Name: "API", Status: status.StatusDegradedPerformance}},
				Incidents: []status.Incident{
					{ID: "i1", Status: status.IncidentInvestigating},
					{ID: "i0", Status: status.IncidentResolved},
				},
				Overall: status.OverallStatus{Indicator: status.SeverityMinor, Description: "Minor Service Outage"},
			}),
			"anthropic": status.Failed(fe),
		},
	}
	report := publisher.NewReport(res).WithDisplayNames(map[string]string{"openai": "OpenAI", "anthropic": "Anthropic"})
	body, err := report.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Publish(context.Background(), report, body))
	return body
}

type fakeTrigger struct {
	calls atomic.Int32
}

func (f *fakeTrigger) Trigger() bool {
	return f.calls.Add(1) == 1
}

type countingTrigger struct {
	calls atomic.Int32
}

func (c *countingTrigger) Trigger() bool {
	c.calls.Add(1)
	return true
}

type brokenReports struct{}

func (brokenReports) Latest() ([]byte, time.Time, error) {
	return nil, time.Time{}, errors.New("disk on fire")
}

func (brokenReports) Report() (publisher.Report, bool) {
	return publisher.Report{}, false
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacked client: %w", err)
		}
	}
	return nil
}
