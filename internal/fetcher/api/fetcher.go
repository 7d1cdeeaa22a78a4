// Package api implements the structured-API source: one JSON GET against a
// statuspage-style summary endpoint, decoded into the canonical snapshot.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/JakeFAU/statuswatch/internal/status"
)

// Config controls the HTTP behavior of a Fetcher.
type Config struct {
	UserAgent      string
	ConnectTimeout time.Duration
	Timeout        time.Duration
	RequireHTTPS   bool
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultTimeout        = 30 * time.Second
	defaultUserAgent      = "statuswatch/1.0"
)

// Fetcher implements status.Source over a JSON summary endpoint. It performs
// exactly one request per Fetch; retrying is the caller's concern.
type Fetcher struct {
	name      string
	endpoint  string
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

// New builds a Fetcher for the named source.
func New(name, endpoint string, cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if name == "" {
		return nil, errors.New("source name is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("source %q: invalid endpoint %q", name, endpoint)
	}
	if cfg.RequireHTTPS && parsed.Scheme != "https" {
		return nil, fmt.Errorf("source %q: endpoint must use https", name)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport, err := newHTTPTransport(cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", name, err)
	}
	return &Fetcher{
		name:      name,
		endpoint:  endpoint,
		cfg:       cfg,
		transport: transport,
		logger:    logger,
	}, nil
}

// Name returns the source name.
func (f *Fetcher) Name() string {
	return f.name
}

// Kind reports the structured-API strategy.
func (f *Fetcher) Kind() status.SourceKind {
	return status.SourceAPI
}

// Fetch performs one GET and decodes the body.
func (f *Fetcher) Fetch(ctx context.Context) (status.Snapshot, error) {
	var (
		code     int
		body     []byte
		fetchErr error
	)
	collector := f.newCollector()
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		code = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			code = r.StatusCode
		}
		fetchErr = err
	})

	if err := runCollector(ctx, collector, f.endpoint); err != nil {
		return status.Snapshot{}, status.NewFetchError(status.KindNetwork, err)
	}
	if fetchErr != nil {
		return status.Snapshot{}, status.NewFetchError(status.KindNetwork, fetchErr)
	}
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		return status.Snapshot{}, status.HTTPStatusError(code)
	}

	snap, err := status.DecodeSnapshot(body)
	if err != nil {
		f.logger.Debug("summary decode failed", zap.String("source", f.name), zap.Int("bytes", len(body)), zap.Error(err))
		return status.Snapshot{}, status.NewFetchError(status.KindDecode, err)
	}
	return snap, nil
}

// newCollector builds a fresh collector per fetch so no visit history leaks
// across cycles; only the connection pool is shared.
func (f *Fetcher) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(f.cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	return c
}

func runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("summary fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("summary visit failed: %w", err)
		}
		return nil
	}
}

// newHTTPTransport pools connections per fetcher. HTTP/2 connections are
// health-checked with pings.
func newHTTPTransport(connectTimeout time.Duration) (*http.Transport, error) {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	h2, err := http2.ConfigureTransports(t)
	if err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	h2.ReadIdleTimeout = 30 * time.Second
	h2.PingTimeout = 15 * time.Second
	return t, nil
}
