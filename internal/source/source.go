// Package source turns configured source entries into status.Source values.
package source

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/statuswatch/internal/config"
	"github.com/JakeFAU/statuswatch/internal/fetcher/api"
	"github.com/JakeFAU/statuswatch/internal/fetcher/headless"
	"github.com/JakeFAU/statuswatch/internal/status"
)

// Deps carries the shared collaborators sources need.
type Deps struct {
	Browser headless.Opener
	Clock   status.Clock
	Logger  *zap.Logger
}

// Build creates one source per configured entry, preserving order.
func Build(cfg config.Config, deps Deps) ([]status.Source, error) {
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sources := make([]status.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		kind, err := status.ParseSourceKind(sc.Kind)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}
		var src status.Source
		switch kind {
		case status.SourceAPI:
			src, err = api.New(sc.Name, sc.URL, api.Config{
				UserAgent:      cfg.HTTP.UserAgent,
				ConnectTimeout: cfg.HTTP.ConnectTimeout,
				Timeout:        cfg.HTTP.Timeout,
				RequireHTTPS:   cfg.HTTP.RequireHTTPS,
			}, logger.Named("api"))
		case status.SourceScrape:
			src, err = newScraper(cfg, sc, deps, logger)
		}
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func newScraper(cfg config.Config, sc config.SourceConfig, deps Deps, logger *zap.Logger) (*headless.Scraper, error) {
	if deps.Browser == nil {
		return nil, fmt.Errorf("source %q: scrape sources need a browser", sc.Name)
	}
	b := cfg.Browser
	return headless.NewScraper(sc.Name, headless.Config{
		PageID:        sc.PageID,
		PageName:      sc.DisplayName,
		URL:           sc.URL,
		Selectors:     headless.DefaultSelectors(),
		ReadyPolls:    b.ReadyPolls,
		ReadyInterval: b.ReadyInterval,
		SettleDelay:   b.SettleDelay,
		Attempts:      b.Attempts,
		AttemptDelay:  b.AttemptDelay,
		ContainerWait: b.ContainerWait,
	}, deps.Browser, deps.Clock, headless.WithLogger(logger.Named("scrape")))
}

// HasScrape reports whether any configured source needs a browser.
func HasScrape(cfg config.Config) bool {
	for _, sc := range cfg.Sources {
		if kind, err := status.ParseSourceKind(sc.Kind); err == nil && kind == status.SourceScrape {
			return true
		}
	}
	return false
}
