package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/statuswatch/internal/status"
)

// Selectors lists the CSS candidates tried at each extraction point. Lists
// are ordered and the first match wins.
type Selectors struct {
	Root        []string
	Overall     []string
	Services    []string
	ServiceName string
	Dashboard   string
	Day         string
}

// DefaultSelectors matches the Google AI Studio status page.
func DefaultSelectors() Selectors {
	return Selectors{
		Root: []string{
			"div.status-page-container",
			".status-page-container",
			"[class*='status-page']",
			"body > *",
		},
		Overall: []string{
			"div.status.status-large.operational span:not(.material-symbols-outlined)",
			"div.status.status-large span:not(.material-symbols-outlined)",
			".status-page-container .status span",
			"[class*='status'] span",
		},
		Services: []string{
			"div.dashboards-container",
			".dashboards-container",
			"[class*='dashboards']",
		},
		ServiceName: "div[data-testid='service-name']",
		Dashboard:   "ms-status-dashboard",
		Day:         "ms-status-dashboard-day .xap-inline-dialog.timeline-day",
	}
}

// Config describes one scraped status page and the timing of a scrape.
type Config struct {
	PageID            string
	PageName          string
	URL               string
	TimeZone          string
	Selectors         Selectors
	OperationalMarker string

	ReadyPolls    int
	ReadyInterval time.Duration
	SettleDelay   time.Duration
	Attempts      int
	AttemptDelay  time.Duration
	ContainerWait time.Duration
	CloseTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Selectors.ServiceName == "" && len(c.Selectors.Services) == 0 {
		c.Selectors = DefaultSelectors()
	}
	if c.OperationalMarker == "" {
		c.OperationalMarker = "operational"
	}
	if c.TimeZone == "" {
		c.TimeZone = "UTC"
	}
	if c.ReadyPolls <= 0 {
		c.ReadyPolls = 10
	}
	if c.ReadyInterval <= 0 {
		c.ReadyInterval = 500 * time.Millisecond
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.AttemptDelay < 0 {
		c.AttemptDelay = 0
	}
	if c.ContainerWait <= 0 {
		c.ContainerWait = 45 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 10 * time.Second
	}
	return c
}

// WaitFunc blocks for d or until ctx ends.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Scraper.
type Option func(*Scraper)

// WithWait replaces the delay function, mainly for tests.
func WithWait(wait WaitFunc) Option {
	return func(s *Scraper) {
		if wait != nil {
			s.wait = wait
		}
	}
}

// WithLogger sets the scraper logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scraper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Scraper implements status.Source by reading a rendered status page. Each
// Fetch opens its own session and closes it before returning.
type Scraper struct {
	name   string
	cfg    Config
	opener Opener
	clock  status.Clock
	wait   WaitFunc
	logger *zap.Logger
}

// NewScraper builds a Scraper for the named source.
func NewScraper(name string, cfg Config, opener Opener, clock status.Clock, opts ...Option) (*Scraper, error) {
	if name == "" {
		return nil, errors.New("source name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("source %q: page url is required", name)
	}
	if opener == nil {
		return nil, fmt.Errorf("source %q: browser opener is required", name)
	}
	if clock == nil {
		return nil, fmt.Errorf("source %q: clock is required", name)
	}
	cfg = cfg.withDefaults()
	if cfg.PageID == "" {
		cfg.PageID = name
	}
	if cfg.PageName == "" {
		cfg.PageName = name
	}
	s := &Scraper{
		name:   name,
		cfg:    cfg,
		opener: opener,
		clock:  clock,
		wait:   sleep,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("source", name))
	return s, nil
}

// Name returns the source name.
func (s *Scraper) Name() string {
	return s.name
}

// Kind reports the scrape strategy.
func (s *Scraper) Kind() status.SourceKind {
	return status.SourceScrape
}

// Fetch opens a session, scrapes the page with up to Attempts tries, and
// closes the session on every exit path, including panics.
func (s *Scraper) Fetch(ctx context.Context) (status.Snapshot, error) {
	session, err := s.opener.Open(ctx)
	if err != nil {
		return status.Snapshot{}, status.NewFetchError(status.KindSessionUnavailable, fmt.Errorf("open browser session: %w", err))
	}
	defer s.closeSession(ctx, session)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if attempt > 1 {
			if err := s.wait(ctx, s.cfg.AttemptDelay); err != nil {
				lastErr = err
				break
			}
			if err := session.Reload(ctx); err != nil {
				s.logger.Debug("reload before retry failed", zap.Error(err))
			}
		}

		snap, err := s.scrape(ctx, session)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("scrape recovered", zap.Int("attempt", attempt))
			}
			return snap, nil
		}
		lastErr = err
		s.logger.Warn("scrape attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.Attempts),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return status.Snapshot{}, status.NewFetchError(status.KindScrape, fmt.Errorf("scrape %s: %w", s.cfg.URL, lastErr))
}

func (s *Scraper) closeSession(ctx context.Context, session Session) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CloseTimeout)
	defer cancel()
	if err := session.Close(closeCtx); err != nil {
		s.logger.Warn("browser session close failed", zap.Error(err))
	}
}

func (s *Scraper) scrape(ctx context.Context, session Session) (status.Snapshot, error) {
	if err := session.Navigate(ctx, s.cfg.URL); err != nil {
		return status.Snapshot{}, err
	}
	if err := s.waitReady(ctx, session); err != nil {
		return status.Snapshot{}, err
	}
	s.locateContainer(ctx, session)

	overall := s.extractOverall(ctx, session)
	components, err := s.extractComponents(ctx, session)
	if err != nil {
		return status.Snapshot{}, err
	}

	now := s.clock.Now().UTC()
	for i := range components {
		components[i].CreatedAt = now
		components[i].UpdatedAt = now
	}
	snap := status.Snapshot{
		Page: status.PageInfo{
			ID:        s.cfg.PageID,
			Name:      s.cfg.PageName,
			URL:       s.cfg.URL,
			UpdatedAt: now,
			TimeZone:  s.cfg.TimeZone,
		},
		Components:   components,
		Incidents:    []status.Incident{},
		Maintenances: []status.Maintenance{},
		Overall:      overall,
	}
	return snap, nil
}

// waitReady polls document.readyState and then lets client-side rendering
// settle. A page that never reports complete is not an error.
func (s *Scraper) waitReady(ctx context.Context, session Session) error {
	ready := false
	for i := 0; i < s.cfg.ReadyPolls; i++ {
		var state string
		if err := session.Evaluate(ctx, "document.readyState", &state); err == nil && state == "complete" {
			ready = true
			break
		}
		if err := s.wait(ctx, s.cfg.ReadyInterval); err != nil {
			return err
		}
	}
	if !ready {
		s.logger.Warn("page never reported ready; continuing", zap.Int("polls", s.cfg.ReadyPolls))
	}
	return s.wait(ctx, s.cfg.SettleDelay)
}

// locateContainer looks for the page root. Candidates are checked without
// blocking first; if none is present yet the primary one gets ContainerWait
// to become visible. A miss only degrades the scrape.
func (s *Scraper) locateContainer(ctx context.Context, session Session) bool {
	root := s.cfg.Selectors.Root
	for _, sel := range root {
		if _, err := session.Find(ctx, sel); err == nil {
			s.logger.Debug("page container found", zap.String("selector", sel))
			return true
		}
	}
	if len(root) > 0 {
		err := session.WaitVisible(ctx, root[0], s.cfg.ContainerWait)
		if err == nil {
			s.logger.Debug("page container became visible", zap.String("selector", root[0]))
			return true
		}
		s.logger.Debug("page container wait failed", zap.String("selector", root[0]), zap.Error(err))
	}
	s.logger.Warn("page container not found; continuing without it")
	return false
}

func (s *Scraper) extractOverall(ctx context.Context, session Session) status.OverallStatus {
	for _, sel := range s.cfg.Selectors.Overall {
		el, err := session.Find(ctx, sel)
		if err != nil {
			s.logger.Debug("overall selector missed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		text, err := el.Text(ctx)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		return MapHeadline(text)
	}
	s.logger.Warn("overall status not found")
	return MapHeadline("")
}

func (s *Scraper) extractComponents(ctx context.Context, session Session) ([]status.ComponentStatus, error) {
	container, err := s.servicesContainer(ctx, session)
	if err != nil {
		return nil, err
	}
	names, err := container.FindAll(ctx, s.cfg.Selectors.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("find service names: %w", err)
	}
	dashboards, err := container.FindAll(ctx, s.cfg.Selectors.Dashboard)
	if err != nil {
		return nil, fmt.Errorf("find status dashboards: %w", err)
	}

	n := min(len(names), len(dashboards))
	if len(names) != len(dashboards) {
		s.logger.Warn("service and dashboard counts differ",
			zap.Int("services", len(names)),
			zap.Int("dashboards", len(dashboards)),
			zap.Int("using", n),
		)
	}

	components := make([]status.ComponentStatus, 0, n)
	for i := 0; i < n; i++ {
		name, err := names[i].Text(ctx)
		name = strings.TrimSpace(name)
		if err != nil || name == "" {
			s.logger.Warn("skipping unreadable service", zap.Int("index", i), zap.Error(err))
			continue
		}
		pos := len(components)
		components = append(components, status.ComponentStatus{
			ID:       fmt.Sprintf("%s-service-%d", s.name, pos),
			Name:     name,
			Status:   s.latestDayStatus(ctx, dashboards[i], name),
			Position: pos,
		})
	}
	return components, nil
}

func (s *Scraper) servicesContainer(ctx context.Context, session Session) (Element, error) {
	for _, sel := range s.cfg.Selectors.Services {
		el, err := session.Find(ctx, sel)
		if err == nil {
			return el, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("find services container: %w", err)
		}
	}
	return nil, errors.New("services container not found")
}

// latestDayStatus reads the most recent day indicator of one dashboard.
func (s *Scraper) latestDayStatus(ctx context.Context, dashboard Element, service string) status.StatusLevel {
	days, err := dashboard.FindAll(ctx, s.cfg.Selectors.Day)
	if err != nil || len(days) == 0 {
		s.logger.Debug("no day indicators", zap.String("service", service), zap.Error(err))
		return status.StatusUnknown
	}
	class, ok, err := days[len(days)-1].Attribute(ctx, "class")
	if err != nil || !ok {
		s.logger.Debug("day indicator has no class", zap.String("service", service), zap.Error(err))
		return status.StatusUnknown
	}
	return MapDayClass(class, s.cfg.OperationalMarker)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
