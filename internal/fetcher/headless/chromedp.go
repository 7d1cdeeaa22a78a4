package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserConfig controls how sessions are launched.
type BrowserConfig struct {
	// RemoteURL points at a running DevTools endpoint. When empty a local
	// headless Chrome is started per session.
	RemoteURL        string
	UserAgent        string
	WindowWidth      int
	WindowHeight     int
	OperationTimeout time.Duration
	// MaxSessions caps concurrently open sessions. Defaults to 1.
	MaxSessions int
}

const (
	defaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultWindowWidth      = 1920
	defaultWindowHeight     = 1080
	defaultOperationTimeout = 60 * time.Second
	defaultMaxSessions      = 1
)

// Browser opens chromedp-backed sessions. Every Open starts an isolated
// browser so no cookies or history carry over between cycles.
type Browser struct {
	cfg    BrowserConfig
	slots  sessionSlots
	logger *zap.Logger
}

// NewBrowser builds a Browser, filling unset fields with defaults.
func NewBrowser(cfg BrowserConfig, logger *zap.Logger) (*Browser, error) {
	if cfg.WindowWidth < 0 || cfg.WindowHeight < 0 {
		return nil, fmt.Errorf("window size must be >= 0")
	}
	if cfg.MaxSessions < 0 {
		return nil, fmt.Errorf("max sessions must be >= 0")
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.WindowWidth == 0 {
		cfg.WindowWidth = defaultWindowWidth
	}
	if cfg.WindowHeight == 0 {
		cfg.WindowHeight = defaultWindowHeight
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg, slots: newSessionSlots(cfg.MaxSessions), logger: logger}, nil
}

// Open starts a browser, applies the viewport and user agent, and returns
// the session. It blocks while MaxSessions sessions are already open. The
// caller owns the session and must Close it.
func (b *Browser) Open(ctx context.Context) (Session, error) {
	if err := b.slots.acquire(ctx); err != nil {
		return nil, err
	}
	allocCtx, allocCancel := b.allocator()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser and binds its lifetime to
	// browserCtx, so it must not run under a shorter-lived context.
	stopForward := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopForward()
	if err != nil {
		browserCancel()
		allocCancel()
		b.slots.release()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	s := &chromeSession{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		release:       b.slots.release,
		timeout:       b.cfg.OperationTimeout,
		logger:        b.logger,
	}
	setup := chromedp.Tasks{
		emulation.SetUserAgentOverride(b.cfg.UserAgent),
		emulation.SetDeviceMetricsOverride(int64(b.cfg.WindowWidth), int64(b.cfg.WindowHeight), 1, false),
	}
	if err := s.run(ctx, setup); err != nil {
		_ = s.Close(context.Background())
		return nil, fmt.Errorf("configure browser: %w", err)
	}
	return s, nil
}

func (b *Browser) allocator() (context.Context, context.CancelFunc) {
	if b.cfg.RemoteURL != "" {
		return chromedp.NewRemoteAllocator(context.Background(), b.cfg.RemoteURL)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(b.cfg.WindowWidth, b.cfg.WindowHeight),
		chromedp.UserAgent(b.cfg.UserAgent),
	)
	return chromedp.NewExecAllocator(context.Background(), opts...)
}

type chromeSession struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	release       func()
	timeout       time.Duration
	logger        *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// run executes actions with a per-operation deadline that also follows the
// caller's cancellation.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	return s.runWithin(ctx, s.timeout, actions...)
}

func (s *chromeSession) runWithin(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) Reload(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (s *chromeSession) Evaluate(ctx context.Context, script string, out any) error {
	if err := s.run(ctx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (s *chromeSession) Find(ctx context.Context, selector string) (Element, error) {
	return first(s.FindAll(ctx, selector))
}

func (s *chromeSession) FindAll(ctx context.Context, selector string) ([]Element, error) {
	return s.query(ctx, selector)
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := s.runWithin(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

// Close shuts the browser down. Only the first call has an effect.
func (s *chromeSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			done <- chromedp.Cancel(s.browserCtx)
		}()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("close browser: %w", err)
			}
		case <-ctx.Done():
			s.browserCancel()
			s.closeErr = fmt.Errorf("close browser: %w", ctx.Err())
		}
		s.allocCancel()
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}

// query runs a non-blocking selector lookup, optionally scoped to a node.
func (s *chromeSession) query(ctx context.Context, selector string, scope ...*cdp.Node) ([]Element, error) {
	var nodes []*cdp.Node
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if len(scope) > 0 && scope[0] != nil {
		opts = append(opts, chromedp.FromNode(scope[0]))
	}
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	elems := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elems = append(elems, &chromeElement{session: s, node: n})
	}
	return elems, nil
}

type chromeElement struct {
	session *chromeSession
	node    *cdp.Node
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	ids := []cdp.NodeID{e.node.NodeID}
	if err := e.session.run(ctx, chromedp.Text(ids, &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return text, nil
}

func (e *chromeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	ids := []cdp.NodeID{e.node.NodeID}
	if err := e.session.run(ctx, chromedp.AttributeValue(ids, name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", false, fmt.Errorf("read attribute %q: %w", name, err)
	}
	return value, ok, nil
}

func (e *chromeElement) Find(ctx context.Context, selector string) (Element, error) {
	return first(e.FindAll(ctx, selector))
}

func (e *chromeElement) FindAll(ctx context.Context, selector string) ([]Element, error) {
	return e.session.query(ctx, selector, e.node)
}

func first(elems []Element, err error) (Element, error) {
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, ErrNotFound
	}
	return elems[0], nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
