// Package browser runs a single persistent Chrome tab via chromedp and
// exposes it through the crawl.Driver interface. One session serves one
// crawl run: handlers issue commands sequentially against the same tab so
// page state carries across FSM transitions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ingesil/gazette-crawler/internal/policy/ratelimit"
)

// ErrWaitTimeout indicates a wait condition did not hold within the
// configured operation timeout.
var ErrWaitTimeout = errors.New("browser: wait timed out")

// Config controls the Chrome process and per-operation behavior.
type Config struct {
	Headless  bool
	UserAgent string
	// Timeout bounds every individual driver operation.
	Timeout time.Duration
	// DomainQPS throttles navigations per host. Zero disables throttling.
	DomainQPS float64
	// WindowWidth and WindowHeight size the browser window.
	WindowWidth  int
	WindowHeight int
}

// Session is a live browser tab implementing crawl.Driver.
type Session struct {
	cfg         Config
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
}

// NewSession launches Chrome and opens the tab used for the whole run.
func NewSession(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = 1600
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = 1200
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         cfg,
		allocCancel: allocCancel,
		tab:         tabCtx,
		tabCancel:   tabCancel,
		limiter:     ratelimit.New(ratelimit.Config{DefaultQPS: cfg.DomainQPS}),
		logger:      logger,
	}

	// Warm up: starting the browser here surfaces launch failures before
	// the first state handler runs.
	warm := chromedp.Tasks{network.Enable()}
	if cfg.UserAgent != "" {
		warm = append(warm, emulation.SetUserAgentOverride(cfg.UserAgent))
	}
	if err := s.run(ctx, warm); err != nil {
		s.Close()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	logger.Info("browser session started",
		zap.Bool("headless", cfg.Headless), zap.Duration("timeout", cfg.Timeout))
	return s, nil
}

// Close tears down the tab and the Chrome process.
func (s *Session) Close() {
	s.tabCancel()
	s.allocCancel()
}

// run executes actions against the persistent tab, bounded by the operation
// timeout and cancelable from the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(s.tab, s.cfg.Timeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrWaitTimeout, s.cfg.Timeout)
	}
	return err
}

// Navigate implements crawl.Driver. Navigation waits for the host's rate
// budget before loading and blocks until the document body is ready.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	if err := s.limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("navigate rate limit: %w", err)
	}
	s.logger.Debug("navigating", zap.String("url", rawURL))
	if err := s.run(ctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

// WaitUntil implements crawl.Driver.
func (s *Session) WaitUntil(ctx context.Context, expr string) error {
	if err := s.run(ctx, chromedp.Poll(expr, nil)); err != nil {
		return fmt.Errorf("wait for %q: %w", expr, err)
	}
	return nil
}

// WaitVisible implements crawl.Driver.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

// Exists implements crawl.Driver.
func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := s.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	return found, nil
}

// Visible implements crawl.Driver. An element is visible when it occupies
// layout space, matching how a human would judge an overlay.
func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const rects = el.getClientRects();
		return rects.length > 0 && el.offsetWidth > 0 && el.offsetHeight > 0;
	})()`, selector)
	if err := s.run(ctx, chromedp.Evaluate(expr, &visible)); err != nil {
		return false, fmt.Errorf("visibility of %q: %w", selector, err)
	}
	return visible, nil
}

type textResult struct {
	OK   bool   `json:"ok"`
	Text string `json:"text"`
}

// Text implements crawl.Driver.
func (s *Session) Text(ctx context.Context, selector string) (string, bool, error) {
	var res textResult
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		return el ? {ok: true, text: (el.innerText || "").trim()} : {ok: false, text: ""};
	})()`, selector)
	if err := s.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return "", false, fmt.Errorf("text of %q: %w", selector, err)
	}
	return res.Text, res.OK, nil
}

// Texts implements crawl.Driver.
func (s *Session) Texts(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%q), el => (el.innerText || "").trim())`, selector)
	if err := s.run(ctx, chromedp.Evaluate(expr, &texts)); err != nil {
		return nil, fmt.Errorf("texts of %q: %w", selector, err)
	}
	return texts, nil
}

// Attribute implements crawl.Driver.
func (s *Session) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var res textResult
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return {ok: false, text: ""};
		const v = el.getAttribute(%q);
		return v === null ? {ok: false, text: ""} : {ok: true, text: v};
	})()`, selector, name)
	if err := s.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return "", false, fmt.Errorf("attribute %q of %q: %w", name, selector, err)
	}
	return res.Text, res.OK, nil
}

// Eval implements crawl.Driver.
func (s *Session) Eval(ctx context.Context, expr string, out any) error {
	if err := s.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Click implements crawl.Driver. The element is scrolled into view first;
// when the CDP click fails on a covered element, a synthetic DOM click is
// attempted before giving up.
func (s *Session) Click(ctx context.Context, selector string) error {
	err := s.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	s.logger.Debug("native click failed, trying synthetic click",
		zap.String("selector", selector), zap.Error(err))
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.click();
		return true;
	})()`, selector)
	var clicked bool
	if evalErr := s.run(ctx, chromedp.Evaluate(expr, &clicked)); evalErr != nil || !clicked {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// Location implements crawl.Driver.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// Title implements crawl.Driver.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("title: %w", err)
	}
	return title, nil
}

// OuterHTML implements crawl.Driver.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Screenshot implements crawl.Driver.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var png []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&png)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return png, nil
}

// ViewportHeight implements crawl.Driver.
func (s *Session) ViewportHeight(ctx context.Context) (int, error) {
	var height int
	if err := s.run(ctx, chromedp.Evaluate(`window.innerHeight`, &height)); err != nil {
		return 0, fmt.Errorf("viewport height: %w", err)
	}
	return height, nil
}

// ScrollBy implements crawl.Driver.
func (s *Session) ScrollBy(ctx context.Context, px int) error {
	expr := fmt.Sprintf(`window.scrollBy(0, %d)`, px)
	if err := s.run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("scroll by %d: %w", px, err)
	}
	return nil
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
