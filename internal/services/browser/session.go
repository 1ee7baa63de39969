// Package browser implements the long-lived headless-browser session of
// spec.md §4.3, grounded in the teacher's chromedp usage
// (internal/services/crawler/chromedp_pool.go and hybrid_scraper.go) but
// collapsed to a single persistent context per ticker rather than a pool,
// since spec.md requires the same session to be reused across every tool
// call of one ticker run.
package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
	"github.com/kestrelfin/ledgersync/internal/models"
)

// Config configures one browser session.
type Config struct {
	BaseURL        string
	LoginPath      string
	Email          string
	Password       string
	Headless       bool
	NavTimeout     time.Duration
	RateLimitEvery time.Duration // minimum spacing between navigations
}

// Session is the per-ticker browser session. Created lazily on first use,
// torn down explicitly by the orchestrator on ticker completion or any
// fatal error.
type Session struct {
	cfg Config

	mu              sync.Mutex
	allocCancel     context.CancelFunc
	browserCancel   context.CancelFunc
	browserCtx      context.Context
	loggedIn        bool
	rawUnitsApplied bool
	latestShot      []byte
	limiter         *rate.Limiter
	logger          arbor.ILogger
}

var _ interfaces.BrowserSession = (*Session)(nil)

// New creates a session; the browser process itself is started lazily by
// the first call that needs it (EnsureLoggedIn or NavigateToFinancials).
func New(cfg Config, logger arbor.ILogger) *Session {
	every := cfg.RateLimitEvery
	if every <= 0 {
		every = time.Second
	}
	return &Session{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(every), 1),
		logger:  logger,
	}
}

func (s *Session) ensureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s.allocCancel = allocCancel
	s.browserCancel = browserCancel
	s.browserCtx = browserCtx
	return nil
}

func (s *Session) waitForTurn(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// EnsureLoggedIn navigates to the login page, fills credentials addressed
// by stable attributes, clicks the submit control addressed by accessible
// name, and waits until the password field is no longer present; the URL
// itself is not checked. Retries twice; on final failure captures a debug
// screenshot and returns ErrLoginFailed.
func (s *Session) EnsureLoggedIn(ctx context.Context) error {
	s.mu.Lock()
	if s.loggedIn {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.ensureStarted(); err != nil {
		return err
	}

	loginURL := s.cfg.BaseURL + s.cfg.LoginPath

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := s.waitForTurn(ctx); err != nil {
			return err
		}

		navCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavTimeout)
		err := chromedp.Run(navCtx,
			chromedp.Navigate(loginURL),
			chromedp.WaitVisible(`#email`, chromedp.ByID),
			chromedp.SendKeys(`#email`, s.cfg.Email, chromedp.ByID),
			chromedp.SendKeys(`#password`, s.cfg.Password, chromedp.ByID),
			chromedp.Click(`//button[@aria-label="Log In" or text()="Log In"]`, chromedp.BySearch),
			chromedp.WaitNotPresent(`#password`, chromedp.ByID),
		)
		cancel()

		if err == nil {
			s.mu.Lock()
			s.loggedIn = true
			s.mu.Unlock()
			s.logger.Info().Int("attempt", attempt+1).Msg("browser session logged in")
			return nil
		}

		lastErr = err
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("login attempt failed")
	}

	debugPath := s.captureDebugScreenshot()
	s.logger.Error().Err(lastErr).Str("debug_screenshot", debugPath).Msg("login failed after retries")
	return fmt.Errorf("%w: %v (debug screenshot: %s)", interfaces.ErrLoginFailed, lastErr, debugPath)
}

func (s *Session) captureDebugScreenshot() string {
	var shot []byte
	shotCtx, cancel := context.WithTimeout(s.browserCtx, 10*time.Second)
	defer cancel()
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&shot)); err != nil {
		return ""
	}
	f, err := os.CreateTemp("", "ledgersync-login-failure-*.png")
	if err != nil {
		return ""
	}
	defer f.Close()
	if _, err := f.Write(shot); err != nil {
		return ""
	}
	return f.Name()
}

// NavigateToFinancials builds the statement URL deterministically and waits
// for the data table to be present (spec.md §4.3).
func (s *Session) NavigateToFinancials(ctx context.Context, params interfaces.BrowseParams) error {
	if err := s.ensureStarted(); err != nil {
		return err
	}
	if err := s.waitForTurn(ctx); err != nil {
		return err
	}

	url := buildFinancialsURL(s.cfg.BaseURL, params)

	navCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(`table`, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", interfaces.ErrNavigationFailed, url, err)
	}

	s.mu.Lock()
	s.rawUnitsApplied = false // new page, units toggle no longer guaranteed
	s.mu.Unlock()

	s.logger.Debug().Str("url", url).Msg("navigated to financials page")
	return nil
}

// buildFinancialsURL builds /stocks/<ticker>/financials[suffix]?query per
// spec.md §4.3.
func buildFinancialsURL(baseURL string, params interfaces.BrowseParams) string {
	ticker := strings.ToLower(params.Ticker)
	path := fmt.Sprintf("%s/stocks/%s/financials", baseURL, ticker)

	switch params.Statement {
	case models.StatementBalance:
		path += "/balance-sheet"
	case models.StatementCashflow:
		path += "/cash-flow-statement"
	}

	var query []string
	if params.Period == models.PeriodQuarterly {
		query = append(query, "p=quarterly")
	}
	if params.DataType == "as-reported" {
		query = append(query, "type=as-reported")
	}

	if len(query) > 0 {
		path += "?" + strings.Join(query, "&")
	}
	return path
}

// SelectRawUnits opens the units dropdown (addressed by its title
// attribute) and selects "Raw". Silent if already applied on this page.
func (s *Session) SelectRawUnits(ctx context.Context) error {
	s.mu.Lock()
	if s.rawUnitsApplied {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	opCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavTimeout)
	defer cancel()

	err := chromedp.Run(opCtx,
		chromedp.Click(`[title="Units"]`, chromedp.ByQuery),
		chromedp.Click(`//li[text()="Raw"]`, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("%w: select raw units: %v", interfaces.ErrNavigationFailed, err)
	}

	s.mu.Lock()
	s.rawUnitsApplied = true
	s.mu.Unlock()
	return nil
}

// Screenshot captures the full page and caches the bytes on the session.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var shot []byte
	shotCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavTimeout)
	defer cancel()

	err := chromedp.Run(shotCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		shot, err = page.CaptureScreenshot().WithCaptureBeyondViewport(true).Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: screenshot: %v", interfaces.ErrExtractionFailed, err)
	}

	s.mu.Lock()
	s.latestShot = shot
	s.mu.Unlock()
	return shot, nil
}

// LatestScreenshot returns the most recently captured screenshot bytes.
func (s *Session) LatestScreenshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestShot
}

// Close tears down the browser. Safe to call multiple times and on every
// exit path (success, failure, panic recovery).
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.browserCtx = nil
	return nil
}
