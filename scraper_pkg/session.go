// Package scraper_pkg drives the CFE tariff portal with Playwright and turns
// the rendered tables into tariff schedules.
package scraper_pkg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	pw "github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// BrowserOptions configures the shared Chromium instance.
type BrowserOptions struct {
	Headless       bool
	ExecutablePath string
	Locale         string
	Install        bool
	Timeouts       Timeouts
}

// DefaultBrowserOptions returns headless Chromium with a Mexican locale.
func DefaultBrowserOptions() BrowserOptions {
	return BrowserOptions{
		Headless: true,
		Locale:   "es-MX",
		Timeouts: DefaultTimeouts(),
	}
}

// SessionManager owns the process wide Playwright driver and browser. The
// browser is launched on first use and relaunched when it stops responding.
// All creation goes through one mutex so concurrent requests never race to
// launch two browsers.
type SessionManager struct {
	opts   BrowserOptions
	logger *zap.Logger

	mu      sync.Mutex
	pw      *pw.Playwright
	browser pw.Browser
	closed  bool
}

// NewSessionManager returns a manager; nothing is launched until a page is
// requested.
func NewSessionManager(opts BrowserOptions, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Locale == "" {
		opts.Locale = "es-MX"
	}
	return &SessionManager{opts: opts, logger: logger.With(zap.String("component", "browser"))}
}

// InstallChromium downloads the Playwright driver and Chromium only.
func InstallChromium() error {
	return pw.Install(&pw.RunOptions{Browsers: []string{"chromium"}})
}

// Browser returns a healthy shared browser, launching or relaunching it.
func (m *SessionManager) Browser() (pw.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("browser session manager closed")
	}
	if m.browser != nil {
		if m.browser.IsConnected() {
			return m.browser, nil
		}
		m.logger.Warn("⚠️ Shared browser disconnected, relaunching")
		_ = m.browser.Close()
		m.browser = nil
	}

	if m.pw == nil {
		if m.opts.Install {
			m.logger.Info("🔧 Installing Playwright Chromium (one-time setup)...")
			if err := InstallChromium(); err != nil {
				m.logger.Warn("⚠️ Playwright installation warning, continuing", zap.Error(err))
			}
		}
		instance, err := pw.Run()
		if err != nil {
			return nil, fmt.Errorf("failed to start Playwright: %w", err)
		}
		m.pw = instance
	}

	launch := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(m.opts.Headless),
		Args:     []string{"--no-sandbox", "--disable-dev-shm-usage"},
	}
	if path := resolveExecutablePath(m.opts.ExecutablePath); path != "" {
		launch.ExecutablePath = pw.String(path)
		m.logger.Info("🚀 Using browser executable", zap.String("path", path))
	}

	browser, err := m.pw.Chromium.Launch(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	m.browser = browser
	m.logger.Info("✅ Browser launched", zap.String("version", browser.Version()))
	return browser, nil
}

// OpenPage creates an isolated context and page owned by one request.
func (m *SessionManager) OpenPage(ctx context.Context) (TariffPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	browser, err := m.Browser()
	if err != nil {
		return nil, err
	}

	bctx, err := browser.NewContext(pw.BrowserNewContextOptions{
		Locale:    pw.String(m.opts.Locale),
		BypassCSP: pw.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(m.opts.Timeouts.Goto.Milliseconds()))

	return newNavigator(bctx, page, m.opts.Timeouts, m.logger), nil
}

// Close shuts the browser and the driver down. Later calls are no-ops.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		m.browser = nil
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		m.pw = nil
	}
	m.logger.Info("🛑 Browser session closed")
	return errors.Join(errs...)
}

// resolveExecutablePath prefers the configured path, then
// PLAYWRIGHT_EXECUTABLE_PATH, then a system Chromium. An empty result
// lets Playwright use its bundled browser.
func resolveExecutablePath(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("PLAYWRIGHT_EXECUTABLE_PATH"); env != "" {
		return env
	}
	for _, p := range []string{
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/bin/google-chrome",
		"/usr/bin/chromium-browser",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
