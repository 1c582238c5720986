package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Session owns one browser, one context and one page for the lifetime of a
// scrape job. It is never shared between jobs.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	logger  *slog.Logger

	navTimeout   time.Duration
	readyTimeout time.Duration
}

type Options struct {
	// CDPEndpoint connects to a managed browser relay instead of launching
	// a local browser. When set, Proxy is ignored.
	CDPEndpoint string
	Proxy       *playwright.Proxy

	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
	ReadyTimeout   time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		NavTimeout:     180 * time.Second,
		ReadyTimeout:   30 * time.Second,
	}
}

// Open starts playwright, attaches or launches a browser over the given
// egress route and opens a single page.
func Open(opts *Options) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	var b playwright.Browser
	if opts.CDPEndpoint != "" {
		b, err = pw.Chromium.ConnectOverCDP(opts.CDPEndpoint)
		if err != nil {
			pw.Stop()
			return nil, fmt.Errorf("failed to connect over CDP: %w", err)
		}
	} else {
		launchOpts := playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
			Proxy:    opts.Proxy,
			Args: []string{
				"--disable-blink-features=AutomationControlled",
				"--disable-dev-shm-usage",
				"--no-sandbox",
			},
		}
		b, err = pw.Chromium.Launch(launchOpts)
		if err != nil {
			pw.Stop()
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(opts.UserAgent),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	}

	context, err := b.NewContext(contextOpts)
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	// Mask the automation flag the same way on both routes.
	script := `Object.defineProperty(navigator, 'webdriver', { get: () => undefined })`
	if err := context.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
		context.Close()
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to add init script: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &Session{
		pw:           pw,
		browser:      b,
		context:      context,
		page:         page,
		logger:       slog.Default().With("component", "browser"),
		navTimeout:   opts.NavTimeout,
		readyTimeout: opts.ReadyTimeout,
	}, nil
}

func (s *Session) Page() playwright.Page {
	return s.page
}

// Close releases page, context, browser and the playwright driver. Safe to
// call from a defer on every exit path.
func (s *Session) Close() error {
	var errs []error

	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
	}

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}
