// Package egress chooses the network path a scrape job uses to reach its
// target. Two routes exist: a managed browser relay reached over CDP and a
// credentialed forward proxy for a locally launched browser. The routes
// have different reliability and policy trade-offs per target, so when the
// target URL is disallowed by its crawl policy the policy-compliant proxy
// route is tried first, with the other route as fallback.
package egress

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/webstudy/jewel-scraper/internal/browser"
	"github.com/webstudy/jewel-scraper/internal/config"
)

type RouteKind string

const (
	RouteRelay RouteKind = "relay" // managed browser relay over CDP
	RouteProxy RouteKind = "proxy" // credentialed forward proxy
)

// Route is one egress candidate, computed once per job.
type Route struct {
	Kind RouteKind
	// Permitted records whether the target was allowed by its crawl
	// policy when this route was selected.
	Permitted bool
}

type Router struct {
	egress  config.EgressConfig
	browser config.BrowserConfig
	client  *http.Client
	logger  *slog.Logger
}

func NewRouter(egressCfg config.EgressConfig, browserCfg config.BrowserConfig, logger *slog.Logger) *Router {
	timeout := egressCfg.RobotsTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{
		egress:  egressCfg,
		browser: browserCfg,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "egress"),
	}
}

// SelectRoute opens a browser session for targetURL, trying each candidate
// route in policy order and delegating to the session's resilient
// navigation. The first route that yields a loaded page wins. When every
// candidate fails, a single aggregated error names the last failure.
//
// The returned session is owned by the caller, except that a session that
// landed on an explicit empty-results page is returned together with
// browser.ErrEmptyResults so the caller can decide to stop early.
func (r *Router) SelectRoute(ctx context.Context, targetURL, readySelector, emptySelector string) (*browser.Session, *Route, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid target url: %w", err)
	}

	policy := FetchCrawlPolicy(ctx, r.client, parsed, r.logger)
	disallowed := policy.Disallowed(parsed)
	if disallowed {
		r.logger.Info("target disallowed by crawl policy, preferring compliant route", "url", targetURL)
	}

	candidates := r.candidates(disallowed)
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("no egress routes configured")
	}

	var lastErr error
	for _, kind := range candidates {
		session, err := r.open(kind)
		if err != nil {
			r.logger.Warn("could not open session", "route", kind, "error", err)
			lastErr = err
			continue
		}

		navErr := session.GotoAndWaitReady(ctx, targetURL, readySelector, emptySelector, r.browser.NavRetries)
		if navErr == nil || navErr == browser.ErrEmptyResults {
			r.logger.Info("route selected", "route", kind, "url", targetURL)
			route := &Route{Kind: kind, Permitted: !disallowed}
			if navErr == browser.ErrEmptyResults {
				return session, route, browser.ErrEmptyResults
			}
			return session, route, nil
		}

		r.logger.Warn("route failed", "route", kind, "error", navErr)
		lastErr = navErr
		if closeErr := session.Close(); closeErr != nil {
			r.logger.Warn("failed to close session after route failure", "error", closeErr)
		}
	}

	return nil, nil, fmt.Errorf("failed to load %s over all egress routes, last error: %w", targetURL, lastErr)
}

// candidates orders the configured routes. The relay is the default first
// choice; a disallowed target flips the order so the policy-compliant
// forward proxy leads.
func (r *Router) candidates(disallowed bool) []RouteKind {
	var ordered []RouteKind
	if disallowed {
		ordered = []RouteKind{RouteProxy, RouteRelay}
	} else {
		ordered = []RouteKind{RouteRelay, RouteProxy}
	}

	available := make([]RouteKind, 0, len(ordered))
	for _, kind := range ordered {
		switch kind {
		case RouteRelay:
			if r.egress.RelayCDPURL != "" {
				available = append(available, kind)
			}
		case RouteProxy:
			if r.egress.ProxyServer != "" {
				available = append(available, kind)
			}
		}
	}
	return available
}

func (r *Router) open(kind RouteKind) (*browser.Session, error) {
	opts := &browser.Options{
		Headless:       r.browser.Headless,
		UserAgent:      r.browser.UserAgent,
		ViewportWidth:  r.browser.ViewportWidth,
		ViewportHeight: r.browser.ViewportHeight,
		NavTimeout:     r.browser.NavTimeout,
		ReadyTimeout:   r.browser.ReadyTimeout,
	}

	switch kind {
	case RouteRelay:
		opts.CDPEndpoint = r.egress.RelayCDPURL
	case RouteProxy:
		opts.Proxy = &playwright.Proxy{
			Server:   r.egress.ProxyServer,
			Username: playwright.String(r.egress.ProxyUsername),
			Password: playwright.String(r.egress.ProxyPassword),
		}
	default:
		return nil, fmt.Errorf("unknown route kind %q", kind)
	}

	return browser.Open(opts)
}

// Probe checks both configured routes against a probe URL and reports
// which are alive. Used by the proxy-health endpoint.
func (r *Router) Probe(ctx context.Context, probeURL string) map[RouteKind]error {
	results := make(map[RouteKind]error)
	for _, kind := range r.candidates(false) {
		session, err := r.open(kind)
		if err != nil {
			results[kind] = err
			continue
		}
		err = session.GotoAndWaitReady(ctx, probeURL, "body", "", 0)
		if err == browser.ErrEmptyResults {
			err = nil
		}
		results[kind] = err
		session.Close()
	}
	return results
}
