package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/webstudy/jewel-scraper/internal/retry"
)

// ErrEmptyResults reports that navigation landed on an explicit "no
// results" page. That is a valid terminal state, not a failure.
var ErrEmptyResults = errors.New("page reported empty results")

// GotoAndWaitReady navigates to url and waits for a ready signal: either
// readySelector attaching (content loaded) or emptySelector attaching
// (explicit empty-results marker). A navigation that produces neither is
// retried with a short randomized backoff; exhausting the retries is fatal
// for the page.
func (s *Session) GotoAndWaitReady(ctx context.Context, url, readySelector, emptySelector string, retries int) error {
	policy := retry.Policy{
		Attempts:  retries + 1,
		BaseDelay: time.Second,
		Jitter:    true,
	}

	var empty bool
	err := retry.Do(ctx, policy, func() error {
		s.logger.Info("navigating", "url", url)

		_, err := s.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(s.navTimeout.Milliseconds())),
		})
		if err != nil {
			s.logger.Warn("navigation failed", "url", url, "error", err)
			return fmt.Errorf("goto %s: %w", url, err)
		}

		ok, emptyHit, err := s.waitReadySignal(readySelector, emptySelector)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no ready signal on %s", url)
		}
		empty = emptyHit
		return nil
	})
	if err != nil {
		return err
	}

	if empty {
		return ErrEmptyResults
	}
	return nil
}

// waitReadySignal waits for the content selector, then falls back to the
// empty-results selector with a short budget.
func (s *Session) waitReadySignal(readySelector, emptySelector string) (ok, empty bool, err error) {
	waitOpts := playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(s.readyTimeout.Milliseconds())),
	}

	if waitErr := s.page.Locator(readySelector).First().WaitFor(waitOpts); waitErr == nil {
		return true, false, nil
	}

	if emptySelector == "" {
		return false, false, nil
	}

	shortOpts := playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(3000),
	}
	if waitErr := s.page.Locator(emptySelector).First().WaitFor(shortOpts); waitErr == nil {
		s.logger.Info("empty results marker found")
		return true, true, nil
	}

	return false, false, nil
}

// ScrollToBottom triggers lazy loading by scrolling the full page height.
func (s *Session) ScrollToBottom() error {
	_, err := s.page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`)
	return err
}
