package page

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"slotwatch/internal/models"
)

// Session is one browsing context on the target site. The detector and
// booking engine drive it; implementations decide how interactions are
// realised. All blocking calls honour ctx.
type Session interface {
	// Current returns a snapshot of the page the session is on.
	Current(ctx context.Context) (*Snapshot, error)
	// Navigate loads the given path.
	Navigate(ctx context.Context, path string) error
	// Click activates the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// SendKeys appends text to the field matching the selector.
	SendKeys(ctx context.Context, selector, text string) error
	// Commit fires the field's change event (end of typing).
	Commit(ctx context.Context, selector string) error
	// SelectOption picks the option with the given value in a select element.
	SelectOption(ctx context.Context, selector, value string) error
	// WaitVisible polls until the selector matches or the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// ScrollTo brings the element into the viewport.
	ScrollTo(ctx context.Context, selector string) error
	// Hover moves the pointer over the element.
	Hover(ctx context.Context, selector string) error
	// Highlight visually marks the element for the human operator.
	Highlight(ctx context.Context, selector string) error
}

// HTTPSession is a form-and-link driver over the rate-limited fetcher. Links
// are followed, form fields accumulate and submit buttons post them. Pointer
// verbs are no-ops here; a real browser driver supplies them.
type HTTPSession struct {
	fetcher *Fetcher
	current *Snapshot
	fields  url.Values // pending form field values
}

// NewHTTPSession creates a session rooted at the fetcher's base URL.
func NewHTTPSession(fetcher *Fetcher) *HTTPSession {
	return &HTTPSession{fetcher: fetcher, fields: url.Values{}}
}

func (s *HTTPSession) Current(ctx context.Context) (*Snapshot, error) {
	if s.current == nil {
		if err := s.Navigate(ctx, "/"); err != nil {
			return nil, err
		}
	}
	return s.current, nil
}

func (s *HTTPSession) Navigate(ctx context.Context, path string) error {
	snap, err := s.fetcher.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrNavigationTimeout, err)
	}
	s.current = snap
	s.fields = url.Values{}
	return nil
}

func (s *HTTPSession) Click(ctx context.Context, selector string) error {
	snap, err := s.Current(ctx)
	if err != nil {
		return err
	}
	el := snap.Find(selector).First()
	if el.Length() == 0 {
		return fmt.Errorf("%w: %s", models.ErrElementNotFound, selector)
	}

	// Links navigate.
	if href, ok := el.Attr("href"); ok && href != "" && href != "#" {
		return s.Navigate(ctx, href)
	}

	// Submit buttons post the accumulated fields to the enclosing form.
	if typ, _ := el.Attr("type"); typ == "submit" || el.Is("button") {
		form := el.Closest("form")
		if form.Length() > 0 {
			action, _ := form.Attr("action")
			if action == "" {
				action = snap.Path()
			}
			if name, ok := el.Attr("name"); ok {
				s.fields.Set(name, el.AttrOr("value", ""))
			}
			next, err := s.fetcher.Post(ctx, action, s.fields)
			if err != nil {
				return fmt.Errorf("%w: %v", models.ErrNavigationTimeout, err)
			}
			s.current = next
			s.fields = url.Values{}
			return nil
		}
	}

	// Anything else (reveal toggles and the like) re-reads the page.
	snap, err = s.fetcher.Get(ctx, snap.URL())
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrNavigationTimeout, err)
	}
	s.current = snap
	return nil
}

func (s *HTTPSession) SendKeys(ctx context.Context, selector, text string) error {
	snap, err := s.Current(ctx)
	if err != nil {
		return err
	}
	el := snap.Find(selector).First()
	if el.Length() == 0 {
		return fmt.Errorf("%w: %s", models.ErrElementNotFound, selector)
	}
	name := el.AttrOr("name", strings.TrimPrefix(selector, "#"))
	s.fields.Set(name, s.fields.Get(name)+text)
	return nil
}

func (s *HTTPSession) Commit(_ context.Context, _ string) error {
	// Field values are carried on submit; nothing to flush for a form driver.
	return nil
}

func (s *HTTPSession) SelectOption(ctx context.Context, selector, value string) error {
	snap, err := s.Current(ctx)
	if err != nil {
		return err
	}
	el := snap.Find(selector).First()
	if el.Length() == 0 {
		return fmt.Errorf("%w: %s", models.ErrElementNotFound, selector)
	}
	name := el.AttrOr("name", strings.TrimPrefix(selector, "#"))
	s.fields.Set(name, value)
	return nil
}

func (s *HTTPSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		snap, err := s.Current(ctx)
		if err == nil && snap.Find(selector).Length() > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", models.ErrElementNotFound, selector)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		// Re-fetch so dynamic pages get a chance to render server-side.
		if snap != nil {
			refreshed, err := s.fetcher.Get(ctx, snap.URL())
			if err == nil {
				s.current = refreshed
			}
		}
	}
}

func (s *HTTPSession) ScrollTo(_ context.Context, _ string) error { return nil }

func (s *HTTPSession) Hover(_ context.Context, _ string) error { return nil }

func (s *HTTPSession) Highlight(_ context.Context, selector string) error {
	log.Printf("[page] highlight %s for operator review", selector)
	return nil
}

func newCookieJar() (http.CookieJar, error) {
	return cookiejar.New(nil)
}
