package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	fetchTimeout = 30 * time.Second
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Fetcher retrieves page snapshots from the target site. Requests are
// rate-limited so a burst of probes never leaves the process.
type Fetcher struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewFetcher creates a fetcher allowing at most rps requests per second with
// a burst of one.
func NewFetcher(baseURL string, rps float64) *Fetcher {
	jar, _ := newCookieJar()
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: fetchTimeout,
			Jar:     jar,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Get fetches the given path (or absolute URL) and returns its snapshot.
func (f *Fetcher) Get(ctx context.Context, path string) (*Snapshot, error) {
	target := path
	if !strings.HasPrefix(path, "http") {
		target = f.baseURL + path
	}
	return f.fetch(ctx, http.MethodGet, target, nil)
}

// Post submits form values to the given path and returns the resulting page.
func (f *Fetcher) Post(ctx context.Context, path string, form url.Values) (*Snapshot, error) {
	target := path
	if !strings.HasPrefix(path, "http") {
		target = f.baseURL + path
	}
	return f.fetch(ctx, http.MethodPost, target, form)
}

func (f *Fetcher) fetch(ctx context.Context, method, target string, form url.Values) (*Snapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d", method, target, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return NewSnapshot(final, string(raw))
}
