package page

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Snapshot is an immutable capture of one page: its URL and parsed document.
// The detector and booking engine only ever see snapshots, never a live page.
type Snapshot struct {
	url *url.URL
	doc *goquery.Document
}

// NewSnapshot parses the HTML body fetched from rawURL.
func NewSnapshot(rawURL, html string) (*Snapshot, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Snapshot{url: u, doc: doc}, nil
}

// Find returns the selection matching the CSS selector.
func (s *Snapshot) Find(selector string) *goquery.Selection {
	return s.doc.Find(selector)
}

// Path returns the URL path of the snapshot.
func (s *Snapshot) Path() string {
	return s.url.Path
}

// Query returns the named URL query parameter, or "".
func (s *Snapshot) Query(param string) string {
	return s.url.Query().Get(param)
}

// URL returns the full snapshot URL string.
func (s *Snapshot) URL() string {
	return s.url.String()
}
