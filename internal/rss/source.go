// Package rss provides feed fetching, parsing and ingestion.
package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// ErrNoFeedFound is returned by Discover when a page advertises no feed.
var ErrNoFeedFound = errors.New("no feed advertised on page")

// Entry is one item of a fetched feed document.
type Entry struct {
	ID          string
	Link        string
	Title       string
	Description string
	Published   *time.Time
	Updated     *time.Time
}

// Document is a fetched and parsed feed.
type Document struct {
	Title       string
	Link        string
	Description string
	Entries     []Entry
}

// Source fetches and parses feed documents.
type Source interface {
	Fetch(ctx context.Context, feedURL string) (*Document, error)
}

// Discoverer finds the feed URL advertised by an HTML page.
type Discoverer interface {
	Discover(ctx context.Context, pageURL string) (string, error)
}

// GofeedSource is a Source backed by gofeed.
type GofeedSource struct {
	parser    *gofeed.Parser
	client    *http.Client
	userAgent string
}

// NewGofeedSource creates a source whose HTTP requests time out after timeout.
func NewGofeedSource(timeout time.Duration, userAgent string) *GofeedSource {
	client := &http.Client{Timeout: timeout}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &GofeedSource{
		parser:    parser,
		client:    client,
		userAgent: userAgent,
	}
}

// Fetch downloads and parses the feed at feedURL.
func (s *GofeedSource) Fetch(ctx context.Context, feedURL string) (*Document, error) {
	parsed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed (URL = %s): %w", feedURL, err)
	}

	doc := &Document{
		Title:       strings.TrimSpace(parsed.Title),
		Link:        strings.TrimSpace(parsed.Link),
		Description: strings.TrimSpace(parsed.Description),
		Entries:     make([]Entry, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		doc.Entries = append(doc.Entries, Entry{
			ID:          item.GUID,
			Link:        strings.TrimSpace(item.Link),
			Title:       strings.TrimSpace(item.Title),
			Description: item.Description,
			Published:   item.PublishedParsed,
			Updated:     item.UpdatedParsed,
		})
	}
	return doc, nil
}

var feedLinkTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/feed+json",
	"application/json",
}

// Discover fetches an HTML page and returns the absolute URL of the first
// feed it links to with <link rel="alternate">.
func (s *GofeedSource) Discover(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch page: HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	var found string
	doc.Find(`link[rel~="alternate"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		typ := strings.ToLower(strings.TrimSpace(sel.AttrOr("type", "")))
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || !isFeedLinkType(typ) {
			return true
		}
		found = href
		return false
	})
	if found == "" {
		return "", ErrNoFeedFound
	}

	ref, err := url.Parse(found)
	if err != nil {
		return "", fmt.Errorf("parse feed link: %w", err)
	}
	return resp.Request.URL.ResolveReference(ref).String(), nil
}

func isFeedLinkType(typ string) bool {
	for _, t := range feedLinkTypes {
		if typ == t {
			return true
		}
	}
	return false
}
