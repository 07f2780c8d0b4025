// Package opml handles importing and exporting OPML subscription lists.
package opml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bryan-buckman/quickfeed/internal/database"
	"github.com/bryan-buckman/quickfeed/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (category or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one subscribed feed. Category is empty for top-level feeds.
type Entry struct {
	Category string
	Title    string
	URL      string
	SiteURL  string
}

// Parse reads an OPML document and returns its feeds. Feeds nested at any
// depth belong to their top-level outline group.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []Outline, category string)
	walk = func(outlines []Outline, category string) {
		for _, o := range outlines {
			if url := strings.TrimSpace(o.XMLURL); url != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{
					Category: category,
					Title:    strings.TrimSpace(title),
					URL:      url,
					SiteURL:  strings.TrimSpace(o.HTMLURL),
				})
				continue
			}
			if len(o.Outlines) == 0 {
				continue
			}
			if category == "" {
				category := strings.TrimSpace(o.Text)
				if category == "" {
					category = strings.TrimSpace(o.Title)
				}
				walk(o.Outlines, category)
				continue
			}
			walk(o.Outlines, category)
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// Export generates an OPML document with one outline group per category
// and uncategorized feeds at the top level.
func Export(title string, categories []model.CategoryWithFeeds, uncategorized []model.Feed) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	for _, c := range categories {
		if len(c.Feeds) == 0 {
			continue
		}
		group := Outline{Text: c.Name, Title: c.Name}
		for _, f := range c.Feeds {
			group.Outlines = append(group.Outlines, feedOutline(f))
		}
		doc.Body.Outlines = append(doc.Body.Outlines, group)
	}
	for _, f := range uncategorized {
		doc.Body.Outlines = append(doc.Body.Outlines, feedOutline(f))
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

func feedOutline(f model.Feed) Outline {
	return Outline{
		Text:    f.Title,
		Title:   f.Title,
		Type:    "rss",
		XMLURL:  f.FeedURL,
		HTMLURL: f.SiteURL,
	}
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Added   int
	Skipped int
	Failed  int
}

// Import subscribes to every entry, creating categories on demand. Feeds
// that are already subscribed are skipped. Articles arrive with the next
// refresh.
func Import(ctx context.Context, store database.Store, entries []Entry, log *slog.Logger) (ImportResult, error) {
	var res ImportResult
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		feed := model.Feed{
			FeedURL: e.URL,
			SiteURL: e.SiteURL,
			Title:   e.Title,
		}
		if e.Category != "" {
			id, err := store.GetOrCreateCategory(ctx, e.Category)
			if err != nil {
				return res, fmt.Errorf("category %q: %w", e.Category, err)
			}
			feed.CategoryID = &id
		}

		_, err := store.CreateFeed(ctx, feed)
		switch {
		case err == nil:
			res.Added++
		case errors.Is(err, database.ErrDuplicate):
			res.Skipped++
		default:
			res.Failed++
			log.WarnContext(ctx, "Failed to import feed",
				"error", err,
				"feedURL", e.URL)
		}
	}

	log.InfoContext(ctx, "OPML import finished",
		"added", res.Added,
		"skipped", res.Skipped,
		"failed", res.Failed)
	return res, nil
}
