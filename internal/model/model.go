// Package model defines shared data structures.
package model

import "time"

// Reserved names seeded by the initial migration.
const (
	DefaultCategoryName = "Default"
	BookmarksListName   = "Bookmarks"
)

// Category groups feeds for display.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OrderNumber int    `json:"order_number"`
}

// Feed represents an RSS/Atom feed subscription.
type Feed struct {
	ID           int64      `json:"id"`
	FeedURL      string     `json:"feed_url"`
	SiteURL      string     `json:"site_url"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	AddedAt      time.Time  `json:"added_at"`
	LastSyncedAt *time.Time `json:"last_synced_at"` // nil until the first successful sync
	CategoryID   *int64     `json:"category_id"`
	CategoryName string     `json:"category,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	ArticleCount int        `json:"article_count"`
}

// Article represents a single entry ingested from a feed.
type Article struct {
	ID          int64      `json:"id"`
	FeedID      int64      `json:"feed_id"`
	UniqueID    string     `json:"unique_id"` // entry id, or link when the entry has none
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description"`
	PublishedAt time.Time  `json:"published_at"`
	AddedAt     time.Time  `json:"added_at"`
	ReadAt      *time.Time `json:"read_at"`

	// Populated from the owning feed by read queries.
	FeedTitle   string    `json:"feed_title"`
	FeedAddedAt time.Time `json:"-"`
}

// IsRead reports whether the article has been opened.
func (a Article) IsRead() bool {
	return a.ReadAt != nil
}

// List is a named collection of articles.
type List struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OrderNumber int    `json:"order_number"`
}

// CategoryWithFeeds represents a category containing its feeds for listing.
type CategoryWithFeeds struct {
	Category
	Feeds []Feed `json:"feeds"`
}
