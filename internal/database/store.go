// Package database provides storage backends for the feed reader.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/bryan-buckman/quickfeed/internal/model"
)

var (
	// ErrNotFound is returned when a referenced feed, category, article or
	// list does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique feed URL or name is reused.
	ErrDuplicate = errors.New("already exists")
	// ErrDefaultCategoryMissing is returned by DeleteCategory when there is
	// no category to move orphaned feeds into.
	ErrDefaultCategoryMissing = errors.New("default category missing")
	// ErrProtected is returned when deleting a reserved row.
	ErrProtected = errors.New("protected")
	// ErrInvalid is returned for rejected input such as an empty name.
	ErrInvalid = errors.New("invalid input")
)

// ArticleFilter narrows GetArticles. Zero values mean "no restriction".
type ArticleFilter struct {
	FeedID       int64
	CategoryName string
	ListID       int64
	UnreadOnly   bool
}

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Category operations
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, categoryID int64) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	CreateCategory(ctx context.Context, c model.Category) (int64, error)
	GetOrCreateCategory(ctx context.Context, name string) (int64, error)
	UpdateCategory(ctx context.Context, c model.Category) error
	DeleteCategory(ctx context.Context, categoryID int64) (int, error)

	// Feed operations
	GetFeeds(ctx context.Context) ([]model.Feed, error)
	GetFeedByID(ctx context.Context, feedID int64) (*model.Feed, error)
	GetFeedByURL(ctx context.Context, feedURL string) (*model.Feed, error)
	GetFeedsByCategoryID(ctx context.Context, categoryID int64) ([]model.Feed, error)
	GetCategoriesWithFeeds(ctx context.Context) ([]model.CategoryWithFeeds, []model.Feed, error)
	CreateFeed(ctx context.Context, f model.Feed) (int64, error)
	SetFeedCategory(ctx context.Context, feedID, categoryID int64) error
	UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error
	DeleteFeed(ctx context.Context, feedID int64) error
	LastSyncedAt(ctx context.Context) (*time.Time, error)

	// Article operations
	SyncFeed(ctx context.Context, feedID int64, articles []model.Article, syncedAt time.Time) (int, error)
	GetArticle(ctx context.Context, articleID int64) (*model.Article, error)
	GetArticleByUniqueID(ctx context.Context, feedID int64, uniqueID string) (*model.Article, error)
	GetArticles(ctx context.Context, filter ArticleFilter) ([]model.Article, error)
	CountArticles(ctx context.Context, feedID int64) (int, error)
	MarkArticleRead(ctx context.Context, articleID int64, at time.Time) error

	// List operations
	GetListByID(ctx context.Context, listID int64) (*model.List, error)
	GetListByName(ctx context.Context, name string) (*model.List, error)
	ListArticleIDs(ctx context.Context, listID int64) (map[int64]struct{}, error)
	ToggleListMembership(ctx context.Context, articleID, listID int64) (bool, error)
}
