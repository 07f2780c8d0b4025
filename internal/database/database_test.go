package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/quickfeed/internal/model"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createFeed(t *testing.T, db *DB, url string) int64 {
	t.Helper()
	id, err := db.CreateFeed(context.Background(), model.Feed{FeedURL: url, Title: url, AddedAt: testNow})
	require.NoError(t, err)
	return id
}

func articles(keys ...string) []model.Article {
	out := make([]model.Article, 0, len(keys))
	for i, k := range keys {
		out = append(out, model.Article{
			UniqueID:    k,
			Title:       "Title " + k,
			Link:        "https://example.com/" + k,
			PublishedAt: testNow.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestMigrationsSeedReservedRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	def, err := db.GetCategoryByName(ctx, model.DefaultCategoryName)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultCategoryName, def.Name)

	list, err := db.GetListByName(ctx, model.BookmarksListName)
	require.NoError(t, err)
	assert.Equal(t, model.BookmarksListName, list.Name)

	assert.Equal(t, "SQLite", db.DatabaseType())
	assert.False(t, db.SupportsHighConcurrency())
}

func TestReopenIsIdempotent(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := New(context.Background(), path, log)
	require.NoError(t, err)
	createFeed(t, db, "https://example.com/feed")
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), DriverSQLite, path, log)
	require.NoError(t, err)
	defer db.Close()
	feeds, err := db.GetFeeds(context.Background())
	require.NoError(t, err)
	assert.Len(t, feeds, 1)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: dialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	lite := &DB{dialect: dialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSyncFeedDeduplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	feedID := createFeed(t, db, "https://example.com/feed")

	n, err := db.SyncFeed(ctx, feedID, articles("a", "b", "c"), testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = db.SyncFeed(ctx, feedID, articles("a", "b", "c"), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = db.SyncFeed(ctx, feedID, articles("a", "b", "c", "d"), testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := db.CountArticles(ctx, feedID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	feed, err := db.GetFeedByID(ctx, feedID)
	require.NoError(t, err)
	require.NotNil(t, feed.LastSyncedAt)
	assert.True(t, testNow.Add(2*time.Hour).Equal(*feed.LastSyncedAt))
	assert.Equal(t, 4, feed.ArticleCount)
}

func TestSyncFeedScopesKeysPerFeed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createFeed(t, db, "https://a.example.com/feed")
	b := createFeed(t, db, "https://b.example.com/feed")

	_, err := db.SyncFeed(ctx, a, articles("shared"), testNow)
	require.NoError(t, err)
	n, err := db.SyncFeed(ctx, b, articles("shared"), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.GetArticleByUniqueID(ctx, b, "shared")
	require.NoError(t, err)
	assert.Equal(t, b, got.FeedID)
	assert.Equal(t, "https://b.example.com/feed", got.FeedTitle)
}

func TestSyncFeedUnknownFeed(t *testing.T) {
	db := newTestDB(t)
	_, err := db.SyncFeed(context.Background(), 42, articles("a"), testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateFeedErrorKeepsLastSynced(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	feedID := createFeed(t, db, "https://example.com/feed")
	_, err := db.SyncFeed(ctx, feedID, articles("a"), testNow)
	require.NoError(t, err)

	require.NoError(t, db.UpdateFeedError(ctx, feedID, "timeout"))
	feed, err := db.GetFeedByID(ctx, feedID)
	require.NoError(t, err)
	assert.Equal(t, "timeout", feed.LastError)
	require.NotNil(t, feed.LastSyncedAt)
	assert.True(t, testNow.Equal(*feed.LastSyncedAt))

	_, err = db.SyncFeed(ctx, feedID, nil, testNow.Add(time.Hour))
	require.NoError(t, err)
	feed, err = db.GetFeedByID(ctx, feedID)
	require.NoError(t, err)
	assert.Empty(t, feed.LastError)

	last, err := db.LastSyncedAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, testNow.Add(time.Hour).Equal(*last))
}

func TestLastSyncedAtEmpty(t *testing.T) {
	db := newTestDB(t)
	createFeed(t, db, "https://example.com/feed")
	last, err := db.LastSyncedAt(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestCreateFeedValidation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createFeed(t, db, "https://example.com/feed")

	_, err := db.CreateFeed(ctx, model.Feed{FeedURL: " https://example.com/feed "})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = db.CreateFeed(ctx, model.Feed{FeedURL: "  "})
	assert.ErrorIs(t, err, ErrInvalid)

	missing := int64(99)
	_, err = db.CreateFeed(ctx, model.Feed{FeedURL: "https://other.example.com/", CategoryID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := db.CreateFeed(ctx, model.Feed{FeedURL: "https://untitled.example.com/"})
	require.NoError(t, err)
	feed, err := db.GetFeedByURL(ctx, "https://untitled.example.com/")
	require.NoError(t, err)
	assert.Equal(t, id, feed.ID)
	assert.Equal(t, "https://untitled.example.com/", feed.Title)
	assert.Nil(t, feed.LastSyncedAt)
}

func TestDeleteFeedCascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	feedID := createFeed(t, db, "https://example.com/feed")
	keep := createFeed(t, db, "https://keep.example.com/feed")
	_, err := db.SyncFeed(ctx, feedID, articles("a", "b"), testNow)
	require.NoError(t, err)
	_, err = db.SyncFeed(ctx, keep, articles("k"), testNow)
	require.NoError(t, err)

	list, err := db.GetListByName(ctx, model.BookmarksListName)
	require.NoError(t, err)
	a, err := db.GetArticleByUniqueID(ctx, feedID, "a")
	require.NoError(t, err)
	_, err = db.ToggleListMembership(ctx, a.ID, list.ID)
	require.NoError(t, err)

	require.NoError(t, db.DeleteFeed(ctx, feedID))

	_, err = db.GetFeedByID(ctx, feedID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetArticle(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	ids, err := db.ListArticleIDs(ctx, list.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	remaining, err := db.GetArticles(ctx, ArticleFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep, remaining[0].FeedID)

	assert.ErrorIs(t, db.DeleteFeed(ctx, feedID), ErrNotFound)
}

func TestCategoryCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.CreateCategory(ctx, model.Category{Name: " Tech ", Description: "d", OrderNumber: 3})
	require.NoError(t, err)
	c, err := db.GetCategoryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Tech", c.Name)
	assert.Equal(t, 3, c.OrderNumber)

	_, err = db.CreateCategory(ctx, model.Category{Name: "Tech"})
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = db.CreateCategory(ctx, model.Category{Name: ""})
	assert.ErrorIs(t, err, ErrInvalid)

	again, err := db.GetOrCreateCategory(ctx, "Tech")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	fresh, err := db.GetOrCreateCategory(ctx, "News")
	require.NoError(t, err)
	assert.NotEqual(t, id, fresh)

	assert.ErrorIs(t, db.UpdateCategory(ctx, model.Category{ID: id, Name: "News"}), ErrDuplicate)
	assert.ErrorIs(t, db.UpdateCategory(ctx, model.Category{ID: 999, Name: "Other"}), ErrNotFound)
	require.NoError(t, db.UpdateCategory(ctx, model.Category{ID: id, Name: "Tech", OrderNumber: 1}))

	categories, err := db.GetCategories(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Default", "News", "Tech"}, names)
}

func TestDeleteCategoryReassignsFeeds(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	techID, err := db.CreateCategory(ctx, model.Category{Name: "Tech"})
	require.NoError(t, err)
	a := createFeed(t, db, "https://a.example.com/feed")
	b := createFeed(t, db, "https://b.example.com/feed")
	require.NoError(t, db.SetFeedCategory(ctx, a, techID))
	require.NoError(t, db.SetFeedCategory(ctx, b, techID))

	moved, err := db.DeleteCategory(ctx, techID)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	def, err := db.GetCategoryByName(ctx, model.DefaultCategoryName)
	require.NoError(t, err)
	feeds, err := db.GetFeedsByCategoryID(ctx, def.ID)
	require.NoError(t, err)
	assert.Len(t, feeds, 2)

	_, err = db.GetCategoryByID(ctx, techID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCategoryGuards(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	def, err := db.GetCategoryByName(ctx, model.DefaultCategoryName)
	require.NoError(t, err)

	_, err = db.DeleteCategory(ctx, def.ID)
	assert.ErrorIs(t, err, ErrProtected)

	_, err = db.DeleteCategory(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	techID, err := db.CreateCategory(ctx, model.Category{Name: "Tech"})
	require.NoError(t, err)
	feedID := createFeed(t, db, "https://a.example.com/feed")
	require.NoError(t, db.SetFeedCategory(ctx, feedID, techID))
	require.NoError(t, db.UpdateCategory(ctx, model.Category{ID: def.ID, Name: "Misc"}))

	_, err = db.DeleteCategory(ctx, techID)
	assert.ErrorIs(t, err, ErrDefaultCategoryMissing)

	feed, err := db.GetFeedByID(ctx, feedID)
	require.NoError(t, err)
	assert.Equal(t, "Tech", feed.CategoryName)
}

func TestSetFeedCategoryNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	feedID := createFeed(t, db, "https://a.example.com/feed")
	def, err := db.GetCategoryByName(ctx, model.DefaultCategoryName)
	require.NoError(t, err)

	assert.ErrorIs(t, db.SetFeedCategory(ctx, 999, def.ID), ErrNotFound)
	assert.ErrorIs(t, db.SetFeedCategory(ctx, feedID, 999), ErrNotFound)
}

func TestCategoriesWithFeeds(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	techID, err := db.CreateCategory(ctx, model.Category{Name: "Tech"})
	require.NoError(t, err)
	a := createFeed(t, db, "https://b.example.com/feed")
	createFeed(t, db, "https://loose.example.com/feed")
	c := createFeed(t, db, "https://a.example.com/feed")
	require.NoError(t, db.SetFeedCategory(ctx, a, techID))
	require.NoError(t, db.SetFeedCategory(ctx, c, techID))

	grouped, uncategorized, err := db.GetCategoriesWithFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	assert.Equal(t, "Default", grouped[0].Name)
	assert.Empty(t, grouped[0].Feeds)
	require.Len(t, grouped[1].Feeds, 2)
	assert.Equal(t, "https://a.example.com/feed", grouped[1].Feeds[0].FeedURL)
	require.Len(t, uncategorized, 1)
}

func TestBookmarkToggle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	feedID := createFeed(t, db, "https://example.com/feed")
	_, err := db.SyncFeed(ctx, feedID, articles("a", "b"), testNow)
	require.NoError(t, err)
	a, err := db.GetArticleByUniqueID(ctx, feedID, "a")
	require.NoError(t, err)
	list, err := db.GetListByName(ctx, model.BookmarksListName)
	require.NoError(t, err)

	on, err := db.ToggleListMembership(ctx, a.ID, list.ID)
	require.NoError(t, err)
	assert.True(t, on)

	bookmarked, err := db.GetArticles(ctx, ArticleFilter{ListID: list.ID})
	require.NoError(t, err)
	require.Len(t, bookmarked, 1)
	assert.Equal(t, a.ID, bookmarked[0].ID)

	on, err = db.ToggleListMembership(ctx, a.ID, list.ID)
	require.NoError(t, err)
	assert.False(t, on)
	ids, err := db.ListArticleIDs(ctx, list.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = db.ToggleListMembership(ctx, 999, list.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.ToggleListMembership(ctx, a.ID, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetListByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArticleFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	techID, err := db.CreateCategory(ctx, model.Category{Name: "Tech"})
	require.NoError(t, err)
	a := createFeed(t, db, "https://a.example.com/feed")
	b := createFeed(t, db, "https://b.example.com/feed")
	require.NoError(t, db.SetFeedCategory(ctx, a, techID))
	_, err = db.SyncFeed(ctx, a, articles("a1", "a2"), testNow)
	require.NoError(t, err)
	_, err = db.SyncFeed(ctx, b, articles("b1"), testNow)
	require.NoError(t, err)

	all, err := db.GetArticles(ctx, ArticleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.False(t, all[0].PublishedAt.Before(all[1].PublishedAt))
	assert.Equal(t, testNow, all[0].FeedAddedAt.UTC())

	tech, err := db.GetArticles(ctx, ArticleFilter{CategoryName: "Tech"})
	require.NoError(t, err)
	assert.Len(t, tech, 2)

	byFeed, err := db.GetArticles(ctx, ArticleFilter{FeedID: b})
	require.NoError(t, err)
	assert.Len(t, byFeed, 1)

	a1, err := db.GetArticleByUniqueID(ctx, a, "a1")
	require.NoError(t, err)
	require.NoError(t, db.MarkArticleRead(ctx, a1.ID, testNow))
	assert.ErrorIs(t, db.MarkArticleRead(ctx, 999, testNow), ErrNotFound)

	unread, err := db.GetArticles(ctx, ArticleFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	read, err := db.GetArticle(ctx, a1.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead())
}
