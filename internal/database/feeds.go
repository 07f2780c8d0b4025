package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/quickfeed/internal/model"
)

const feedSelect = `SELECT f.id, f.feed_url, f.site_url, f.title, f.description, f.added_at,
		f.last_synced_at, f.last_error, f.category_id, COALESCE(c.name, ''),
		(SELECT COUNT(*) FROM articles WHERE feed_id = f.id) AS article_count
	FROM feeds f
	LEFT JOIN categories c ON c.id = f.category_id`

// GetFeeds returns all feeds ordered by title.
func (db *DB) GetFeeds(ctx context.Context) ([]model.Feed, error) {
	return db.queryFeeds(ctx, feedSelect+" ORDER BY f.title")
}

// GetFeedsByCategoryID returns the feeds of one category ordered by title.
func (db *DB) GetFeedsByCategoryID(ctx context.Context, categoryID int64) ([]model.Feed, error) {
	return db.queryFeeds(ctx, feedSelect+" WHERE f.category_id = ? ORDER BY f.title", categoryID)
}

// GetFeedByID returns ErrNotFound when the feed does not exist.
func (db *DB) GetFeedByID(ctx context.Context, feedID int64) (*model.Feed, error) {
	return db.getFeed(ctx, db.conn, "f.id = ?", feedID)
}

// GetFeedByURL returns ErrNotFound when no feed has the given source URL.
func (db *DB) GetFeedByURL(ctx context.Context, feedURL string) (*model.Feed, error) {
	return db.getFeed(ctx, db.conn, "f.feed_url = ?", strings.TrimSpace(feedURL))
}

func (db *DB) getFeed(ctx context.Context, q querier, where string, arg any) (*model.Feed, error) {
	row := q.QueryRowContext(ctx, db.rebind(feedSelect+" WHERE "+where), arg)
	f, err := scanFeed(row)
	if err != nil {
		return nil, notFound(err, "feed", arg)
	}
	return f, nil
}

func (db *DB) queryFeeds(ctx context.Context, query string, args ...any) ([]model.Feed, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer db.closeRows(ctx, rows, "queryFeeds")

	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeed(s scanner) (*model.Feed, error) {
	var f model.Feed
	var addedAt, lastSynced sql.NullTime
	var categoryID sql.NullInt64
	if err := s.Scan(&f.ID, &f.FeedURL, &f.SiteURL, &f.Title, &f.Description, &addedAt,
		&lastSynced, &f.LastError, &categoryID, &f.CategoryName, &f.ArticleCount); err != nil {
		return nil, err
	}
	if addedAt.Valid {
		f.AddedAt = addedAt.Time
	}
	if lastSynced.Valid {
		t := lastSynced.Time
		f.LastSyncedAt = &t
	}
	if categoryID.Valid {
		id := categoryID.Int64
		f.CategoryID = &id
	}
	return &f, nil
}

// GetCategoriesWithFeeds groups feeds by category in display order and
// returns feeds without a category separately.
func (db *DB) GetCategoriesWithFeeds(ctx context.Context) ([]model.CategoryWithFeeds, []model.Feed, error) {
	categories, err := db.GetCategories(ctx)
	if err != nil {
		return nil, nil, err
	}
	feeds, err := db.GetFeeds(ctx)
	if err != nil {
		return nil, nil, err
	}

	byCategory := make(map[int64][]model.Feed)
	var uncategorized []model.Feed
	for _, f := range feeds {
		if f.CategoryID == nil {
			uncategorized = append(uncategorized, f)
			continue
		}
		byCategory[*f.CategoryID] = append(byCategory[*f.CategoryID], f)
	}

	result := make([]model.CategoryWithFeeds, 0, len(categories))
	for _, c := range categories {
		result = append(result, model.CategoryWithFeeds{
			Category: c,
			Feeds:    byCategory[c.ID],
		})
	}
	return result, uncategorized, nil
}

// CreateFeed adds a new feed. Returns the ID. Feed URLs are unique.
func (db *DB) CreateFeed(ctx context.Context, f model.Feed) (int64, error) {
	feedURL := strings.TrimSpace(f.FeedURL)
	if feedURL == "" {
		return 0, fmt.Errorf("feed URL is empty: %w", ErrInvalid)
	}
	title := strings.TrimSpace(f.Title)
	if title == "" {
		title = feedURL
	}
	addedAt := f.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}

	var id int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.getFeed(ctx, tx, "f.feed_url = ?", feedURL); err == nil {
			return fmt.Errorf("feed %s: %w", feedURL, ErrDuplicate)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if f.CategoryID != nil {
			if _, err := db.getCategory(ctx, tx, "id = ?", *f.CategoryID); err != nil {
				return err
			}
		}

		err := tx.QueryRowContext(ctx, db.rebind(`
			INSERT INTO feeds (feed_url, site_url, title, description, added_at, category_id)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`),
			feedURL, f.SiteURL, title, f.Description, addedAt.UTC(), f.CategoryID).Scan(&id)
		if isUniqueViolation(err) {
			return fmt.Errorf("feed %s: %w", feedURL, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("insert feed: %w", err)
		}
		return nil
	})
	return id, err
}

// SetFeedCategory moves a feed into a category.
func (db *DB) SetFeedCategory(ctx context.Context, feedID, categoryID int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.getFeed(ctx, tx, "f.id = ?", feedID); err != nil {
			return err
		}
		if _, err := db.getCategory(ctx, tx, "id = ?", categoryID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			db.rebind("UPDATE feeds SET category_id = ? WHERE id = ?"), categoryID, feedID)
		return err
	})
}

// UpdateFeedError records the last fetch failure for display.
// last_synced_at is left untouched.
func (db *DB) UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error {
	_, err := db.conn.ExecContext(ctx,
		db.rebind("UPDATE feeds SET last_error = ? WHERE id = ?"), errMsg, feedID)
	return err
}

// DeleteFeed removes a feed together with its articles and their list
// memberships.
func (db *DB) DeleteFeed(ctx context.Context, feedID int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.getFeed(ctx, tx, "f.id = ?", feedID); err != nil {
			return err
		}
		steps := []struct {
			what  string
			query string
		}{
			{"list memberships", "DELETE FROM article_lists WHERE article_id IN (SELECT id FROM articles WHERE feed_id = ?)"},
			{"articles", "DELETE FROM articles WHERE feed_id = ?"},
			{"feed", "DELETE FROM feeds WHERE id = ?"},
		}
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, db.rebind(step.query), feedID); err != nil {
				return fmt.Errorf("delete %s: %w", step.what, err)
			}
		}
		return nil
	})
}

// LastSyncedAt returns the most recent sync time across all feeds, or nil
// when no feed has been synced yet.
func (db *DB) LastSyncedAt(ctx context.Context) (*time.Time, error) {
	var t sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		"SELECT last_synced_at FROM feeds WHERE last_synced_at IS NOT NULL ORDER BY last_synced_at DESC LIMIT 1").
		Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}
