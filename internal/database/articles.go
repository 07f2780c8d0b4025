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

const articleSelect = `SELECT a.id, a.feed_id, a.unique_id, a.title, a.link, a.description,
		a.published_at, a.added_at, a.read_at, f.title, f.added_at
	FROM articles a
	JOIN feeds f ON f.id = a.feed_id`

// SyncFeed commits one feed's ingestion pass: articles whose
// (feed, unique id) pair is already stored are skipped, the rest are
// inserted, and the feed is marked as synced at syncedAt. It returns the
// number of inserted articles.
func (db *DB) SyncFeed(ctx context.Context, feedID int64, articles []model.Article, syncedAt time.Time) (int, error) {
	inserted := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		if _, err := db.getFeed(ctx, tx, "f.id = ?", feedID); err != nil {
			return err
		}

		insert := db.rebind(`
			INSERT INTO articles (feed_id, unique_id, title, link, description, published_at, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (feed_id, unique_id) DO NOTHING`)
		for _, a := range articles {
			exists, err := db.articleExists(ctx, tx, feedID, a.UniqueID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			addedAt := a.AddedAt
			if addedAt.IsZero() {
				addedAt = syncedAt
			}
			res, err := tx.ExecContext(ctx, insert,
				feedID, a.UniqueID, a.Title, a.Link, a.Description, a.PublishedAt.UTC(), addedAt.UTC())
			if isUniqueViolation(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert article %s: %w", a.UniqueID, err)
			}
			// Zero rows affected means a concurrent writer stored it first.
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}

		if _, err := tx.ExecContext(ctx,
			db.rebind("UPDATE feeds SET last_synced_at = ?, last_error = '' WHERE id = ?"),
			syncedAt.UTC(), feedID); err != nil {
			return fmt.Errorf("mark feed synced: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (db *DB) articleExists(ctx context.Context, q querier, feedID int64, uniqueID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		db.rebind("SELECT 1 FROM articles WHERE feed_id = ? AND unique_id = ?"), feedID, uniqueID).
		Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup article: %w", err)
	}
	return true, nil
}

// GetArticle returns ErrNotFound when the article does not exist.
func (db *DB) GetArticle(ctx context.Context, articleID int64) (*model.Article, error) {
	return db.getArticle(ctx, "a.id = ?", articleID)
}

// GetArticleByUniqueID looks up an article by its dedup key.
func (db *DB) GetArticleByUniqueID(ctx context.Context, feedID int64, uniqueID string) (*model.Article, error) {
	return db.getArticle(ctx, "a.feed_id = ? AND a.unique_id = ?", feedID, uniqueID)
}

func (db *DB) getArticle(ctx context.Context, where string, args ...any) (*model.Article, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(articleSelect+" WHERE "+where), args...)
	a, err := scanArticle(row)
	if err != nil {
		return nil, notFound(err, "article", args[len(args)-1])
	}
	return a, nil
}

// GetArticles returns the articles matching filter, newest first. Callers
// apply ranking on top of this order.
func (db *DB) GetArticles(ctx context.Context, filter ArticleFilter) ([]model.Article, error) {
	query := articleSelect
	var (
		where []string
		args  []any
	)
	if filter.CategoryName != "" {
		query += " JOIN categories c ON c.id = f.category_id"
		where = append(where, "c.name = ?")
		args = append(args, filter.CategoryName)
	}
	if filter.ListID != 0 {
		query += " JOIN article_lists al ON al.article_id = a.id"
		where = append(where, "al.list_id = ?")
		args = append(args, filter.ListID)
	}
	if filter.FeedID != 0 {
		where = append(where, "a.feed_id = ?")
		args = append(args, filter.FeedID)
	}
	if filter.UnreadOnly {
		where = append(where, "a.read_at IS NULL")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.published_at DESC, a.id"

	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer db.closeRows(ctx, rows, "GetArticles")

	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

func scanArticle(s scanner) (*model.Article, error) {
	var a model.Article
	var publishedAt, addedAt, readAt, feedAddedAt sql.NullTime
	if err := s.Scan(&a.ID, &a.FeedID, &a.UniqueID, &a.Title, &a.Link, &a.Description,
		&publishedAt, &addedAt, &readAt, &a.FeedTitle, &feedAddedAt); err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		a.PublishedAt = publishedAt.Time
	}
	if addedAt.Valid {
		a.AddedAt = addedAt.Time
	}
	if readAt.Valid {
		t := readAt.Time
		a.ReadAt = &t
	}
	if feedAddedAt.Valid {
		a.FeedAddedAt = feedAddedAt.Time
	}
	return &a, nil
}

// CountArticles returns the number of stored articles of a feed.
func (db *DB) CountArticles(ctx context.Context, feedID int64) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		db.rebind("SELECT COUNT(*) FROM articles WHERE feed_id = ?"), feedID).Scan(&n)
	return n, err
}

// MarkArticleRead sets the read timestamp of an article.
func (db *DB) MarkArticleRead(ctx context.Context, articleID int64, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		db.rebind("UPDATE articles SET read_at = ? WHERE id = ?"), at.UTC(), articleID)
	if err != nil {
		return fmt.Errorf("mark article read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("article %d: %w", articleID, ErrNotFound)
	}
	return nil
}
