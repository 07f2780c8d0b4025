package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bryan-buckman/quickfeed/internal/model"
)

// GetListByID returns ErrNotFound when the list does not exist.
func (db *DB) GetListByID(ctx context.Context, listID int64) (*model.List, error) {
	return db.getList(ctx, db.conn, "id = ?", listID)
}

// GetListByName returns ErrNotFound when the list does not exist.
func (db *DB) GetListByName(ctx context.Context, name string) (*model.List, error) {
	return db.getList(ctx, db.conn, "name = ?", name)
}

func (db *DB) getList(ctx context.Context, q querier, where string, arg any) (*model.List, error) {
	var l model.List
	err := q.QueryRowContext(ctx,
		db.rebind("SELECT id, name, description, order_number FROM lists WHERE "+where), arg).
		Scan(&l.ID, &l.Name, &l.Description, &l.OrderNumber)
	if err != nil {
		return nil, notFound(err, "list", arg)
	}
	return &l, nil
}

// ListArticleIDs returns the set of article IDs that belong to a list.
func (db *DB) ListArticleIDs(ctx context.Context, listID int64) (map[int64]struct{}, error) {
	rows, err := db.conn.QueryContext(ctx,
		db.rebind("SELECT article_id FROM article_lists WHERE list_id = ?"), listID)
	if err != nil {
		return nil, fmt.Errorf("query list articles: %w", err)
	}
	defer db.closeRows(ctx, rows, "ListArticleIDs")

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan list article: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ToggleListMembership adds the article to the list, or removes it when
// it is already a member. It returns whether the article is a member
// afterwards.
func (db *DB) ToggleListMembership(ctx context.Context, articleID, listID int64) (bool, error) {
	var member bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, db.rebind("SELECT 1 FROM articles WHERE id = ?"), articleID).Scan(&one)
		if err != nil {
			return notFound(err, "article", articleID)
		}
		if _, err := db.getList(ctx, tx, "id = ?", listID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			db.rebind("DELETE FROM article_lists WHERE article_id = ? AND list_id = ?"), articleID, listID)
		if err != nil {
			return fmt.Errorf("remove membership: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			member = false
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			db.rebind("INSERT INTO article_lists (article_id, list_id, created_at) VALUES (?, ?, ?)"),
			articleID, listID, time.Now().UTC()); err != nil {
			return fmt.Errorf("add membership: %w", err)
		}
		member = true
		return nil
	})
	return member, err
}
