package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bryan-buckman/quickfeed/internal/model"
)

const categoryColumns = "id, name, description, order_number"

// GetCategories returns all categories in display order.
func (db *DB) GetCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+categoryColumns+" FROM categories ORDER BY order_number, name")
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer db.closeRows(ctx, rows, "GetCategories")

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.OrderNumber); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategoryByID returns ErrNotFound when the category does not exist.
func (db *DB) GetCategoryByID(ctx context.Context, categoryID int64) (*model.Category, error) {
	return db.getCategory(ctx, db.conn, "id = ?", categoryID)
}

// GetCategoryByName returns ErrNotFound when the category does not exist.
func (db *DB) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	return db.getCategory(ctx, db.conn, "name = ?", name)
}

func (db *DB) getCategory(ctx context.Context, q querier, where string, arg any) (*model.Category, error) {
	var c model.Category
	err := q.QueryRowContext(ctx,
		db.rebind("SELECT "+categoryColumns+" FROM categories WHERE "+where), arg).
		Scan(&c.ID, &c.Name, &c.Description, &c.OrderNumber)
	if err != nil {
		return nil, notFound(err, "category", arg)
	}
	return &c, nil
}

// CreateCategory adds a category. Names are unique.
func (db *DB) CreateCategory(ctx context.Context, c model.Category) (int64, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return 0, fmt.Errorf("category name is empty: %w", ErrInvalid)
	}

	var id int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = db.insertCategory(ctx, tx, name, c.Description, c.OrderNumber)
		return err
	})
	return id, err
}

func (db *DB) insertCategory(ctx context.Context, q querier, name, description string, order int) (int64, error) {
	if _, err := db.getCategory(ctx, q, "name = ?", name); err == nil {
		return 0, fmt.Errorf("category %q: %w", name, ErrDuplicate)
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	var id int64
	err := q.QueryRowContext(ctx,
		db.rebind("INSERT INTO categories (name, description, order_number) VALUES (?, ?, ?) RETURNING id"),
		name, description, order).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("category %q: %w", name, ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}
	return id, nil
}

// GetOrCreateCategory finds a category by name, or creates it with an
// empty description at order 0.
func (db *DB) GetOrCreateCategory(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("category name is empty: %w", ErrInvalid)
	}

	var id int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		c, err := db.getCategory(ctx, tx, "name = ?", name)
		if err == nil {
			id = c.ID
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		id, err = db.insertCategory(ctx, tx, name, "", 0)
		return err
	})
	return id, err
}

// UpdateCategory renames and reorders a category.
func (db *DB) UpdateCategory(ctx context.Context, c model.Category) error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return fmt.Errorf("category name is empty: %w", ErrInvalid)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.getCategory(ctx, tx, "id = ?", c.ID); err != nil {
			return err
		}
		existing, err := db.getCategory(ctx, tx, "name = ?", name)
		if err == nil && existing.ID != c.ID {
			return fmt.Errorf("category %q: %w", name, ErrDuplicate)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		_, err = tx.ExecContext(ctx,
			db.rebind("UPDATE categories SET name = ?, description = ?, order_number = ? WHERE id = ?"),
			name, c.Description, c.OrderNumber, c.ID)
		if isUniqueViolation(err) {
			return fmt.Errorf("category %q: %w", name, ErrDuplicate)
		}
		return err
	})
}

// DeleteCategory moves every feed of the category into the default
// category and then removes the category. It returns the number of
// reassigned feeds. Nothing changes when the default category is missing.
func (db *DB) DeleteCategory(ctx context.Context, categoryID int64) (int, error) {
	var moved int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.getCategory(ctx, tx, "id = ?", categoryID); err != nil {
			return err
		}

		def, err := db.getCategory(ctx, tx, "name = ?", model.DefaultCategoryName)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete category %d: %w", categoryID, ErrDefaultCategoryMissing)
		}
		if err != nil {
			return err
		}
		if def.ID == categoryID {
			return fmt.Errorf("delete category %q: %w", def.Name, ErrProtected)
		}

		res, err := tx.ExecContext(ctx,
			db.rebind("UPDATE feeds SET category_id = ? WHERE category_id = ?"), def.ID, categoryID)
		if err != nil {
			return fmt.Errorf("reassign feeds: %w", err)
		}
		n, _ := res.RowsAffected()
		moved = int(n)

		if _, err := tx.ExecContext(ctx,
			db.rebind("DELETE FROM categories WHERE id = ?"), categoryID); err != nil {
			return fmt.Errorf("delete category: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}
