// Package catalog looks up items by ID. Item content is opaque to the
// scheduler; the catalog exists so review submissions can reject unknown
// items before touching scheduler state.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Item is one catalog entry. The payload shape depends on kind and is never
// interpreted here.
type Item struct {
	ID        int64           `db:"id"`
	OrgID     int64           `db:"org_id"`
	Kind      string          `db:"kind"`
	Payload   json.RawMessage `db:"payload"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Catalog defines item lookups.
type Catalog interface {
	// Get returns the item, or nil when no item has that ID.
	Get(ctx context.Context, itemID int64) (*Item, error)

	// Exists reports whether the item exists within the org.
	Exists(ctx context.Context, orgID, itemID int64) (bool, error)
}

// DBCatalog implements Catalog using MySQL.
type DBCatalog struct {
	db *sqlx.DB
}

// NewDBCatalog creates a new DBCatalog.
func NewDBCatalog(db *sqlx.DB) *DBCatalog {
	return &DBCatalog{db: db}
}

// Get loads an item by ID.
func (c *DBCatalog) Get(ctx context.Context, itemID int64) (*Item, error) {
	var item Item
	err := c.db.GetContext(ctx, &item,
		"SELECT id, org_id, kind, payload, created_at, updated_at FROM items WHERE id = ?",
		itemID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load item(%d): %w", itemID, err)
	}
	return &item, nil
}

// Exists checks item membership without loading the payload.
func (c *DBCatalog) Exists(ctx context.Context, orgID, itemID int64) (bool, error) {
	var one int
	err := c.db.GetContext(ctx, &one,
		"SELECT 1 FROM items WHERE id = ? AND org_id = ?",
		itemID, orgID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check item(%d): %w", itemID, err)
	}
	return true, nil
}
