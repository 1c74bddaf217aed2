// Package catalog reads products and their current price and stock.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("product not found")

type Product struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Code          string        `json:"code" db:"code"`
	Name          string        `json:"name" db:"name"`
	UnitPrice     int64         `json:"unit_price" db:"unit_price"` // minor units
	StockQuantity int           `json:"stock_quantity" db:"stock_quantity"`
	CategoryID    uuid.NullUUID `json:"category_id" db:"category_id"`
	DeletedAt     *time.Time    `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

type Reader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
}

type postgresReader struct {
	db *sqlx.DB
}

func NewReader(db *sqlx.DB) Reader {
	return &postgresReader{db: db}
}

// GetProduct returns ErrNotFound for missing and soft-deleted products.
func (r *postgresReader) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, code, name, unit_price, stock_quantity, category_id, deleted_at, created_at, updated_at
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
	`

	var p Product
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: failed to select product %s: %w", id, err)
	}

	return &p, nil
}
