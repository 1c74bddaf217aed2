// Package customer reads the customer directory.
package customer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("customer not found")

type Customer struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	Code           string        `json:"code" db:"code"`
	Name           string        `json:"name" db:"name"`
	Phone          string        `json:"phone" db:"phone"`
	Address        string        `json:"address" db:"address"`
	AssignedSaleID uuid.NullUUID `json:"assigned_sale_id" db:"assigned_sale_id"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

type Directory interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
}

type postgresDirectory struct {
	db *sqlx.DB
}

func NewDirectory(db *sqlx.DB) Directory {
	return &postgresDirectory{db: db}
}

func (d *postgresDirectory) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	query := `
		SELECT id, code, name, phone, address, assigned_sale_id, deleted_at, created_at, updated_at
		FROM customers
		WHERE id = $1 AND deleted_at IS NULL
	`

	var c Customer
	if err := d.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("customer: failed to select customer %s: %w", id, err)
	}

	return &c, nil
}
