package order

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
)

// Store is the persistent side of the ledger. Every write goes through
// WithinTx: either everything fn did is committed or nothing is.
type Store interface {
	FindIdempotencyKey(ctx context.Context, key string) (*IdempotencyRecord, bool, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	SaveIdempotencyKey(ctx context.Context, rec IdempotencyRecord) error
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, items []LineItem) error
	// ReserveStock decrements stock only if at least qty units remain.
	ReserveStock(ctx context.Context, productID uuid.UUID, qty int) error
	ReleaseStock(ctx context.Context, productID uuid.UUID, qty int) error
	// LockOrder loads the order with its items and holds it until the unit of work ends.
	LockOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status PaymentStatus, at time.Time) error
}
