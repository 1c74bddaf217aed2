package order

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusShipping  Status = "shipping"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

func (p PaymentStatus) String() string {
	return string(p)
}

func (p PaymentStatus) Valid() bool {
	return p == PaymentUnpaid || p == PaymentPaid
}

// LineItem is immutable once written; PriceAtOrder is the unit price at creation time.
type LineItem struct {
	ID           uuid.UUID `json:"id" db:"id"`
	OrderID      uuid.UUID `json:"order_id" db:"order_id"`
	ProductID    uuid.UUID `json:"product_id" db:"product_id"`
	Quantity     int       `json:"quantity" db:"quantity"`
	PriceAtOrder int64     `json:"price_at_order" db:"price_at_order"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func (li LineItem) Subtotal() int64 {
	return li.PriceAtOrder * int64(li.Quantity)
}

type Order struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	CustomerID    uuid.UUID     `json:"customer_id" db:"customer_id"`
	SaleID        uuid.UUID     `json:"sale_id" db:"sale_id"`
	Status        Status        `json:"status" db:"status"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	TotalAmount   int64         `json:"total_amount" db:"total_amount"` // minor units
	Items         []LineItem    `json:"items" db:"-"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// ItemRequest is one requested line before prices are resolved.
type ItemRequest struct {
	ProductID uuid.UUID
	Quantity  int
}

type CreateOrderInput struct {
	CustomerID     uuid.UUID
	Items          []ItemRequest
	IdempotencyKey string
}

type CreateResult struct {
	OrderID     uuid.UUID
	TotalAmount int64
	Status      Status
	// Replayed is set when the idempotency key matched an existing order.
	Replayed bool
}

type IdempotencyRecord struct {
	Key         string
	OrderID     uuid.UUID
	Fingerprint string
	CreatedAt   time.Time
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type ListFilter struct {
	CustomerID uuid.NullUUID
	SaleID     uuid.NullUUID
	Status     Status
	Limit      int
	Offset     int
}

func (f *ListFilter) normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
