package order

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
)

var (
	ErrInvalidLineItems       = errors.New("invalid line items")
	ErrProductNotFound        = errors.New("product not found")
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidTransition      = errors.New("invalid order status transition")
	ErrUnknownStatus          = errors.New("unknown status")
	ErrIdempotencyKeyConflict = errors.New("idempotency key reused with a different request")
	ErrPersistence            = errors.New("persistence failure")

	// ErrDuplicateIdempotencyKey is returned by Tx.SaveIdempotencyKey when another
	// request already holds the key.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")

	ErrCacheMiss = errors.New("order cache miss")
)

// ProductError ties ErrProductNotFound or ErrInsufficientStock to a product.
type ProductError struct {
	ProductID uuid.UUID
	Err       error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("%v: product %s", e.Err, e.ProductID)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

type LineItemError struct {
	Index  int
	Reason string
}

func (e *LineItemError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: %s", ErrInvalidLineItems, e.Reason)
	}
	return fmt.Sprintf("%v: item %d: %s", ErrInvalidLineItems, e.Index, e.Reason)
}

func (e *LineItemError) Unwrap() error {
	return ErrInvalidLineItems
}

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v from %s to %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
