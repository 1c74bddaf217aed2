// Package access decides whether a principal may perform an order operation.
package access

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleSale      Role = "sale"
	RoleSaleAdmin Role = "sale_admin"
	RoleWarehouse Role = "warehouse"
	RoleCustomer  Role = "customer"
)

func (r Role) String() string {
	return string(r)
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSale, RoleSaleAdmin, RoleWarehouse, RoleCustomer:
		return true
	}
	return false
}

type Operation string

const (
	OpCreateOrder      Operation = "create-order"
	OpSetStatus        Operation = "set-status"
	OpSetPaymentStatus Operation = "set-payment-status"
	OpViewOrders       Operation = "view-orders"
)

func (o Operation) String() string {
	return string(o)
}

var (
	ErrUnauthorized = errors.New("no authenticated principal")
	ErrForbidden    = errors.New("role is not allowed to perform this operation")
)

// Principal is the authenticated caller. CustomerID is set only for the customer role.
type Principal struct {
	UserID     uuid.UUID     `json:"user_id"`
	Role       Role          `json:"role"`
	CustomerID uuid.NullUUID `json:"customer_id"`
}

var policy = map[Operation]map[Role]bool{
	OpCreateOrder: {
		RoleAdmin: true,
		RoleSale:  true,
	},
	OpSetStatus: {
		RoleAdmin: true,
		RoleSale:  true,
	},
	OpSetPaymentStatus: {
		RoleAdmin:     true,
		RoleSale:      true,
		RoleSaleAdmin: true,
	},
	OpViewOrders: {
		RoleAdmin:     true,
		RoleSale:      true,
		RoleSaleAdmin: true,
		RoleWarehouse: true,
		RoleCustomer:  true,
	},
}

// Authorize reports whether p may perform op. It never touches storage.
func Authorize(p *Principal, op Operation) error {
	if p == nil {
		return ErrUnauthorized
	}
	if !policy[op][p.Role] {
		return ErrForbidden
	}
	return nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
