package access_test

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/access"
)

func TestAuthorize_Matrix(t *testing.T) {
	tests := []struct {
		role    access.Role
		op      access.Operation
		allowed bool
	}{
		{access.RoleAdmin, access.OpCreateOrder, true},
		{access.RoleSale, access.OpCreateOrder, true},
		{access.RoleSaleAdmin, access.OpCreateOrder, false},
		{access.RoleWarehouse, access.OpCreateOrder, false},
		{access.RoleCustomer, access.OpCreateOrder, false},

		{access.RoleAdmin, access.OpSetStatus, true},
		{access.RoleSale, access.OpSetStatus, true},
		{access.RoleSaleAdmin, access.OpSetStatus, false},
		{access.RoleWarehouse, access.OpSetStatus, false},
		{access.RoleCustomer, access.OpSetStatus, false},

		{access.RoleAdmin, access.OpSetPaymentStatus, true},
		{access.RoleSale, access.OpSetPaymentStatus, true},
		{access.RoleSaleAdmin, access.OpSetPaymentStatus, true},
		{access.RoleWarehouse, access.OpSetPaymentStatus, false},
		{access.RoleCustomer, access.OpSetPaymentStatus, false},

		{access.RoleWarehouse, access.OpViewOrders, true},
		{access.RoleCustomer, access.OpViewOrders, true},

		{access.Role("guest"), access.OpSetPaymentStatus, false},
	}

	for _, tt := range tests {
		t.Run(tt.role.String()+"/"+tt.op.String(), func(t *testing.T) {
			p := &access.Principal{UserID: uuid.Must(uuid.NewV4()), Role: tt.role}

			err := access.Authorize(p, tt.op)
			if tt.allowed {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, access.ErrForbidden)
		})
	}
}

func TestAuthorize_NoPrincipal(t *testing.T) {
	for _, op := range []access.Operation{access.OpCreateOrder, access.OpSetStatus, access.OpSetPaymentStatus, access.OpViewOrders} {
		err := access.Authorize(nil, op)
		require.ErrorIs(t, err, access.ErrUnauthorized)
		assert.NotErrorIs(t, err, access.ErrForbidden)
	}
}

func TestPrincipalContext(t *testing.T) {
	assert.Nil(t, access.PrincipalFrom(context.Background()))

	p := &access.Principal{UserID: uuid.Must(uuid.NewV4()), Role: access.RoleSale}
	ctx := access.WithPrincipal(context.Background(), p)

	assert.Same(t, p, access.PrincipalFrom(ctx))
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, access.RoleSaleAdmin.Valid())
	assert.False(t, access.Role("root").Valid())
}
