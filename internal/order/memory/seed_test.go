package memory_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/access"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order/memory"
)

const seedYAML = `
products:
  - id: 6f1c2a9e-3b1d-4c55-9a0e-1d2f3a4b5c6d
    code: P-001
    name: Layer feed 25kg
    unit_price: 10000
    stock_quantity: 5
customers:
  - id: c5a1d8f7-7f55-4bd4-9d78-7f0d0f2a3b11
    code: C-001
    name: Green Farm
    assigned_sale_id: 0a3d9a4e-1b1f-4c0a-8d3e-2f9c4a5b6c7d
`

func TestStore_LoadSeedServesOrders(t *testing.T) {
	store := memory.New()
	products, customers, err := store.LoadSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	assert.Equal(t, 1, products)
	assert.Equal(t, 1, customers)

	productID := uuid.Must(uuid.FromString("6f1c2a9e-3b1d-4c55-9a0e-1d2f3a4b5c6d"))
	customerID := uuid.Must(uuid.FromString("c5a1d8f7-7f55-4bd4-9d78-7f0d0f2a3b11"))
	saleID := uuid.Must(uuid.FromString("0a3d9a4e-1b1f-4c0a-8d3e-2f9c4a5b6c7d"))

	svc := order.NewService(store, store, store)
	admin := &access.Principal{UserID: uuid.Must(uuid.NewV4()), Role: access.RoleAdmin}
	res, err := svc.CreateOrder(context.Background(), admin, order.CreateOrderInput{
		CustomerID: customerID,
		Items:      []order.ItemRequest{{ProductID: productID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), res.TotalAmount)

	got, err := store.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, saleID, got.SaleID)
	assert.Equal(t, 3, stock(t, store, productID))
}

func TestStore_LoadSeedRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad_product_id", "products:\n  - id: nope\n    name: x\n", "invalid id"},
		{"negative_stock", "products:\n  - id: 6f1c2a9e-3b1d-4c55-9a0e-1d2f3a4b5c6d\n    stock_quantity: -1\n", "must not be negative"},
		{"bad_sale_id", "customers:\n  - id: c5a1d8f7-7f55-4bd4-9d78-7f0d0f2a3b11\n    assigned_sale_id: bob\n", "assigned_sale_id"},
		{"not_yaml", "products: [", "decode seed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			_, _, err := store.LoadSeed(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStore_LoadSeedEmptyFile(t *testing.T) {
	products, customers, err := memory.New().LoadSeed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, products)
	assert.Zero(t, customers)
}

func TestStore_ShippedSeedFixtureLoads(t *testing.T) {
	f, err := os.Open("../../../configs/seed.yaml")
	require.NoError(t, err)
	defer f.Close()

	products, customers, err := memory.New().LoadSeed(f)
	require.NoError(t, err)
	assert.NotZero(t, products)
	assert.NotZero(t, customers)
}
