package order_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/access"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/catalog"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/config"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/customer"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/db"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order"
)

type pgFixture struct {
	pool       *pgxpool.Pool
	svc        order.Service
	saleID     uuid.UUID
	customerID uuid.UUID
	productID  uuid.UUID
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupPostgres runs against a real database and is skipped unless DB_HOST_TEST is set.
func setupPostgres(t *testing.T, stock int) *pgFixture {
	t.Helper()

	host := os.Getenv("DB_HOST_TEST")
	if host == "" {
		t.Skip("DB_HOST_TEST not set, skipping postgres integration test")
	}

	cfg := config.PostgresConfig{
		Host:            host,
		Port:            envOr("DB_PORT_TEST", "5432"),
		User:            envOr("DB_USER_TEST", "postgres"),
		Password:        envOr("DB_PASSWORD_TEST", "postgres"),
		DBName:          envOr("DB_NAME_TEST", "orders_test"),
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Minute,
		MigrationsPath:  "../../migrations",
	}

	ctx := context.Background()
	pg, err := db.New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, pg.Migrate())

	truncate := func() {
		_, err := pg.Pool.Exec(ctx, `TRUNCATE order_idempotency, order_items, orders, products, customers, profiles, categories CASCADE`)
		require.NoError(t, err)
	}
	truncate()

	sqlDB := pg.SQLX()
	t.Cleanup(func() {
		truncate()
		_ = sqlDB.Close()
		pg.Close()
	})

	f := &pgFixture{
		pool:       pg.Pool,
		saleID:     uuid.Must(uuid.NewV4()),
		customerID: uuid.Must(uuid.NewV4()),
		productID:  uuid.Must(uuid.NewV4()),
	}

	_, err = pg.Pool.Exec(ctx, `INSERT INTO profiles (id, full_name, role) VALUES ($1, 'Sam Sale', 'sale')`, f.saleID)
	require.NoError(t, err)
	_, err = pg.Pool.Exec(ctx, `INSERT INTO customers (id, code, name, assigned_sale_id) VALUES ($1, 'C-001', 'Green Farm', $2)`, f.customerID, f.saleID)
	require.NoError(t, err)
	_, err = pg.Pool.Exec(ctx, `INSERT INTO products (id, code, name, unit_price, stock_quantity) VALUES ($1, 'P-001', 'Layer feed 25kg', 10000, $2)`, f.productID, stock)
	require.NoError(t, err)

	f.svc = order.NewService(order.NewPostgresStore(pg.Pool), catalog.NewReader(sqlDB), customer.NewDirectory(sqlDB))
	return f
}

func (f *pgFixture) stock(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.pool.QueryRow(context.Background(), `SELECT stock_quantity FROM products WHERE id = $1`, f.productID).Scan(&n))
	return n
}

func (f *pgFixture) principal() *access.Principal {
	return &access.Principal{UserID: f.saleID, Role: access.RoleSale}
}

func TestPostgresStore_CreateReplayAndCancel(t *testing.T) {
	f := setupPostgres(t, 5)
	ctx := context.Background()

	in := order.CreateOrderInput{
		CustomerID:     f.customerID,
		Items:          []order.ItemRequest{{ProductID: f.productID, Quantity: 3}},
		IdempotencyKey: "pg-key-1",
	}

	res, err := f.svc.CreateOrder(ctx, f.principal(), in)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(30000), res.TotalAmount)
	assert.Equal(t, 2, f.stock(t))

	again, err := f.svc.CreateOrder(ctx, f.principal(), in)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.OrderID, again.OrderID)
	assert.Equal(t, 2, f.stock(t))

	in.Items[0].Quantity = 1
	_, err = f.svc.CreateOrder(ctx, f.principal(), in)
	assert.ErrorIs(t, err, order.ErrIdempotencyKeyConflict)

	got, err := f.svc.GetOrder(ctx, f.principal(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(10000), got.Items[0].PriceAtOrder)
	assert.Equal(t, f.saleID, got.SaleID)

	admin := &access.Principal{UserID: uuid.Must(uuid.NewV4()), Role: access.RoleAdmin}
	assert.Equal(t, order.StatusPending, got.Status)
	require.NoError(t, f.svc.SetOrderStatus(ctx, admin, res.OrderID, order.StatusShipping))
	assert.Equal(t, 2, f.stock(t), "shipping does not touch stock")
	require.NoError(t, f.svc.SetOrderStatus(ctx, admin, res.OrderID, order.StatusCancelled))
	assert.Equal(t, 5, f.stock(t), "cancelling a shipping order releases its stock")

	err = f.svc.SetOrderStatus(ctx, admin, res.OrderID, order.StatusPending)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestPostgresStore_InsufficientStockLeavesNoTrace(t *testing.T) {
	f := setupPostgres(t, 2)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, f.principal(), order.CreateOrderInput{
		CustomerID:     f.customerID,
		Items:          []order.ItemRequest{{ProductID: f.productID, Quantity: 3}},
		IdempotencyKey: "pg-key-short",
	})
	require.ErrorIs(t, err, order.ErrInsufficientStock)

	var orders, keys int
	require.NoError(t, f.pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&orders))
	require.NoError(t, f.pool.QueryRow(ctx, `SELECT count(*) FROM order_idempotency`).Scan(&keys))
	assert.Zero(t, orders)
	assert.Zero(t, keys)
	assert.Equal(t, 2, f.stock(t))
}

func TestPostgresStore_ConcurrentOrdersNeverOversell(t *testing.T) {
	f := setupPostgres(t, 3)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(ctx, f.principal(), order.CreateOrderInput{
				CustomerID: f.customerID,
				Items:      []order.ItemRequest{{ProductID: f.productID, Quantity: 3}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, order.ErrInsufficientStock):
				short++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, short)
	assert.Equal(t, 0, f.stock(t))
}

func TestPostgresStore_OppositeLineOrderDoesNotDeadlock(t *testing.T) {
	f := setupPostgres(t, 100)
	ctx := context.Background()

	second := uuid.Must(uuid.NewV4())
	_, err := f.pool.Exec(ctx, `INSERT INTO products (id, code, name, unit_price, stock_quantity) VALUES ($1, 'P-002', 'Broiler feed 25kg', 12000, 100)`, second)
	require.NoError(t, err)

	forward := []order.ItemRequest{{ProductID: f.productID, Quantity: 1}, {ProductID: second, Quantity: 1}}
	backward := []order.ItemRequest{{ProductID: second, Quantity: 1}, {ProductID: f.productID, Quantity: 1}}

	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		for _, items := range [][]order.ItemRequest{forward, backward} {
			wg.Add(1)
			go func(items []order.ItemRequest) {
				defer wg.Done()
				_, err := f.svc.CreateOrder(ctx, f.principal(), order.CreateOrderInput{CustomerID: f.customerID, Items: items})
				errs <- err
			}(items)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 100-2*rounds, f.stock(t))

	var n int
	require.NoError(t, f.pool.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, second).Scan(&n))
	assert.Equal(t, 100-2*rounds, n)
}
