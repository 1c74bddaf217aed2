package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

func (r *postgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("repository: panic recovered in transaction, rolling back")
			// Rollback must not depend on the request context, which may be the reason we are here.
			if rbErr := tx.Rollback(context.Background()); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Msg("repository: failed to commit transaction")
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(&postgresTx{tx: tx})
}

func (r *postgresStore) FindIdempotencyKey(ctx context.Context, key string) (*IdempotencyRecord, bool, error) {
	query := `
		SELECT idempotency_key, order_id, request_fingerprint, created_at
		FROM order_idempotency
		WHERE idempotency_key = $1
	`

	var rec IdempotencyRecord
	err := r.db.QueryRow(ctx, query, key).Scan(&rec.Key, &rec.OrderID, &rec.Fingerprint, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repository: failed to select idempotency key: %w", err)
	}
	return &rec, true, nil
}

func (r *postgresStore) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return selectOrder(ctx, r.db, id, false)
}

func (r *postgresStore) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	var (
		conds []string
		args  []any
	)
	if filter.CustomerID.Valid {
		args = append(args, filter.CustomerID.UUID)
		conds = append(conds, "customer_id = $"+strconv.Itoa(len(args)))
	}
	if filter.SaleID.Valid {
		args = append(args, filter.SaleID.UUID)
		conds = append(conds, "sale_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT id, customer_id, sale_id, status, payment_status, total_amount, created_at, updated_at FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID
	for rows.Next() {
		var o Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		o.Items = make([]LineItem, 0)
		ordersMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	items, err := selectItems(ctx, r.db, orderIDs)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if o, ok := ordersMap[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) SaveIdempotencyKey(ctx context.Context, rec IdempotencyRecord) error {
	query := `
		INSERT INTO order_idempotency (idempotency_key, order_id, request_fingerprint, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := t.tx.Exec(ctx, query, rec.Key, rec.OrderID, rec.Fingerprint, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("repository: failed to insert idempotency key: %w", err)
	}
	return nil
}

func (t *postgresTx) InsertOrder(ctx context.Context, o *Order) error {
	query := `
		INSERT INTO orders (id, customer_id, sale_id, status, payment_status, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query,
		o.ID,
		o.CustomerID,
		o.SaleID,
		string(o.Status),
		string(o.PaymentStatus),
		o.TotalAmount,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}
	return nil
}

func (t *postgresTx) InsertItems(ctx context.Context, items []LineItem) error {
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		rows = append(rows, []any{item.ID, item.OrderID, item.ProductID, item.Quantity, item.PriceAtOrder, item.CreatedAt})
	}

	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"order_items"},
		[]string{"id", "order_id", "product_id", "quantity", "price_at_order", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order items: %w", err)
	}
	return nil
}

func (t *postgresTx) ReserveStock(ctx context.Context, productID uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL AND stock_quantity >= $2
	`
	cmdTag, err := t.tx.Exec(ctx, query, productID, qty)
	if err != nil {
		return fmt.Errorf("repository: failed to reserve stock for product %s: %w", productID, err)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND deleted_at IS NULL)`, productID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("repository: failed to check product %s: %w", productID, err)
	}
	if !exists {
		return &ProductError{ProductID: productID, Err: ErrProductNotFound}
	}
	return &ProductError{ProductID: productID, Err: ErrInsufficientStock}
}

func (t *postgresTx) ReleaseStock(ctx context.Context, productID uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := t.tx.Exec(ctx, query, productID, qty); err != nil {
		return fmt.Errorf("repository: failed to release stock for product %s: %w", productID, err)
	}
	return nil
}

func (t *postgresTx) LockOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return selectOrder(ctx, t.tx, id, true)
}

func (t *postgresTx) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error {
	cmdTag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`, string(status), at, id)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *postgresTx) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status PaymentStatus, at time.Time) error {
	cmdTag, err := t.tx.Exec(ctx, `UPDATE orders SET payment_status = $1, updated_at = $2 WHERE id = $3`, string(status), at, id)
	if err != nil {
		return fmt.Errorf("repository: failed to update payment status %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func selectOrder(ctx context.Context, q queryer, id uuid.UUID, forUpdate bool) (*Order, error) {
	query := `
		SELECT id, customer_id, sale_id, status, payment_status, total_amount, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var o Order
	if err := scanOrder(q.QueryRow(ctx, query, id), &o); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	items, err := selectItems(ctx, q, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func selectItems(ctx context.Context, q queryer, orderIDs []uuid.UUID) ([]LineItem, error) {
	query := `
		SELECT id, order_id, product_id, quantity, price_at_order, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id
	`
	rows, err := q.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make([]LineItem, 0)
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.PriceAtOrder, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating order items: %w", err)
	}
	return items, nil
}

func scanOrder(row pgx.Row, o *Order) error {
	return row.Scan(
		&o.ID,
		&o.CustomerID,
		&o.SaleID,
		&o.Status,
		&o.PaymentStatus,
		&o.TotalAmount,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
}
