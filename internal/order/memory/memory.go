// Package memory is an in-process order store. It also serves the catalog and
// customer directory so a whole ledger can run without Postgres.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/catalog"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/customer"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order"
)

// Store serializes units of work behind one lock and undoes every write
// of a unit of work that fails.
type Store struct {
	mu          sync.RWMutex
	products    map[uuid.UUID]catalog.Product
	customers   map[uuid.UUID]customer.Customer
	orders      map[uuid.UUID]order.Order
	idempotency map[string]order.IdempotencyRecord
}

var (
	_ order.Store        = (*Store)(nil)
	_ catalog.Reader     = (*Store)(nil)
	_ customer.Directory = (*Store)(nil)
)

func New() *Store {
	return &Store{
		products:    make(map[uuid.UUID]catalog.Product),
		customers:   make(map[uuid.UUID]customer.Customer),
		orders:      make(map[uuid.UUID]order.Order),
		idempotency: make(map[string]order.IdempotencyRecord),
	}
}

func (s *Store) PutProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) PutCustomer(c customer.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

// SetUnitPrice changes the catalog price. Existing orders keep their price.
func (s *Store) SetUnitPrice(id uuid.UUID, price int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return false
	}
	p.UnitPrice = price
	p.UpdatedAt = time.Now().UTC()
	s.products[id] = p
	return true
}

func (s *Store) Stock(id uuid.UUID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p.StockQuantity, ok
}

func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *Store) GetProduct(_ context.Context, id uuid.UUID) (*catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok || p.DeletedAt != nil {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetCustomer(_ context.Context, id uuid.UUID) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok || c.DeletedAt != nil {
		return nil, customer.ErrNotFound
	}
	return &c, nil
}

func (s *Store) FindIdempotencyKey(_ context.Context, key string) (*order.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idempotency[key]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrders(_ context.Context, filter order.ListFilter) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]order.Order, 0)
	for _, o := range s.orders {
		if filter.CustomerID.Valid && o.CustomerID != filter.CustomerID.UUID {
			continue
		}
		if filter.SaleID.Valid && o.SaleID != filter.SaleID.UUID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		matched = append(matched, *cloneOrder(o))
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return bytes.Compare(matched[i].ID.Bytes(), matched[j].ID.Bytes()) < 0
	})

	if filter.Offset >= len(matched) {
		return []order.Order{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{s: s}
	err := fn(tx)
	if err == nil {
		// A unit of work that outlived its deadline is not committed.
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
	}
	return err
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) SaveIdempotencyKey(_ context.Context, rec order.IdempotencyRecord) error {
	if _, ok := t.s.idempotency[rec.Key]; ok {
		return order.ErrDuplicateIdempotencyKey
	}
	t.s.idempotency[rec.Key] = rec
	t.undo = append(t.undo, func() { delete(t.s.idempotency, rec.Key) })
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *order.Order) error {
	stored := *cloneOrder(*o)
	stored.Items = nil
	t.s.orders[o.ID] = stored
	t.undo = append(t.undo, func() { delete(t.s.orders, o.ID) })
	return nil
}

func (t *memTx) InsertItems(_ context.Context, items []order.LineItem) error {
	for _, item := range items {
		o, ok := t.s.orders[item.OrderID]
		if !ok {
			return order.ErrOrderNotFound
		}
		prev := o
		o.Items = append(append([]order.LineItem(nil), o.Items...), item)
		t.s.orders[item.OrderID] = o
		t.undo = append(t.undo, func() { t.s.orders[prev.ID] = prev })
	}
	return nil
}

func (t *memTx) ReserveStock(_ context.Context, productID uuid.UUID, qty int) error {
	p, ok := t.s.products[productID]
	if !ok || p.DeletedAt != nil {
		return &order.ProductError{ProductID: productID, Err: order.ErrProductNotFound}
	}
	if p.StockQuantity < qty {
		return &order.ProductError{ProductID: productID, Err: order.ErrInsufficientStock}
	}

	prev := p
	p.StockQuantity -= qty
	t.s.products[productID] = p
	t.undo = append(t.undo, func() { t.s.products[productID] = prev })
	return nil
}

func (t *memTx) ReleaseStock(_ context.Context, productID uuid.UUID, qty int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return nil
	}
	prev := p
	p.StockQuantity += qty
	t.s.products[productID] = p
	t.undo = append(t.undo, func() { t.s.products[productID] = prev })
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) UpdateStatus(_ context.Context, id uuid.UUID, status order.Status, at time.Time) error {
	o, ok := t.s.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	prev := o
	o.Status = status
	o.UpdatedAt = at
	t.s.orders[id] = o
	t.undo = append(t.undo, func() { t.s.orders[id] = prev })
	return nil
}

func (t *memTx) UpdatePaymentStatus(_ context.Context, id uuid.UUID, status order.PaymentStatus, at time.Time) error {
	o, ok := t.s.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	prev := o
	o.PaymentStatus = status
	o.UpdatedAt = at
	t.s.orders[id] = o
	t.undo = append(t.undo, func() { t.s.orders[id] = prev })
	return nil
}

func cloneOrder(o order.Order) *order.Order {
	c := o
	if o.Items != nil {
		c.Items = append([]order.LineItem(nil), o.Items...)
	}
	return &c
}
