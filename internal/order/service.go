package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/access"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/catalog"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/customer"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/notify"
)

const DefaultTimeout = 5 * time.Second

type Service interface {
	CreateOrder(ctx context.Context, p *access.Principal, in CreateOrderInput) (*CreateResult, error)
	SetOrderStatus(ctx context.Context, p *access.Principal, orderID uuid.UUID, target Status) error
	SetPaymentStatus(ctx context.Context, p *access.Principal, orderID uuid.UUID, target PaymentStatus) error
	GetOrder(ctx context.Context, p *access.Principal, orderID uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, p *access.Principal, filter ListFilter) ([]Order, error)
}

type Notifier interface {
	Dispatch(ev notify.Event)
}

// Cache holds order details between reads. Get returns ErrCacheMiss when empty.
// Invalidate drops the entry and must reject a later Set of any version
// updated before at.
type Cache interface {
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	Set(ctx context.Context, o *Order) error
	Invalidate(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Metrics interface {
	ObserveLedger(operation, outcome string)
}

type service struct {
	store     Store
	products  catalog.Reader
	customers customer.Directory
	notifier  Notifier
	cache     Cache
	metrics   Metrics
	tracer    trace.Tracer
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*service)

func WithNotifier(n Notifier) Option {
	return func(s *service) { s.notifier = n }
}

func WithCache(c Cache) Option {
	return func(s *service) { s.cache = c }
}

func WithMetrics(m Metrics) Option {
	return func(s *service) { s.metrics = m }
}

func WithTimeout(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func NewService(store Store, products catalog.Reader, customers customer.Directory, opts ...Option) Service {
	s := &service{
		store:     store,
		products:  products,
		customers: customers,
		tracer:    otel.Tracer("github.com/thanhtrang16490/appejvtest-sub004/internal/order"),
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateOrder(ctx context.Context, p *access.Principal, in CreateOrderInput) (result *CreateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder", trace.WithAttributes(
		attribute.String("customer.id", in.CustomerID.String()),
		attribute.Int("order.items", len(in.Items)),
	))
	defer func() { s.finish(span, "create_order", result, err) }()

	if err := access.Authorize(p, access.OpCreateOrder); err != nil {
		log.Warn().Err(err).Stringer("customer_id", in.CustomerID).Msg("service: create order denied")
		return nil, err
	}

	if err := validateItems(in.Items); err != nil {
		log.Warn().Err(err).Stringer("customer_id", in.CustomerID).Msg("service: invalid line items")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fingerprint := Fingerprint(in)
	if in.IdempotencyKey != "" {
		replayed, err := s.replay(ctx, p, in.IdempotencyKey, fingerprint)
		if err != nil || replayed != nil {
			return replayed, err
		}
	}

	cust, err := s.customers.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			log.Warn().Stringer("customer_id", in.CustomerID).Msg("service: customer not found")
			return nil, ErrCustomerNotFound
		}
		return nil, persistence("get customer", err)
	}

	orderID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order ID: %w", err)
	}

	now := s.now().UTC()
	items := make([]LineItem, 0, len(in.Items))
	var total int64
	for _, req := range in.Items {
		product, err := s.products.GetProduct(ctx, req.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				log.Warn().Stringer("product_id", req.ProductID).Msg("service: product not found")
				return nil, &ProductError{ProductID: req.ProductID, Err: ErrProductNotFound}
			}
			return nil, persistence("get product", err)
		}

		itemID, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("service: failed to generate order item ID: %w", err)
		}

		item := LineItem{
			ID:           itemID,
			OrderID:      orderID,
			ProductID:    product.ID,
			Quantity:     req.Quantity,
			PriceAtOrder: product.UnitPrice,
			CreatedAt:    now,
		}
		if total, err = addSubtotal(total, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	o := &Order{
		ID:            orderID,
		CustomerID:    cust.ID,
		SaleID:        salespersonFor(p, cust),
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		TotalAmount:   total,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		if in.IdempotencyKey != "" {
			// First write of the unit of work, so a concurrent retry waits on the key.
			rec := IdempotencyRecord{Key: in.IdempotencyKey, OrderID: o.ID, Fingerprint: fingerprint, CreatedAt: now}
			if err := tx.SaveIdempotencyKey(ctx, rec); err != nil {
				return err
			}
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, o.Items); err != nil {
			return err
		}
		return reserveStock(ctx, tx, o.Items)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			log.Info().Str("idempotency_key", in.IdempotencyKey).Msg("service: idempotency key taken by concurrent request")
			replayed, rerr := s.replay(ctx, p, in.IdempotencyKey, fingerprint)
			if rerr != nil || replayed != nil {
				return replayed, rerr
			}
		}
		return nil, s.classify("create order", err)
	}

	log.Info().
		Stringer("order_id", o.ID).
		Stringer("customer_id", o.CustomerID).
		Stringer("sale_id", o.SaleID).
		Int64("total_amount", o.TotalAmount).
		Msg("service: order created successfully")

	s.dispatch(notify.EventOrderCreated, o)

	return &CreateResult{OrderID: o.ID, TotalAmount: o.TotalAmount, Status: o.Status}, nil
}

// replay returns nil, nil when key has not been used yet.
// A key held by an order outside the principal's scope is reported as a
// conflict so the other order is never revealed.
func (s *service) replay(ctx context.Context, p *access.Principal, key, fingerprint string) (*CreateResult, error) {
	rec, found, err := s.store.FindIdempotencyKey(ctx, key)
	if err != nil {
		return nil, persistence("find idempotency key", err)
	}
	if !found {
		return nil, nil
	}

	if rec.Fingerprint != fingerprint {
		log.Warn().Str("idempotency_key", key).Stringer("order_id", rec.OrderID).Msg("service: idempotency key reused with a different request")
		return nil, ErrIdempotencyKeyConflict
	}

	existing, err := s.store.GetOrder(ctx, rec.OrderID)
	if err != nil {
		return nil, s.classify("get replayed order", err)
	}
	if !visibleTo(p, existing) {
		log.Warn().Str("idempotency_key", key).Stringer("user_id", p.UserID).Msg("service: idempotency key belongs to an order outside principal scope")
		return nil, ErrIdempotencyKeyConflict
	}

	log.Info().Str("idempotency_key", key).Stringer("order_id", existing.ID).Msg("service: idempotent replay")
	return &CreateResult{OrderID: existing.ID, TotalAmount: existing.TotalAmount, Status: existing.Status, Replayed: true}, nil
}

func (s *service) SetOrderStatus(ctx context.Context, p *access.Principal, orderID uuid.UUID, target Status) (err error) {
	ctx, span := s.tracer.Start(ctx, "order.SetOrderStatus", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.target_status", target.String()),
	))
	defer func() { s.finish(span, "set_status", nil, err) }()

	if err := access.Authorize(p, access.OpSetStatus); err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: set status denied")
		return err
	}

	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var updated *Order
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		if !CanTransition(current.Status, target) {
			log.Warn().
				Stringer("order_id", orderID).
				Stringer("current_status", current.Status).
				Stringer("new_status", target).
				Msg("service: invalid status transition attempt")
			return &TransitionError{From: current.Status, To: target}
		}

		now := s.now().UTC()
		if err := tx.UpdateStatus(ctx, orderID, target, now); err != nil {
			return err
		}

		// Only pending and shipping orders hold reserved stock.
		if target == StatusCancelled && current.Status != StatusDraft {
			if err := releaseStock(ctx, tx, current.Items); err != nil {
				return err
			}
		}

		current.Status = target
		current.UpdatedAt = now
		updated = current
		return nil
	})
	if err != nil {
		return s.classify("set order status", err)
	}

	log.Info().Stringer("order_id", orderID).Stringer("new_status", target).Msg("service: order status updated successfully")
	s.evict(ctx, updated)
	s.dispatch(notify.EventOrderStatusChanged, updated)
	return nil
}

func (s *service) SetPaymentStatus(ctx context.Context, p *access.Principal, orderID uuid.UUID, target PaymentStatus) (err error) {
	ctx, span := s.tracer.Start(ctx, "order.SetPaymentStatus", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.target_payment_status", target.String()),
	))
	defer func() { s.finish(span, "set_payment_status", nil, err) }()

	if err := access.Authorize(p, access.OpSetPaymentStatus); err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: set payment status denied")
		return err
	}

	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var updated *Order
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if current.PaymentStatus == target {
			return nil
		}

		now := s.now().UTC()
		if err := tx.UpdatePaymentStatus(ctx, orderID, target, now); err != nil {
			return err
		}
		current.PaymentStatus = target
		current.UpdatedAt = now
		updated = current
		return nil
	})
	if err != nil {
		return s.classify("set payment status", err)
	}

	if updated == nil {
		log.Info().Stringer("order_id", orderID).Stringer("payment_status", target).Msg("service: payment status is already set, no update needed")
		return nil
	}

	log.Info().Stringer("order_id", orderID).Stringer("payment_status", target).Msg("service: payment status updated successfully")
	s.evict(ctx, updated)
	s.dispatch(notify.EventOrderPaymentStatusChanged, updated)
	return nil
}

func (s *service) GetOrder(ctx context.Context, p *access.Principal, orderID uuid.UUID) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.GetOrder", trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer func() { s.finish(span, "get_order", nil, err) }()

	if err := access.Authorize(p, access.OpViewOrders); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !visibleTo(p, o) {
		log.Warn().Stringer("order_id", orderID).Stringer("user_id", p.UserID).Msg("service: order outside principal scope")
		return nil, ErrOrderNotFound
	}

	return o, nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, orderID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: order cache read failed")
		}
	}

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.classify("get order", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, o); err != nil {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: order cache write failed")
		}
	}
	return o, nil
}

// evict runs after commit; the notify hook evicts a second time.
func (s *service) evict(ctx context.Context, o *Order) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, o.ID, o.UpdatedAt); err != nil {
		log.Warn().Err(err).Stringer("order_id", o.ID).Msg("service: order cache eviction failed")
	}
}

func (s *service) ListOrders(ctx context.Context, p *access.Principal, filter ListFilter) (_ []Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.ListOrders")
	defer func() { s.finish(span, "list_orders", nil, err) }()

	if err := access.Authorize(p, access.OpViewOrders); err != nil {
		return nil, err
	}

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, filter.Status)
	}

	switch p.Role {
	case access.RoleCustomer:
		if !p.CustomerID.Valid {
			return []Order{}, nil
		}
		filter.CustomerID = p.CustomerID
	case access.RoleSale:
		filter.SaleID = uuid.NullUUID{UUID: p.UserID, Valid: true}
	}
	filter.normalize()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	orders, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, s.classify("list orders", err)
	}
	return orders, nil
}

func (s *service) dispatch(t notify.EventType, o *Order) {
	if s.notifier == nil || o == nil {
		return
	}
	s.notifier.Dispatch(notify.Event{
		Type:          t,
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		Status:        o.Status.String(),
		PaymentStatus: o.PaymentStatus.String(),
		TotalAmount:   o.TotalAmount,
		OccurredAt:    o.UpdatedAt,
	})
}

// classify keeps domain errors intact and folds everything else into ErrPersistence.
func (s *service) classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrPersistence):
		return err
	}
	log.Error().Err(err).Str("op", op).Msg("service: store failure")
	return persistence(op, err)
}

func (s *service) finish(span trace.Span, operation string, result *CreateResult, err error) {
	outcome := Outcome(err)
	if result != nil && result.Replayed {
		outcome = "replay"
	}
	if s.metrics != nil {
		s.metrics.ObserveLedger(operation, outcome)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("ledger.outcome", outcome))
	span.End()
}

// Outcome names the error kind for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, access.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, access.ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidLineItems):
		return "invalid_line_items"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrCustomerNotFound):
		return "customer_not_found"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnknownStatus):
		return "unknown_status"
	case errors.Is(err, ErrIdempotencyKeyConflict):
		return "idempotency_conflict"
	default:
		return "persistence_failure"
	}
}

// MaxQuantity is the largest quantity one line item may carry.
const MaxQuantity = math.MaxInt32

func validateItems(items []ItemRequest) error {
	if len(items) == 0 {
		return &LineItemError{Index: -1, Reason: "order must contain at least one item"}
	}
	perProduct := make(map[uuid.UUID]int, len(items))
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return &LineItemError{Index: i, Reason: "product id is required"}
		}
		if item.Quantity <= 0 {
			return &LineItemError{Index: i, Reason: fmt.Sprintf("quantity for product %s must be greater than zero", item.ProductID)}
		}
		if item.Quantity > MaxQuantity {
			return &LineItemError{Index: i, Reason: fmt.Sprintf("quantity for product %s must not exceed %d", item.ProductID, MaxQuantity)}
		}
		// Repeated lines are reserved as one quantity.
		if perProduct[item.ProductID] > MaxQuantity-item.Quantity {
			return &LineItemError{Index: i, Reason: fmt.Sprintf("combined quantity for product %s must not exceed %d", item.ProductID, MaxQuantity)}
		}
		perProduct[item.ProductID] += item.Quantity
	}
	return nil
}

func addSubtotal(total int64, item LineItem) (int64, error) {
	qty := int64(item.Quantity)
	if item.PriceAtOrder > 0 && qty > math.MaxInt64/item.PriceAtOrder {
		return 0, &LineItemError{Index: -1, Reason: fmt.Sprintf("subtotal for product %s overflows", item.ProductID)}
	}
	sub := item.Subtotal()
	if total > math.MaxInt64-sub {
		return 0, &LineItemError{Index: -1, Reason: "order total overflows"}
	}
	return total + sub, nil
}

// salespersonFor picks the acting salesperson; an admin acts on behalf of the
// customer's assigned salesperson when there is one.
func salespersonFor(p *access.Principal, c *customer.Customer) uuid.UUID {
	if p.Role == access.RoleAdmin && c.AssignedSaleID.Valid {
		return c.AssignedSaleID.UUID
	}
	return p.UserID
}

func visibleTo(p *access.Principal, o *Order) bool {
	switch p.Role {
	case access.RoleCustomer:
		return p.CustomerID.Valid && p.CustomerID.UUID == o.CustomerID
	case access.RoleSale:
		return o.SaleID == p.UserID
	default:
		return true
	}
}

// Fingerprint identifies a create request independent of line item order.
func Fingerprint(in CreateOrderInput) string {
	lines := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		lines = append(lines, item.ProductID.String()+":"+strconv.Itoa(item.Quantity))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(in.CustomerID.String() + "|" + strings.Join(lines, ",")))
	return hex.EncodeToString(sum[:])
}
