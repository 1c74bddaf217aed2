// Package notify fans committed order events out to best-effort hooks.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type EventType string

const (
	EventOrderCreated              EventType = "order.created"
	EventOrderStatusChanged        EventType = "order.status_changed"
	EventOrderPaymentStatusChanged EventType = "order.payment_status_changed"
)

func (t EventType) String() string {
	return string(t)
}

type Event struct {
	Type          EventType `json:"type"`
	OrderID       uuid.UUID `json:"order_id"`
	CustomerID    uuid.UUID `json:"customer_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	TotalAmount   int64     `json:"total_amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Hook interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// FailureRecorder is told about every hook error.
type FailureRecorder interface {
	HookFailed(hook string)
}

const defaultHookTimeout = 5 * time.Second

// Dispatcher runs hooks in the background. Hook errors are logged and
// never reach the caller of Dispatch.
type Dispatcher struct {
	hooks    []Hook
	timeout  time.Duration
	failures FailureRecorder
	wg       sync.WaitGroup
}

type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

func WithFailureRecorder(r FailureRecorder) Option {
	return func(dp *Dispatcher) {
		dp.failures = r
	}
}

func NewDispatcher(hooks []Hook, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		hooks:   hooks,
		timeout: defaultHookTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Dispatch(ev Event) {
	if len(d.hooks) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		// Detached from the request: the caller has already been answered.
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		var g errgroup.Group
		for _, h := range d.hooks {
			g.Go(func() error {
				if err := h.Notify(ctx, ev); err != nil {
					log.Error().Err(err).
						Str("hook", h.Name()).
						Stringer("event", ev.Type).
						Stringer("order_id", ev.OrderID).
						Msg("notify: hook failed")
					if d.failures != nil {
						d.failures.HookFailed(h.Name())
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until every dispatched event has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

type LogHook struct{}

func (LogHook) Name() string { return "log" }

func (LogHook) Notify(_ context.Context, ev Event) error {
	log.Info().
		Stringer("event", ev.Type).
		Stringer("order_id", ev.OrderID).
		Stringer("customer_id", ev.CustomerID).
		Str("status", ev.Status).
		Str("payment_status", ev.PaymentStatus).
		Int64("total_amount", ev.TotalAmount).
		Msg("notify: order event")
	return nil
}
