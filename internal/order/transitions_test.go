package order_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order"
)

func TestCanTransition(t *testing.T) {
	all := []order.Status{
		order.StatusDraft,
		order.StatusPending,
		order.StatusShipping,
		order.StatusPaid,
		order.StatusCompleted,
		order.StatusCancelled,
	}

	allowed := map[order.Status][]order.Status{
		order.StatusDraft:    {order.StatusPending, order.StatusCancelled},
		order.StatusPending:  {order.StatusShipping, order.StatusCancelled},
		order.StatusShipping: {order.StatusPaid, order.StatusCancelled},
		order.StatusPaid:     {order.StatusCompleted},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			t.Run(from.String()+"->"+to.String(), func(t *testing.T) {
				assert.Equal(t, want, order.CanTransition(from, to))
			})
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, order.IsTerminal(order.StatusCompleted))
	assert.True(t, order.IsTerminal(order.StatusCancelled))
	assert.False(t, order.IsTerminal(order.StatusPaid))
	assert.False(t, order.IsTerminal(order.Status("archived")))
}

func TestStatusValid(t *testing.T) {
	assert.True(t, order.StatusShipping.Valid())
	assert.False(t, order.Status("SHIPPED").Valid())
	assert.True(t, order.PaymentPaid.Valid())
	assert.False(t, order.PaymentStatus("refunded").Valid())
}
