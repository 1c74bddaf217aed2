package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/metrics"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "orders")

	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
		require.Equal(t, http.StatusNotFound, rr.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Requests.WithLabelValues("/orders/{id}", http.MethodGet, "404")))
}

func TestLedgerAndHookCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "orders")

	m.ObserveLedger("create_order", "ok")
	m.ObserveLedger("create_order", "ok")
	m.ObserveLedger("create_order", "insufficient_stock")
	m.HookFailed("rabbitmq")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LedgerOps.WithLabelValues("create_order", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOps.WithLabelValues("create_order", "insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HookFailures.WithLabelValues("rabbitmq")))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "orders")
	m.ObserveLedger("set_status", "invalid_transition")

	rr := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "feedorders_orders_ledger_operations_total"))
}
