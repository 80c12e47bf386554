package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()

	m.GatewayAttempt("orders", "ok")
	m.GatewayAttempt("orders", "ok")
	m.GatewayAttempt("orders", "retry")
	m.LimiterWait("market", 1500*time.Millisecond)
	m.OrderStatus(model.StatusFilled)
	m.Trade(model.Buy)
	m.Portfolio(1000, 600)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gatewayAttempts.WithLabelValues("orders", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayAttempts.WithLabelValues("orders", "retry")))
	assert.InDelta(t, 1.5, testutil.ToFloat64(m.limiterWait.WithLabelValues("market")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orders.WithLabelValues("filled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trades.WithLabelValues("buy")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.portfolioValue))
	assert.Equal(t, 600.0, testutil.ToFloat64(m.cash))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.GatewayAttempt("x", "ok")
	m.LimiterWait("x", time.Second)
	m.OrderStatus(model.StatusFailed)
	m.Trade(model.Sell)
	m.Portfolio(1, 1)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.OrderStatus(model.StatusSubmitted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `signal_trader_orders_total{status="submitted"} 1`))
}
