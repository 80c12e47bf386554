// Package metrics exposes Prometheus collectors for the trader.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const _namespace = "signal_trader"

type Metrics struct {
	registry *prometheus.Registry

	gatewayAttempts *prometheus.CounterVec
	limiterWait     *prometheus.CounterVec
	orders          *prometheus.CounterVec
	trades          *prometheus.CounterVec
	portfolioValue  prometheus.Gauge
	cash            prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		gatewayAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "gateway_attempts_total",
			Help:      "Physical HTTP attempts made by the gateway.",
		}, []string{"endpoint", "outcome"}),
		limiterWait: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "limiter_wait_seconds_total",
			Help:      "Time spent blocked on the sliding window rate limiter.",
		}, []string{"endpoint"}),
		orders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "orders_total",
			Help:      "Orders reaching a status.",
		}, []string{"status"}),
		trades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "trades_total",
			Help:      "Trades applied to the portfolio ledger.",
		}, []string{"action"}),
		portfolioValue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: _namespace,
			Name:      "portfolio_total_value",
			Help:      "Cash plus marked-to-market holdings.",
		}),
		cash: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: _namespace,
			Name:      "portfolio_cash",
			Help:      "Cash balance of the ledger.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) GatewayAttempt(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.gatewayAttempts.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) LimiterWait(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.limiterWait.WithLabelValues(endpoint).Add(d.Seconds())
}

func (m *Metrics) OrderStatus(s model.Status) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) Trade(action model.Side) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) Portfolio(total, cash float64) {
	if m == nil {
		return
	}
	m.portfolioValue.Set(total)
	m.cash.Set(cash)
}
