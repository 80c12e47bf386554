package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/gateway"
	"github.com/STTM-NSU/signal-trader/internal/limiter"
	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKuCoin struct {
	mu      sync.Mutex
	orders  map[string]string // clientOid -> orderId
	resting map[string]bool
	bodies  []string
	signed  []string
	dropped bool
}

func (f *fakeKuCoin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sig := r.Header.Get("KC-API-SIGN"); sig != "" {
		f.signed = append(f.signed, r.URL.Path)
	}
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == _tickerURL:
		if r.URL.Query().Get("symbol") != "BTC-USDT" {
			_, _ = io.WriteString(w, `{"code":"400100","msg":"symbol not exists"}`)
			return
		}
		_, _ = io.WriteString(w, `{"code":"200000","data":{"time":1704067200000,"price":"40000.1","bestBid":"40000","bestAsk":"40000.2"}}`)
	case r.URL.Path == _statsURL:
		_, _ = io.WriteString(w, `{"code":"200000","data":{"time":1704067200000,"symbol":"BTC-USDT","changeRate":"0.025","changePrice":"1000","high":"41000","low":"38500","vol":"1234.5","last":"40000"}}`)
	case r.URL.Path == _candlesURL:
		_, _ = io.WriteString(w, `{"code":"200000","data":[["1704070800","2","3","4","1","10","20"],["1704067200","1","2","3","0.5","5","6"]]}`)
	case r.URL.Path == _accountsURL:
		_, _ = io.WriteString(w, `{"code":"200000","data":[{"id":"a1","currency":"USDT","type":"trade","balance":"1000.5","available":"900.5","holds":"100"}]}`)
	case r.URL.Path == _ordersURL && r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.bodies = append(f.bodies, string(body))
		if strings.Contains(string(body), `"size":"-1"`) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"code":"400100","msg":"size invalid"}`)
			return
		}
		oid := "ex-" + string(rune('0'+len(f.bodies)))
		if strings.Contains(string(body), `"clientOid":"c-1"`) {
			if _, dup := f.orders["c-1"]; dup {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"code":"400100","msg":"clientOid duplicated"}`)
				return
			}
			f.orders["c-1"] = oid
		}
		if f.dropped {
			f.dropped = false
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"code":"200000","data":{"orderId":"`+oid+`"}}`)
	case strings.HasPrefix(r.URL.Path, _clientOrderURL):
		clientOid := strings.TrimPrefix(r.URL.Path, _clientOrderURL)
		oid, ok := f.orders[clientOid]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"400100","msg":"order not exist"}`)
			return
		}
		if f.resting[clientOid] {
			_, _ = io.WriteString(w, `{"code":"200000","data":{"id":"`+oid+`","clientOid":"`+clientOid+`","dealSize":"0","dealFunds":"0","isActive":true}}`)
			return
		}
		_, _ = io.WriteString(w, `{"code":"200000","data":{"id":"`+oid+`","clientOid":"c-1","dealSize":"0.01","dealFunds":"400","isActive":false}}`)
	case strings.HasPrefix(r.URL.Path, _ordersURL+"/") && r.Method == http.MethodGet:
		id := strings.TrimPrefix(r.URL.Path, _ordersURL+"/")
		_, _ = io.WriteString(w, `{"code":"200000","data":{"id":"`+id+`","clientOid":"c-1","dealSize":"0.01","dealFunds":"400","isActive":false}}`)
	case strings.HasPrefix(r.URL.Path, _ordersURL+"/") && r.Method == http.MethodDelete:
		_, _ = io.WriteString(w, `{"code":"200000","data":{"cancelledOrderIds":["`+strings.TrimPrefix(r.URL.Path, _ordersURL+"/")+`"]}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newClient(t *testing.T, f *fakeKuCoin) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	lim := limiter.New(nil, 1000, logger.NewNopLogger())
	g := gateway.New(gateway.Config{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Retry:   gateway.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, lim, logger.NewNopLogger(), gateway.WithSigner(NewSigner("key", "secret", "pass")))
	t.Cleanup(func() { _ = g.Close() })
	return NewClient(g, logger.NewNopLogger())
}

func TestMarketData(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, &fakeKuCoin{orders: map[string]string{}})

	tk, err := c.GetTicker(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, 40000.1, tk.Price)
	assert.Equal(t, 40000.0, tk.BestBid)
	assert.Equal(t, int64(1704067200000), tk.Time.UnixMilli())

	_, err = c.GetTicker(ctx, "NOPE-USDT")
	assert.True(t, exchange.IsRejection(err))

	st, err := c.Get24hrStats(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, 39000.0, st.Open)
	assert.Equal(t, 41000.0, st.High)
	assert.Equal(t, 1234.5, st.Volume)

	start := time.Unix(1704067200, 0)
	klines, err := c.GetKlineData(ctx, "BTC-USDT", exchange.Hour, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.True(t, klines[0].Time.Before(klines[1].Time))
	assert.Equal(t, 1.0, klines[0].Open)
	assert.Equal(t, 3.0, klines[1].Close)
}

func TestAccountsAreSigned(t *testing.T) {
	f := &fakeKuCoin{orders: map[string]string{}}
	c := newClient(t, f)

	accounts, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, 1000.5, accounts[0].Balance)
	assert.Equal(t, 100.0, accounts[0].Holds)
	assert.Contains(t, f.signed, _accountsURL)
}

func TestMarketOrderReadsFill(t *testing.T) {
	f := &fakeKuCoin{orders: map[string]string{}}
	c := newClient(t, f)

	ack, err := c.CreateMarketOrder(context.Background(), "BTC-USDT", model.Buy, 0.01, "c-1")
	require.NoError(t, err)
	assert.True(t, ack.Filled)
	assert.Equal(t, 0.01, ack.FilledAmount)
	assert.InDelta(t, 40000.0, ack.FilledPrice, 1e-9)
	require.Len(t, f.bodies, 1)
	assert.Contains(t, f.bodies[0], `"clientOid":"c-1"`)
	assert.Contains(t, f.bodies[0], `"size":"0.01"`)
}

func TestDroppedResponseRecoversByClientOid(t *testing.T) {
	f := &fakeKuCoin{orders: map[string]string{}, dropped: true}
	c := newClient(t, f)

	ack, err := c.CreateMarketOrder(context.Background(), "BTC-USDT", model.Buy, 0.01, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "ex-1", ack.ExchangeOrderID)
	assert.True(t, ack.Filled)
	assert.Len(t, f.bodies, 2, "the retry reached the exchange and was refused as a duplicate")
}

func TestGetOrderByClientOid(t *testing.T) {
	ctx := context.Background()
	f := &fakeKuCoin{
		orders:  map[string]string{"c-1": "ex-7", "c-3": "ex-8"},
		resting: map[string]bool{"c-3": true},
	}
	c := newClient(t, f)

	ack, err := c.GetOrder(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "ex-7", ack.ExchangeOrderID)
	assert.True(t, ack.Filled)
	assert.True(t, ack.Closed)
	assert.InDelta(t, 40000.0, ack.FilledPrice, 1e-9)
	assert.Contains(t, f.signed, _clientOrderURL+"c-1")

	ack, err = c.GetOrder(ctx, "c-3")
	require.NoError(t, err)
	assert.Equal(t, "ex-8", ack.ExchangeOrderID)
	assert.False(t, ack.Filled)
	assert.False(t, ack.Closed)

	_, err = c.GetOrder(ctx, "c-404")
	assert.Error(t, err)
	_, err = c.GetOrder(ctx, "")
	assert.Error(t, err)
}

func TestOrderRejectionIsExchangeError(t *testing.T) {
	c := newClient(t, &fakeKuCoin{orders: map[string]string{}})

	_, err := c.CreateLimitOrder(context.Background(), "BTC-USDT", model.Sell, -1, 100, "c-2")
	var exErr *exchange.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "size invalid", exErr.Reason)
}

func TestCancelOrder(t *testing.T) {
	c := newClient(t, &fakeKuCoin{orders: map[string]string{}})
	require.NoError(t, c.CancelOrder(context.Background(), "ex-9"))
}

func TestSignerHeaders(t *testing.T) {
	s := NewSigner("key", "secret", "pass")
	s.now = func() time.Time { return time.UnixMilli(1704067200000) }

	h := s.Sign(http.MethodPost, "/api/v1/orders", []byte(`{"a":1}`))

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(`1704067200000POST/api/v1/orders{"a":1}`))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), h["KC-API-SIGN"])
	assert.Equal(t, "1704067200000", h["KC-API-TIMESTAMP"])
	assert.Equal(t, "key", h["KC-API-KEY"])
	assert.Equal(t, "2", h["KC-API-KEY-VERSION"])
	assert.NotEqual(t, "pass", h["KC-API-PASSPHRASE"])
}
