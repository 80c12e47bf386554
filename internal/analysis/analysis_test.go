package analysis

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfidence(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want float64
		err  bool
	}{
		{in: 0.8, want: 0.8},
		{in: "HIGH", want: 0.9},
		{in: "medium", want: 0.6},
		{in: "Low", want: 0.3},
		{in: "0.42", want: 0.42},
		{in: nil, want: 0},
		{in: 1.5, err: true},
		{in: "sure", err: true},
	} {
		got, err := parseConfidence(tc.in)
		if tc.err {
			assert.Error(t, err, "%v", tc.in)
			continue
		}
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestClientGetSignals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, _signalsURL, r.URL.Path)
		assert.Equal(t, "BTC-USDT,ETH-USDT", r.URL.Query().Get("symbols"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"signals":[
			{"symbol":"BTC-USDT","action":"BUY","confidence":"HIGH","suggested_allocation":0.1,"analysis_id":"2024-01-01"},
			{"symbol":"ETH-USDT","action":"sell","confidence":0.55},
			{"symbol":"ETH-USDT","action":"moon"},
			{"symbol":"SOL-USDT","action":"hold"}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, logger.NewNopLogger())
	defer c.Close()

	signals, err := c.GetSignals(context.Background(), []string{"BTC-USDT", "ETH-USDT"})
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, model.Signal{Symbol: "BTC-USDT", Action: model.ActionBuy, Confidence: 0.9, SuggestedAllocation: 0.1, AnalysisID: "2024-01-01"}, signals[0])
	assert.Equal(t, model.ActionSell, signals[1].Action)
	assert.Equal(t, 0.55, signals[1].Confidence)
}

func TestClientHonoursRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"message":"model warming up","retry_after":1.5}`)
			return
		}
		_, _ = io.WriteString(w, `{"targets":{"BTC-USDT":0.4,"ETH-USDT":0.2}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, logger.NewNopLogger())
	defer c.Close()
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	targets, err := c.GetTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC-USDT": 0.4, "ETH-USDT": 0.2}, targets)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, slept)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientErrorWithoutHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"unknown symbol"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, logger.NewNopLogger())
	defer c.Close()

	_, err := c.GetSignals(context.Background(), []string{"NOPE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown symbol")
}

func TestFileSourcePicksLatest(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("BTC-USDT_analysis_2024-01-01.json", `{"action":"SELL","confidence":"LOW"}`)
	write("BTC-USDT_analysis_2024-01-02.json", `{"action":"BUY","confidence":"HIGH","analysis_id":"d2"}`)
	write("ETH-USDT_analysis_2024-01-02.json", `{"action":"HOLD"}`)
	write("notes.txt", "ignored")

	src := NewFileSource(dir, map[string]float64{"BTC-USDT": 0.3}, logger.NewNopLogger())
	signals, err := src.GetSignals(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "BTC-USDT", signals[0].Symbol)
	assert.Equal(t, model.ActionBuy, signals[0].Action)
	assert.Equal(t, "d2", signals[0].AnalysisID)
	assert.Equal(t, model.ActionHold, signals[1].Action)

	targets, err := src.GetTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.3, targets["BTC-USDT"])
}

func TestStaticSourceFilters(t *testing.T) {
	src := &StaticSource{Signals: []model.Signal{
		{Symbol: "A", Action: model.ActionBuy},
		{Symbol: "B", Action: model.ActionSell},
	}}
	signals, err := src.GetSignals(context.Background(), []string{"B"})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "B", signals[0].Symbol)
	assert.Len(t, src.Signals, 2)
}
