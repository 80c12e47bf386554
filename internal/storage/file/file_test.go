package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdersAreKeyedByID(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	first := model.Order{ID: "a", Symbol: "BTC-USDT", Side: model.Buy, Kind: model.Market, Amount: 0.01, Status: model.StatusPending, CreatedAt: now}
	second := model.Order{ID: "b", Symbol: "ETH-USDT", Side: model.Sell, Kind: model.Limit, Amount: 1, Price: 2000, Status: model.StatusValidated, CreatedAt: now.Add(time.Minute)}
	require.NoError(t, s.SaveOrder(ctx, first))
	require.NoError(t, s.SaveOrder(ctx, second))

	first.Status = model.StatusFilled
	first.ExchangeOrderID = "ex-1"
	require.NoError(t, s.SaveOrder(ctx, first))

	got, err := s.GetOrder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, got.Status)
	assert.Equal(t, "ex-1", got.ExchangeOrderID)

	all, err := s.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}

func TestGetUnknownOrder(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.GetOrder(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetOrder(context.Background(), "../escape")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWritesLeaveNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveOrder(context.Background(), model.Order{ID: "same", Amount: float64(i + 1)}))
	}

	entries, err := os.ReadDir(filepath.Join(dir, _ordersDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "same.json", entries[0].Name())

	got, err := s.GetOrder(context.Background(), "same")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Amount)
}

func TestCancellationRecords(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	at := time.Now().UTC()
	require.NoError(t, s.SaveCancellation(ctx, model.Cancellation{OrderID: "o1", Symbol: "BTC-USDT", PreviousStatus: model.StatusSubmitted, CancelledAt: at}))
	require.NoError(t, s.SaveCancellation(ctx, model.Cancellation{OrderID: "o2", Symbol: "ETH-USDT", PreviousStatus: model.StatusPendingConfirmation, CancelledAt: at.Add(time.Second)}))

	records, err := s.ListCancellations(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "o1", records[0].OrderID)
	assert.Equal(t, model.StatusPendingConfirmation, records[1].PreviousStatus)
}

func TestLedgerLoadSave(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.LoadLedger(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	state := model.PortfolioState{
		InitialCapital: 1000,
		Cash:           600,
		Holdings:       map[string]model.Holding{"BTC-USDT": {Symbol: "BTC-USDT", Quantity: 0.01, CostBasis: 400}},
		Snapshots:      []model.Snapshot{{TotalValue: 1000, Cash: 600, CashFraction: 0.6, Allocations: map[string]float64{"BTC-USDT": 0.4}}},
	}
	require.NoError(t, s.SaveLedger(ctx, state))

	loaded, ok, err := s.LoadLedger(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 600.0, loaded.Cash)
	assert.Equal(t, 0.01, loaded.Holdings["BTC-USDT"].Quantity)
	require.Len(t, loaded.Snapshots, 1)
	assert.Equal(t, 0.4, loaded.Snapshots[0].Allocations["BTC-USDT"])
}

func TestWriteFailureIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, _ordersDir)))

	err = s.SaveOrder(context.Background(), model.Order{ID: "x"})
	var perr *storage.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "x", perr.Key)
	assert.True(t, strings.Contains(err.Error(), "save order"))
}

func TestNewFailsOnFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := New(path)
	var perr *storage.PersistenceError
	assert.ErrorAs(t, err, &perr)
}
