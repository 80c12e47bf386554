package orders

import (
	"context"
	"testing"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelUnknownOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	before := e.ledger.State()

	res, err := e.sub.CancelOrder(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, model.CancelNotFound, res.Outcome)

	orders, err := e.store.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
	cancellations, err := e.store.ListCancellations(ctx)
	require.NoError(t, err)
	assert.Empty(t, cancellations)
	assert.Equal(t, before, e.ledger.State())
	assert.Zero(t, e.ex.Calls("cancel"))
}

func TestCancelRestingLimitOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)

	o := e.sub.NewOrder(btc, model.Buy, model.Limit, 0.01, 39000, "dip")
	res, err := e.sub.SubmitOrder(ctx, o, ConfirmGiven)
	require.NoError(t, err)
	require.Equal(t, model.StatusSubmitted, res.Status)
	assert.Equal(t, 1, e.ledger.Holds())

	cres, err := e.sub.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CancelDone, cres.Outcome)
	assert.Equal(t, model.StatusCancelled, cres.Status)
	assert.Zero(t, e.ledger.Holds())
	assert.Equal(t, 1, e.ex.Calls("cancel"))

	cancellations, err := e.store.ListCancellations(ctx)
	require.NoError(t, err)
	require.Len(t, cancellations, 1)
	assert.Equal(t, model.StatusSubmitted, cancellations[0].PreviousStatus)
	assert.Equal(t, res.ExchangeOrderID, cancellations[0].ExchangeOrderID)

	again, err := e.sub.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CancelAlreadyTerminal, again.Outcome)
	assert.Equal(t, 1, e.ex.Calls("cancel"))
}

func TestCancelRejectedByExchangeKeepsOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)

	o := e.sub.NewOrder(btc, model.Buy, model.Limit, 0.01, 39000, "dip")
	_, err := e.sub.SubmitOrder(ctx, o, ConfirmGiven)
	require.NoError(t, err)
	require.NoError(t, e.ex.CancelOrder(ctx, o.ExchangeOrderID))

	res, err := e.sub.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CancelFailed, res.Outcome)

	stored, err := e.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, stored.Status)
}

func TestCancelAllOrdersBySymbol(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)

	btcOrder := e.sub.NewOrder(btc, model.Buy, model.Market, 0.001, 0, "a")
	ethOrder := e.sub.NewOrder("ETH-USDT", model.Buy, model.Market, 0.05, 0, "b")
	for _, o := range []*model.Order{btcOrder, ethOrder} {
		res, err := e.sub.SubmitOrder(ctx, o, ConfirmDefault)
		require.NoError(t, err)
		require.Equal(t, model.StatusPendingConfirmation, res.Status)
	}

	results, err := e.sub.CancelAllOrders(ctx, "ETH-USDT")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ethOrder.ID, results[0].OrderID)
	assert.Zero(t, e.ex.Calls("cancel"), "nothing was on the exchange")

	results, err = e.sub.CancelAllOrders(ctx, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, btcOrder.ID, results[0].OrderID)

	stored, err := e.store.GetOrder(ctx, btcOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)
}

func TestOrderHistory(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	now := time.Now().UTC()

	old := model.Order{ID: "old", Symbol: btc, Side: model.Buy, Kind: model.Market, Amount: 1, Status: model.StatusFailed, CreatedAt: now.Add(-40 * 24 * time.Hour)}
	mid := model.Order{ID: "mid", Symbol: btc, Side: model.Buy, Kind: model.Market, Amount: 1, Status: model.StatusFailed, CreatedAt: now.Add(-2 * 24 * time.Hour)}
	recent := model.Order{ID: "recent", Symbol: btc, Side: model.Buy, Kind: model.Market, Amount: 1, Status: model.StatusFailed, CreatedAt: now.Add(-time.Hour)}
	for _, o := range []model.Order{old, mid, recent} {
		require.NoError(t, e.store.SaveOrder(ctx, o))
	}

	history, err := e.sub.OrderHistory(ctx, 30)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "recent", history[0].ID)
	assert.Equal(t, "mid", history[1].ID)
}
