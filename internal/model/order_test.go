package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	now := time.Now()
	o := Order{ID: "o-1", Status: StatusPending}

	require.NoError(t, o.Transition(StatusValidated, now))
	require.NoError(t, o.Transition(StatusPendingConfirmation, now))
	require.NoError(t, o.Transition(StatusSubmitted, now))
	require.NoError(t, o.Transition(StatusFilled, now))
	assert.True(t, o.Status.IsTerminal())

	for _, next := range []Status{StatusPending, StatusValidated, StatusSubmitted, StatusCancelled, StatusFailed} {
		err := o.Transition(next, now)
		assert.ErrorIs(t, err, ErrIllegalTransition)
		assert.Equal(t, StatusFilled, o.Status)
	}
}

func TestOrderTransitionNeverRegresses(t *testing.T) {
	o := Order{ID: "o-2", Status: StatusSubmitted}
	assert.ErrorIs(t, o.Transition(StatusValidated, time.Now()), ErrIllegalTransition)
	assert.ErrorIs(t, o.Transition(StatusPendingConfirmation, time.Now()), ErrIllegalTransition)
	assert.Equal(t, StatusSubmitted, o.Status)
}

func TestOrderCost(t *testing.T) {
	market := Order{Kind: Market, Amount: 0.01}
	assert.InDelta(t, 400.0, market.Cost(40000), 1e-9)

	limit := Order{Kind: Limit, Amount: 2, Price: 10}
	assert.InDelta(t, 20.0, limit.Cost(12), 1e-9)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("BUY")
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, a)

	a, err = ParseAction("NONE")
	require.NoError(t, err)
	assert.Equal(t, ActionHold, a)

	_, err = ParseAction("short")
	assert.Error(t, err)

	side, ok := ActionSell.Side()
	assert.True(t, ok)
	assert.Equal(t, Sell, side)
	_, ok = ActionHold.Side()
	assert.False(t, ok)
}
