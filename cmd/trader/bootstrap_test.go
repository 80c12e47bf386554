package main

import (
	"testing"

	"github.com/STTM-NSU/signal-trader/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfirm(t *testing.T) {
	for in, want := range map[string]orders.Confirm{
		"":         orders.ConfirmDefault,
		"default":  orders.ConfirmDefault,
		"yes":      orders.ConfirmGiven,
		"required": orders.ConfirmRequired,
	} {
		got, err := parseConfirm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseConfirm("maybe")
	assert.Error(t, err)
}
