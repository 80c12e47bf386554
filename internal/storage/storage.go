// Package storage defines where orders, cancellations and the portfolio ledger are persisted.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/STTM-NSU/signal-trader/internal/model"
)

var ErrNotFound = errors.New("record not found")

// PersistenceError wraps a failed local write or read.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type OrderStore interface {
	SaveOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id string) (model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
}

type CancellationStore interface {
	SaveCancellation(ctx context.Context, c model.Cancellation) error
	ListCancellations(ctx context.Context) ([]model.Cancellation, error)
}

type LedgerStore interface {
	// LoadLedger reports false when nothing was saved yet.
	LoadLedger(ctx context.Context) (model.PortfolioState, bool, error)
	SaveLedger(ctx context.Context, s model.PortfolioState) error
}

type Store interface {
	OrderStore
	CancellationStore
	LedgerStore
}
