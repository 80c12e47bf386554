package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/storage"
	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"
)

const (
	_createOrders = `CREATE TABLE IF NOT EXISTS orders (
								id TEXT PRIMARY KEY,
								symbol TEXT NOT NULL,
								status TEXT NOT NULL,
								created_at TIMESTAMPTZ NOT NULL,
								data JSONB NOT NULL
							);`
	_createCancellations = `CREATE TABLE IF NOT EXISTS cancellations (
								order_id TEXT NOT NULL,
								cancelled_at TIMESTAMPTZ NOT NULL,
								data JSONB NOT NULL,
								PRIMARY KEY (order_id, cancelled_at)
							);`
	_createLedger = `CREATE TABLE IF NOT EXISTS ledger (
								id INTEGER PRIMARY KEY,
								updated_at TIMESTAMPTZ NOT NULL,
								data JSONB NOT NULL
							);`

	_upsertOrder = `INSERT INTO orders (id, symbol, status, created_at, data)
							VALUES ($1,$2,$3,$4,$5)
							ON CONFLICT (id)
							DO UPDATE SET
								status = EXCLUDED.status,
								data = EXCLUDED.data;`
	_queryOrder  = "SELECT data FROM orders WHERE id = $1"
	_queryOrders = "SELECT data FROM orders ORDER BY created_at"

	_insertCancellation = `INSERT INTO cancellations (order_id, cancelled_at, data)
							VALUES ($1,$2,$3)
							ON CONFLICT (order_id, cancelled_at) DO NOTHING;`
	_queryCancellations = "SELECT data FROM cancellations ORDER BY cancelled_at"

	_ledgerID     = 1
	_upsertLedger = `INSERT INTO ledger (id, updated_at, data)
							VALUES ($1,$2,$3)
							ON CONFLICT (id)
							DO UPDATE SET
								updated_at = EXCLUDED.updated_at,
								data = EXCLUDED.data;`
	_queryLedger = "SELECT data FROM ledger WHERE id = $1"
)

type document struct {
	Data []byte `db:"data"`
}

type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, q := range []string{_createOrders, _createCancellations, _createLedger} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: can't migrate", err)
		}
	}
	return nil
}

func (s *Store) SaveOrder(ctx context.Context, o model.Order) error {
	data, err := sonic.Marshal(o)
	if err != nil {
		return &storage.PersistenceError{Op: "save order", Key: o.ID, Err: err}
	}
	if _, err := s.db.ExecContext(ctx, _upsertOrder, o.ID, o.Symbol, string(o.Status), o.CreatedAt, data); err != nil {
		return &storage.PersistenceError{Op: "save order", Key: o.ID, Err: err}
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	var (
		doc document
		o   model.Order
	)
	if err := s.db.GetContext(ctx, &doc, _queryOrder, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, storage.ErrNotFound
		}
		return o, &storage.PersistenceError{Op: "read order", Key: id, Err: err}
	}
	if err := sonic.Unmarshal(doc.Data, &o); err != nil {
		return o, &storage.PersistenceError{Op: "read order", Key: id, Err: err}
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]model.Order, error) {
	var docs []document
	if err := s.db.SelectContext(ctx, &docs, _queryOrders); err != nil {
		return nil, &storage.PersistenceError{Op: "list orders", Key: "orders", Err: err}
	}
	orders := make([]model.Order, 0, len(docs))
	for _, d := range docs {
		var o model.Order
		if err := sonic.Unmarshal(d.Data, &o); err != nil {
			return nil, &storage.PersistenceError{Op: "list orders", Key: "orders", Err: err}
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *Store) SaveCancellation(ctx context.Context, c model.Cancellation) error {
	data, err := sonic.Marshal(c)
	if err != nil {
		return &storage.PersistenceError{Op: "save cancellation", Key: c.OrderID, Err: err}
	}
	if _, err := s.db.ExecContext(ctx, _insertCancellation, c.OrderID, c.CancelledAt, data); err != nil {
		return &storage.PersistenceError{Op: "save cancellation", Key: c.OrderID, Err: err}
	}
	return nil
}

func (s *Store) ListCancellations(ctx context.Context) ([]model.Cancellation, error) {
	var docs []document
	if err := s.db.SelectContext(ctx, &docs, _queryCancellations); err != nil {
		return nil, &storage.PersistenceError{Op: "list cancellations", Key: "cancellations", Err: err}
	}
	records := make([]model.Cancellation, 0, len(docs))
	for _, d := range docs {
		var c model.Cancellation
		if err := sonic.Unmarshal(d.Data, &c); err != nil {
			return nil, &storage.PersistenceError{Op: "list cancellations", Key: "cancellations", Err: err}
		}
		records = append(records, c)
	}
	return records, nil
}

func (s *Store) LoadLedger(ctx context.Context) (model.PortfolioState, bool, error) {
	var (
		doc   document
		state model.PortfolioState
	)
	if err := s.db.GetContext(ctx, &doc, _queryLedger, _ledgerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state, false, nil
		}
		return state, false, &storage.PersistenceError{Op: "load ledger", Key: "ledger", Err: err}
	}
	if err := sonic.Unmarshal(doc.Data, &state); err != nil {
		return state, false, &storage.PersistenceError{Op: "load ledger", Key: "ledger", Err: err}
	}
	return state, true, nil
}

// SaveLedger replaces the single ledger row inside one statement, so the swap is atomic.
func (s *Store) SaveLedger(ctx context.Context, state model.PortfolioState) error {
	data, err := sonic.Marshal(state)
	if err != nil {
		return &storage.PersistenceError{Op: "save ledger", Key: "ledger", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, _upsertLedger, _ledgerID, state.UpdatedAt, data); err != nil {
		return &storage.PersistenceError{Op: "save ledger", Key: "ledger", Err: err}
	}
	return nil
}
