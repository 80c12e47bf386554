// Package file keeps every record as a JSON document on the local filesystem.
// Writes go to a temporary file in the target directory which is then renamed
// over the destination, so readers see either the old or the new version.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/storage"
	"github.com/bytedance/sonic"
)

const (
	_ordersDir        = "orders"
	_cancellationsDir = "cancellations"
	_portfolioDir     = "portfolio"
	_ledgerFile       = "ledger.json"
	_tmpPrefix        = "."
)

type Store struct {
	dir string
}

var _ storage.Store = (*Store)(nil)

func New(dir string) (*Store, error) {
	for _, sub := range []string{_ordersDir, _cancellationsDir, _portfolioDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, &storage.PersistenceError{Op: "init", Key: sub, Err: err}
		}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) SaveOrder(_ context.Context, o model.Order) error {
	if err := checkKey(o.ID); err != nil {
		return &storage.PersistenceError{Op: "save order", Key: o.ID, Err: err}
	}
	if err := writeJSON(filepath.Join(s.dir, _ordersDir, o.ID+".json"), o); err != nil {
		return &storage.PersistenceError{Op: "save order", Key: o.ID, Err: err}
	}
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (model.Order, error) {
	var o model.Order
	if err := checkKey(id); err != nil {
		return o, storage.ErrNotFound
	}
	if err := readJSON(filepath.Join(s.dir, _ordersDir, id+".json"), &o); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return o, storage.ErrNotFound
		}
		return o, &storage.PersistenceError{Op: "read order", Key: id, Err: err}
	}
	return o, nil
}

func (s *Store) ListOrders(_ context.Context) ([]model.Order, error) {
	var orders []model.Order
	err := s.each(_ordersDir, func(path string) error {
		var o model.Order
		if err := readJSON(path, &o); err != nil {
			return err
		}
		orders = append(orders, o)
		return nil
	})
	if err != nil {
		return nil, &storage.PersistenceError{Op: "list orders", Key: s.dir, Err: err}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *Store) SaveCancellation(_ context.Context, c model.Cancellation) error {
	if err := checkKey(c.OrderID); err != nil {
		return &storage.PersistenceError{Op: "save cancellation", Key: c.OrderID, Err: err}
	}
	name := c.OrderID + "-" + strconv.FormatInt(c.CancelledAt.UnixNano(), 10) + ".json"
	if err := writeJSON(filepath.Join(s.dir, _cancellationsDir, name), c); err != nil {
		return &storage.PersistenceError{Op: "save cancellation", Key: c.OrderID, Err: err}
	}
	return nil
}

func (s *Store) ListCancellations(_ context.Context) ([]model.Cancellation, error) {
	var records []model.Cancellation
	err := s.each(_cancellationsDir, func(path string) error {
		var c model.Cancellation
		if err := readJSON(path, &c); err != nil {
			return err
		}
		records = append(records, c)
		return nil
	})
	if err != nil {
		return nil, &storage.PersistenceError{Op: "list cancellations", Key: s.dir, Err: err}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CancelledAt.Before(records[j].CancelledAt)
	})
	return records, nil
}

func (s *Store) LoadLedger(_ context.Context) (model.PortfolioState, bool, error) {
	var state model.PortfolioState
	if err := readJSON(filepath.Join(s.dir, _portfolioDir, _ledgerFile), &state); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return state, false, nil
		}
		return state, false, &storage.PersistenceError{Op: "load ledger", Key: _ledgerFile, Err: err}
	}
	return state, true, nil
}

func (s *Store) SaveLedger(_ context.Context, state model.PortfolioState) error {
	if err := writeJSON(filepath.Join(s.dir, _portfolioDir, _ledgerFile), state); err != nil {
		return &storage.PersistenceError{Op: "save ledger", Key: _ledgerFile, Err: err}
	}
	return nil
}

func (s *Store) each(sub string, fn func(path string) error) error {
	entries, err := os.ReadDir(filepath.Join(s.dir, sub))
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, _tmpPrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		if err := fn(filepath.Join(s.dir, sub, name)); err != nil {
			return fmt.Errorf("%w: %s", err, name)
		}
	}
	return nil
}

func checkKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, _tmpPrefix) {
		return fmt.Errorf("invalid record key %q", key)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: can't encode", err)
	}

	dir, base := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, _tmpPrefix+base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	err = os.Rename(tmpName, path)
	return err
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: can't decode", err)
	}
	return nil
}
