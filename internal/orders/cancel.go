package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/storage"
)

// CancelOrder cancels one non-terminal order. Unknown and terminal ids are
// reported through the outcome and change nothing.
func (s *Submitter) CancelOrder(ctx context.Context, id string) (model.CancelResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.CancelResult{OrderID: id, Outcome: model.CancelNotFound, Reason: "order not found"}, nil
	}
	if err != nil {
		return model.CancelResult{OrderID: id, Outcome: model.CancelFailed, Reason: err.Error()}, fmt.Errorf("%w: can't look up order %s", err, id)
	}
	if o.Status.IsTerminal() {
		return model.CancelResult{OrderID: id, Outcome: model.CancelAlreadyTerminal, Status: o.Status}, nil
	}

	if o.Status == model.StatusSubmitted && o.ExchangeOrderID != "" {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
		err := s.ex.CancelOrder(dctx, o.ExchangeOrderID)
		cancel()
		if err != nil {
			s.logger.Warnf("%s: exchange refused to cancel %s", err, id)
			res := model.CancelResult{OrderID: id, Outcome: model.CancelFailed, Status: o.Status, Reason: err.Error()}
			if exchange.IsRejection(err) {
				return res, nil
			}
			return res, err
		}
	}

	previous := o.Status
	if err := o.Transition(model.StatusCancelled, s.now()); err != nil {
		return model.CancelResult{OrderID: id, Outcome: model.CancelFailed, Status: previous, Reason: err.Error()}, err
	}
	if err := s.save(ctx, &o); err != nil {
		return model.CancelResult{OrderID: id, Outcome: model.CancelFailed, Status: previous, Reason: err.Error()}, err
	}
	s.ledger.Release(id)
	s.metrics.OrderStatus(model.StatusCancelled)

	rec := model.Cancellation{
		OrderID:         o.ID,
		Symbol:          o.Symbol,
		ExchangeOrderID: o.ExchangeOrderID,
		PreviousStatus:  previous,
		Reason:          "cancelled by request",
		CancelledAt:     o.UpdatedAt,
	}
	if err := s.store.SaveCancellation(ctx, rec); err != nil {
		s.logger.Errorf("%s: cancellation record of %s not saved", err, id)
		return model.CancelResult{OrderID: id, Outcome: model.CancelDone, Status: o.Status}, err
	}
	s.logger.Infof("order %s cancelled (was %s)", id, previous)
	return model.CancelResult{OrderID: id, Outcome: model.CancelDone, Status: o.Status}, nil
}

// CancelAllOrders cancels every open order, or only those for symbol when it is not empty.
func (s *Submitter) CancelAllOrders(ctx context.Context, symbol string) ([]model.CancelResult, error) {
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't list orders", err)
	}

	var (
		results []model.CancelResult
		errs    []error
	)
	for _, o := range orders {
		if o.Status.IsTerminal() || (symbol != "" && o.Symbol != symbol) {
			continue
		}
		res, err := s.CancelOrder(ctx, o.ID)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// OrderHistory returns orders created in the last daysBack days, newest first.
func (s *Submitter) OrderHistory(ctx context.Context, daysBack int) ([]model.Order, error) {
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't list orders", err)
	}
	cutoff := s.now().Add(-time.Duration(daysBack) * 24 * time.Hour)
	orders = slices.DeleteFunc(orders, func(o model.Order) bool {
		return o.CreatedAt.Before(cutoff)
	})
	slices.SortFunc(orders, func(a, b model.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return orders, nil
}
