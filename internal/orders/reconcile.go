package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/portfolio"
)

var ErrNoOrderLookup = errors.New("exchange can't look up orders")

// Reconcile re-reads every submitted order from the exchange by its client
// order id. Filled orders are settled, orders closed without a fill are
// cancelled and orders still working keep their funds on hold. Only orders
// that changed status are returned.
func (s *Submitter) Reconcile(ctx context.Context) ([]model.SubmissionResult, error) {
	reader, ok := s.ex.(exchange.OrderReader)
	if !ok {
		return nil, ErrNoOrderLookup
	}
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't list orders", err)
	}

	var (
		results []model.SubmissionResult
		errs    []error
	)
	for _, o := range orders {
		if o.Status != model.StatusSubmitted {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.reconcileOrder(ctx, reader, o.ID)
		if err != nil {
			errs = append(errs, err)
		}
		if res.Status != model.StatusSubmitted {
			results = append(results, res)
		}
	}
	if len(results) > 0 {
		s.logger.Infof("reconciled %d submitted orders", len(results))
	}
	return results, errors.Join(errs...)
}

func (s *Submitter) reconcileOrder(ctx context.Context, reader exchange.OrderReader, id string) (model.SubmissionResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return model.SubmissionResult{OrderID: id, Status: model.StatusSubmitted}, fmt.Errorf("%w: order %s", err, id)
	}
	if o.Status != model.StatusSubmitted {
		return resultOf(o), nil
	}
	if t, ok := s.ledger.TradeFor(o.ID); ok {
		return s.settle(ctx, &o, t.Quantity, t.Price)
	}

	ack, err := reader.GetOrder(ctx, o.ID)
	if err != nil {
		return resultOf(o), fmt.Errorf("%w: can't reconcile order %s", err, id)
	}
	if o.ExchangeOrderID == "" {
		o.ExchangeOrderID = ack.ExchangeOrderID
	}

	switch {
	case ack.Filled:
		s.logger.Infof("order %s filled on exchange: %v at %v", id, ack.FilledAmount, ack.FilledPrice)
		return s.settle(ctx, &o, ack.FilledAmount, ack.FilledPrice)
	case ack.Closed:
		return s.closeUnfilled(ctx, &o)
	}

	// Holds live in memory only, so a restart leaves working orders without one.
	err = s.ledger.Reserve(o, s.referencePrice(ctx, &o), func(portfolio.View) error { return nil })
	if err != nil && !errors.Is(err, portfolio.ErrAlreadyHeld) {
		s.logger.Warnf("%s: can't hold funds of working order %s", err, id)
	}
	return resultOf(o), nil
}

// closeUnfilled records an order the exchange closed without executing it.
func (s *Submitter) closeUnfilled(ctx context.Context, o *model.Order) (model.SubmissionResult, error) {
	previous := o.Status
	if err := o.Transition(model.StatusCancelled, s.now()); err != nil {
		return resultOf(*o), err
	}
	s.ledger.Release(o.ID)
	if err := s.save(ctx, o); err != nil {
		return resultOf(*o), err
	}
	s.metrics.OrderStatus(model.StatusCancelled)
	s.logger.Warnf("order %s closed on exchange without a fill", o.ID)

	rec := model.Cancellation{
		OrderID:         o.ID,
		Symbol:          o.Symbol,
		ExchangeOrderID: o.ExchangeOrderID,
		PreviousStatus:  previous,
		Reason:          "closed on exchange",
		CancelledAt:     o.UpdatedAt,
	}
	if err := s.store.SaveCancellation(ctx, rec); err != nil {
		return resultOf(*o), fmt.Errorf("%w: cancellation record of %s", err, o.ID)
	}
	return resultOf(*o), nil
}
