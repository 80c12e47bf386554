// Package orders builds orders from signals, submits them exactly once per
// order id and cancels them. The order id doubles as the client order id
// the exchange deduplicates on.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/exchange"
	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/metrics"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/STTM-NSU/signal-trader/internal/portfolio"
	"github.com/STTM-NSU/signal-trader/internal/storage"
	"github.com/STTM-NSU/signal-trader/internal/validator"
	"github.com/google/uuid"
)

const (
	_orderIDPrefix          = "st-"
	_dispatchTimeoutDefault = 30 * time.Second
)

var (
	ErrNotPendingConfirmation = errors.New("order is not waiting for confirmation")
	ErrNotSubmitted           = errors.New("order is not submitted")
	ErrUnknownAsset           = errors.New("asset is not configured")
	ErrNoPrice                = errors.New("no price")
)

// Confirm tells SubmitOrder how to treat the confirmation gate.
type Confirm int

const (
	// ConfirmDefault leaves the decision to configuration.
	ConfirmDefault Confirm = iota
	// ConfirmRequired parks the order in pending_confirmation whatever the configuration says.
	ConfirmRequired
	// ConfirmGiven is an explicit approval; the order goes to the exchange.
	ConfirmGiven
)

type Ledger interface {
	View() portfolio.View
	Price(symbol string) (model.Price, bool)
	Reserve(o model.Order, refPrice float64, check func(portfolio.View) error) error
	Release(orderID string)
	RecordTrade(ctx context.Context, t model.Trade) (bool, error)
	TradeFor(orderID string) (model.Trade, bool)
}

type Store interface {
	storage.OrderStore
	storage.CancellationStore
}

type Config struct {
	RequireConfirmation   bool
	MaxAllocationPerAsset float64
	Assets                []model.AssetConfig
	DispatchTimeout       time.Duration
}

type Option func(*Submitter)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Submitter) {
		s.now = now
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Submitter) {
		s.newID = gen
	}
}

type Submitter struct {
	cfg     Config
	assets  map[string]model.AssetConfig
	ex      exchange.Exchange
	store   Store
	ledger  Ledger
	prices  portfolio.PriceSource
	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string

	locks *keyedMutex
}

func NewSubmitter(cfg Config, ex exchange.Exchange, store Store, ledger Ledger, prices portfolio.PriceSource, logger logger.Logger, opts ...Option) *Submitter {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = _dispatchTimeoutDefault
	}
	s := &Submitter{
		cfg:    cfg,
		assets: make(map[string]model.AssetConfig, len(cfg.Assets)),
		ex:     ex,
		store:  store,
		ledger: ledger,
		prices: prices,
		logger: logger.With("component", "orders"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return _orderIDPrefix + uuid.NewString() },
		locks:  newKeyedMutex(),
	}
	for _, a := range cfg.Assets {
		s.assets[a.Symbol] = a
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOrder builds a pending order with a fresh id.
func (s *Submitter) NewOrder(symbol string, side model.Side, kind model.Kind, amount, price float64, reason string) *model.Order {
	now := s.now()
	o := &model.Order{
		ID:        s.newID(),
		Symbol:    symbol,
		Side:      side,
		Kind:      kind,
		Amount:    amount,
		Status:    model.StatusPending,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if kind == model.Limit {
		o.Price = price
	}
	return o
}

func (s *Submitter) requireConfirmation(c Confirm) bool {
	switch c {
	case ConfirmGiven:
		return false
	case ConfirmRequired:
		return true
	}
	return s.cfg.RequireConfirmation
}

// SubmitOrder validates the order, parks it for confirmation when required,
// or places it on the exchange. Re-submitting an id that already reached the
// exchange returns the recorded result with Duplicate set.
//
// Exchange rejections are reported through the result's failed status; the
// returned error is for validation, transport, persistence and ledger failures.
func (s *Submitter) SubmitOrder(ctx context.Context, order *model.Order, confirm Confirm) (model.SubmissionResult, error) {
	unlock := s.locks.Lock(order.ID)
	defer unlock()

	stored, err := s.store.GetOrder(ctx, order.ID)
	switch {
	case err == nil:
		if stored.Status == model.StatusSubmitted || stored.Status.IsTerminal() {
			*order = stored
			res := resultOf(stored)
			res.Duplicate = true
			return res, nil
		}
		if stored.Status == model.StatusPendingConfirmation && s.requireConfirmation(confirm) {
			*order = stored
			res := resultOf(stored)
			res.Duplicate = true
			return res, nil
		}
		*order = stored
	case errors.Is(err, storage.ErrNotFound):
	default:
		return model.SubmissionResult{OrderID: order.ID, Status: order.Status}, fmt.Errorf("%w: can't look up order %s", err, order.ID)
	}

	if order.Status == "" {
		order.Status = model.StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now()
		order.UpdatedAt = order.CreatedAt
	}
	if err := ctx.Err(); err != nil {
		return resultOf(*order), err
	}

	// A fill already in the ledger means an earlier attempt executed and
	// only the order record is behind.
	if t, ok := s.ledger.TradeFor(order.ID); ok {
		return s.recoverFilled(ctx, order, t)
	}

	asset, ok := s.assets[order.Symbol]
	if !ok {
		order.Errors = []string{fmt.Sprintf("asset %s not found", order.Symbol)}
		return s.fail(ctx, order, "validation failed", fmt.Errorf("%w: %s", ErrUnknownAsset, order.Symbol))
	}
	refPrice := s.referencePrice(ctx, order)

	var vErr error
	err = s.ledger.Reserve(*order, refPrice, func(v portfolio.View) error {
		vErr = validator.Validate(order, v, asset, refPrice).Err(order.ID)
		return vErr
	})
	if err != nil {
		var invalid *validator.ValidationError
		if errors.As(vErr, &invalid) {
			order.Errors = invalid.Errors
		} else {
			order.Errors = []string{err.Error()}
		}
		return s.fail(ctx, order, "validation failed", err)
	}

	if order.Status == model.StatusPending {
		if err := order.Transition(model.StatusValidated, s.now()); err != nil {
			s.ledger.Release(order.ID)
			return resultOf(*order), err
		}
	}

	if s.requireConfirmation(confirm) {
		s.ledger.Release(order.ID)
		if err := order.Transition(model.StatusPendingConfirmation, s.now()); err != nil {
			return resultOf(*order), err
		}
		if err := s.save(ctx, order); err != nil {
			return resultOf(*order), err
		}
		s.metrics.OrderStatus(model.StatusPendingConfirmation)
		s.logger.Infof("order %s %s %v %s waits for confirmation", order.ID, order.Side, order.Amount, order.Symbol)
		return resultOf(*order), nil
	}

	// The validated order is recorded before dispatch so a crash after the
	// exchange call can be retried under the same client order id.
	if err := s.save(ctx, order); err != nil {
		s.ledger.Release(order.ID)
		return resultOf(*order), err
	}
	if err := ctx.Err(); err != nil {
		s.ledger.Release(order.ID)
		return resultOf(*order), err
	}

	return s.dispatch(ctx, order)
}

// dispatch places the order. From here on the caller's cancellation is ignored.
func (s *Submitter) dispatch(ctx context.Context, order *model.Order) (model.SubmissionResult, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
	defer cancel()

	var (
		ack model.OrderAck
		err error
	)
	switch order.Kind {
	case model.Limit:
		ack, err = s.ex.CreateLimitOrder(dctx, order.Symbol, order.Side, order.Amount, order.Price, order.ID)
	default:
		ack, err = s.ex.CreateMarketOrder(dctx, order.Symbol, order.Side, order.Amount, order.ID)
	}
	if err != nil {
		if exchange.IsRejection(err) {
			res, saveErr := s.fail(dctx, order, err.Error(), nil)
			return res, saveErr
		}
		return s.fail(dctx, order, err.Error(), err)
	}

	order.ExchangeOrderID = ack.ExchangeOrderID
	if err := order.Transition(model.StatusSubmitted, s.now()); err != nil {
		return resultOf(*order), err
	}
	s.metrics.OrderStatus(model.StatusSubmitted)
	s.logger.Infof("order %s placed as %s", order.ID, ack.ExchangeOrderID)

	// Recorded as submitted first, so a retry after a failed save below
	// finds the order on the exchange instead of validating it again.
	saveErr := s.save(dctx, order)
	if !ack.Filled {
		return resultOf(*order), saveErr
	}
	if saveErr != nil {
		s.logger.Errorf("%s: settling order %s anyway", saveErr, order.ID)
	}
	res, err := s.settle(dctx, order, ack.FilledAmount, ack.FilledPrice)
	return res, errors.Join(saveErr, err)
}

// recoverFilled completes an order whose fill the ledger already holds.
func (s *Submitter) recoverFilled(ctx context.Context, order *model.Order, t model.Trade) (model.SubmissionResult, error) {
	s.ledger.Release(order.ID)
	order.FilledAmount = t.Quantity
	order.FilledPrice = t.Price
	for _, next := range []model.Status{model.StatusValidated, model.StatusSubmitted, model.StatusFilled} {
		if order.Status.CanTransition(next) {
			if err := order.Transition(next, s.now()); err != nil {
				return resultOf(*order), err
			}
		}
	}
	s.logger.Warnf("order %s was already filled in the ledger, record completed", order.ID)
	res := resultOf(*order)
	res.Duplicate = true
	return res, s.save(ctx, order)
}

// settle records the fill in the ledger and completes the order. Must hold the order lock.
func (s *Submitter) settle(ctx context.Context, order *model.Order, qty, price float64) (model.SubmissionResult, error) {
	if qty <= 0 {
		qty = order.Amount
	}
	if price <= 0 {
		price = order.Price
	}
	order.FilledAmount = qty
	order.FilledPrice = price

	_, err := s.ledger.RecordTrade(ctx, model.Trade{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Action:    order.Side,
		Quantity:  qty,
		Price:     price,
		Timestamp: s.now(),
	})
	if err != nil {
		order.Errors = append(order.Errors, "ledger: "+err.Error())
		s.logger.Errorf("%s: fill of order %s not recorded in ledger", err, order.ID)
		if saveErr := s.save(ctx, order); saveErr != nil {
			return resultOf(*order), errors.Join(err, saveErr)
		}
		return resultOf(*order), err
	}

	if err := order.Transition(model.StatusFilled, s.now()); err != nil {
		return resultOf(*order), err
	}
	s.metrics.OrderStatus(model.StatusFilled)
	return resultOf(*order), s.save(ctx, order)
}

// fail marks the order failed and persists it; cause is returned alongside.
func (s *Submitter) fail(ctx context.Context, order *model.Order, reason string, cause error) (model.SubmissionResult, error) {
	s.ledger.Release(order.ID)
	order.Reason = reason
	if err := order.Transition(model.StatusFailed, s.now()); err != nil {
		return resultOf(*order), errors.Join(cause, err)
	}
	s.metrics.OrderStatus(model.StatusFailed)
	s.logger.Warnf("order %s failed: %s", order.ID, reason)
	if err := s.save(ctx, order); err != nil {
		return resultOf(*order), errors.Join(cause, err)
	}
	return resultOf(*order), cause
}

func (s *Submitter) save(ctx context.Context, order *model.Order) error {
	if err := s.store.SaveOrder(ctx, *order); err != nil {
		return fmt.Errorf("%w: order %s", err, order.ID)
	}
	return nil
}

// ConfirmOrder approves an order parked in pending_confirmation and submits it.
func (s *Submitter) ConfirmOrder(ctx context.Context, id string) (model.SubmissionResult, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return model.SubmissionResult{OrderID: id}, fmt.Errorf("%w: order %s", err, id)
	}
	if o.Status != model.StatusPendingConfirmation {
		return resultOf(o), fmt.Errorf("%w: %s is %s", ErrNotPendingConfirmation, id, o.Status)
	}
	return s.SubmitOrder(ctx, &o, ConfirmGiven)
}

// ApplyFill completes a resting submitted order filled at the given quantity and price.
func (s *Submitter) ApplyFill(ctx context.Context, id string, qty, price float64) (model.SubmissionResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return model.SubmissionResult{OrderID: id}, fmt.Errorf("%w: order %s", err, id)
	}
	if o.Status != model.StatusSubmitted {
		return resultOf(o), fmt.Errorf("%w: %s is %s", ErrNotSubmitted, id, o.Status)
	}
	return s.settle(ctx, &o, qty, price)
}

func (s *Submitter) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Submitter) referencePrice(ctx context.Context, order *model.Order) float64 {
	if s.prices != nil {
		p, err := s.prices.LatestPrice(ctx, order.Symbol)
		switch {
		case err != nil:
			s.logger.Warnf("%s: fall back to ledger price for %s", err, order.Symbol)
		case p.Price <= 0:
			s.logger.Warnf("non-positive price %v for %s, fall back to ledger price", p.Price, order.Symbol)
		default:
			return p.Price
		}
	}
	if p, ok := s.ledger.Price(order.Symbol); ok {
		return p.Price
	}
	return order.Price
}

func resultOf(o model.Order) model.SubmissionResult {
	return model.SubmissionResult{
		OrderID:         o.ID,
		Status:          o.Status,
		ExchangeOrderID: o.ExchangeOrderID,
		Reason:          o.Reason,
		Errors:          o.Errors,
	}
}
