package model

import (
	"errors"
	"fmt"
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

type Kind string

const (
	Market Kind = "market"
	Limit  Kind = "limit"
)

func (k Kind) Valid() bool {
	return k == Market || k == Limit
}

type Status string

const (
	StatusPending             Status = "pending"
	StatusValidated           Status = "validated"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusSubmitted           Status = "submitted"
	StatusFilled              Status = "filled"
	StatusCancelled           Status = "cancelled"
	StatusFailed              Status = "failed"
)

var ErrIllegalTransition = errors.New("illegal order status transition")

// pending -> validated -> {pending_confirmation -> submitted, submitted} -> {filled, cancelled, failed}
var _transitions = map[Status][]Status{
	StatusPending:             {StatusValidated, StatusFailed, StatusCancelled},
	StatusValidated:           {StatusPendingConfirmation, StatusSubmitted, StatusFailed, StatusCancelled},
	StatusPendingConfirmation: {StatusSubmitted, StatusFailed, StatusCancelled},
	StatusSubmitted:           {StatusFilled, StatusFailed, StatusCancelled},
}

func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusFailed
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range _transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	Kind            Kind      `json:"kind"`
	Amount          float64   `json:"amount"`
	Price           float64   `json:"price,omitempty"`
	Status          Status    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	AnalysisID      string    `json:"analysis_id,omitempty"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	FilledAmount    float64   `json:"filled_amount,omitempty"`
	FilledPrice     float64   `json:"filled_price,omitempty"`
	Errors          []string  `json:"errors,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Transition moves the order to the next status, refusing anything the state machine does not allow.
func (o *Order) Transition(to Status, at time.Time) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s for order %s", ErrIllegalTransition, o.Status, to, o.ID)
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// Cost is the quote-currency value of the order at the given reference price.
func (o Order) Cost(refPrice float64) float64 {
	if o.Kind == Limit && o.Price > 0 {
		return o.Amount * o.Price
	}
	return o.Amount * refPrice
}

type SubmissionResult struct {
	OrderID         string   `json:"order_id"`
	Status          Status   `json:"status"`
	ExchangeOrderID string   `json:"exchange_order_id,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Errors          []string `json:"errors,omitempty"`
	// Duplicate is set when the order was already processed and the stored result is returned.
	Duplicate       bool     `json:"duplicate,omitempty"`
}

type CancelOutcome string

const (
	CancelDone            CancelOutcome = "cancelled"
	CancelNotFound        CancelOutcome = "not_found"
	CancelAlreadyTerminal CancelOutcome = "already_terminal"
	CancelFailed          CancelOutcome = "failed"
)

type CancelResult struct {
	OrderID string        `json:"order_id"`
	Outcome CancelOutcome `json:"outcome"`
	Status  Status        `json:"status,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

type Cancellation struct {
	OrderID         string    `json:"order_id"`
	Symbol          string    `json:"symbol"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	PreviousStatus  Status    `json:"previous_status"`
	Reason          string    `json:"reason,omitempty"`
	CancelledAt     time.Time `json:"cancelled_at"`
}
