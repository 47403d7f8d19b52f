package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusConfirmed:  true,
		StatusCancelled:  true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusConfirmed: true,
		StatusShipped:   true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusConfirmed: {
		StatusShipped:   true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusFailed:    true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
	StatusFailed:    {},
}

var (
	// ErrNoChange means the order already reflects the requested change.
	ErrNoChange = errors.New("order already in requested state")

	ErrOrderNotFound            = apperr.New(apperr.ErrNotFound, "order not found")
	ErrNotOwner                 = apperr.New(apperr.ErrUnauthorized, "order belongs to another user")
	ErrMissingUser              = apperr.New(apperr.ErrValidation, "user id is required")
	ErrEmptyOrder               = apperr.New(apperr.ErrValidation, "order must contain at least one item")
	ErrInvalidPaymentMethod     = apperr.New(apperr.ErrValidation, "unsupported payment method")
	ErrInvalidAddress           = apperr.New(apperr.ErrValidation, "shipping address requires full name, line1 and city")
	ErrInvalidStatusTransition  = apperr.New(apperr.ErrConflict, "invalid order status transition")
	ErrCancelAfterShipment      = apperr.New(apperr.ErrConflict, "order can no longer be cancelled")
	ErrPaymentRequired          = apperr.New(apperr.ErrConflict, "order must be paid before it can advance")
	ErrInvalidPaymentTransition = apperr.New(apperr.ErrConflict, "invalid payment status transition")
	ErrDeliveryIrreversible     = apperr.New(apperr.ErrConflict, "a delivered order cannot be marked undelivered")
	ErrVersionConflict          = apperr.New(apperr.ErrConflict, "order was modified concurrently")
)

// TransitionError names the rejected transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// TransitionTo moves the order to next. Delivered stamps DeliveredAt.
func (o *Order) TransitionTo(next Status, now time.Time) error {
	if o.Status == next {
		return ErrNoChange
	}

	if !CanTransition(o.Status, next) {
		if next == StatusCancelled && (o.Status == StatusShipped || o.Status == StatusDelivered) {
			return ErrCancelAfterShipment
		}
		return &TransitionError{From: o.Status, To: next}
	}

	if o.PaymentMethod.IsOnline() && o.PaymentStatus != PaymentPaid {
		switch next {
		case StatusConfirmed, StatusShipped, StatusDelivered:
			return ErrPaymentRequired
		}
	}

	o.Status = next
	if next == StatusDelivered {
		at := now.UTC()
		o.DeliveredAt = &at
	}
	return nil
}

// SetDelivered is the only way to touch delivery from outside the status
// machine; it maps onto the Delivered status.
func (o *Order) SetDelivered(delivered bool, now time.Time) error {
	if !delivered {
		if o.IsDelivered() {
			return ErrDeliveryIrreversible
		}
		return ErrNoChange
	}
	return o.TransitionTo(StatusDelivered, now)
}

// MarkFailed records a checkout that could not be completed.
func (o *Order) MarkFailed() error {
	if o.Status == StatusFailed && o.PaymentStatus == PaymentFailed {
		return ErrNoChange
	}
	if o.Status.IsTerminal() {
		return &TransitionError{From: o.Status, To: StatusFailed}
	}
	o.Status = StatusFailed
	if o.PaymentStatus != PaymentPaid {
		o.PaymentStatus = PaymentFailed
	}
	return nil
}

func (o *Order) FlagForReview(reason string) {
	o.NeedsReview = true
	if o.ReviewReason == "" {
		o.ReviewReason = reason
	} else {
		o.ReviewReason += "; " + reason
	}
}

type PaymentOutcome string

const (
	OutcomeSucceeded      PaymentOutcome = "succeeded"
	OutcomeFailed         PaymentOutcome = "failed"
	OutcomeProcessing     PaymentOutcome = "processing"
	OutcomeActionRequired PaymentOutcome = "requires_action"
)

func (p PaymentOutcome) String() string {
	return string(p)
}

// ErrPaymentSuperseded marks a late signal that a stronger payment state
// already overrides, e.g. processing after paid.
var ErrPaymentSuperseded = apperr.New(apperr.ErrConflict, "payment status already superseded")

// PaymentEffect lists the side effects the caller must run for an applied
// payment outcome.
type PaymentEffect struct {
	DeductStock  bool
	ReleaseStock bool
}

// ApplyPayment folds a provider outcome into the order. Paid is never
// downgraded.
func (o *Order) ApplyPayment(outcome PaymentOutcome) (PaymentEffect, error) {
	switch outcome {
	case OutcomeSucceeded:
		if o.PaymentStatus == PaymentPaid {
			return PaymentEffect{}, ErrNoChange
		}
		o.PaymentStatus = PaymentPaid

		switch {
		case o.Status == StatusCancelled || o.Status == StatusFailed:
			o.FlagForReview("payment captured after the order was " + o.Status.String())
			return PaymentEffect{}, nil
		case o.StockDeducted:
			o.advanceOnPayment()
			return PaymentEffect{}, nil
		default:
			return PaymentEffect{DeductStock: true}, nil
		}

	case OutcomeFailed:
		switch o.PaymentStatus {
		case PaymentPaid:
			return PaymentEffect{}, ErrPaymentSuperseded
		case PaymentFailed:
			if o.Status.IsTerminal() {
				return PaymentEffect{}, ErrNoChange
			}
		}
		o.PaymentStatus = PaymentFailed

		var eff PaymentEffect
		if CanTransition(o.Status, StatusCancelled) {
			o.Status = StatusCancelled
			eff.ReleaseStock = o.StockDeducted
		}
		return eff, nil

	case OutcomeProcessing:
		switch o.PaymentStatus {
		case PaymentPending:
			o.PaymentStatus = PaymentProcessing
			return PaymentEffect{}, nil
		case PaymentProcessing:
			return PaymentEffect{}, ErrNoChange
		default:
			return PaymentEffect{}, ErrPaymentSuperseded
		}

	case OutcomeActionRequired:
		return PaymentEffect{}, ErrNoChange
	}

	return PaymentEffect{}, apperr.Newf(apperr.ErrValidation, "unknown payment outcome %q", outcome)
}

// CompletePayment records a successful stock deduction for a paid order.
func (o *Order) CompletePayment() {
	o.StockDeducted = true
	o.advanceOnPayment()
}

func (o *Order) advanceOnPayment() {
	if o.Status == StatusPending || o.Status == StatusProcessing {
		o.Status = StatusConfirmed
	}
}
