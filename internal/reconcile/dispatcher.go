// Package reconcile folds payment signals from the provider webhook, the
// client confirm call and admin updates into order state. All three go
// through ApplyPaymentEvent, which runs under the per-order lock, so
// redelivered or racing signals converge on the same end state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/notify"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
)

type Source string

const (
	SourceWebhook Source = "webhook"
	SourceConfirm Source = "confirm"
	SourceAdmin   Source = "admin"
)

// Event is one payment signal for one order.
type Event struct {
	OrderID  uuid.UUID
	IntentID string
	Outcome  order.PaymentOutcome
	Source   Source
	// Strict turns a superseded outcome into an error instead of a no-op.
	Strict bool
}

type Action string

const (
	ActionApplied    Action = "applied"
	ActionUnchanged  Action = "unchanged"
	ActionDuplicate  Action = "duplicate"
	ActionSuperseded Action = "superseded"
	ActionIgnored    Action = "ignored"
	ActionReview     Action = "review"
)

type Result struct {
	Order  *order.Order `json:"order,omitempty"`
	Action Action       `json:"action"`
}

var ErrUnsupportedPaymentStatus = apperr.New(apperr.ErrValidation, "payment status cannot be set manually")

type Orders interface {
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*order.Order, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*order.Order, error)
	Mutate(ctx context.Context, id uuid.UUID, fn order.MutateFunc) (*order.Order, error)
}

type Inventory interface {
	DeductForOrder(ctx context.Context, orderID uuid.UUID, lines []inventory.Line) (bool, error)
	ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type Carts interface {
	Clear(ctx context.Context, userID uuid.UUID) error
}

type Payments interface {
	GetIntent(ctx context.Context, intentID string) (*payment.Intent, error)
	ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error)
}

// Recorder receives reconciliation counters.
type Recorder interface {
	ObservePayment(source, outcome, result string)
	ObserveDeduction(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObservePayment(string, string, string) {}
func (nopRecorder) ObserveDeduction(string)               {}

type Dispatcher struct {
	orders    Orders
	inventory Inventory
	carts     Carts
	payments  Payments
	notifier  notify.Notifier
	events    EventLog
	recorder  Recorder
}

type Deps struct {
	Orders    Orders
	Inventory Inventory
	Carts     Carts
	Payments  Payments
	Notifier  notify.Notifier
	Events    EventLog
	Recorder  Recorder
}

func NewDispatcher(d Deps) *Dispatcher {
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.LogNotifier{}
	}
	return &Dispatcher{
		orders:    d.Orders,
		inventory: d.Inventory,
		carts:     d.Carts,
		payments:  d.Payments,
		notifier:  d.Notifier,
		events:    d.Events,
		recorder:  d.Recorder,
	}
}

// ApplyPaymentEvent applies ev under the order lock. Stock is deducted at
// most once per order; cart clearing and the confirmation run after the
// order is stored and never fail the event.
func (d *Dispatcher) ApplyPaymentEvent(ctx context.Context, ev Event) (*Result, error) {
	var (
		action    Action
		confirmed bool
	)

	o, err := d.orders.Mutate(ctx, ev.OrderID, func(o *order.Order) error {
		action, confirmed = ActionApplied, false

		if ev.IntentID != "" && o.PaymentIntentID != "" && o.PaymentIntentID != ev.IntentID {
			log.Warn().
				Stringer("order_id", o.ID).
				Str("event_intent_id", ev.IntentID).
				Str("order_intent_id", o.PaymentIntentID).
				Msg("reconcile: event for a replaced payment intent, ignoring")
			action = ActionIgnored
			return order.ErrNoChange
		}

		eff, err := o.ApplyPayment(ev.Outcome)
		switch {
		case errors.Is(err, order.ErrNoChange):
			action = ActionUnchanged
			return err
		case errors.Is(err, order.ErrPaymentSuperseded) && !ev.Strict:
			action = ActionSuperseded
			return order.ErrNoChange
		case err != nil:
			return err
		}

		if eff.DeductStock {
			applied, err := d.inventory.DeductForOrder(ctx, o.ID, o.StockLines())
			switch {
			case err == nil:
				o.CompletePayment()
				confirmed = true
				if applied {
					d.recorder.ObserveDeduction("applied")
				} else {
					d.recorder.ObserveDeduction("already_applied")
				}
			case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, inventory.ErrProductNotFound):
				// деньги списаны, а товара нет: заказ остаётся оплаченным до ручного разбора
				o.FlagForReview("stock deduction failed after payment: " + err.Error())
				action = ActionReview
				d.recorder.ObserveDeduction("rejected")
			default:
				return err
			}
		}

		if eff.ReleaseStock {
			if _, err := d.inventory.ReleaseForOrder(ctx, o.ID); err != nil {
				return err
			}
			o.StockDeducted = false
		}

		if o.NeedsReview && action == ActionApplied && o.PaymentStatus == order.PaymentPaid && !o.StockDeducted {
			action = ActionReview
		}
		return nil
	})

	outcome := ev.Outcome.String()
	if err != nil {
		d.recorder.ObservePayment(string(ev.Source), outcome, "error")
		log.Warn().Err(err).
			Stringer("order_id", ev.OrderID).
			Str("source", string(ev.Source)).
			Stringer("outcome", ev.Outcome).
			Msg("reconcile: payment event rejected")
		return nil, err
	}
	d.recorder.ObservePayment(string(ev.Source), outcome, string(action))

	log.Info().
		Stringer("order_id", o.ID).
		Str("source", string(ev.Source)).
		Stringer("outcome", ev.Outcome).
		Str("action", string(action)).
		Stringer("status", o.Status).
		Stringer("payment_status", o.PaymentStatus).
		Msg("reconcile: payment event processed")

	if confirmed {
		d.afterConfirmation(ctx, o)
	}
	return &Result{Order: o, Action: action}, nil
}

func (d *Dispatcher) afterConfirmation(ctx context.Context, o *order.Order) {
	if d.carts != nil {
		if err := d.carts.Clear(ctx, o.UserID); err != nil {
			log.Warn().Err(err).Stringer("order_id", o.ID).Stringer("user_id", o.UserID).Msg("reconcile: failed to clear cart after payment")
		}
	}
	if err := d.notifier.OrderConfirmed(ctx, o); err != nil {
		log.Warn().Err(err).Stringer("order_id", o.ID).Msg("reconcile: failed to send order confirmation")
	}
}

// Confirm re-reads the intent from the provider and applies its status.
// The client's own claim about the payment is never trusted.
func (d *Dispatcher) Confirm(ctx context.Context, userID uuid.UUID, intentID string) (*Result, error) {
	if intentID == "" {
		return nil, apperr.New(apperr.ErrValidation, "payment intent id is required")
	}

	intent, err := d.payments.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	orderID, err := d.resolveOrderID(ctx, intent)
	if err != nil {
		return nil, err
	}
	if _, err := d.orders.GetForUser(ctx, orderID, userID); err != nil {
		return nil, err
	}

	return d.ApplyPaymentEvent(ctx, Event{
		OrderID:  orderID,
		IntentID: intent.ID,
		Outcome:  intent.Status.Outcome(),
		Source:   SourceConfirm,
	})
}

// HandleWebhook verifies and applies one provider delivery. A nil error
// means the provider may stop redelivering it.
func (d *Dispatcher) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Result, error) {
	event, err := d.payments.ParseWebhook(payload, signature)
	if err != nil {
		d.recorder.ObservePayment(string(SourceWebhook), "unknown", "invalid_signature")
		log.Warn().Err(err).Msg("reconcile: webhook rejected")
		return nil, err
	}

	logger := log.With().Str("event_id", event.ID).Str("event_type", event.Type).Logger()

	outcome, ok := event.Outcome()
	if !ok || event.Intent == nil {
		logger.Debug().Msg("reconcile: webhook event carries no payment outcome, skipping")
		return &Result{Action: ActionIgnored}, nil
	}

	seen, err := d.events.Seen(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if seen {
		d.recorder.ObservePayment(string(SourceWebhook), outcome.String(), string(ActionDuplicate))
		logger.Info().Msg("reconcile: webhook event already processed")
		return &Result{Action: ActionDuplicate}, nil
	}

	orderID, err := d.resolveOrderID(ctx, event.Intent)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			logger.Warn().Str("intent_id", event.Intent.ID).Msg("reconcile: webhook for unknown order, skipping")
			d.recorder.ObservePayment(string(SourceWebhook), outcome.String(), string(ActionIgnored))
			return &Result{Action: ActionIgnored}, d.record(ctx, event, uuid.Nil)
		}
		return nil, err
	}

	res, err := d.ApplyPaymentEvent(ctx, Event{
		OrderID:  orderID,
		IntentID: event.Intent.ID,
		Outcome:  outcome,
		Source:   SourceWebhook,
	})
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return &Result{Action: ActionIgnored}, d.record(ctx, event, orderID)
		}
		return nil, err
	}

	if err := d.record(ctx, event, orderID); err != nil {
		// событие уже применено; повторная доставка отработает как дубликат
		logger.Warn().Err(err).Msg("reconcile: failed to record processed webhook event")
	}
	return res, nil
}

// SetPaymentStatus is the admin override. It follows the same rules as
// provider signals except that a superseded status is reported as a
// conflict.
func (d *Dispatcher) SetPaymentStatus(ctx context.Context, orderID uuid.UUID, status order.PaymentStatus) (*Result, error) {
	var outcome order.PaymentOutcome
	switch status {
	case order.PaymentPaid:
		outcome = order.OutcomeSucceeded
	case order.PaymentFailed:
		outcome = order.OutcomeFailed
	case order.PaymentProcessing:
		outcome = order.OutcomeProcessing
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPaymentStatus, status)
	}

	return d.ApplyPaymentEvent(ctx, Event{
		OrderID: orderID,
		Outcome: outcome,
		Source:  SourceAdmin,
		Strict:  true,
	})
}

func (d *Dispatcher) resolveOrderID(ctx context.Context, intent *payment.Intent) (uuid.UUID, error) {
	if id, ok := intent.OrderID(); ok {
		return id, nil
	}
	o, err := d.orders.GetByPaymentIntentID(ctx, intent.ID)
	if err != nil {
		return uuid.Nil, err
	}
	return o.ID, nil
}

func (d *Dispatcher) record(ctx context.Context, event *payment.WebhookEvent, orderID uuid.UUID) error {
	return d.events.Record(ctx, ProcessedEvent{
		EventID:     event.ID,
		EventType:   event.Type,
		OrderID:     orderID,
		IntentID:    event.Intent.ID,
		ProcessedAt: time.Now().UTC(),
	})
}
