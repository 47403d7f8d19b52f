package payment

import (
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

var (
	ErrInvalidSignature = apperr.New(apperr.ErrValidation, "invalid webhook signature")
	ErrIntentNotFound   = apperr.New(apperr.ErrNotFound, "payment intent not found")
	ErrNoIntent         = apperr.New(apperr.ErrNotFound, "order has no payment intent")
	ErrNotOnlineOrder   = apperr.New(apperr.ErrValidation, "order is not paid through the payment provider")
	ErrAlreadyPaid      = apperr.New(apperr.ErrConflict, "order is already paid")
	ErrOrderClosed      = apperr.New(apperr.ErrConflict, "order is closed")
	ErrIntentAuthorized = apperr.New(apperr.ErrConflict, "payment is authorized and awaiting capture")
	ErrNoRate           = apperr.New(apperr.ErrValidation, "no exchange rate is effective for the order date")
	ErrInvalidAmount    = apperr.New(apperr.ErrValidation, "payment amount must be positive")
	ErrUpstream         = apperr.New(apperr.ErrUpstream, "payment provider request failed")
)

// IntentStatus mirrors the provider's payment intent lifecycle.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentCanceled              IntentStatus = "canceled"
	IntentSucceeded             IntentStatus = "succeeded"
)

// Reusable reports whether an existing intent should be handed back to the
// client instead of creating a new one.
func (s IntentStatus) Reusable() bool {
	switch s {
	case IntentRequiresPaymentMethod, IntentRequiresConfirmation, IntentRequiresAction, IntentProcessing:
		return true
	}
	return false
}

// Outcome maps an intent status fetched from the provider onto the order's
// payment state machine.
func (s IntentStatus) Outcome() order.PaymentOutcome {
	switch s {
	case IntentSucceeded:
		return order.OutcomeSucceeded
	case IntentProcessing:
		return order.OutcomeProcessing
	case IntentCanceled:
		return order.OutcomeFailed
	default:
		return order.OutcomeActionRequired
	}
}

type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Status       IntentStatus      `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// OrderID reads the order id stored in the intent metadata.
func (i *Intent) OrderID() (uuid.UUID, bool) {
	raw, ok := i.Metadata[metadataOrderID]
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

const (
	metadataOrderID = "order_id"
	metadataUserID  = "user_id"
)

type CreateIntentParams struct {
	OrderID        uuid.UUID
	UserID         uuid.UUID
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// IntentResult is what the client needs to complete payment.
type IntentResult struct {
	OrderID      uuid.UUID       `json:"order_id"`
	IntentID     string          `json:"payment_intent_id"`
	ClientSecret string          `json:"client_secret"`
	Status       IntentStatus    `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Reused       bool            `json:"reused"`
}

// Event types delivered by the provider webhook.
const (
	EventIntentSucceeded      = "payment_intent.succeeded"
	EventIntentPaymentFailed  = "payment_intent.payment_failed"
	EventIntentCanceled       = "payment_intent.canceled"
	EventIntentProcessing     = "payment_intent.processing"
	EventIntentRequiresAction = "payment_intent.requires_action"
)

type WebhookEvent struct {
	ID     string
	Type   string
	Intent *Intent
}

// Outcome maps the event type onto the payment state machine. ok is false for
// events that carry no payment outcome.
func (e *WebhookEvent) Outcome() (outcome order.PaymentOutcome, ok bool) {
	switch e.Type {
	case EventIntentSucceeded:
		return order.OutcomeSucceeded, true
	case EventIntentPaymentFailed, EventIntentCanceled:
		return order.OutcomeFailed, true
	case EventIntentProcessing:
		return order.OutcomeProcessing, true
	case EventIntentRequiresAction:
		return order.OutcomeActionRequired, true
	}
	return "", false
}
