package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/reconcile"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

type Intents interface {
	GetIntentDetails(ctx context.Context, orderID, userID uuid.UUID) (*payment.Intent, error)
	CancelIntent(ctx context.Context, orderID, userID uuid.UUID) (*payment.Intent, error)
}

type Reconciler interface {
	Confirm(ctx context.Context, userID uuid.UUID, intentID string) (*reconcile.Result, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*reconcile.Result, error)
	SetPaymentStatus(ctx context.Context, orderID uuid.UUID, status order.PaymentStatus) (*reconcile.Result, error)
}

type CreateIntentRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
}

type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required,max=255"`
}

type PaymentResultResponse struct {
	Order  *OrderResponse   `json:"order,omitempty"`
	Action reconcile.Action `json:"action"`
}

func toPaymentResultResponse(res *reconcile.Result) PaymentResultResponse {
	resp := PaymentResultResponse{Action: res.Action}
	if res.Order != nil {
		o := toOrderResponse(res.Order)
		resp.Order = &o
	}
	return resp
}

type PaymentHandler struct {
	checkout   Checkout
	intents    Intents
	reconciler Reconciler
	validate   *validator.Validate
}

func NewPaymentHandler(checkout Checkout, intents Intents, reconciler Reconciler) *PaymentHandler {
	return &PaymentHandler{
		checkout:   checkout,
		intents:    intents,
		reconciler: reconciler,
		validate:   newValidator(),
	}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/intent", h.handleCreateIntent)
	router.Get("/payments/intent/{orderId}", h.handleGetIntent)
	router.Post("/payments/intent/{orderId}/cancel", h.handleCancelIntent)
	router.Post("/payments/confirm", h.handleConfirm)
}

// RegisterWebhook mounts the provider callback. It must stay outside the
// bearer auth group.
func (h *PaymentHandler) RegisterWebhook(router chi.Router) {
	router.Post("/payments/webhook", h.handleWebhook)
}

func (h *PaymentHandler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req CreateIntentRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	res, err := h.checkout.RetryPayment(r.Context(), req.OrderID, p.UserID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to create payment intent")
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *PaymentHandler) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	orderID, ok := parseUUIDParam(w, r, "orderId")
	if !ok {
		return
	}

	intent, err := h.intents.GetIntentDetails(r.Context(), orderID, p.UserID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get payment intent")
		return
	}
	respondWithJSON(w, http.StatusOK, intent)
}

func (h *PaymentHandler) handleCancelIntent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	orderID, ok := parseUUIDParam(w, r, "orderId")
	if !ok {
		return
	}

	intent, err := h.intents.CancelIntent(r.Context(), orderID, p.UserID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to cancel payment intent")
		return
	}
	respondWithJSON(w, http.StatusOK, intent)
}

func (h *PaymentHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req ConfirmPaymentRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	res, err := h.reconciler.Confirm(r.Context(), p.UserID, req.PaymentIntentID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to confirm payment")
		return
	}
	respondWithJSON(w, http.StatusOK, toPaymentResultResponse(res))
}

// handleWebhook answers 400 for bad signatures so the provider does not
// retry them, and 500 for anything it should redeliver.
func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	res, err := h.reconciler.HandleWebhook(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			respondWithError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		log.Error().Err(err).Msg("Failed to process webhook")
		respondWithError(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"received": true, "action": res.Action})
}
