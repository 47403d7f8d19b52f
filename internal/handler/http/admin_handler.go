package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing confirmed shipped delivered cancelled failed"`
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required,oneof=pending processing paid failed"`
}

type UpdateDeliveryRequest struct {
	IsDelivered *bool `json:"is_delivered" validate:"required"`
}

// AdminHandler serves the back-office routes. RegisterRoutes expects a
// router already guarded by RequireAdmin.
type AdminHandler struct {
	orders     order.Service
	checkout   Checkout
	reconciler Reconciler
	validate   *validator.Validate
}

func NewAdminHandler(orders order.Service, checkout Checkout, reconciler Reconciler) *AdminHandler {
	return &AdminHandler{
		orders:     orders,
		checkout:   checkout,
		reconciler: reconciler,
		validate:   newValidator(),
	}
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Get("/admin/orders/review", h.handleListReview)
	router.Put("/admin/orders/{id}/status", h.handleUpdateStatus)
	router.Put("/admin/orders/{id}/payment", h.handleUpdatePayment)
	router.Put("/admin/orders/{id}/delivery", h.handleUpdateDelivery)
	router.Delete("/admin/orders/{id}", h.handleDeleteOrder)
}

func (h *AdminHandler) handleListReview(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListNeedingReview(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdateOrderStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	status := order.Status(req.Status)
	var (
		o   *order.Order
		err error
	)
	// отмена и провал идут через checkout: там возврат остатков и отмена интента
	switch status {
	case order.StatusCancelled:
		o, err = h.checkout.CancelOrder(r.Context(), id, checkout.Actor{UserID: p.UserID, Admin: true})
	case order.StatusFailed:
		o, err = h.checkout.FailOrder(r.Context(), id)
	default:
		o, err = h.orders.UpdateStatus(r.Context(), id, status)
	}
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}

	log.Info().Stringer("order_id", id).Stringer("admin_id", p.UserID).Str("status", req.Status).Msg("Order status updated by admin")
	respondWithJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *AdminHandler) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdatePaymentStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	res, err := h.reconciler.SetPaymentStatus(r.Context(), id, order.PaymentStatus(req.PaymentStatus))
	if err != nil {
		respondWithServiceError(w, err, "Failed to update payment status")
		return
	}
	respondWithJSON(w, http.StatusOK, toPaymentResultResponse(res))
}

func (h *AdminHandler) handleUpdateDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdateDeliveryRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	o, err := h.orders.SetDelivered(r.Context(), id, *req.IsDelivered)
	if err != nil {
		respondWithServiceError(w, err, "Failed to update delivery")
		return
	}
	respondWithJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *AdminHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.orders.Delete(r.Context(), id); err != nil {
		respondWithServiceError(w, err, "Failed to delete order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
