package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
)

// Checkout is the order placement side used by the handlers.
type Checkout interface {
	CreateOrderFromCart(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	CreateCustomOrder(ctx context.Context, req checkout.CustomOrderRequest) (*checkout.Result, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, actor checkout.Actor) (*order.Order, error)
	FailOrder(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
	RetryPayment(ctx context.Context, orderID, userID uuid.UUID) (*payment.IntentResult, error)
}

type AddressRequest struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Phone      string `json:"phone" validate:"max=50"`
	Line1      string `json:"line1" validate:"required,max=300"`
	Line2      string `json:"line2" validate:"max=300"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"max=100"`
}

func (a AddressRequest) toDomain() order.Address {
	return order.Address{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type CreateOrderFromCartRequest struct {
	ShippingAddress AddressRequest `json:"shipping_address"`
	PaymentMethod   string         `json:"payment_method" validate:"required,oneof=cod card bank_transfer online_gateway"`
}

type CustomOrderItemRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,min=1,max=1000"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Variant   VariantInput    `json:"variant"`
}

type CreateCustomOrderRequest struct {
	Items           []CustomOrderItemRequest `json:"items" validate:"required,min=1,dive"`
	TotalAmount     decimal.Decimal          `json:"total_amount"`
	ShippingAddress AddressRequest           `json:"shipping_address"`
	PaymentMethod   string                   `json:"payment_method" validate:"required,oneof=cod card bank_transfer online_gateway"`
}

// OrderResponse adds the derived delivery flag.
type OrderResponse struct {
	*order.Order
	IsDelivered bool `json:"is_delivered"`
}

func toOrderResponse(o *order.Order) OrderResponse {
	return OrderResponse{Order: o, IsDelivered: o.IsDelivered()}
}

type CheckoutResponse struct {
	Order   OrderResponse         `json:"order"`
	Payment *payment.IntentResult `json:"payment,omitempty"`
}

type OrderHandler struct {
	orders   order.Service
	checkout Checkout
	validate *validator.Validate
}

func NewOrderHandler(orders order.Service, checkout Checkout) *OrderHandler {
	return &OrderHandler{orders: orders, checkout: checkout, validate: newValidator()}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders/from-cart", h.handleCreateFromCart)
	router.Post("/orders", h.handleCreateCustom)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Put("/orders/{id}/cancel", h.handleCancelOrder)
}

func (h *OrderHandler) handleCreateFromCart(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req CreateOrderFromCartRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	res, err := h.checkout.CreateOrderFromCart(r.Context(), checkout.Request{
		UserID:          p.UserID,
		Email:           p.Email,
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to create order from cart")
		return
	}

	respondWithJSON(w, http.StatusCreated, CheckoutResponse{Order: toOrderResponse(res.Order), Payment: res.Payment})
}

func (h *OrderHandler) handleCreateCustom(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req CreateCustomOrderRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	items := make([]checkout.CustomItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = checkout.CustomItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Variant:   it.Variant.Variant,
			UnitPrice: it.UnitPrice,
		}
	}

	res, err := h.checkout.CreateCustomOrder(r.Context(), checkout.CustomOrderRequest{
		Request: checkout.Request{
			UserID:          p.UserID,
			Email:           p.Email,
			ShippingAddress: req.ShippingAddress.toDomain(),
			PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		},
		Items:         items,
		DeclaredTotal: req.TotalAmount,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, CheckoutResponse{Order: toOrderResponse(res.Order), Payment: res.Payment})
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), p.UserID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}

	resp := make([]OrderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i])
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	orderID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	o, err := h.orders.GetForUser(r.Context(), orderID, p.UserID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	orderID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	o, err := h.checkout.CancelOrder(r.Context(), orderID, checkout.Actor{UserID: p.UserID})
	if err != nil {
		respondWithServiceError(w, err, "Failed to cancel order")
		return
	}
	respondWithJSON(w, http.StatusOK, toOrderResponse(o))
}
