package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
)

type AddCartItemRequest struct {
	ProductID uuid.UUID    `json:"product_id" validate:"required"`
	Quantity  int          `json:"quantity" validate:"required,min=1,max=1000"`
	Variant   VariantInput `json:"variant"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=1000"`
}

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
}

func NewCartHandler(service cart.Service) *CartHandler {
	return &CartHandler{service: service, validate: newValidator()}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Get("/cart", h.handleGetCart)
	router.Delete("/cart", h.handleClearCart)
	router.Post("/cart/items", h.handleAddItem)
	router.Put("/cart/items/{itemId}", h.handleUpdateItem)
	router.Delete("/cart/items/{itemId}", h.handleRemoveItem)
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	c, err := h.service.Get(r.Context(), p.UserID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get cart")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.Clear(r.Context(), p.UserID); err != nil {
		respondWithServiceError(w, err, "Failed to clear cart")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req AddCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	c, err := h.service.AddItem(r.Context(), p.UserID, cart.AddItemInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Variant:   req.Variant.Variant,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to add item to cart")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	itemID, ok := parseUUIDParam(w, r, "itemId")
	if !ok {
		return
	}

	var req UpdateCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	c, err := h.service.UpdateItemQuantity(r.Context(), p.UserID, itemID, req.Quantity)
	if err != nil {
		respondWithServiceError(w, err, "Failed to update cart item")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	itemID, ok := parseUUIDParam(w, r, "itemId")
	if !ok {
		return
	}

	c, err := h.service.RemoveItem(r.Context(), p.UserID, itemID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to remove cart item")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}
