package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	storefrontHttp "github.com/vasiliy-maslov/ecommerce-storefront/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/lock"
)

type cartFixture struct {
	router  *chi.Mux
	user    uuid.UUID
	product uuid.UUID
}

func newCartFixture(t *testing.T) *cartFixture {
	t.Helper()
	catalog := inventory.NewMemoryRepository()
	product := uuid.Must(uuid.NewV4())
	require.NoError(t, catalog.SaveProduct(context.Background(), &inventory.Product{
		ID:       product,
		Name:     "Shirt",
		Price:    decimal.NewFromInt(1000),
		Variants: []inventory.Variant{{Color: "red", Image: "red.jpg"}},
		Stock:    5,
	}))

	svc := cart.NewService(cart.NewMemoryRepository(), catalog, lock.NewLocalLocker())
	h := storefrontHttp.NewCartHandler(svc)
	return &cartFixture{
		router:  authedRouter(h.RegisterRoutes, false),
		user:    uuid.Must(uuid.NewV4()),
		product: product,
	}
}

func (f *cartFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Authorization", bearer(t, f.user, "customer"))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeCart(t *testing.T, rr *httptest.ResponseRecorder) cart.Cart {
	t.Helper()
	var c cart.Cart
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&c))
	return c
}

func TestCartHandler_VariantShapesMergeIntoOneLine(t *testing.T) {
	f := newCartFixture(t)

	bodies := []string{
		`{"product_id":"` + f.product.String() + `","quantity":1,"variant":{"color":"red"}}`,
		`{"product_id":"` + f.product.String() + `","quantity":1,"variant":"{\"colour\":\"red\"}"}`,
		`{"product_id":"` + f.product.String() + `","quantity":1,"variant":[{"color":"red"},{"color":"blue"}]}`,
		`{"product_id":"` + f.product.String() + `","quantity":1,"variant":"red"}`,
	}
	for _, body := range bodies {
		rr := f.do(t, http.MethodPost, "/cart/items", body)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	c := decodeCart(t, f.do(t, http.MethodGet, "/cart", ""))
	require.Len(t, c.Items, 1)
	assert.Equal(t, 4, c.Items[0].Quantity)
	assert.Equal(t, "red", c.Items[0].Variant.Color)
	assert.True(t, decimal.NewFromInt(4000).Equal(c.TotalAmount))
}

func TestCartHandler_RejectsBadInput(t *testing.T) {
	f := newCartFixture(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "variant_number", body: `{"product_id":"` + f.product.String() + `","quantity":1,"variant":42}`, wantCode: http.StatusBadRequest},
		{name: "zero_quantity", body: `{"product_id":"` + f.product.String() + `","quantity":0}`, wantCode: http.StatusBadRequest},
		{name: "unknown_colour", body: `{"product_id":"` + f.product.String() + `","quantity":1,"variant":"green"}`, wantCode: http.StatusBadRequest},
		{name: "unknown_product", body: `{"product_id":"` + uuid.Must(uuid.NewV4()).String() + `","quantity":1}`, wantCode: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/cart/items", tc.body)
			assert.Equal(t, tc.wantCode, rr.Code, rr.Body.String())
		})
	}
}

func TestCartHandler_UpdateRemoveClear(t *testing.T) {
	f := newCartFixture(t)

	rr := f.do(t, http.MethodPost, "/cart/items", `{"product_id":"`+f.product.String()+`","quantity":1,"variant":"red"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	itemID := decodeCart(t, rr).Items[0].ID

	rr = f.do(t, http.MethodPut, "/cart/items/"+itemID.String(), `{"quantity":3}`)
	require.Equal(t, http.StatusOK, rr.Code)
	c := decodeCart(t, rr)
	assert.Equal(t, 3, c.TotalItems)

	rr = f.do(t, http.MethodDelete, "/cart/items/"+uuid.Must(uuid.NewV4()).String(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodDelete, "/cart/items/"+itemID.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeCart(t, rr).Items)

	rr = f.do(t, http.MethodDelete, "/cart", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
