package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
)

var (
	ErrProductNotFound   = apperr.New(apperr.ErrNotFound, "product not found")
	ErrInsufficientStock = apperr.New(apperr.ErrInsufficientStock, "insufficient stock")
	ErrInvalidQuantity   = apperr.New(apperr.ErrValidation, "quantity must be greater than zero")
)

// StockError reports which product could not cover a deduction.
type StockError struct {
	ProductID uuid.UUID
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID, e.Requested)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

type Variant struct {
	Color string `json:"color"`
	Image string `json:"image,omitempty"`
}

type Product struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	SalePrice decimal.Decimal `json:"sale_price" db:"sale_price"`
	Variants  []Variant       `json:"variants" db:"variants"`
	Stock     int             `json:"stock" db:"stock"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// EffectivePrice is the sale price when one is set, otherwise the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice.IsPositive() {
		return p.SalePrice
	}
	return p.Price
}

// HasVariant reports whether color is one of the product's variants. Products
// without variants accept only the empty color.
func (p *Product) HasVariant(color string) bool {
	if color == "" {
		return true
	}
	for _, v := range p.Variants {
		if v.Color == color {
			return true
		}
	}
	return false
}

// Line is a quantity of one product to deduct or release.
type Line struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// Aggregate merges lines of the same product and orders them by product id,
// so concurrent deductions lock product rows in the same order.
func Aggregate(lines []Line) ([]Line, error) {
	totals := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		totals[l.ProductID] += l.Quantity
	}

	out := make([]Line, 0, len(totals))
	for id, qty := range totals {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID.String() < out[j].ProductID.String()
	})
	return out, nil
}
