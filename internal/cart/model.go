package cart

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

var (
	ErrCartNotFound    = apperr.New(apperr.ErrNotFound, "cart not found")
	ErrItemNotFound    = apperr.New(apperr.ErrNotFound, "cart item not found")
	ErrInvalidQuantity = apperr.New(apperr.ErrValidation, "quantity must be at least 1")
	ErrUnknownVariant  = apperr.New(apperr.ErrValidation, "product has no such variant")
	ErrCartExists      = apperr.New(apperr.ErrConflict, "cart already exists")
)

type Item struct {
	ID        uuid.UUID         `json:"id"`
	ProductID uuid.UUID         `json:"product_id"`
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	Variant   inventory.Variant `json:"variant"`
	UnitPrice decimal.Decimal   `json:"unit_price"`
	LineTotal decimal.Decimal   `json:"line_total"`
}

type Cart struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	UserID      uuid.UUID       `json:"user_id" db:"user_id"`
	Items       []Item          `json:"items" db:"items"`
	TotalItems  int             `json:"total_items" db:"total_items"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Recalculate derives line totals and cart totals from the items. It runs
// before every persist.
func (c *Cart) Recalculate() {
	c.TotalItems = 0
	c.TotalAmount = decimal.Zero
	for i := range c.Items {
		item := &c.Items[i]
		item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		c.TotalItems += item.Quantity
		c.TotalAmount = c.TotalAmount.Add(item.LineTotal)
	}
}

func (c *Cart) findItem(itemID uuid.UUID) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) findLine(productID uuid.UUID, color string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].Variant.Color == color {
			return i
		}
	}
	return -1
}

// ToOrderItems snapshots the cart lines. The result shares no memory with
// the cart, so later cart edits never reach an order.
func (c *Cart) ToOrderItems() []order.Item {
	items := make([]order.Item, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, order.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Variant:   it.Variant,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return items
}
