package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
)

func (s PaymentStatus) String() string {
	return string(s)
}

type PaymentMethod string

const (
	MethodCOD           PaymentMethod = "cod"
	MethodCard          PaymentMethod = "card"
	MethodBankTransfer  PaymentMethod = "bank_transfer"
	MethodOnlineGateway PaymentMethod = "online_gateway"
)

func (m PaymentMethod) String() string {
	return string(m)
}

// IsOnline reports whether the method is settled through the payment provider.
func (m PaymentMethod) IsOnline() bool {
	return m == MethodCard || m == MethodOnlineGateway
}

func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodCOD, MethodCard, MethodBankTransfer, MethodOnlineGateway:
		return true
	}
	return false
}

type Address struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Item struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	ProductID uuid.UUID         `json:"product_id" db:"product_id"`
	Name      string            `json:"name" db:"name"`
	Variant   inventory.Variant `json:"variant" db:"-"`
	Quantity  int               `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal   `json:"unit_price" db:"unit_price"`
}

// PaymentSnapshot records the converted amount sent to the provider and the
// exchange rate version it was converted with.
type PaymentSnapshot struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	RateVersion string          `json:"rate_version"`
	Rate        decimal.Decimal `json:"rate"`
}

type Order struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	UserID          uuid.UUID        `json:"user_id" db:"user_id"`
	CustomerEmail   string           `json:"customer_email" db:"customer_email"`
	Items           []Item           `json:"items" db:"-"`
	ShippingAddress Address          `json:"shipping_address" db:"shipping_address"`
	PaymentMethod   PaymentMethod    `json:"payment_method" db:"payment_method"`
	PaymentStatus   PaymentStatus    `json:"payment_status" db:"payment_status"`
	Status          Status           `json:"status" db:"status"`
	PaymentIntentID string           `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	Payment         *PaymentSnapshot `json:"payment,omitempty" db:"-"`
	TotalAmount     decimal.Decimal  `json:"total_amount" db:"total_amount"`
	Currency        string           `json:"currency" db:"currency"`
	StockDeducted   bool             `json:"stock_deducted" db:"stock_deducted"`
	NeedsReview     bool             `json:"needs_review" db:"needs_review"`
	ReviewReason    string           `json:"review_reason,omitempty" db:"review_reason"`
	DeliveredAt     *time.Time       `json:"delivered_at,omitempty" db:"delivered_at"`
	Version         int64            `json:"version" db:"version"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// IsDelivered is derived from Status; there is no separate flag to keep in sync.
func (o *Order) IsDelivered() bool {
	return o.Status == StatusDelivered
}

func (o *Order) StockLines() []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}

// TotalTolerance is the largest accepted difference between a client-declared
// total and the computed one.
var TotalTolerance = decimal.NewFromFloat(0.01)

// ComputeTotal sums quantity × unit price over items.
func ComputeTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// VerifyDeclaredTotal rejects a declared total that is off by more than
// TotalTolerance.
func VerifyDeclaredTotal(items []Item, declared decimal.Decimal) error {
	computed := ComputeTotal(items)
	if computed.Sub(declared).Abs().GreaterThan(TotalTolerance) {
		return apperr.Newf(apperr.ErrValidation, "declared total %s does not match computed total %s",
			declared.StringFixed(2), computed.StringFixed(2))
	}
	return nil
}

type NewParams struct {
	UserID          uuid.UUID
	CustomerEmail   string
	Items           []Item
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Currency        string
}

// New builds a validated order. Online orders start pending and wait for the
// provider; offline orders start processing.
func New(p NewParams) (*Order, error) {
	if p.UserID == uuid.Nil {
		return nil, ErrMissingUser
	}
	if len(p.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if !p.PaymentMethod.IsValid() {
		return nil, ErrInvalidPaymentMethod
	}
	if p.ShippingAddress.FullName == "" || p.ShippingAddress.Line1 == "" || p.ShippingAddress.City == "" {
		return nil, ErrInvalidAddress
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(p.Items))
	for i, it := range p.Items {
		if it.ProductID == uuid.Nil {
			return nil, apperr.Newf(apperr.ErrValidation, "item %d: product id is required", i)
		}
		if it.Quantity <= 0 {
			return nil, apperr.Newf(apperr.ErrValidation, "item %d: quantity must be greater than zero", i)
		}
		if it.UnitPrice.IsNegative() {
			return nil, apperr.Newf(apperr.ErrValidation, "item %d: unit price cannot be negative", i)
		}
		it.ID = uuid.Nil
		items[i] = it
	}

	status := StatusProcessing
	if p.PaymentMethod.IsOnline() {
		status = StatusPending
	}

	now := time.Now().UTC()
	return &Order{
		ID:              id,
		UserID:          p.UserID,
		CustomerEmail:   p.CustomerEmail,
		Items:           items,
		ShippingAddress: p.ShippingAddress,
		PaymentMethod:   p.PaymentMethod,
		PaymentStatus:   PaymentPending,
		Status:          status,
		TotalAmount:     ComputeTotal(items),
		Currency:        p.Currency,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
