package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/notify"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
)

var (
	ErrEmptyCart     = apperr.New(apperr.ErrValidation, "cart is empty")
	ErrPriceChanged  = apperr.New(apperr.ErrConflict, "prices changed since the items were added, the cart was updated")
	ErrPriceMismatch = apperr.New(apperr.ErrValidation, "item price does not match the catalog")
)

// revalidateLimit bounds concurrent catalog reads per checkout.
const revalidateLimit = 8

// notifyTimeout bounds the detached confirmation send.
const notifyTimeout = 10 * time.Second

type Carts interface {
	Get(ctx context.Context, userID uuid.UUID) (*cart.Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) error
	Reprice(ctx context.Context, userID uuid.UUID) (*cart.Cart, error)
}

type Catalog interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*inventory.Product, error)
}

type Inventory interface {
	DeductForOrder(ctx context.Context, orderID uuid.UUID, lines []inventory.Line) (bool, error)
	ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type Orders interface {
	Create(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*order.Order, error)
	Mutate(ctx context.Context, id uuid.UUID, fn order.MutateFunc) (*order.Order, error)
}

type Payments interface {
	CreateOrRetrieveIntent(ctx context.Context, orderID, userID uuid.UUID) (*payment.IntentResult, error)
	CancelIntent(ctx context.Context, orderID, userID uuid.UUID) (*payment.Intent, error)
}

type Request struct {
	UserID          uuid.UUID
	Email           string
	ShippingAddress order.Address
	PaymentMethod   order.PaymentMethod
}

// CustomItem is a client-built line. UnitPrice is what the client saw.
type CustomItem struct {
	ProductID uuid.UUID
	Quantity  int
	Variant   inventory.Variant
	UnitPrice decimal.Decimal
}

type CustomOrderRequest struct {
	Request
	Items         []CustomItem
	DeclaredTotal decimal.Decimal
}

// Actor is who asks for a cancellation.
type Actor struct {
	UserID uuid.UUID
	Admin  bool
}

type Result struct {
	Order   *order.Order          `json:"order"`
	Payment *payment.IntentResult `json:"payment,omitempty"`
}

type Service struct {
	carts     Carts
	catalog   Catalog
	inventory Inventory
	orders    Orders
	payments  Payments
	notifier  notify.Notifier
	currency  string
	now       func() time.Time

	wg sync.WaitGroup
}

type Deps struct {
	Carts     Carts
	Catalog   Catalog
	Inventory Inventory
	Orders    Orders
	Payments  Payments
	Notifier  notify.Notifier
	// Currency is the ledger currency orders are priced in.
	Currency string
}

func NewService(d Deps) *Service {
	if d.Notifier == nil {
		d.Notifier = notify.LogNotifier{}
	}
	return &Service{
		carts:     d.Carts,
		catalog:   d.Catalog,
		inventory: d.Inventory,
		orders:    d.Orders,
		payments:  d.Payments,
		notifier:  d.Notifier,
		currency:  d.Currency,
		now:       time.Now,
	}
}

// CreateOrderFromCart turns the user's cart into an order. Online orders get
// a payment intent and keep the cart until payment is confirmed; offline
// orders deduct stock right away.
func (s *Service) CreateOrderFromCart(ctx context.Context, req Request) (*Result, error) {
	c, err := s.carts.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	drifted, err := s.revalidate(ctx, c.Items)
	if err != nil {
		return nil, err
	}
	if len(drifted) > 0 {
		if _, err := s.carts.Reprice(ctx, req.UserID); err != nil {
			log.Error().Err(err).Stringer("user_id", req.UserID).Msg("service: failed to reprice cart")
		}
		log.Info().Stringer("user_id", req.UserID).Int("items", len(drifted)).Msg("service: checkout rejected, cart prices changed")
		return nil, ErrPriceChanged
	}

	o, err := order.New(order.NewParams{
		UserID:          req.UserID,
		CustomerEmail:   req.Email,
		Items:           c.ToOrderItems(),
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Currency:        s.currency,
	})
	if err != nil {
		return nil, err
	}

	return s.place(ctx, o, true)
}

// CreateCustomOrder places an order from client-submitted lines. Every unit
// price must match the catalog and the declared total must match the sum.
func (s *Service) CreateCustomOrder(ctx context.Context, req CustomOrderRequest) (*Result, error) {
	if len(req.Items) == 0 {
		return nil, order.ErrEmptyOrder
	}

	items := make([]order.Item, len(req.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revalidateLimit)
	for i, in := range req.Items {
		g.Go(func() error {
			if in.Quantity <= 0 {
				return apperr.Newf(apperr.ErrValidation, "item %d: quantity must be greater than zero", i)
			}
			p, err := s.catalog.GetProduct(gctx, in.ProductID)
			if err != nil {
				return err
			}
			if !p.HasVariant(in.Variant.Color) {
				return fmt.Errorf("%w: item %d", cart.ErrUnknownVariant, i)
			}
			if !p.EffectivePrice().Equal(in.UnitPrice) {
				return fmt.Errorf("%w: %s costs %s", ErrPriceMismatch, p.Name, p.EffectivePrice().StringFixed(2))
			}

			variant := in.Variant
			for _, v := range p.Variants {
				if v.Color == variant.Color && variant.Image == "" {
					variant.Image = v.Image
				}
			}
			items[i] = order.Item{
				ProductID: p.ID,
				Name:      p.Name,
				Variant:   variant,
				Quantity:  in.Quantity,
				UnitPrice: p.EffectivePrice(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := order.VerifyDeclaredTotal(items, req.DeclaredTotal); err != nil {
		return nil, err
	}

	o, err := order.New(order.NewParams{
		UserID:          req.UserID,
		CustomerEmail:   req.Email,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Currency:        s.currency,
	})
	if err != nil {
		return nil, err
	}

	return s.place(ctx, o, false)
}

func (s *Service) place(ctx context.Context, o *order.Order, fromCart bool) (*Result, error) {
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	if o.PaymentMethod.IsOnline() {
		intent, err := s.payments.CreateOrRetrieveIntent(ctx, o.ID, o.UserID)
		if err != nil {
			s.fail(ctx, o.ID, err)
			return nil, err
		}
		placed, err := s.orders.Get(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		return &Result{Order: placed, Payment: intent}, nil
	}

	var stockErr error
	placed, err := s.orders.Mutate(ctx, o.ID, func(o *order.Order) error {
		stockErr = nil
		if _, err := s.inventory.DeductForOrder(ctx, o.ID, o.StockLines()); err != nil {
			if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrProductNotFound) {
				stockErr = err
				return o.MarkFailed()
			}
			return err
		}
		o.StockDeducted = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stockErr != nil {
		log.Warn().Err(stockErr).Stringer("order_id", o.ID).Msg("service: offline order failed, not enough stock")
		return nil, stockErr
	}

	if fromCart {
		if err := s.carts.Clear(ctx, o.UserID); err != nil {
			log.Warn().Err(err).Stringer("user_id", o.UserID).Msg("service: failed to clear cart after checkout")
		}
	}
	s.notifyConfirmed(ctx, placed)

	log.Info().
		Stringer("order_id", placed.ID).
		Stringer("payment_method", placed.PaymentMethod).
		Str("total_amount", placed.TotalAmount.StringFixed(2)).
		Msg("service: offline order placed")
	return &Result{Order: placed}, nil
}

// fail marks an order whose checkout could not finish, so it is never left
// pending without a way to pay.
func (s *Service) fail(ctx context.Context, orderID uuid.UUID, cause error) {
	_, err := s.orders.Mutate(ctx, orderID, func(o *order.Order) error {
		return o.MarkFailed()
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to mark order as failed")
		return
	}
	log.Warn().Err(cause).Stringer("order_id", orderID).Msg("service: checkout failed, order marked failed")
}

// notifyConfirmed sends the confirmation without holding up the response.
func (s *Service) notifyConfirmed(ctx context.Context, o *order.Order) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.OrderConfirmed(nctx, o); err != nil {
			log.Warn().Err(err).Stringer("order_id", o.ID).Msg("service: failed to send order confirmation")
		}
	}()
}

// Wait blocks until pending confirmations are sent.
func (s *Service) Wait() {
	s.wg.Wait()
}

// revalidate returns the cart items whose price no longer matches the catalog.
func (s *Service) revalidate(ctx context.Context, items []cart.Item) ([]cart.Item, error) {
	changed := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revalidateLimit)
	for i, it := range items {
		g.Go(func() error {
			p, err := s.catalog.GetProduct(gctx, it.ProductID)
			if err != nil {
				return err
			}
			changed[i] = !p.EffectivePrice().Equal(it.UnitPrice)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var drifted []cart.Item
	for i, it := range items {
		if changed[i] {
			drifted = append(drifted, it)
		}
	}
	return drifted, nil
}

// CancelOrder cancels a pre-shipment order. Deducted stock goes back and an
// open payment intent is cancelled on a best-effort basis.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*order.Order, error) {
	if !actor.Admin {
		if _, err := s.orders.GetForUser(ctx, orderID, actor.UserID); err != nil {
			return nil, err
		}
	}

	o, err := s.orders.Mutate(ctx, orderID, func(o *order.Order) error {
		if err := o.TransitionTo(order.StatusCancelled, s.now()); err != nil {
			return err
		}
		if o.StockDeducted {
			if _, err := s.inventory.ReleaseForOrder(ctx, o.ID); err != nil {
				return err
			}
			o.StockDeducted = false
		}
		if o.PaymentStatus == order.PaymentPaid {
			o.FlagForReview("order cancelled after payment, refund required")
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: order cancellation rejected")
		return nil, err
	}

	if o.PaymentMethod.IsOnline() && o.PaymentIntentID != "" && o.PaymentStatus != order.PaymentPaid {
		if _, err := s.payments.CancelIntent(ctx, o.ID, o.UserID); err != nil {
			log.Warn().Err(err).Stringer("order_id", o.ID).Str("intent_id", o.PaymentIntentID).Msg("service: provider intent cancellation failed, order stays cancelled")
		}
	}

	log.Info().Stringer("order_id", o.ID).Bool("admin", actor.Admin).Msg("service: order cancelled")
	return o, nil
}

// FailOrder is the back-office way to give up on an order. Stock deducted
// for an order that never shipped goes back; a paid order is flagged for a
// refund.
func (s *Service) FailOrder(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	o, err := s.orders.Mutate(ctx, orderID, func(o *order.Order) error {
		shipped := o.Status == order.StatusShipped
		if err := o.MarkFailed(); err != nil {
			return err
		}
		if o.StockDeducted && !shipped {
			if _, err := s.inventory.ReleaseForOrder(ctx, o.ID); err != nil {
				return err
			}
			o.StockDeducted = false
		}
		if o.PaymentStatus == order.PaymentPaid {
			o.FlagForReview("order failed after payment, refund required")
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: marking order failed rejected")
		return nil, err
	}

	if o.PaymentMethod.IsOnline() && o.PaymentIntentID != "" && o.PaymentStatus != order.PaymentPaid {
		if _, err := s.payments.CancelIntent(ctx, o.ID, o.UserID); err != nil {
			log.Warn().Err(err).Stringer("order_id", o.ID).Str("intent_id", o.PaymentIntentID).Msg("service: provider intent cancellation failed, order stays failed")
		}
	}

	log.Info().Stringer("order_id", o.ID).Msg("service: order marked failed")
	return o, nil
}

// RetryPayment returns a usable intent for an unpaid online order.
func (s *Service) RetryPayment(ctx context.Context, orderID, userID uuid.UUID) (*payment.IntentResult, error) {
	return s.payments.CreateOrRetrieveIntent(ctx, orderID, userID)
}
