package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/lock"
)

// Catalog is the product read side the cart prices items from.
type Catalog interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*inventory.Product, error)
}

type AddItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	Variant   inventory.Variant
}

type Service interface {
	// Get returns the user's cart, creating an empty one on first use.
	Get(ctx context.Context, userID uuid.UUID) (*Cart, error)
	AddItem(ctx context.Context, userID uuid.UUID, in AddItemInput) (*Cart, error)
	UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*Cart, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) error
	// Reprice refreshes unit prices and names from the catalog.
	Reprice(ctx context.Context, userID uuid.UUID) (*Cart, error)
}

type service struct {
	repo    Repository
	catalog Catalog
	locker  lock.Locker
}

func NewService(repo Repository, catalog Catalog, locker lock.Locker) Service {
	return &service{repo: repo, catalog: catalog, locker: locker}
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c, err := s.repo.GetByUserID(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch cart")
		return nil, fmt.Errorf("service: failed to fetch cart: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate cart ID: %w", err)
	}
	now := time.Now().UTC()
	c = &Cart{ID: id, UserID: userID, Items: []Item{}, TotalAmount: decimal.Zero, CreatedAt: now, UpdatedAt: now}

	err = s.repo.Create(ctx, c)
	if errors.Is(err, ErrCartExists) {
		// параллельный запрос успел создать корзину первым
		return s.repo.GetByUserID(ctx, userID)
	}
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to create cart")
		return nil, fmt.Errorf("service: failed to create cart: %w", err)
	}

	log.Debug().Stringer("user_id", userID).Stringer("cart_id", c.ID).Msg("service: cart created")
	return c, nil
}

func (s *service) AddItem(ctx context.Context, userID uuid.UUID, in AddItemInput) (*Cart, error) {
	if in.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	product, err := s.catalog.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.HasVariant(in.Variant.Color) {
		return nil, ErrUnknownVariant
	}
	variant := in.Variant
	if variant.Image == "" {
		for _, v := range product.Variants {
			if v.Color == variant.Color {
				variant.Image = v.Image
			}
		}
	}

	return s.mutate(ctx, userID, func(c *Cart) error {
		if i := c.findLine(product.ID, variant.Color); i >= 0 {
			c.Items[i].Quantity += in.Quantity
			c.Items[i].UnitPrice = product.EffectivePrice()
			c.Items[i].Name = product.Name
			return nil
		}

		itemID, err := uuid.NewV4()
		if err != nil {
			return err
		}
		c.Items = append(c.Items, Item{
			ID:        itemID,
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  in.Quantity,
			Variant:   variant,
			UnitPrice: product.EffectivePrice(),
		})
		return nil
	})
}

func (s *service) UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	return s.mutate(ctx, userID, func(c *Cart) error {
		i := c.findItem(itemID)
		if i < 0 {
			return ErrItemNotFound
		}
		c.Items[i].Quantity = quantity
		return nil
	})
}

func (s *service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		i := c.findItem(itemID)
		if i < 0 {
			return ErrItemNotFound
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	})
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	_, err := s.mutate(ctx, userID, func(c *Cart) error {
		c.Items = []Item{}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Stringer("user_id", userID).Msg("service: cart cleared")
	return nil
}

func (s *service) Reprice(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		for i := range c.Items {
			p, err := s.catalog.GetProduct(ctx, c.Items[i].ProductID)
			if err != nil {
				return err
			}
			c.Items[i].UnitPrice = p.EffectivePrice()
			c.Items[i].Name = p.Name
		}
		return nil
	})
}

func (s *service) mutate(ctx context.Context, userID uuid.UUID, fn func(c *Cart) error) (*Cart, error) {
	release, err := s.locker.Lock(ctx, "cart:"+userID.String())
	if err != nil {
		return nil, fmt.Errorf("service: failed to lock cart: %w", err)
	}
	defer release()

	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := fn(c); err != nil {
		return nil, err
	}
	c.Recalculate()

	if err := s.repo.Save(ctx, c); err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to save cart")
		return nil, fmt.Errorf("service: failed to save cart: %w", err)
	}
	return c, nil
}
