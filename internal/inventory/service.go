package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type Service interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	TryDeduct(ctx context.Context, productID uuid.UUID, qty int) error
	DeductForOrder(ctx context.Context, orderID uuid.UUID, lines []Line) (applied bool, err error)
	ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (released bool, err error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, err
		}
		log.Error().Err(err).Stringer("product_id", id).Msg("service: failed to fetch product")
		return nil, fmt.Errorf("service: failed to fetch product: %w", err)
	}
	return p, nil
}

func (s *service) TryDeduct(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	err := s.repo.TryDeduct(ctx, productID, qty)
	switch {
	case err == nil:
		log.Debug().Stringer("product_id", productID).Int("quantity", qty).Msg("service: stock deducted")
		return nil
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrProductNotFound):
		log.Warn().Err(err).Stringer("product_id", productID).Int("quantity", qty).Msg("service: stock deduction rejected")
		return err
	default:
		log.Error().Err(err).Stringer("product_id", productID).Msg("service: failed to deduct stock")
		return fmt.Errorf("service: failed to deduct stock: %w", err)
	}
}

func (s *service) DeductForOrder(ctx context.Context, orderID uuid.UUID, lines []Line) (bool, error) {
	if len(lines) == 0 {
		return false, ErrInvalidQuantity
	}
	aggregated, err := Aggregate(lines)
	if err != nil {
		return false, err
	}

	applied, err := s.repo.DeductForOrder(ctx, orderID, aggregated)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrProductNotFound) {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: order stock deduction rejected")
			return false, err
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to deduct order stock")
		return false, fmt.Errorf("service: failed to deduct order stock: %w", err)
	}

	if !applied {
		log.Info().Stringer("order_id", orderID).Msg("service: order stock already deducted, skipping")
		return false, nil
	}

	log.Info().Stringer("order_id", orderID).Int("lines", len(aggregated)).Msg("service: order stock deducted")
	return true, nil
}

func (s *service) ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	released, err := s.repo.ReleaseForOrder(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to release order stock")
		return false, fmt.Errorf("service: failed to release order stock: %w", err)
	}
	if released {
		log.Info().Stringer("order_id", orderID).Msg("service: order stock released")
	}
	return released, nil
}
