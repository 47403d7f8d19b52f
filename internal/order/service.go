package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/lock"
)

// maxMutateAttempts bounds retries after a lost version race.
const maxMutateAttempts = 3

// MutateFunc changes o in place. Returning ErrNoChange skips the write.
type MutateFunc func(o *Order) error

type Service interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	// GetForUser returns the order only when userID owns it.
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*Order, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListNeedingReview(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Order, error)
	SetDelivered(ctx context.Context, id uuid.UUID, delivered bool) (*Order, error)
	// Mutate runs fn on a fresh copy under the order lock and stores the
	// result with a version check.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Order, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo   Repository
	locker lock.Locker
	now    func() time.Time
}

func NewService(repo Repository, locker lock.Locker) Service {
	return &service{
		repo:   repo,
		locker: locker,
		now:    time.Now,
	}
}

func (s *service) Create(ctx context.Context, o *Order) error {
	if err := s.repo.Create(ctx, o); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to create order in repository")
		return fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().
		Stringer("order_id", o.ID).
		Stringer("user_id", o.UserID).
		Stringer("payment_method", o.PaymentMethod).
		Str("total_amount", o.TotalAmount.StringFixed(2)).
		Msg("service: order created")
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) GetForUser(ctx context.Context, id, userID uuid.UUID) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		log.Warn().Stringer("order_id", id).Stringer("user_id", userID).Msg("service: order requested by non-owner")
		return nil, ErrNotOwner
	}
	return o, nil
}

func (s *service) GetByPaymentIntentID(ctx context.Context, intentID string) (*Order, error) {
	o, err := s.repo.GetByPaymentIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by payment intent: %w", err)
	}
	return o, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}

func (s *service) ListNeedingReview(ctx context.Context) ([]Order, error) {
	orders, err := s.repo.ListNeedingReview(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch orders needing review: %w", err)
	}
	return orders, nil
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Order, error) {
	var previous Status
	o, err := s.Mutate(ctx, id, func(o *Order) error {
		previous = o.Status
		return o.TransitionTo(status, s.now())
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Stringer("new_status", status).Msg("service: status update rejected")
		return nil, err
	}

	if previous != status {
		log.Info().Stringer("order_id", id).Stringer("old_status", previous).Stringer("new_status", status).Msg("service: order status updated")
	}
	return o, nil
}

func (s *service) SetDelivered(ctx context.Context, id uuid.UUID, delivered bool) (*Order, error) {
	o, err := s.Mutate(ctx, id, func(o *Order) error {
		return o.SetDelivered(delivered, s.now())
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Bool("delivered", delivered).Msg("service: delivery update rejected")
		return nil, err
	}
	return o, nil
}

func (s *service) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Order, error) {
	release, err := s.locker.Lock(ctx, "order:"+id.String())
	if err != nil {
		return nil, fmt.Errorf("service: failed to lock order %s: %w", id, err)
	}
	defer release()

	for attempt := 1; ; attempt++ {
		o, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(o); err != nil {
			if errors.Is(err, ErrNoChange) {
				return o, nil
			}
			return nil, err
		}

		err = s.repo.Update(ctx, o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxMutateAttempts {
			if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrDuplicateIntent) {
				return nil, err
			}
			return nil, fmt.Errorf("service: failed to update order: %w", err)
		}

		// запись мимо блокировки (например, с другого узла без redis): перечитываем
		log.Warn().Stringer("order_id", id).Int("attempt", attempt).Msg("service: order version conflict, retrying")
	}
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	release, err := s.locker.Lock(ctx, "order:"+id.String())
	if err != nil {
		return fmt.Errorf("service: failed to lock order %s: %w", id, err)
	}
	defer release()

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return err
		}
		return fmt.Errorf("service: failed to delete order: %w", err)
	}
	log.Info().Stringer("order_id", id).Msg("service: order deleted")
	return nil
}
