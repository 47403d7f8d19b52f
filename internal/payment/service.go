package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

// Orders is the part of the order service the bridge needs.
type Orders interface {
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*order.Order, error)
	Mutate(ctx context.Context, id uuid.UUID, fn order.MutateFunc) (*order.Order, error)
}

type Service interface {
	// CreateOrRetrieveIntent returns the order's live intent or creates one.
	CreateOrRetrieveIntent(ctx context.Context, orderID, userID uuid.UUID) (*IntentResult, error)
	CancelIntent(ctx context.Context, orderID, userID uuid.UUID) (*Intent, error)
	GetIntentDetails(ctx context.Context, orderID, userID uuid.UUID) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type service struct {
	provider Provider
	orders   Orders
	rates    *RateTable
}

func NewService(provider Provider, orders Orders, rates *RateTable) Service {
	return &service{provider: provider, orders: orders, rates: rates}
}

func (s *service) CreateOrRetrieveIntent(ctx context.Context, orderID, userID uuid.UUID) (*IntentResult, error) {
	// ownership is checked before the order lock is taken
	if _, err := s.orders.GetForUser(ctx, orderID, userID); err != nil {
		return nil, err
	}

	var result *IntentResult
	_, err := s.orders.Mutate(ctx, orderID, func(o *order.Order) error {
		result = nil

		switch {
		case !o.PaymentMethod.IsOnline():
			return ErrNotOnlineOrder
		case o.PaymentStatus == order.PaymentPaid:
			return ErrAlreadyPaid
		case o.Status.IsTerminal():
			return ErrOrderClosed
		}

		if o.PaymentIntentID != "" {
			existing, err := s.provider.GetIntent(ctx, o.PaymentIntentID)
			if err != nil && !errors.Is(err, ErrIntentNotFound) {
				return err
			}
			if err == nil {
				switch existing.Status {
				case IntentSucceeded:
					return ErrAlreadyPaid
				case IntentRequiresCapture:
					// авторизованный интент нельзя заменять, деньги уже заблокированы
					return ErrIntentAuthorized
				}
				if existing.Status.Reusable() {
					result = s.toResult(o, existing, true)
					return order.ErrNoChange
				}
			}
			log.Info().Stringer("order_id", o.ID).Str("intent_id", o.PaymentIntentID).Msg("service: previous intent is no longer usable, creating a new one")
		}

		snapshot, err := s.rates.Convert(o.TotalAmount, o.CreatedAt)
		if err != nil {
			return err
		}

		intent, err := s.provider.CreateIntent(ctx, CreateIntentParams{
			OrderID:        o.ID,
			UserID:         o.UserID,
			Amount:         MinorUnits(snapshot.Amount),
			Currency:       snapshot.Currency,
			IdempotencyKey: fmt.Sprintf("order-%s-v%d", o.ID, o.Version),
		})
		if err != nil {
			return err
		}

		o.PaymentIntentID = intent.ID
		o.Payment = &snapshot
		result = s.toResult(o, intent, false)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: failed to create or retrieve payment intent")
		return nil, err
	}

	log.Info().
		Stringer("order_id", orderID).
		Str("intent_id", result.IntentID).
		Bool("reused", result.Reused).
		Msg("service: payment intent ready")
	return result, nil
}

func (s *service) CancelIntent(ctx context.Context, orderID, userID uuid.UUID) (*Intent, error) {
	o, err := s.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if o.PaymentIntentID == "" {
		return nil, ErrNoIntent
	}

	intent, err := s.provider.CancelIntent(ctx, o.PaymentIntentID)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Str("intent_id", o.PaymentIntentID).Msg("service: provider rejected intent cancellation")
		return nil, err
	}

	log.Info().Stringer("order_id", orderID).Str("intent_id", intent.ID).Msg("service: payment intent cancelled")
	return intent, nil
}

func (s *service) GetIntentDetails(ctx context.Context, orderID, userID uuid.UUID) (*Intent, error) {
	o, err := s.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if o.PaymentIntentID == "" {
		return nil, ErrNoIntent
	}
	return s.provider.GetIntent(ctx, o.PaymentIntentID)
}

func (s *service) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	return s.provider.GetIntent(ctx, intentID)
}

func (s *service) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return s.provider.ParseWebhook(payload, signature)
}

func (s *service) toResult(o *order.Order, intent *Intent, reused bool) *IntentResult {
	res := &IntentResult{
		OrderID:      o.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Currency:     intent.Currency,
		Reused:       reused,
	}
	if o.Payment != nil {
		res.Amount = o.Payment.Amount
	}
	return res
}
