package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Provider is the external payment processor.
type Provider interface {
	CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	CancelIntent(ctx context.Context, id string) (*Intent, error)
	// ParseWebhook verifies the signature header before decoding payload.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

type StripeProvider struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
}

// NewStripeProvider builds a provider whose calls give up after timeout and
// are never retried by the SDK.
func NewStripeProvider(secretKey, webhookSecret string, timeout time.Duration) *StripeProvider {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripeLogger{logger: log.With().Str("component", "stripe").Logger()},
	})

	return &StripeProvider{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
		timeout:       timeout,
	}
}

func (p *StripeProvider) CreateIntent(ctx context.Context, in CreateIntentParams) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(in.IdempotencyKey)
	params.AddMetadata(metadataOrderID, in.OrderID.String())
	params.AddMetadata(metadataUserID, in.UserID.String())

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError("create intent", err)
	}
	return fromStripe(pi), nil
}

func (p *StripeProvider) GetIntent(ctx context.Context, id string) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, mapStripeError("get intent", err)
	}
	return fromStripe(pi), nil
}

func (p *StripeProvider) CancelIntent(ctx context.Context, id string) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Cancel(id, params)
	if err != nil {
		return nil, mapStripeError("cancel intent", err)
	}
	return fromStripe(pi), nil
}

func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return parseSignedEvent(payload, signature, p.webhookSecret)
}

// parseSignedEvent verifies a "t=...,v1=..." signature header and decodes the
// intent carried by payment_intent.* events.
func parseSignedEvent(payload []byte, signature, secret string) (*WebhookEvent, error) {
	if signature == "" {
		return nil, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("payment: failed to decode payment intent in event %s: %w", event.ID, err)
	}
	out.Intent = fromStripe(&pi)
	return out, nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

func mapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
		return ErrIntentNotFound
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}

// stripeLogger routes SDK logs through zerolog.
type stripeLogger struct {
	logger zerolog.Logger
}

func (l *stripeLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l *stripeLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l *stripeLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(format, v...)
}

func (l *stripeLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msgf(format, v...)
}
