package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stripe/stripe-go/v76/webhook"
)

// SandboxProvider is an in-process provider for local development and tests.
// Its webhooks use the same signature scheme as Stripe.
type SandboxProvider struct {
	mu            sync.Mutex
	webhookSecret string
	intents       map[string]*Intent
	byIdempotency map[string]string

	// CreateErr, when set, is returned by the next CreateIntent calls.
	CreateErr error
	// CancelErr, when set, is returned by CancelIntent.
	CancelErr error

	createCalls int
	cancelCalls int
}

func NewSandboxProvider(webhookSecret string) *SandboxProvider {
	return &SandboxProvider{
		webhookSecret: webhookSecret,
		intents:       make(map[string]*Intent),
		byIdempotency: make(map[string]string),
	}
}

func (p *SandboxProvider) CreateIntent(_ context.Context, in CreateIntentParams) (*Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.createCalls++
	if p.CreateErr != nil {
		return nil, fmt.Errorf("%w: create intent: %w", ErrUpstream, p.CreateErr)
	}

	if id, ok := p.byIdempotency[in.IdempotencyKey]; ok && in.IdempotencyKey != "" {
		return p.copyOf(id), nil
	}

	id := "pi_" + uuid.Must(uuid.NewV4()).String()
	p.intents[id] = &Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.Must(uuid.NewV4()).String()[:8],
		Status:       IntentRequiresPaymentMethod,
		Amount:       in.Amount,
		Currency:     in.Currency,
		Metadata: map[string]string{
			metadataOrderID: in.OrderID.String(),
			metadataUserID:  in.UserID.String(),
		},
	}
	if in.IdempotencyKey != "" {
		p.byIdempotency[in.IdempotencyKey] = id
	}
	return p.copyOf(id), nil
}

func (p *SandboxProvider) GetIntent(_ context.Context, id string) (*Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.intents[id]; !ok {
		return nil, ErrIntentNotFound
	}
	return p.copyOf(id), nil
}

func (p *SandboxProvider) CancelIntent(_ context.Context, id string) (*Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelCalls++
	if p.CancelErr != nil {
		return nil, fmt.Errorf("%w: cancel intent: %w", ErrUpstream, p.CancelErr)
	}
	in, ok := p.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if in.Status == IntentSucceeded || in.Status == IntentCanceled {
		return nil, fmt.Errorf("%w: cancel intent: intent %s is %s", ErrUpstream, id, in.Status)
	}
	in.Status = IntentCanceled
	return p.copyOf(id), nil
}

func (p *SandboxProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return parseSignedEvent(payload, signature, p.webhookSecret)
}

// SetStatus moves an intent as if the customer acted on it.
func (p *SandboxProvider) SetStatus(id string, status IntentStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	in, ok := p.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	in.Status = status
	return nil
}

func (p *SandboxProvider) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

func (p *SandboxProvider) CancelCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelCalls
}

// SignedEvent builds a webhook body for the intent and the matching
// signature header.
func (p *SandboxProvider) SignedEvent(eventType, intentID string, at time.Time) (payload []byte, signature string, err error) {
	p.mu.Lock()
	in, ok := p.intents[intentID]
	var intent Intent
	if ok {
		intent = *in
	}
	p.mu.Unlock()
	if !ok {
		return nil, "", ErrIntentNotFound
	}

	body := map[string]any{
		"id":      "evt_" + uuid.Must(uuid.NewV4()).String(),
		"object":  "event",
		"type":    eventType,
		"created": at.Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":            intent.ID,
				"object":        "payment_intent",
				"status":        intent.Status,
				"amount":        intent.Amount,
				"currency":      intent.Currency,
				"client_secret": intent.ClientSecret,
				"metadata":      intent.Metadata,
			},
		},
	}
	payload, err = json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    p.webhookSecret,
		Timestamp: at,
	})
	return payload, signed.Header, nil
}

func (p *SandboxProvider) copyOf(id string) *Intent {
	in := *p.intents[id]
	meta := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		meta[k] = v
	}
	in.Metadata = meta
	return &in
}
