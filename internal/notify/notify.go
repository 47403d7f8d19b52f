package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

// Notifier tells the customer their order is confirmed.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *order.Order) error
}

// OrderConfirmedEvent is the message body published for a confirmed order.
type OrderConfirmedEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	UserID        uuid.UUID       `json:"user_id"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	ItemCount     int             `json:"item_count"`
	ConfirmedAt   time.Time       `json:"confirmed_at"`
}

func NewOrderConfirmedEvent(o *order.Order, at time.Time) OrderConfirmedEvent {
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	return OrderConfirmedEvent{
		OrderID:       o.ID,
		UserID:        o.UserID,
		CustomerEmail: o.CustomerEmail,
		PaymentMethod: o.PaymentMethod.String(),
		PaymentStatus: o.PaymentStatus.String(),
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		ItemCount:     count,
		ConfirmedAt:   at.UTC(),
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes OrderConfirmedEvent keyed by order id, so every
// message for one order lands on the same partition.
type KafkaNotifier struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		MaxAttempts:  3,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Str("component", "kafka").Msgf(msg, args...)
		}),
	}
	return newKafkaNotifier(w)
}

func newKafkaNotifier(w messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, now: time.Now}
}

func (n *KafkaNotifier) OrderConfirmed(ctx context.Context, o *order.Order) error {
	data, err := json.Marshal(NewOrderConfirmedEvent(o, n.now()))
	if err != nil {
		return fmt.Errorf("notify: failed to encode confirmation for order %s: %w", o.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(o.ID.String()),
		Value: data,
		Time:  n.now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("order.confirmed")},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify: failed to publish confirmation for order %s: %w", o.ID, err)
	}

	log.Info().Stringer("order_id", o.ID).Msg("notify: order confirmation published")
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier only logs; used when no brokers are configured.
type LogNotifier struct{}

func (LogNotifier) OrderConfirmed(_ context.Context, o *order.Order) error {
	log.Info().
		Stringer("order_id", o.ID).
		Str("customer_email", o.CustomerEmail).
		Str("total_amount", o.TotalAmount.StringFixed(2)).
		Msg("notify: order confirmed")
	return nil
}
