package order_test

import (
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newOrder(method order.PaymentMethod, status order.Status, payment order.PaymentStatus) *order.Order {
	return &order.Order{
		ID:            uuid.Must(uuid.NewV4()),
		UserID:        uuid.Must(uuid.NewV4()),
		PaymentMethod: method,
		Status:        status,
		PaymentStatus: payment,
		Items: []order.Item{
			{ProductID: uuid.Must(uuid.NewV4()), Name: "Shirt", Quantity: 1, UnitPrice: decimal.NewFromInt(1500)},
		},
		Version: 1,
	}
}

func TestOrder_TransitionTo(t *testing.T) {
	tests := []struct {
		name       string
		method     order.PaymentMethod
		from       order.Status
		payment    order.PaymentStatus
		to         order.Status
		wantErrIs  error
		wantStatus order.Status
	}{
		{name: "cod_processing_to_shipped", method: order.MethodCOD, from: order.StatusProcessing, payment: order.PaymentPending, to: order.StatusShipped, wantStatus: order.StatusShipped},
		{name: "paid_confirmed_to_shipped", method: order.MethodCard, from: order.StatusConfirmed, payment: order.PaymentPaid, to: order.StatusShipped, wantStatus: order.StatusShipped},
		{name: "pending_to_cancelled", method: order.MethodCard, from: order.StatusPending, payment: order.PaymentPending, to: order.StatusCancelled, wantStatus: order.StatusCancelled},
		{name: "shipped_cannot_cancel", method: order.MethodCOD, from: order.StatusShipped, payment: order.PaymentPending, to: order.StatusCancelled, wantErrIs: order.ErrCancelAfterShipment, wantStatus: order.StatusShipped},
		{name: "delivered_cannot_cancel", method: order.MethodCOD, from: order.StatusDelivered, payment: order.PaymentPaid, to: order.StatusCancelled, wantErrIs: order.ErrCancelAfterShipment, wantStatus: order.StatusDelivered},
		{name: "shipped_can_fail", method: order.MethodCOD, from: order.StatusShipped, payment: order.PaymentPending, to: order.StatusFailed, wantStatus: order.StatusFailed},
		{name: "cancelled_is_terminal", method: order.MethodCOD, from: order.StatusCancelled, payment: order.PaymentPending, to: order.StatusProcessing, wantErrIs: order.ErrInvalidStatusTransition, wantStatus: order.StatusCancelled},
		{name: "unpaid_online_cannot_confirm", method: order.MethodOnlineGateway, from: order.StatusPending, payment: order.PaymentPending, to: order.StatusConfirmed, wantErrIs: order.ErrPaymentRequired, wantStatus: order.StatusPending},
		{name: "same_status", method: order.MethodCOD, from: order.StatusProcessing, payment: order.PaymentPending, to: order.StatusProcessing, wantErrIs: order.ErrNoChange, wantStatus: order.StatusProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrder(tt.method, tt.from, tt.payment)

			err := o.TransitionTo(tt.to, now)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, o.Status)
		})
	}
}

func TestOrder_TransitionErrorsAreConflicts(t *testing.T) {
	o := newOrder(order.MethodCOD, order.StatusShipped, order.PaymentPending)
	err := o.TransitionTo(order.StatusCancelled, now)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	o = newOrder(order.MethodCOD, order.StatusCancelled, order.PaymentPending)
	err = o.TransitionTo(order.StatusShipped, now)
	var te *order.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, order.StatusCancelled, te.From)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestOrder_DeliveryIsDerivedFromStatus(t *testing.T) {
	o := newOrder(order.MethodCOD, order.StatusShipped, order.PaymentPending)
	assert.False(t, o.IsDelivered())

	require.NoError(t, o.SetDelivered(true, now))
	assert.True(t, o.IsDelivered())
	assert.Equal(t, order.StatusDelivered, o.Status)
	require.NotNil(t, o.DeliveredAt)
	assert.Equal(t, now, *o.DeliveredAt)

	assert.ErrorIs(t, o.SetDelivered(false, now), order.ErrDeliveryIrreversible)
	assert.ErrorIs(t, o.SetDelivered(true, now), order.ErrNoChange)
}

func TestOrder_StatusDeliveredStampsDeliveredAt(t *testing.T) {
	o := newOrder(order.MethodCOD, order.StatusShipped, order.PaymentPending)
	require.NoError(t, o.TransitionTo(order.StatusDelivered, now))
	assert.True(t, o.IsDelivered())
	require.NotNil(t, o.DeliveredAt)
}

func TestOrder_SetDeliveredFalseOnUndeliveredIsNoop(t *testing.T) {
	o := newOrder(order.MethodCOD, order.StatusProcessing, order.PaymentPending)
	assert.ErrorIs(t, o.SetDelivered(false, now), order.ErrNoChange)
	assert.Nil(t, o.DeliveredAt)
}

func TestOrder_ApplyPayment(t *testing.T) {
	tests := []struct {
		name          string
		status        order.Status
		payment       order.PaymentStatus
		stockDeducted bool
		outcome       order.PaymentOutcome
		wantErrIs     error
		wantStatus    order.Status
		wantPayment   order.PaymentStatus
		wantEffect    order.PaymentEffect
		wantReview    bool
	}{
		{
			name: "succeeded_requests_deduction", status: order.StatusPending, payment: order.PaymentPending,
			outcome: order.OutcomeSucceeded, wantStatus: order.StatusPending, wantPayment: order.PaymentPaid,
			wantEffect: order.PaymentEffect{DeductStock: true},
		},
		{
			name: "succeeded_twice_is_noop", status: order.StatusConfirmed, payment: order.PaymentPaid, stockDeducted: true,
			outcome: order.OutcomeSucceeded, wantErrIs: order.ErrNoChange, wantStatus: order.StatusConfirmed, wantPayment: order.PaymentPaid,
		},
		{
			name: "succeeded_after_processing", status: order.StatusPending, payment: order.PaymentProcessing,
			outcome: order.OutcomeSucceeded, wantStatus: order.StatusPending, wantPayment: order.PaymentPaid,
			wantEffect: order.PaymentEffect{DeductStock: true},
		},
		{
			name: "succeeded_on_cancelled_flags_review", status: order.StatusCancelled, payment: order.PaymentFailed,
			outcome: order.OutcomeSucceeded, wantStatus: order.StatusCancelled, wantPayment: order.PaymentPaid, wantReview: true,
		},
		{
			name: "cod_paid_confirms_without_deduction", status: order.StatusProcessing, payment: order.PaymentPending, stockDeducted: true,
			outcome: order.OutcomeSucceeded, wantStatus: order.StatusConfirmed, wantPayment: order.PaymentPaid,
		},
		{
			name: "processing_after_paid_never_downgrades", status: order.StatusConfirmed, payment: order.PaymentPaid, stockDeducted: true,
			outcome: order.OutcomeProcessing, wantErrIs: order.ErrPaymentSuperseded, wantStatus: order.StatusConfirmed, wantPayment: order.PaymentPaid,
		},
		{
			name: "processing_from_pending", status: order.StatusPending, payment: order.PaymentPending,
			outcome: order.OutcomeProcessing, wantStatus: order.StatusPending, wantPayment: order.PaymentProcessing,
		},
		{
			name: "failed_cancels", status: order.StatusPending, payment: order.PaymentProcessing,
			outcome: order.OutcomeFailed, wantStatus: order.StatusCancelled, wantPayment: order.PaymentFailed,
		},
		{
			name: "failed_after_paid_is_superseded", status: order.StatusConfirmed, payment: order.PaymentPaid, stockDeducted: true,
			outcome: order.OutcomeFailed, wantErrIs: order.ErrPaymentSuperseded, wantStatus: order.StatusConfirmed, wantPayment: order.PaymentPaid,
		},
		{
			name: "failed_on_deducted_cod_releases_stock", status: order.StatusProcessing, payment: order.PaymentPending, stockDeducted: true,
			outcome: order.OutcomeFailed, wantStatus: order.StatusCancelled, wantPayment: order.PaymentFailed,
			wantEffect: order.PaymentEffect{ReleaseStock: true},
		},
		{
			name: "failed_twice_is_noop", status: order.StatusCancelled, payment: order.PaymentFailed,
			outcome: order.OutcomeFailed, wantErrIs: order.ErrNoChange, wantStatus: order.StatusCancelled, wantPayment: order.PaymentFailed,
		},
		{
			name: "requires_action_is_noop", status: order.StatusPending, payment: order.PaymentPending,
			outcome: order.OutcomeActionRequired, wantErrIs: order.ErrNoChange, wantStatus: order.StatusPending, wantPayment: order.PaymentPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrder(order.MethodCard, tt.status, tt.payment)
			o.StockDeducted = tt.stockDeducted

			eff, err := o.ApplyPayment(tt.outcome)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantEffect, eff)
			assert.Equal(t, tt.wantStatus, o.Status)
			assert.Equal(t, tt.wantPayment, o.PaymentStatus)
			assert.Equal(t, tt.wantReview, o.NeedsReview)
		})
	}
}

func TestOrder_CompletePaymentConfirms(t *testing.T) {
	o := newOrder(order.MethodCard, order.StatusPending, order.PaymentPending)
	_, err := o.ApplyPayment(order.OutcomeSucceeded)
	require.NoError(t, err)

	o.CompletePayment()
	assert.True(t, o.StockDeducted)
	assert.Equal(t, order.StatusConfirmed, o.Status)
}

func TestOrder_MarkFailed(t *testing.T) {
	o := newOrder(order.MethodCard, order.StatusPending, order.PaymentPending)
	require.NoError(t, o.MarkFailed())
	assert.Equal(t, order.StatusFailed, o.Status)
	assert.Equal(t, order.PaymentFailed, o.PaymentStatus)
	assert.ErrorIs(t, o.MarkFailed(), order.ErrNoChange)

	delivered := newOrder(order.MethodCOD, order.StatusDelivered, order.PaymentPaid)
	assert.ErrorIs(t, delivered.MarkFailed(), order.ErrInvalidStatusTransition)
}

func TestOrder_FlagForReviewAppendsReasons(t *testing.T) {
	o := newOrder(order.MethodCard, order.StatusPending, order.PaymentPaid)
	o.FlagForReview("first")
	o.FlagForReview("second")
	assert.True(t, o.NeedsReview)
	assert.Equal(t, "first; second", o.ReviewReason)
}
