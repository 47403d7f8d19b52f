package http_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout"
	storefrontHttp "github.com/vasiliy-maslov/ecommerce-storefront/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/reconcile"
)

const testJWTSecret = "test-secret"

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Create(ctx context.Context, o *order.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockOrderService) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetForUser(ctx context.Context, id, userID uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetByPaymentIntentID(ctx context.Context, intentID string) (*order.Order, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) ListNeedingReview(ctx context.Context) ([]order.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, id uuid.UUID, status order.Status) (*order.Order, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) SetDelivered(ctx context.Context, id uuid.UUID, delivered bool) (*order.Order, error) {
	args := m.Called(ctx, id, delivered)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) Mutate(ctx context.Context, id uuid.UUID, fn order.MutateFunc) (*order.Order, error) {
	args := m.Called(ctx, id, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockCheckout struct {
	mock.Mock
}

func (m *MockCheckout) CreateOrderFromCart(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

func (m *MockCheckout) CreateCustomOrder(ctx context.Context, req checkout.CustomOrderRequest) (*checkout.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

func (m *MockCheckout) CancelOrder(ctx context.Context, orderID uuid.UUID, actor checkout.Actor) (*order.Order, error) {
	args := m.Called(ctx, orderID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockCheckout) FailOrder(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockCheckout) RetryPayment(ctx context.Context, orderID, userID uuid.UUID) (*payment.IntentResult, error) {
	args := m.Called(ctx, orderID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.IntentResult), args.Error(1)
}

type MockIntents struct {
	mock.Mock
}

func (m *MockIntents) GetIntentDetails(ctx context.Context, orderID, userID uuid.UUID) (*payment.Intent, error) {
	args := m.Called(ctx, orderID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Intent), args.Error(1)
}

func (m *MockIntents) CancelIntent(ctx context.Context, orderID, userID uuid.UUID) (*payment.Intent, error) {
	args := m.Called(ctx, orderID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Intent), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Confirm(ctx context.Context, userID uuid.UUID, intentID string) (*reconcile.Result, error) {
	args := m.Called(ctx, userID, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.Result), args.Error(1)
}

func (m *MockReconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (*reconcile.Result, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.Result), args.Error(1)
}

func (m *MockReconciler) SetPaymentStatus(ctx context.Context, orderID uuid.UUID, status order.PaymentStatus) (*reconcile.Result, error) {
	args := m.Called(ctx, orderID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.Result), args.Error(1)
}

// authedRouter mounts register behind the bearer middleware, the way the
// service router does.
func authedRouter(register func(chi.Router), admin bool) *chi.Mux {
	auth := storefrontHttp.NewAuthenticator(testJWTSecret)
	router := chi.NewRouter()
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		if admin {
			r.Use(storefrontHttp.RequireAdmin)
		}
		register(r)
	})
	return router
}

func bearer(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	token, err := storefrontHttp.NewAuthenticator(testJWTSecret).IssueToken(userID, "buyer@example.com", role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func testOrder(userID uuid.UUID) *order.Order {
	return &order.Order{
		ID:            uuid.Must(uuid.NewV4()),
		UserID:        userID,
		PaymentMethod: order.MethodCOD,
		PaymentStatus: order.PaymentPending,
		Status:        order.StatusProcessing,
		Currency:      "lkr",
		Version:       1,
	}
}

var (
	_ order.Service             = (*MockOrderService)(nil)
	_ storefrontHttp.Checkout   = (*MockCheckout)(nil)
	_ storefrontHttp.Intents    = (*MockIntents)(nil)
	_ storefrontHttp.Reconciler = (*MockReconciler)(nil)
)
