package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
)

func newProduct(t *testing.T, repo *inventory.MemoryRepository, stock int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, repo.SaveProduct(context.Background(), &inventory.Product{
		ID:    id,
		Name:  "Linen shirt",
		Price: decimal.NewFromInt(1000),
		Stock: stock,
	}))
	return id
}

func TestService_TryDeduct(t *testing.T) {
	tests := []struct {
		name      string
		stock     int
		qty       int
		wantErrIs error
		wantStock int
	}{
		{name: "enough_stock", stock: 5, qty: 2, wantStock: 3},
		{name: "exact_stock", stock: 2, qty: 2, wantStock: 0},
		{name: "insufficient", stock: 1, qty: 2, wantErrIs: inventory.ErrInsufficientStock, wantStock: 1},
		{name: "zero_quantity", stock: 1, qty: 0, wantErrIs: inventory.ErrInvalidQuantity, wantStock: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := inventory.NewMemoryRepository()
			svc := inventory.NewService(repo)
			id := newProduct(t, repo, tt.stock)

			err := svc.TryDeduct(context.Background(), id, tt.qty)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStock, repo.Stock(id))
		})
	}
}

func TestService_TryDeduct_UnknownProduct(t *testing.T) {
	svc := inventory.NewService(inventory.NewMemoryRepository())

	err := svc.TryDeduct(context.Background(), uuid.Must(uuid.NewV4()), 1)
	require.ErrorIs(t, err, inventory.ErrProductNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_TryDeduct_ConcurrentNeverOversells(t *testing.T) {
	repo := inventory.NewMemoryRepository()
	svc := inventory.NewService(repo)
	id := newProduct(t, repo, 10)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.TryDeduct(context.Background(), id, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, inventory.ErrInsufficientStock):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, int32(40), rejected.Load())
	assert.Equal(t, 0, repo.Stock(id))
}

func TestService_DeductForOrder_IsIdempotent(t *testing.T) {
	repo := inventory.NewMemoryRepository()
	svc := inventory.NewService(repo)
	shirt := newProduct(t, repo, 5)
	orderID := uuid.Must(uuid.NewV4())

	lines := []inventory.Line{{ProductID: shirt, Quantity: 1}, {ProductID: shirt, Quantity: 1}}

	applied, err := svc.DeductForOrder(context.Background(), orderID, lines)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.DeductForOrder(context.Background(), orderID, lines)
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, 3, repo.Stock(shirt))
}

func TestService_DeductForOrder_AllOrNothing(t *testing.T) {
	repo := inventory.NewMemoryRepository()
	svc := inventory.NewService(repo)
	shirt := newProduct(t, repo, 5)
	scarf := newProduct(t, repo, 0)
	orderID := uuid.Must(uuid.NewV4())

	_, err := svc.DeductForOrder(context.Background(), orderID, []inventory.Line{
		{ProductID: shirt, Quantity: 2},
		{ProductID: scarf, Quantity: 1},
	})

	var stockErr *inventory.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, scarf, stockErr.ProductID)
	assert.Equal(t, 5, repo.Stock(shirt))

	// a failed attempt leaves no marker behind
	require.NoError(t, repo.SaveProduct(context.Background(), &inventory.Product{ID: scarf, Name: "Scarf", Stock: 1}))
	applied, err := svc.DeductForOrder(context.Background(), orderID, []inventory.Line{
		{ProductID: shirt, Quantity: 2},
		{ProductID: scarf, Quantity: 1},
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 3, repo.Stock(shirt))
	assert.Equal(t, 0, repo.Stock(scarf))
}

func TestService_ReleaseForOrder(t *testing.T) {
	repo := inventory.NewMemoryRepository()
	svc := inventory.NewService(repo)
	shirt := newProduct(t, repo, 5)
	orderID := uuid.Must(uuid.NewV4())

	_, err := svc.DeductForOrder(context.Background(), orderID, []inventory.Line{{ProductID: shirt, Quantity: 4}})
	require.NoError(t, err)

	released, err := svc.ReleaseForOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = svc.ReleaseForOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 5, repo.Stock(shirt))

	// a released order cannot be deducted a second time
	applied, err := svc.DeductForOrder(context.Background(), orderID, []inventory.Line{{ProductID: shirt, Quantity: 4}})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 5, repo.Stock(shirt))
}

func TestAggregate(t *testing.T) {
	a := uuid.Must(uuid.NewV4())
	b := uuid.Must(uuid.NewV4())

	got, err := inventory.Aggregate([]inventory.Line{
		{ProductID: a, Quantity: 1},
		{ProductID: b, Quantity: 2},
		{ProductID: a, Quantity: 3},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[uuid.UUID]int{}
	for _, l := range got {
		byID[l.ProductID] = l.Quantity
	}
	assert.Equal(t, 4, byID[a])
	assert.Equal(t, 2, byID[b])

	_, err = inventory.Aggregate([]inventory.Line{{ProductID: a, Quantity: -1}})
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestProduct_EffectivePrice(t *testing.T) {
	p := inventory.Product{Price: decimal.NewFromInt(1000)}
	assert.True(t, p.EffectivePrice().Equal(decimal.NewFromInt(1000)))

	p.SalePrice = decimal.NewFromInt(800)
	assert.True(t, p.EffectivePrice().Equal(decimal.NewFromInt(800)))
}
