package inventory_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
)

// setupPostgres connects to the database named by the DB_*_TEST variables.
// The schema from migrations/ must already be applied.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	host := os.Getenv("DB_HOST_TEST")
	if host == "" {
		t.Skip("DB_HOST_TEST is not set, skipping postgres integration test")
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, os.Getenv("DB_PORT_TEST"), os.Getenv("DB_USER_TEST"), os.Getenv("DB_PASSWORD_TEST"), os.Getenv("DB_NAME_TEST"))

	pool, err := pgxpool.New(context.Background(), connStr)
	require.NoError(t, err)

	truncate := func() {
		_, err := pool.Exec(context.Background(), "TRUNCATE TABLE stock_deductions, products CASCADE")
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		pool.Close()
	})

	return pool
}

func TestPostgresRepository_ConcurrentDeductions(t *testing.T) {
	pool := setupPostgres(t)
	repo := inventory.NewRepository(pool)
	ctx := context.Background()

	id := uuid.Must(uuid.NewV4())
	require.NoError(t, repo.SaveProduct(ctx, &inventory.Product{ID: id, Name: "Mug", Price: decimal.NewFromInt(500), Stock: 3}))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.TryDeduct(ctx, id, 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	p, err := repo.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, ok)
	assert.Equal(t, 0, p.Stock)
}

func TestPostgresRepository_DeductForOrder(t *testing.T) {
	pool := setupPostgres(t)
	repo := inventory.NewRepository(pool)
	ctx := context.Background()

	id := uuid.Must(uuid.NewV4())
	require.NoError(t, repo.SaveProduct(ctx, &inventory.Product{ID: id, Name: "Mug", Price: decimal.NewFromInt(500), Stock: 5}))
	orderID := uuid.Must(uuid.NewV4())

	applied, err := repo.DeductForOrder(ctx, orderID, []inventory.Line{{ProductID: id, Quantity: 2}})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.DeductForOrder(ctx, orderID, []inventory.Line{{ProductID: id, Quantity: 2}})
	require.NoError(t, err)
	assert.False(t, applied)

	released, err := repo.ReleaseForOrder(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, released)

	p, err := repo.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)

	_, err = repo.DeductForOrder(ctx, uuid.Must(uuid.NewV4()), []inventory.Line{{ProductID: id, Quantity: 6}})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestPostgresRepository_DeductForOrder_UnknownProduct(t *testing.T) {
	pool := setupPostgres(t)
	repo := inventory.NewRepository(pool)
	ctx := context.Background()

	id := uuid.Must(uuid.NewV4())
	require.NoError(t, repo.SaveProduct(ctx, &inventory.Product{ID: id, Name: "Mug", Price: decimal.NewFromInt(500), Stock: 5}))
	orderID := uuid.Must(uuid.NewV4())

	// товар удалён из каталога после оформления заказа
	applied, err := repo.DeductForOrder(ctx, orderID, []inventory.Line{
		{ProductID: id, Quantity: 1},
		{ProductID: uuid.Must(uuid.NewV4()), Quantity: 1},
	})
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
	assert.False(t, applied)

	p, err := repo.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)

	// откат не оставил маркера: заказ можно списать заново
	applied, err = repo.DeductForOrder(ctx, orderID, []inventory.Line{{ProductID: id, Quantity: 1}})
	require.NoError(t, err)
	assert.True(t, applied)
}
