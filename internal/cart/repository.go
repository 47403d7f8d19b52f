package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Cart, error)
	// Create fails with ErrCartExists when the user already owns a cart.
	Create(ctx context.Context, c *Cart) error
	Save(ctx context.Context, c *Cart) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	query := `
		SELECT id, user_id, items, total_items, total_amount, created_at, updated_at
		FROM carts
		WHERE user_id = $1
	`

	var c Cart
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&c.ID,
		&c.UserID,
		&c.Items,
		&c.TotalItems,
		&c.TotalAmount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart for user %s: %w", userID, err)
	}
	if c.Items == nil {
		c.Items = []Item{}
	}

	return &c, nil
}

func (r *postgresRepository) Create(ctx context.Context, c *Cart) error {
	query := `
		INSERT INTO carts (id, user_id, items, total_items, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query, c.ID, c.UserID, c.Items, c.TotalItems, c.TotalAmount, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrCartExists
		}
		return fmt.Errorf("repository: failed to insert cart: %w", err)
	}
	return nil
}

func (r *postgresRepository) Save(ctx context.Context, c *Cart) error {
	c.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE carts
		SET items = $1, total_items = $2, total_amount = $3, updated_at = $4
		WHERE id = $5
	`
	cmdTag, err := r.db.Exec(ctx, query, c.Items, c.TotalItems, c.TotalAmount, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to update cart %s: %w", c.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartNotFound
	}
	return nil
}

type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[uuid.UUID]Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[uuid.UUID]Cart)}
}

func (r *MemoryRepository) GetByUserID(_ context.Context, userID uuid.UUID) (*Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	c.Items = append([]Item{}, c.Items...)
	return &c, nil
}

func (r *MemoryRepository) Create(_ context.Context, c *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.carts[c.UserID]; ok {
		return ErrCartExists
	}
	stored := *c
	stored.Items = append([]Item{}, c.Items...)
	r.carts[c.UserID] = stored
	return nil
}

func (r *MemoryRepository) Save(_ context.Context, c *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.carts[c.UserID]; !ok {
		return ErrCartNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	stored := *c
	stored.Items = append([]Item{}, c.Items...)
	r.carts[c.UserID] = stored
	return nil
}
