package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	SaveProduct(ctx context.Context, p *Product) error
	// TryDeduct decrements stock only when it covers qty.
	TryDeduct(ctx context.Context, productID uuid.UUID, qty int) error
	// DeductForOrder applies all lines or none. applied is false when the
	// order already has a deduction recorded.
	DeductForOrder(ctx context.Context, orderID uuid.UUID, lines []Line) (applied bool, err error)
	// ReleaseForOrder returns a recorded deduction to stock once.
	ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (released bool, err error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, price, sale_price, variants, stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var (
		p         Product
		salePrice decimal.NullDecimal
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&salePrice,
		&p.Variants,
		&p.Stock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}
	if salePrice.Valid {
		p.SalePrice = salePrice.Decimal
	}

	return &p, nil
}

func (r *postgresRepository) SaveProduct(ctx context.Context, p *Product) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Variants == nil {
		p.Variants = []Variant{}
	}

	var salePrice decimal.NullDecimal
	if p.SalePrice.IsPositive() {
		salePrice = decimal.NewNullDecimal(p.SalePrice)
	}

	query := `
		INSERT INTO products (id, name, price, sale_price, variants, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, sale_price = EXCLUDED.sale_price,
		    variants = EXCLUDED.variants, stock = EXCLUDED.stock, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query, p.ID, p.Name, p.Price, salePrice, p.Variants, p.Stock, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to save product %s: %w", p.ID, err)
	}
	return nil
}

func (r *postgresRepository) TryDeduct(ctx context.Context, productID uuid.UUID, qty int) error {
	return deductStock(ctx, r.db, productID, qty)
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func deductStock(ctx context.Context, q pgxQuerier, productID uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
	`
	cmdTag, err := q.Exec(ctx, query, productID, qty)
	if err != nil {
		return fmt.Errorf("repository: failed to deduct stock for product %s: %w", productID, err)
	}
	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("repository: failed to check product %s: %w", productID, err)
	}
	if !exists {
		return ErrProductNotFound
	}
	return &StockError{ProductID: productID, Requested: qty}
}

func (r *postgresRepository) DeductForOrder(ctx context.Context, orderID uuid.UUID, lines []Line) (applied bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil || !applied {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback stock deduction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			applied = false
			err = fmt.Errorf("repository: failed to commit stock deduction: %w", commitErr)
		}
	}()

	for _, line := range lines {
		// маркер вставляется первым: конкурирующая транзакция ждёт на нём
		cmdTag, err := tx.Exec(ctx, `
			INSERT INTO stock_deductions (order_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (order_id, product_id) DO NOTHING
		`, orderID, line.ProductID, line.Quantity)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				return false, ErrProductNotFound
			}
			return false, fmt.Errorf("repository: failed to record deduction for order %s: %w", orderID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			return false, nil
		}

		if err := deductStock(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (r *postgresRepository) ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (released bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback stock release")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			released = false
			err = fmt.Errorf("repository: failed to commit stock release: %w", commitErr)
		}
	}()

	rows, err := tx.Query(ctx, `
		UPDATE stock_deductions
		SET released_at = now()
		WHERE order_id = $1 AND released_at IS NULL
		RETURNING product_id, quantity
	`, orderID)
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark deduction released for order %s: %w", orderID, err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.ProductID, &l.Quantity)
		return l, err
	})
	if err != nil {
		return false, fmt.Errorf("repository: failed to read released lines for order %s: %w", orderID, err)
	}

	for _, l := range lines {
		_, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, l.ProductID, l.Quantity)
		if err != nil {
			return false, fmt.Errorf("repository: failed to restock product %s: %w", l.ProductID, err)
		}
	}

	return len(lines) > 0, nil
}
