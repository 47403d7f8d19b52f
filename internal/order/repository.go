package order

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

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
)

var ErrDuplicateIntent = apperr.New(apperr.ErrConflict, "payment intent is already attached to another order")

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*Order, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListNeedingReview(ctx context.Context) ([]Order, error)
	// Update writes the mutable fields when o.Version still matches the
	// stored version, then bumps o.Version.
	Update(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `
	id, user_id, customer_email, shipping_address, payment_method, payment_status, status,
	payment_intent_id, total_amount, currency, payment_amount, payment_currency, rate_version,
	exchange_rate, stock_deducted, needs_review, review_reason, delivered_at, version,
	created_at, updated_at
`

func (r *postgresRepository) Create(ctx context.Context, o *Order) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id", o.ID).Msg("Panic recovered during Create, rolling back")
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", o.ID).Msg("Failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	p := paymentColumns(o.Payment)
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		o.ID, o.UserID, o.CustomerEmail, o.ShippingAddress, string(o.PaymentMethod), string(o.PaymentStatus),
		string(o.Status), nullableString(o.PaymentIntentID), o.TotalAmount, o.Currency,
		p.amount, p.currency, p.rateVersion, p.rate,
		o.StockDeducted, o.NeedsReview, o.ReviewReason, o.DeliveredAt, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		if item.ID == uuid.Nil {
			itemID, genErr := uuid.NewV4()
			if genErr != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			}
			item.ID = itemID
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, variant_color, variant_image, quantity, unit_price, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, item.ID, o.ID, item.ProductID, item.Name, item.Variant.Color, item.Variant.Image, item.Quantity, item.UnitPrice, i)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1`, intentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by intent %s: %w", intentID, err)
	}

	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *postgresRepository) ListNeedingReview(ctx context.Context) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE needs_review ORDER BY updated_at`)
}

func (r *postgresRepository) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	var ptrs []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		ptrs = append(ptrs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	if err := r.loadItems(ctx, ptrs); err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(ptrs))
	for _, o := range ptrs {
		orders = append(orders, *o)
	}
	return orders, nil
}

func (r *postgresRepository) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, 0, len(orders))
	byID := make(map[uuid.UUID]*Order, len(orders))
	for _, o := range orders {
		o.Items = make([]Item, 0)
		ids = append(ids, o.ID.String())
		byID[o.ID] = o
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, name, variant_color, variant_image, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    Item
			orderID uuid.UUID
		)
		err := rows.Scan(&item.ID, &orderID, &item.ProductID, &item.Name, &item.Variant.Color, &item.Variant.Image, &item.Quantity, &item.UnitPrice)
		if err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating order items: %w", err)
	}
	return nil
}

func (r *postgresRepository) Update(ctx context.Context, o *Order) error {
	now := time.Now().UTC()
	p := paymentColumns(o.Payment)

	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $1, status = $2, payment_intent_id = $3,
		    payment_amount = $4, payment_currency = $5, rate_version = $6, exchange_rate = $7,
		    stock_deducted = $8, needs_review = $9, review_reason = $10, delivered_at = $11,
		    version = version + 1, updated_at = $12
		WHERE id = $13 AND version = $14
	`,
		string(o.PaymentStatus), string(o.Status), nullableString(o.PaymentIntentID),
		p.amount, p.currency, p.rateVersion, p.rate,
		o.StockDeducted, o.NeedsReview, o.ReviewReason, o.DeliveredAt,
		now, o.ID, o.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateIntent
		}
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("repository: failed to update order")
		return fmt.Errorf("repository: failed to update order %s: %w", o.ID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return fmt.Errorf("repository: failed to check order %s: %w", o.ID, err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrVersionConflict
	}

	o.Version++
	o.UpdatedAt = now
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o               Order
		paymentMethod   string
		paymentStatus   string
		status          string
		intentID        *string
		paymentAmount   decimal.NullDecimal
		paymentCurrency *string
		rateVersion     *string
		rate            decimal.NullDecimal
	)

	err := row.Scan(
		&o.ID, &o.UserID, &o.CustomerEmail, &o.ShippingAddress, &paymentMethod, &paymentStatus, &status,
		&intentID, &o.TotalAmount, &o.Currency, &paymentAmount, &paymentCurrency, &rateVersion,
		&rate, &o.StockDeducted, &o.NeedsReview, &o.ReviewReason, &o.DeliveredAt, &o.Version,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.PaymentMethod = PaymentMethod(paymentMethod)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	o.Status = Status(status)
	if intentID != nil {
		o.PaymentIntentID = *intentID
	}
	if paymentAmount.Valid {
		o.Payment = &PaymentSnapshot{Amount: paymentAmount.Decimal, Rate: rate.Decimal}
		if paymentCurrency != nil {
			o.Payment.Currency = *paymentCurrency
		}
		if rateVersion != nil {
			o.Payment.RateVersion = *rateVersion
		}
	}

	return &o, nil
}

type paymentCols struct {
	amount      decimal.NullDecimal
	currency    *string
	rateVersion *string
	rate        decimal.NullDecimal
}

func paymentColumns(p *PaymentSnapshot) paymentCols {
	if p == nil {
		return paymentCols{}
	}
	return paymentCols{
		amount:      decimal.NewNullDecimal(p.Amount),
		currency:    &p.Currency,
		rateVersion: &p.RateVersion,
		rate:        decimal.NewNullDecimal(p.Rate),
	}
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
