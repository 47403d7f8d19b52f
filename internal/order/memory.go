package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

// MemoryRepository stores orders in process with the same version check as
// the Postgres repository.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[uuid.UUID]*Order)}
}

func (r *MemoryRepository) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range o.Items {
		if o.Items[i].ID == uuid.Nil {
			o.Items[i].ID = uuid.Must(uuid.NewV4())
		}
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryRepository) GetByPaymentIntentID(_ context.Context, intentID string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if intentID != "" && o.PaymentIntentID == intentID {
			return o.Clone(), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (r *MemoryRepository) ListByUserID(_ context.Context, userID uuid.UUID) ([]Order, error) {
	return r.filter(func(o *Order) bool { return o.UserID == userID }), nil
}

func (r *MemoryRepository) ListNeedingReview(_ context.Context) ([]Order, error) {
	return r.filter(func(o *Order) bool { return o.NeedsReview }), nil
}

func (r *MemoryRepository) filter(keep func(*Order) bool) []Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Order, 0)
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) Update(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if stored.Version != o.Version {
		return ErrVersionConflict
	}
	if o.PaymentIntentID != "" {
		for id, other := range r.orders {
			if id != o.ID && other.PaymentIntentID == o.PaymentIntentID {
				return ErrDuplicateIntent
			}
		}
	}

	o.Version++
	o.UpdatedAt = time.Now().UTC()
	updated := o.Clone()
	updated.Items = stored.Items
	r.orders[o.ID] = updated
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(r.orders, id)
	return nil
}
