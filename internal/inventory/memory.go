package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

type deduction struct {
	lines    []Line
	released bool
}

// MemoryRepository keeps products in process. Every mutation holds the same
// mutex, which gives the conditional update the same atomicity as the SQL one.
type MemoryRepository struct {
	mu         sync.RWMutex
	products   map[uuid.UUID]Product
	deductions map[uuid.UUID]*deduction
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products:   make(map[uuid.UUID]Product),
		deductions: make(map[uuid.UUID]*deduction),
	}
}

func (r *MemoryRepository) GetProduct(_ context.Context, id uuid.UUID) (*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	p.Variants = append([]Variant(nil), p.Variants...)
	return &p, nil
}

func (r *MemoryRepository) SaveProduct(_ context.Context, p *Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	stored := *p
	stored.Variants = append([]Variant(nil), p.Variants...)
	r.products[p.ID] = stored
	return nil
}

func (r *MemoryRepository) TryDeduct(_ context.Context, productID uuid.UUID, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.check(productID, qty); err != nil {
		return err
	}
	r.apply(productID, -qty)
	return nil
}

func (r *MemoryRepository) DeductForOrder(_ context.Context, orderID uuid.UUID, lines []Line) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deductions[orderID]; ok {
		return false, nil
	}

	for _, l := range lines {
		if err := r.check(l.ProductID, l.Quantity); err != nil {
			return false, err
		}
	}
	for _, l := range lines {
		r.apply(l.ProductID, -l.Quantity)
	}
	r.deductions[orderID] = &deduction{lines: append([]Line(nil), lines...)}
	return true, nil
}

func (r *MemoryRepository) ReleaseForOrder(_ context.Context, orderID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deductions[orderID]
	if !ok || d.released {
		return false, nil
	}
	for _, l := range d.lines {
		r.apply(l.ProductID, l.Quantity)
	}
	d.released = true
	return true, nil
}

// Stock returns the current stock of a product, or -1 when it is unknown.
func (r *MemoryRepository) Stock(productID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[productID]
	if !ok {
		return -1
	}
	return p.Stock
}

func (r *MemoryRepository) check(productID uuid.UUID, qty int) error {
	p, ok := r.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	if p.Stock < qty {
		return &StockError{ProductID: productID, Requested: qty}
	}
	return nil
}

func (r *MemoryRepository) apply(productID uuid.UUID, delta int) {
	p := r.products[productID]
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	r.products[productID] = p
}
