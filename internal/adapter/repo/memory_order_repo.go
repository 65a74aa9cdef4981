package repo

import (
	"context"
	"sync"
	"time"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// MemoryOrderRepo is an in-process OrderStore for local runs and tests. One
// mutex makes every CompareAndTransition a single atomic step.
type MemoryOrderRepo struct {
	mu    sync.Mutex
	byID  map[string]*domain.Order
	byRef map[string]string
	now   func() time.Time
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{
		byID:  map[string]*domain.Order{},
		byRef: map[string]string{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryOrderRepo) Create(ctx context.Context, o *domain.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := o.Validate(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[o.ID]; ok {
		return "", usecase.ErrWriteConflict
	}
	if o.PaymentReference != "" {
		if _, ok := r.byRef[o.PaymentReference]; ok {
			return "", usecase.ErrWriteConflict
		}
		r.byRef[o.PaymentReference] = o.ID
	}
	r.byID[o.ID] = o.Clone()
	return o.ID, nil
}

func (r *MemoryOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, usecase.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepo) GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRef[ref]
	if !ok || ref == "" {
		return nil, usecase.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryOrderRepo) CompareAndTransition(ctx context.Context, id string, expected, next domain.Status, mutate func(*domain.Order) error) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[id]
	if !ok {
		return nil, usecase.ErrNotFound
	}
	if cur.Status != expected {
		return nil, usecase.ErrStaleState
	}
	updated, err := domain.Advance(cur, next, r.now(), mutate)
	if err != nil {
		return nil, err
	}
	if ref := updated.PaymentReference; ref != "" && ref != cur.PaymentReference {
		if owner, taken := r.byRef[ref]; taken && owner != id {
			return nil, usecase.ErrWriteConflict
		}
		r.byRef[ref] = id
	}
	r.byID[id] = updated
	return updated.Clone(), nil
}

var _ usecase.OrderStore = (*MemoryOrderRepo)(nil)
