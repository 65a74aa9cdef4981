package repo

import (
	"context"
	"sync"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// MemoryAuditRepo keeps audit entries in arrival order.
type MemoryAuditRepo struct {
	mu      sync.Mutex
	entries []usecase.AuditEntry
}

func NewMemoryAuditRepo() *MemoryAuditRepo { return &MemoryAuditRepo{} }

func (r *MemoryAuditRepo) Record(ctx context.Context, e usecase.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.Payload = append([]byte(nil), e.Payload...)
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

// Entries returns a snapshot of everything recorded so far.
func (r *MemoryAuditRepo) Entries() []usecase.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usecase.AuditEntry(nil), r.entries...)
}

// Count returns how many entries of kind were recorded for orderID; an empty
// orderID matches all.
func (r *MemoryAuditRepo) Count(kind usecase.AuditKind, orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Kind == kind && (orderID == "" || e.OrderID == orderID) {
			n++
		}
	}
	return n
}

var _ usecase.AuditSink = (*MemoryAuditRepo)(nil)
