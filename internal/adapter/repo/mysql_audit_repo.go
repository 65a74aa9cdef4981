package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// PayloadSealer encrypts raw webhook payloads before they are persisted.
type PayloadSealer interface {
	Seal(plain []byte) ([]byte, error)
}

const auditInsert = `
INSERT INTO payment_audit (id,order_id,payment_reference,provider,kind,from_status,to_status,
idempotency_key,amount_observed,amount_mismatch,within_tolerance,reason,payload,created_at)
VALUES (%s)`

// auditArgs returns the insert arguments for e, sealing the payload when a
// sealer is configured.
func auditArgs(e usecase.AuditEntry, sealer PayloadSealer) ([]any, error) {
	payload := e.Payload
	if sealer != nil && len(payload) > 0 {
		sealed, err := sealer.Seal(payload)
		if err != nil {
			return nil, fmt.Errorf("seal audit payload: %w", err)
		}
		payload = sealed
	}
	var amount sql.NullInt64
	if e.AmountObserved != nil {
		amount = sql.NullInt64{Int64: *e.AmountObserved, Valid: true}
	}
	return []any{e.ID, nullable(e.OrderID), nullable(e.PaymentReference), e.Provider, string(e.Kind),
		nullable(string(e.FromStatus)), nullable(string(e.ToStatus)), nullable(e.IdempotencyKey), amount,
		e.AmountMismatch, e.WithinTolerance, nullable(e.Reason), payload, e.At}, nil
}

type MySQLAuditRepo struct {
	db     *sql.DB
	sealer PayloadSealer
}

// NewMySQLAuditRepo returns an append-only audit sink; sealer may be nil.
func NewMySQLAuditRepo(db *sql.DB, sealer PayloadSealer) *MySQLAuditRepo {
	return &MySQLAuditRepo{db: db, sealer: sealer}
}

func (r *MySQLAuditRepo) Record(ctx context.Context, e usecase.AuditEntry) error {
	args, err := auditArgs(e, r.sealer)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, mysqlAuditInsert, args...)
	return err
}

var mysqlAuditInsert = fmt.Sprintf(auditInsert, "?,?,?,?,?,?,?,?,?,?,?,?,?,?")

var _ usecase.AuditSink = (*MySQLAuditRepo)(nil)
