package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// pgUniqueViolation is SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

// PgxDB is the slice of *pgxpool.Pool the Postgres stores use.
type PgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresOrderRepo struct {
	DB  PgxDB
	now func() time.Time
}

func NewPostgresOrderRepo(db PgxDB) *PostgresOrderRepo {
	return &PostgresOrderRepo{DB: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *PostgresOrderRepo) Create(ctx context.Context, o *domain.Order) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	args, err := orderArgs(o)
	if err != nil {
		return "", err
	}
	q := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`
	if _, err := r.DB.Exec(ctx, q, args...); err != nil {
		return "", pgErr(err)
	}
	return o.ID, nil
}

func (r *PostgresOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.scan(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (r *PostgresOrderRepo) GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, usecase.ErrNotFound
	}
	return r.scan(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference=$1`, ref))
}

func (r *PostgresOrderRepo) CompareAndTransition(ctx context.Context, id string, expected, next domain.Status, mutate func(*domain.Order) error) (*domain.Order, error) {
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != expected {
		return nil, usecase.ErrStaleState
	}
	updated, err := domain.Advance(cur, next, r.now(), mutate)
	if err != nil {
		return nil, err
	}

	q := `
		UPDATE orders
		SET status=$1, payment_status=$2, payment_reference=$3, payment_action_url=$4,
		    payment_failure_reason=$5, updated_at=$6
		WHERE id=$7 AND status=$8
	`
	tag, err := r.DB.Exec(ctx, q,
		string(updated.Status), string(updated.Payment.Status), nullable(updated.PaymentReference),
		nullable(updated.Payment.ActionURL), nullable(updated.Payment.FailureReason), updated.UpdatedAt,
		id, string(expected),
	)
	if err != nil {
		return nil, pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, usecase.ErrStaleState
	}
	return updated, nil
}

func (r *PostgresOrderRepo) scan(row pgx.Row) (*domain.Order, error) {
	o, err := scanOrder(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, usecase.ErrNotFound
	}
	return o, err
}

func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == pgUniqueViolation {
		return usecase.ErrWriteConflict
	}
	return err
}

var _ usecase.OrderStore = (*PostgresOrderRepo)(nil)

type PostgresAuditRepo struct {
	DB     PgxDB
	sealer PayloadSealer
}

func NewPostgresAuditRepo(db PgxDB, sealer PayloadSealer) *PostgresAuditRepo {
	return &PostgresAuditRepo{DB: db, sealer: sealer}
}

func (r *PostgresAuditRepo) Record(ctx context.Context, e usecase.AuditEntry) error {
	args, err := auditArgs(e, r.sealer)
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(ctx, postgresAuditInsert, args...)
	return err
}

var postgresAuditInsert = fmt.Sprintf(auditInsert, "$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14")

var _ usecase.AuditSink = (*PostgresAuditRepo)(nil)
