package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// mysqlDupEntry is ER_DUP_ENTRY.
const mysqlDupEntry = 1062

type MySQLOrderRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo {
	return &MySQLOrderRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *MySQLOrderRepo) Create(ctx context.Context, o *domain.Order) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	args, err := orderArgs(o)
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		return "", mysqlErr(err)
	}
	return o.ID, nil
}

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	return r.scan(row)
}

func (r *MySQLOrderRepo) GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, usecase.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference=?`, ref)
	return r.scan(row)
}

// CompareAndTransition reads the order, derives its successor and commits it
// with a single conditional UPDATE guarded on the expected status. Zero
// affected rows means another writer got there first.
func (r *MySQLOrderRepo) CompareAndTransition(ctx context.Context, id string, expected, next domain.Status, mutate func(*domain.Order) error) (*domain.Order, error) {
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

	res, err := r.db.ExecContext(ctx, `
        UPDATE orders
        SET status = ?, payment_status = ?, payment_reference = ?, payment_action_url = ?,
            payment_failure_reason = ?, updated_at = ?
        WHERE id = ? AND status = ?`,
		string(updated.Status), string(updated.Payment.Status), nullable(updated.PaymentReference),
		nullable(updated.Payment.ActionURL), nullable(updated.Payment.FailureReason), updated.UpdatedAt,
		id, string(expected),
	)
	if err != nil {
		return nil, mysqlErr(err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	// rows == 0 → status moved since the read
	if rows == 0 {
		return nil, usecase.ErrStaleState
	}
	return updated, nil
}

func (r *MySQLOrderRepo) scan(row *sql.Row) (*domain.Order, error) {
	o, err := scanOrder(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, usecase.ErrNotFound
	}
	return o, err
}

func mysqlErr(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDupEntry {
		return usecase.ErrWriteConflict
	}
	return err
}

var _ usecase.OrderStore = (*MySQLOrderRepo)(nil)
