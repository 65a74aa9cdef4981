package repo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

var rowColumns = []string{"id", "buyer_id", "buyer_email", "items_json", "currency", "total_amount", "provider",
	"payment_reference", "status", "payment_status", "payment_action_url", "payment_failure_reason",
	"created_at", "updated_at"}

var created = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func orderRow(status domain.Status, ref any) *sqlmock.Rows {
	return sqlmock.NewRows(rowColumns).AddRow("o1", "b1", "b@example.com",
		[]byte(`[{"productId":"p1","quantity":1,"unitPrice":500000}]`), "NGN", int64(500000),
		"cardBankTransfer", ref, string(status), string(domain.PaymentStatusFor(status)), nil, nil, created, created)
}

func newMySQL(t *testing.T) (*MySQLOrderRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	r := NewMySQLOrderRepo(db)
	r.now = func() time.Time { return created.Add(time.Minute) }
	return r, mock
}

func TestMySQLGetByID(t *testing.T) {
	r, mock := newMySQL(t)
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id=\?`).WithArgs("o1").WillReturnRows(orderRow(domain.StatusCreated, nil))

	o, err := r.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, o.Status)
	assert.Equal(t, int64(500000), o.TotalAmount)
	assert.Equal(t, []domain.Item{{ProductID: "p1", Quantity: 1, UnitPrice: 500000}}, o.Items)
	assert.Empty(t, o.PaymentReference)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLGetByPaymentReferenceNotFound(t *testing.T) {
	r, mock := newMySQL(t)
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE payment_reference=\?`).WithArgs("AM-x").
		WillReturnRows(sqlmock.NewRows(rowColumns))

	_, err := r.GetByPaymentReference(context.Background(), "AM-x")
	assert.ErrorIs(t, err, usecase.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCompareAndTransition(t *testing.T) {
	r, mock := newMySQL(t)
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id=\?`).WithArgs("o1").WillReturnRows(orderRow(domain.StatusCreated, nil))
	mock.ExpectExec(`UPDATE orders\s+SET status = \?.+WHERE id = \? AND status = \?`).
		WithArgs("payment_pending", "pending", "AM-1", "https://pay/x", sqlmock.AnyArg(), sqlmock.AnyArg(), "o1", "created").
		WillReturnResult(sqlmock.NewResult(0, 1))

	o, err := r.CompareAndTransition(context.Background(), "o1", domain.StatusCreated, domain.StatusPaymentPending,
		func(n *domain.Order) error {
			n.PaymentReference = "AM-1"
			n.Payment.ActionURL = "https://pay/x"
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentPending, o.Status)
	assert.Equal(t, domain.PaymentPending, o.Payment.Status)
	assert.True(t, o.UpdatedAt.After(o.CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCompareAndTransitionLostRace(t *testing.T) {
	r, mock := newMySQL(t)
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id=\?`).WithArgs("o1").WillReturnRows(orderRow(domain.StatusPaymentPending, "AM-1"))
	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := r.CompareAndTransition(context.Background(), "o1", domain.StatusPaymentPending, domain.StatusPaid, nil)
	assert.ErrorIs(t, err, usecase.ErrStaleState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCompareAndTransitionRejectsWithoutWrite(t *testing.T) {
	r, mock := newMySQL(t)
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id=\?`).WithArgs("o1").WillReturnRows(orderRow(domain.StatusPaid, "AM-1"))
	_, err := r.CompareAndTransition(context.Background(), "o1", domain.StatusPaymentPending, domain.StatusPaid, nil)
	assert.ErrorIs(t, err, usecase.ErrStaleState)

	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id=\?`).WithArgs("o1").WillReturnRows(orderRow(domain.StatusPaid, "AM-1"))
	_, err = r.CompareAndTransition(context.Background(), "o1", domain.StatusPaid, domain.StatusPaymentFailed, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCreateDuplicate(t *testing.T) {
	r, mock := newMySQL(t)
	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	o := &domain.Order{
		ID: "o1", BuyerID: "b1", BuyerEmail: "b@example.com", Currency: "NGN", TotalAmount: 500000,
		Items: []domain.Item{{ProductID: "p1", Quantity: 1, UnitPrice: 500000}}, Provider: "cardBankTransfer",
		Status: domain.StatusCreated, CreatedAt: created, UpdatedAt: created,
	}
	_, err := r.Create(context.Background(), o)
	assert.ErrorIs(t, err, usecase.ErrWriteConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

type prefixSealer struct{}

func (prefixSealer) Seal(p []byte) ([]byte, error) { return append([]byte("sealed:"), p...), nil }

func TestMySQLAuditRecordSealsPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	amount := int64(499998)
	mock.ExpectExec(`INSERT INTO payment_audit`).
		WithArgs("a1", "o1", "AM-1", "cardBankTransfer", "transition", "payment_pending", "paid", "cbt:charge.success:1",
			amount, true, true, nil, []byte("sealed:{}"), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewMySQLAuditRepo(db, prefixSealer{})
	err = r.Record(context.Background(), usecase.AuditEntry{
		ID: "a1", Kind: usecase.AuditTransition, OrderID: "o1", PaymentReference: "AM-1", Provider: "cardBankTransfer",
		FromStatus: domain.StatusPaymentPending, ToStatus: domain.StatusPaid, IdempotencyKey: "cbt:charge.success:1",
		AmountObserved: &amount, AmountMismatch: true, WithinTolerance: true, Payload: []byte("{}"), At: created,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatements(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres"} {
		stmts, err := Statements(driver)
		require.NoError(t, err)
		assert.NotEmpty(t, stmts)
		assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS orders")
	}
	_, err := Statements("oracle")
	assert.Error(t, err)

	var ran []string
	n, err := Migrate(context.Background(), "mysql", func(_ context.Context, s string) error {
		ran = append(ran, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(ran), n)
}
