package domain

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusPaymentPending, true},
		{StatusCreated, StatusPaymentFailed, true},
		{StatusCreated, StatusPaid, false},
		{StatusPaymentPending, StatusPaid, true},
		{StatusPaymentPending, StatusPaymentFailed, true},
		{StatusPaymentPending, StatusCreated, false},
		{StatusPaid, StatusRefunded, true},
		{StatusPaid, StatusPaymentPending, false},
		{StatusPaid, StatusPaymentFailed, false},
		{StatusPaymentFailed, StatusPaid, false},
		{StatusRefunded, StatusPaid, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTotal(t *testing.T) {
	total, err := Total([]Item{{ProductID: "p1", Quantity: 2, UnitPrice: 150000}, {ProductID: "p2", Quantity: 1, UnitPrice: 200000}})
	require.NoError(t, err)
	assert.Equal(t, int64(500000), total)

	_, err = Total(nil)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = Total([]Item{{ProductID: "p1", Quantity: 0, UnitPrice: 10}})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Total([]Item{{ProductID: "p1", Quantity: 2, UnitPrice: math.MaxInt64}})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func newOrder() *Order {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Order{
		ID: "o1", BuyerID: "b1", BuyerEmail: "b@example.com",
		Items:    []Item{{ProductID: "p1", Quantity: 1, UnitPrice: 500000}},
		Currency: "NGN", TotalAmount: 500000, Provider: "cardBankTransfer",
		Status: StatusCreated, CreatedAt: now, UpdatedAt: now,
	}
}

func TestCheckTransition(t *testing.T) {
	prev := newOrder()
	require.NoError(t, prev.Validate())

	next := prev.Clone()
	next.Status = StatusPaymentPending
	next.PaymentReference = "AM-abc-123"
	next.Touch(prev.UpdatedAt.Add(time.Second))
	assert.NoError(t, CheckTransition(prev, next))

	bad := prev.Clone()
	bad.Status = StatusPaid
	assert.ErrorIs(t, CheckTransition(prev, bad), ErrInvalidTransition)

	mutated := next.Clone()
	mutated.TotalAmount = 1
	assert.ErrorIs(t, CheckTransition(prev, mutated), ErrImmutableField)

	items := next.Clone()
	items.Items[0].Quantity = 3
	assert.ErrorIs(t, CheckTransition(prev, items), ErrImmutableField)

	paid := next.Clone()
	paid.Status = StatusPaid
	paid.PaymentReference = "AM-other"
	assert.ErrorIs(t, CheckTransition(next, paid), ErrImmutableField)
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	o := newOrder()
	before := o.UpdatedAt
	o.Touch(before.Add(-time.Hour))
	assert.Equal(t, before, o.UpdatedAt)
	o.Touch(before.Add(time.Hour))
	assert.Equal(t, before.Add(time.Hour), o.UpdatedAt)
}

func TestMoneyConversion(t *testing.T) {
	assert.Equal(t, "5000", ToMajor(500000, "NGN").String())
	assert.Equal(t, "4999.98", ToMajor(499998, "NGN").String())
	assert.Equal(t, "500000", ToMajor(500000, "UGX").String())

	minor, err := ToMinor(decimal.RequireFromString("4999.98"), "NGN")
	require.NoError(t, err)
	assert.Equal(t, int64(499998), minor)

	_, err = ToMinor(decimal.RequireFromString("10.005"), "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestWithinTolerance(t *testing.T) {
	tol := decimal.RequireFromString("0.001")
	assert.True(t, WithinTolerance(500000, 499998, tol))
	assert.True(t, WithinTolerance(500000, 499500, tol))
	assert.False(t, WithinTolerance(500000, 499499, tol))
	assert.False(t, WithinTolerance(500000, 499998, decimal.Zero))
}
