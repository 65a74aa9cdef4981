package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Status string

const (
	StatusCreated        Status = "created"
	StatusPaymentPending Status = "payment_pending"
	StatusPaid           Status = "paid"
	StatusPaymentFailed  Status = "payment_failed"
	StatusRefunded       Status = "refunded"
)

// PaymentStatus is the provider-facing view of an order's payment. It is kept
// in sync with Status but stored separately.
type PaymentStatus string

const (
	PaymentNone     PaymentStatus = ""
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrImmutableField    = errors.New("immutable field changed")
)

// transitions is the directed status graph. Anything not listed is forbidden.
var transitions = map[Status][]Status{
	StatusCreated:        {StatusPaymentPending, StatusPaymentFailed},
	StatusPaymentPending: {StatusPaid, StatusPaymentFailed},
	StatusPaid:           {StatusRefunded},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no webhook outcome can move the order any further
// except a refund.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusPaymentFailed || s == StatusRefunded
}

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPaymentPending, StatusPaid, StatusPaymentFailed, StatusRefunded:
		return true
	}
	return false
}

// PaymentStatusFor returns the payment view that mirrors an order status.
func PaymentStatusFor(s Status) PaymentStatus {
	switch s {
	case StatusPaymentPending:
		return PaymentPending
	case StatusPaid:
		return PaymentSuccess
	case StatusPaymentFailed:
		return PaymentFailed
	case StatusRefunded:
		return PaymentRefunded
	default:
		return PaymentNone
	}
}

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"` // minor units
}

type Payment struct {
	Status        PaymentStatus
	ActionURL     string
	FailureReason string
}

type Order struct {
	ID               string
	BuyerID          string
	BuyerEmail       string
	Items            []Item
	Currency         string
	TotalAmount      int64 // minor units
	Provider         string
	PaymentReference string
	Status           Status
	Payment          Payment
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Total sums quantity*unitPrice over items, failing on overflow or
// non-positive values.
func Total(items []Item) (int64, error) {
	if len(items) == 0 {
		return 0, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	var sum int64
	for _, it := range items {
		if it.ProductID == "" {
			return 0, fmt.Errorf("%w: item without productId", ErrInvalidOrder)
		}
		if it.Quantity <= 0 || it.UnitPrice <= 0 {
			return 0, ErrInvalidAmount
		}
		if it.UnitPrice > math.MaxInt64/it.Quantity {
			return 0, ErrInvalidAmount
		}
		line := it.Quantity * it.UnitPrice
		if sum > math.MaxInt64-line {
			return 0, ErrInvalidAmount
		}
		sum += line
	}
	return sum, nil
}

func (o *Order) Validate() error {
	if o.ID == "" || o.BuyerID == "" || o.Provider == "" {
		return fmt.Errorf("%w: id, buyer and provider are required", ErrInvalidOrder)
	}
	if !ValidCurrency(o.Currency) {
		return fmt.Errorf("%w: currency %q", ErrInvalidOrder, o.Currency)
	}
	total, err := Total(o.Items)
	if err != nil {
		return err
	}
	if o.TotalAmount <= 0 || o.TotalAmount != total {
		return ErrInvalidAmount
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidOrder, o.Status)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing items.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	return &c
}

// Touch advances UpdatedAt to now, never moving it backwards.
func (o *Order) Touch(now time.Time) {
	if now.After(o.UpdatedAt) {
		o.UpdatedAt = now
	}
}

// CheckTransition validates that next is a legal successor of prev: the status
// edge exists, immutable fields are untouched and the payment reference is
// only ever set once.
func CheckTransition(prev, next *Order) error {
	if !CanTransition(prev.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	if prev.ID != next.ID || prev.BuyerID != next.BuyerID || prev.BuyerEmail != next.BuyerEmail ||
		prev.Currency != next.Currency || prev.TotalAmount != next.TotalAmount ||
		prev.Provider != next.Provider || !prev.CreatedAt.Equal(next.CreatedAt) {
		return ErrImmutableField
	}
	if len(prev.Items) != len(next.Items) {
		return ErrImmutableField
	}
	for i := range prev.Items {
		if prev.Items[i] != next.Items[i] {
			return ErrImmutableField
		}
	}
	if prev.PaymentReference != "" && prev.PaymentReference != next.PaymentReference {
		return fmt.Errorf("%w: payment reference", ErrImmutableField)
	}
	if next.UpdatedAt.Before(prev.UpdatedAt) {
		return fmt.Errorf("%w: updatedAt moved backwards", ErrInvalidTransition)
	}
	return nil
}

// Advance derives the successor of cur in status to: payment view synced,
// UpdatedAt touched, then mutate applied. The result is checked with
// CheckTransition so every store shares one rule set.
func Advance(cur *Order, to Status, now time.Time, mutate func(*Order) error) (*Order, error) {
	next := cur.Clone()
	next.Status = to
	next.Payment.Status = PaymentStatusFor(to)
	next.Touch(now)
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	if err := CheckTransition(cur, next); err != nil {
		return nil, err
	}
	return next, nil
}
