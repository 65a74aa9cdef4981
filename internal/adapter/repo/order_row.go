package repo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
)

const orderColumns = `id,buyer_id,buyer_email,items_json,currency,total_amount,provider,payment_reference,
status,payment_status,payment_action_url,payment_failure_reason,created_at,updated_at`

// scanOrder maps one orders row; scan is sql.Row.Scan or pgx.Row.Scan.
func scanOrder(scan func(dest ...any) error) (*domain.Order, error) {
	var (
		o                       domain.Order
		items                   []byte
		ref, action, failReason sql.NullString
		status, paymentStatus   string
		createdAt, updatedAt    time.Time
	)
	if err := scan(&o.ID, &o.BuyerID, &o.BuyerEmail, &items, &o.Currency, &o.TotalAmount, &o.Provider, &ref,
		&status, &paymentStatus, &action, &failReason, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	o.PaymentReference = ref.String
	o.Status = domain.Status(status)
	o.Payment = domain.Payment{
		Status:        domain.PaymentStatus(paymentStatus),
		ActionURL:     action.String,
		FailureReason: failReason.String,
	}
	o.CreatedAt, o.UpdatedAt = createdAt.UTC(), updatedAt.UTC()
	return &o, nil
}

// orderArgs returns the insert arguments in orderColumns order.
func orderArgs(o *domain.Order) ([]any, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, err
	}
	return []any{o.ID, o.BuyerID, o.BuyerEmail, items, o.Currency, o.TotalAmount, o.Provider,
		nullable(o.PaymentReference), string(o.Status), string(o.Payment.Status),
		nullable(o.Payment.ActionURL), nullable(o.Payment.FailureReason), o.CreatedAt, o.UpdatedAt}, nil
}

// nullable keeps the payment_reference unique index happy: many orders may
// have no reference yet.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
