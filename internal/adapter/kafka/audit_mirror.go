package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// auditRecord is the mirrored form of an audit entry. Raw payloads stay in
// the durable store.
type auditRecord struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"`
	OrderID          string    `json:"orderId,omitempty"`
	PaymentReference string    `json:"paymentReference,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	FromStatus       string    `json:"fromStatus,omitempty"`
	ToStatus         string    `json:"toStatus,omitempty"`
	IdempotencyKey   string    `json:"idempotencyKey,omitempty"`
	AmountObserved   *int64    `json:"amountObserved,omitempty"`
	AmountMismatch   bool      `json:"amountMismatch"`
	WithinTolerance  bool      `json:"withinTolerance"`
	Reason           string    `json:"reason,omitempty"`
	PayloadBytes     int       `json:"payloadBytes"`
	At               time.Time `json:"at"`
}

// AuditMirror writes to the durable sink first, then copies the entry to a
// Kafka topic keyed by order id. Mirror failures are logged, never returned.
type AuditMirror struct {
	next     usecase.AuditSink
	producer sarama.SyncProducer
	topic    string
}

func NewAuditMirror(next usecase.AuditSink, producer sarama.SyncProducer, topic string) *AuditMirror {
	return &AuditMirror{next: next, producer: producer, topic: topic}
}

func (m *AuditMirror) Record(ctx context.Context, e usecase.AuditEntry) error {
	if err := m.next.Record(ctx, e); err != nil {
		return err
	}
	if err := m.publish(e); err != nil {
		logging.FromCtx(ctx).Warn("audit mirror failed", "err", err, "audit_id", e.ID, "kind", e.Kind)
	}
	return nil
}

func (m *AuditMirror) publish(e usecase.AuditEntry) error {
	body, err := json.Marshal(auditRecord{
		ID:               e.ID,
		Kind:             string(e.Kind),
		OrderID:          e.OrderID,
		PaymentReference: e.PaymentReference,
		Provider:         e.Provider,
		FromStatus:       string(e.FromStatus),
		ToStatus:         string(e.ToStatus),
		IdempotencyKey:   e.IdempotencyKey,
		AmountObserved:   e.AmountObserved,
		AmountMismatch:   e.AmountMismatch,
		WithinTolerance:  e.WithinTolerance,
		Reason:           e.Reason,
		PayloadBytes:     len(e.Payload),
		At:               e.At,
	})
	if err != nil {
		return fmt.Errorf("marshal audit: %w", err)
	}
	key := e.OrderID
	if key == "" {
		key = e.PaymentReference
	}
	_, _, err = m.producer.SendMessage(&sarama.ProducerMessage{
		Topic: m.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	})
	return err
}

var _ usecase.AuditSink = (*AuditMirror)(nil)
