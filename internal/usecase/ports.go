package usecase

import (
	"context"
	"net/http"
	"time"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
)

// OrderStore is the only shared mutable resource. CompareAndTransition is the
// sole mutation path after Create and must be a single atomic conditional
// write keyed on expected matching the stored status.
type OrderStore interface {
	Create(ctx context.Context, o *domain.Order) (string, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error)
	CompareAndTransition(ctx context.Context, id string, expected, next domain.Status, mutate func(*domain.Order) error) (*domain.Order, error)
}

type AuditKind string

const (
	AuditTransition       AuditKind = "transition"
	AuditDuplicateIgnored AuditKind = "duplicate_ignored"
	AuditOrphaned         AuditKind = "orphaned"
	AuditPendingObserved  AuditKind = "pending_observed"
	AuditDeferred         AuditKind = "deferred"
	AuditInitiationFailed AuditKind = "initiation_failed"
	AuditStaleState       AuditKind = "stale_state"
)

// AuditEntry is one append-only record. Every orchestrator decision produces
// exactly one.
type AuditEntry struct {
	ID               string
	Kind             AuditKind
	OrderID          string
	PaymentReference string
	Provider         string
	FromStatus       domain.Status
	ToStatus         domain.Status
	IdempotencyKey   string
	AmountObserved   *int64
	AmountMismatch   bool
	WithinTolerance  bool
	Reason           string
	Payload          []byte
	At               time.Time
}

type AuditSink interface {
	Record(ctx context.Context, e AuditEntry) error
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	Release(ctx context.Context, scope, key string) error
}

type InitiateRequest struct {
	OrderID    string
	Reference  string
	Amount     int64 // minor units
	Currency   string
	BuyerEmail string
}

type InitiateResult struct {
	ProviderReference string
	ActionURL         string
}

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomePending  Outcome = "pending"
	OutcomeRefunded Outcome = "refunded"
)

// NormalizedEvent is a provider callback translated into the canonical shape.
type NormalizedEvent struct {
	Provider          string
	ProviderReference string
	Outcome           Outcome
	AmountObserved    *int64 // minor units
	IdempotencyKey    string
	Reason            string
}

// PaymentGateway is implemented once per provider. Errors returned must
// already be translated into this package's taxonomy.
type PaymentGateway interface {
	ID() string
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	NormalizeWebhook(body []byte, headers http.Header) (NormalizedEvent, error)
}

// TimedNormalizer is implemented by gateways whose verification depends on
// when the callback arrived, such as signed timestamps.
type TimedNormalizer interface {
	NormalizeWebhookAt(body []byte, headers http.Header, receivedAt time.Time) (NormalizedEvent, error)
}

type ProviderRegistry interface {
	Resolve(providerID string) (PaymentGateway, error)
}

// StatusChangedMsg is published after every applied transition.
type StatusChangedMsg struct {
	OrderID          string    `json:"orderId"`
	BuyerID          string    `json:"buyerId"`
	Provider         string    `json:"provider"`
	PaymentReference string    `json:"paymentReference"`
	From             string    `json:"from"`
	To               string    `json:"to"`
	AmountMinor      int64     `json:"amountMinor"`
	Currency         string    `json:"currency"`
	At               time.Time `json:"at"`
}

type StatusPublisher interface {
	PublishStatusChanged(ctx context.Context, msg StatusChangedMsg) error
}

type OrderCache interface {
	SetStatus(ctx context.Context, orderID string, status string) error
	GetStatus(ctx context.Context, orderID string) (string, bool, error)
}

type Metrics interface {
	ObserveInitiate(provider, outcome string, d time.Duration)
	ObserveTransition(provider string, from, to domain.Status)
	ObserveWebhook(provider, result string)
	ObserveAmountMismatch(provider string, withinTolerance bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveInitiate(string, string, time.Duration)          {}
func (nopMetrics) ObserveTransition(string, domain.Status, domain.Status) {}
func (nopMetrics) ObserveWebhook(string, string)                          {}
func (nopMetrics) ObserveAmountMismatch(string, bool)                     {}
