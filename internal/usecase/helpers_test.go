package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/gateway"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/repo"
	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

const provider = "cardBankTransfer"

// fakeGateway is a scriptable PaymentGateway. Webhook bodies are
// {"ref","outcome","amount","key"} and must carry X-Test-Sig: ok.
type fakeGateway struct {
	id string

	mu      sync.Mutex
	calls   int
	initErr error
	refs    []string
}

func (f *fakeGateway) ID() string { return f.id }

func (f *fakeGateway) Initiate(_ context.Context, req usecase.InitiateRequest) (usecase.InitiateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.refs = append(f.refs, req.Reference)
	if f.initErr != nil {
		return usecase.InitiateResult{}, f.initErr
	}
	return usecase.InitiateResult{ProviderReference: req.Reference, ActionURL: "https://pay.test/" + req.Reference}, nil
}

func (f *fakeGateway) failWith(err error) {
	f.mu.Lock()
	f.initErr = err
	f.mu.Unlock()
}

func (f *fakeGateway) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBody struct {
	Ref     string `json:"ref"`
	Outcome string `json:"outcome"`
	Amount  *int64 `json:"amount,omitempty"`
	Key     string `json:"key"`
}

func (f *fakeGateway) NormalizeWebhook(body []byte, h http.Header) (usecase.NormalizedEvent, error) {
	if h.Get("X-Test-Sig") != "ok" {
		return usecase.NormalizedEvent{}, usecase.ErrUnauthenticatedPayload
	}
	var b fakeBody
	if err := json.Unmarshal(body, &b); err != nil {
		return usecase.NormalizedEvent{}, usecase.ErrMalformedPayload
	}
	if b.Outcome == "ignored" {
		return usecase.NormalizedEvent{}, usecase.ErrUnsupportedEvent
	}
	return usecase.NormalizedEvent{
		ProviderReference: b.Ref, Outcome: usecase.Outcome(b.Outcome), AmountObserved: b.Amount, IdempotencyKey: b.Key,
	}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []usecase.StatusChangedMsg
	err  error
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, m usecase.StatusChangedMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return p.err
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, usecase.AuditEntry) error { return errors.New("audit down") }

type harness struct {
	store *repo.MemoryOrderRepo
	audit *repo.MemoryAuditRepo
	gw    *fakeGateway
	other *fakeGateway
	orch  *usecase.Orchestrator
	reg   *gateway.Registry
	pub   *recordingPublisher
}

func newHarness(t *testing.T, opts ...usecase.OrchestratorOption) *harness {
	t.Helper()
	h := &harness{
		store: repo.NewMemoryOrderRepo(),
		audit: repo.NewMemoryAuditRepo(),
		gw:    &fakeGateway{id: provider},
		other: &fakeGateway{id: "cardGlobal"},
		pub:   &recordingPublisher{},
	}
	h.reg = gateway.NewRegistryOf(h.gw, h.other)
	opts = append([]usecase.OrchestratorOption{usecase.WithPublisher(h.pub)}, opts...)
	h.orch = usecase.NewOrchestrator(h.store, h.reg, h.audit, opts...)
	return h
}

// seed stores a created order of totalAmount 500000 NGN.
func (h *harness) seed(t *testing.T, id string) *domain.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &domain.Order{
		ID: id, BuyerID: "buyer-1", BuyerEmail: "buyer@example.com",
		Items:    []domain.Item{{ProductID: "p1", Quantity: 2, UnitPrice: 150000}, {ProductID: "p2", Quantity: 1, UnitPrice: 200000}},
		Currency: "NGN", TotalAmount: 500000, Provider: provider,
		Status: domain.StatusCreated, CreatedAt: now, UpdatedAt: now,
	}
	_, err := h.store.Create(context.Background(), o)
	require.NoError(t, err)
	return o
}

// pending seeds an order and initiates it with reference ref.
func (h *harness) pending(t *testing.T, id, ref string) *domain.Order {
	t.Helper()
	h.seed(t, id)
	orch := usecase.NewOrchestrator(h.store, h.reg, h.audit, usecase.WithReferenceFunc(func(string) string { return ref }))
	out, err := orch.Initiate(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaymentPending, out.Order.Status)
	return out.Order
}

func (h *harness) status(t *testing.T, id string) domain.Status {
	t.Helper()
	o, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func event(ref string, out usecase.Outcome, key string) usecase.NormalizedEvent {
	return usecase.NormalizedEvent{Provider: provider, ProviderReference: ref, Outcome: out, IdempotencyKey: key}
}

func amount(v int64) *int64 { return &v }

func webhook(t *testing.T, b fakeBody) usecase.WebhookInput {
	t.Helper()
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	hdr := http.Header{}
	hdr.Set("X-Test-Sig", "ok")
	return usecase.WebhookInput{Provider: provider, Body: raw, Headers: hdr}
}
