package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/configs"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/cache"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/gateway"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/http/middleware"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/repo"
	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/security"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

type checkoutFunc func(ctx context.Context, in usecase.CheckoutInput) (usecase.CheckoutOutput, error)

func (f checkoutFunc) Execute(ctx context.Context, in usecase.CheckoutInput) (usecase.CheckoutOutput, error) {
	return f(ctx, in)
}

type initiateFunc func(ctx context.Context, id string) (usecase.InitiateOutput, error)

func (f initiateFunc) Initiate(ctx context.Context, id string) (usecase.InitiateOutput, error) {
	return f(ctx, id)
}

type reconcileFunc func(ctx context.Context, in usecase.WebhookInput) (usecase.WebhookOutput, error)

func (f reconcileFunc) Execute(ctx context.Context, in usecase.WebhookInput) (usecase.WebhookOutput, error) {
	return f(ctx, in)
}

func noAuth() *middleware.Authz { return middleware.NewAuthz(configs.Config{}) }

func newEngine(oh *OrderHandler, wh *WebhookHandler, authz *middleware.Authz) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if oh == nil {
		oh = NewOrderHandler(nil, nil, repo.NewMemoryOrderRepo(), nil, time.Second)
	}
	if wh == nil {
		wh = NewWebhookHandler(reconcileFunc(func(context.Context, usecase.WebhookInput) (usecase.WebhookOutput, error) {
			return usecase.WebhookOutput{}, nil
		}))
	}
	return NewRouter(oh, wh, authz)
}

func do(r http.Handler, method, path string, body []byte, hdr http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

const checkoutBody = `{"paymentMethod":"cardGlobal","orderDraft":{"buyerId":"b-1","buyerEmail":"b@example.com","currency":"usd","items":[{"productId":"p1","quantity":2,"unitPrice":1500}]}}`

func TestHealthz(t *testing.T) {
	w := do(newEngine(nil, nil, noAuth()), http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestMetrics_UnmatchedRoutesShareOneSeries(t *testing.T) {
	r := newEngine(nil, nil, noAuth())
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/does-not-exist/123", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/does-not-exist/456", nil, nil).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", nil, nil).Code)

	w := do(r, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="unmatched",status="404"}`)
	assert.Contains(t, body, `http_requests_total{method="GET",path="/healthz",status="200"}`)
	assert.NotContains(t, body, "does-not-exist")
}

func TestCheckout_Accepted(t *testing.T) {
	var got usecase.CheckoutInput
	oh := NewOrderHandler(checkoutFunc(func(_ context.Context, in usecase.CheckoutInput) (usecase.CheckoutOutput, error) {
		got = in
		return usecase.CheckoutOutput{
			OrderID: "o-1", Status: domain.StatusPaymentPending, Provider: "cardGlobal",
			PaymentReference: "AM-1", RedirectURL: "https://pay.example/s/1", TotalAmount: 3000, Currency: "USD",
		}, nil
	}), nil, repo.NewMemoryOrderRepo(), nil, time.Second)

	w := do(newEngine(oh, nil, noAuth()), http.MethodPost, "/v1/checkout", []byte(checkoutBody),
		http.Header{"X-Idempotency-Key": {"k-1"}})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	m := decode(t, w)
	assert.Equal(t, "o-1", m["orderId"])
	assert.Equal(t, "https://pay.example/s/1", m["redirectUrl"])
	assert.Equal(t, "payment_pending", m["status"])

	assert.Equal(t, "b-1", got.BuyerID)
	assert.Equal(t, "cardGlobal", got.PaymentMethod)
	assert.Equal(t, "k-1", got.IdempotencyKey)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(1500), got.Items[0].UnitPrice)
}

func TestCheckout_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		out    usecase.CheckoutOutput
		status int
		check  func(t *testing.T, m map[string]any)
	}{
		{"gateway down", usecase.Unavailable("cardGlobal", context.DeadlineExceeded),
			usecase.CheckoutOutput{OrderID: "o-2", Status: domain.StatusCreated}, http.StatusServiceUnavailable,
			func(t *testing.T, m map[string]any) {
				assert.Equal(t, "o-2", m["orderId"])
				assert.Equal(t, true, m["retryable"])
			}},
		{"rejected", usecase.Reject("cardGlobal", "card declined"),
			usecase.CheckoutOutput{OrderID: "o-3", Status: domain.StatusPaymentFailed}, http.StatusPaymentRequired,
			func(t *testing.T, m map[string]any) {
				assert.Equal(t, "card declined", m["reason"])
				assert.Nil(t, m["retryable"])
			}},
		{"unknown provider", usecase.ErrUnknownProvider, usecase.CheckoutOutput{}, http.StatusBadRequest, nil},
		{"invalid amount", domain.ErrInvalidAmount, usecase.CheckoutOutput{}, http.StatusBadRequest, nil},
		{"in flight", usecase.ErrDuplicate, usecase.CheckoutOutput{}, http.StatusConflict, nil},
		{"store down", usecase.ErrStoreUnavailable, usecase.CheckoutOutput{}, http.StatusServiceUnavailable, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			oh := NewOrderHandler(checkoutFunc(func(context.Context, usecase.CheckoutInput) (usecase.CheckoutOutput, error) {
				return tc.out, tc.err
			}), nil, repo.NewMemoryOrderRepo(), nil, time.Second)
			w := do(newEngine(oh, nil, noAuth()), http.MethodPost, "/v1/checkout", []byte(checkoutBody), nil)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.check != nil {
				tc.check(t, decode(t, w))
			}
		})
	}
}

func TestCheckout_BindingFailure(t *testing.T) {
	called := false
	oh := NewOrderHandler(checkoutFunc(func(context.Context, usecase.CheckoutInput) (usecase.CheckoutOutput, error) {
		called = true
		return usecase.CheckoutOutput{}, nil
	}), nil, repo.NewMemoryOrderRepo(), nil, time.Second)
	r := newEngine(oh, nil, noAuth())

	for _, body := range []string{
		`{}`,
		`{"paymentMethod":"cardGlobal","orderDraft":{"buyerEmail":"b@example.com","currency":"USD","items":[]}}`,
		`{"paymentMethod":"cardGlobal","orderDraft":{"buyerEmail":"b@example.com","currency":"USD","items":[{"productId":"p","quantity":0,"unitPrice":1}]}}`,
	} {
		w := do(r, http.MethodPost, "/v1/checkout", []byte(body), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.False(t, called)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestCheckout_JWT(t *testing.T) {
	var cfg configs.Config
	cfg.Security.JWTSecret = "s3cret"
	cfg.Security.Issuer = "marketplace"
	cfg.Security.Audience = "payments"
	authz := middleware.NewAuthz(cfg)

	var buyer string
	oh := NewOrderHandler(checkoutFunc(func(_ context.Context, in usecase.CheckoutInput) (usecase.CheckoutOutput, error) {
		buyer = in.BuyerID
		return usecase.CheckoutOutput{OrderID: "o-1", Status: domain.StatusPaymentPending}, nil
	}), nil, repo.NewMemoryOrderRepo(), nil, time.Second)
	r := newEngine(oh, nil, authz)

	w := do(r, http.MethodPost, "/v1/checkout", []byte(checkoutBody), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	claims := jwt.MapClaims{
		"iss": "marketplace", "aud": "payments", "sub": "b-1",
		"exp": time.Now().Add(time.Hour).Unix(), "perms": []string{"orders.read"},
	}
	w = do(r, http.MethodPost, "/v1/checkout", []byte(checkoutBody),
		http.Header{"Authorization": {"Bearer " + signToken(t, "s3cret", claims)}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	claims["perms"] = []string{"checkout.write"}
	w = do(r, http.MethodPost, "/v1/checkout", []byte(checkoutBody),
		http.Header{"Authorization": {"Bearer " + signToken(t, "s3cret", claims)}})
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "b-1", buyer)

	claims["sub"] = "someone-else"
	w = do(r, http.MethodPost, "/v1/checkout", []byte(checkoutBody),
		http.Header{"Authorization": {"Bearer " + signToken(t, "s3cret", claims)}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPost, "/v1/checkout", []byte(checkoutBody),
		http.Header{"Authorization": {"Bearer " + signToken(t, "other", claims)}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrderRoutes_JWTSubjectMustOwnOrder(t *testing.T) {
	var cfg configs.Config
	cfg.Security.JWTSecret = "s3cret"
	cfg.Security.Issuer = "marketplace"
	cfg.Security.Audience = "payments"

	store := repo.NewMemoryOrderRepo()
	now := time.Now().UTC()
	_, err := store.Create(context.Background(), &domain.Order{
		ID: "o-1", BuyerID: "b-1", BuyerEmail: "b@example.com", Provider: "cardGlobal",
		Items: []domain.Item{{ProductID: "p", Quantity: 1, UnitPrice: 100}}, TotalAmount: 100, Currency: "USD",
		Status: domain.StatusCreated, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	statuses := cache.NewMemoryStatusCache()
	require.NoError(t, statuses.SetStatus(context.Background(), "o-1", "payment_pending"))

	initiated := 0
	oh := NewOrderHandler(nil, initiateFunc(func(_ context.Context, id string) (usecase.InitiateOutput, error) {
		initiated++
		return usecase.InitiateOutput{Order: &domain.Order{ID: id, Status: domain.StatusPaymentPending}}, nil
	}), store, statuses, time.Second)
	r := newEngine(oh, nil, middleware.NewAuthz(cfg))

	bearer := func(sub string) http.Header {
		tok := signToken(t, "s3cret", jwt.MapClaims{
			"iss": "marketplace", "aud": "payments", "sub": sub,
			"exp": time.Now().Add(time.Hour).Unix(), "perms": []string{"orders.read", "checkout.write"},
		})
		return http.Header{"Authorization": {"Bearer " + tok}}
	}

	stranger := bearer("b-2")
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/orders/o-1", nil, stranger).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/orders/o-1?view=status", nil, stranger).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/v1/orders/o-1/payment", nil, stranger).Code)
	assert.Zero(t, initiated)

	owner := bearer("b-1")
	w := do(r, http.MethodGet, "/v1/orders/o-1", nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b-1", decode(t, w)["buyerId"])
	w = do(r, http.MethodGet, "/v1/orders/o-1?view=status", nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["cached"])
	w = do(r, http.MethodPost, "/v1/orders/o-1/payment", nil, owner)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, initiated)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/orders/missing", nil, owner).Code)
}

func TestRetryPayment(t *testing.T) {
	order := &domain.Order{ID: "o-7", Status: domain.StatusPaymentPending, Provider: "cardGlobal", PaymentReference: "AM-7", TotalAmount: 10, Currency: "USD"}
	oh := NewOrderHandler(nil, initiateFunc(func(_ context.Context, id string) (usecase.InitiateOutput, error) {
		switch id {
		case "o-7":
			return usecase.InitiateOutput{Order: order, RedirectURL: "https://pay.example/7"}, nil
		case "paid":
			return usecase.InitiateOutput{Order: &domain.Order{ID: "paid", Status: domain.StatusPaid}}, domain.ErrInvalidTransition
		default:
			return usecase.InitiateOutput{}, usecase.ErrNotFound
		}
	}), repo.NewMemoryOrderRepo(), nil, time.Second)
	r := newEngine(oh, nil, noAuth())

	w := do(r, http.MethodPost, "/v1/orders/o-7/payment", nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "https://pay.example/7", decode(t, w)["redirectUrl"])

	w = do(r, http.MethodPost, "/v1/orders/paid/payment", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "paid", decode(t, w)["status"])

	w = do(r, http.MethodPost, "/v1/orders/nope/payment", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrderByID_CacheAndStore(t *testing.T) {
	store := repo.NewMemoryOrderRepo()
	now := time.Now().UTC()
	_, err := store.Create(context.Background(), &domain.Order{
		ID: "o-1", BuyerID: "b-1", BuyerEmail: "b@example.com", Provider: "cardGlobal",
		Items: []domain.Item{{ProductID: "p", Quantity: 1, UnitPrice: 100}}, TotalAmount: 100, Currency: "USD",
		Status: domain.StatusCreated, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	statuses := cache.NewMemoryStatusCache()
	r := newEngine(NewOrderHandler(nil, nil, store, statuses, time.Second), nil, noAuth())

	w := do(r, http.MethodGet, "/v1/orders/o-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "created", decode(t, w)["status"])

	// a status event lands in the cache ahead of the store read
	require.NoError(t, statuses.SetStatus(context.Background(), "o-1", "paid"))
	w = do(r, http.MethodGet, "/v1/orders/o-1?view=status", nil, nil)
	m := decode(t, w)
	assert.Equal(t, "paid", m["status"])
	assert.Equal(t, true, m["cached"])

	w = do(r, http.MethodGet, "/v1/orders/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{usecase.ErrUnsupportedEvent, http.StatusOK},
		{usecase.ErrUnknownProvider, http.StatusNotFound},
		{usecase.ErrMalformedPayload, http.StatusBadRequest},
		{usecase.ErrUnauthenticatedPayload, http.StatusUnauthorized},
		{usecase.ErrOutOfOrder, http.StatusConflict},
		{usecase.ErrInFlight, http.StatusConflict},
		{usecase.ErrStoreUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		name := "ok"
		if tc.err != nil {
			name = tc.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			wh := NewWebhookHandler(reconcileFunc(func(context.Context, usecase.WebhookInput) (usecase.WebhookOutput, error) {
				return usecase.WebhookOutput{Disposition: usecase.DispositionOrphaned}, tc.err
			}))
			w := do(newEngine(nil, wh, noAuth()), http.MethodPost, "/v1/webhooks/cardGlobal", []byte(`{}`), nil)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, true, decode(t, w)["ok"])
			}
		})
	}
}

func TestWebhook_PassesExactBytes(t *testing.T) {
	body := []byte("{ \"password\" : \"x\",\n  \"n\": 1 }")
	var got usecase.WebhookInput
	wh := NewWebhookHandler(reconcileFunc(func(_ context.Context, in usecase.WebhookInput) (usecase.WebhookOutput, error) {
		got = in
		return usecase.WebhookOutput{Disposition: usecase.DispositionTransitioned, OrderID: "o-1"}, nil
	}))
	w := do(newEngine(nil, wh, noAuth()), http.MethodPost, "/v1/webhooks/mobileMoneyCard", body,
		http.Header{"Verif-Hash": {"abc"}})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, got.Body)
	assert.Equal(t, "mobileMoneyCard", got.Provider)
	assert.Equal(t, "abc", got.Headers.Get("Verif-Hash"))
	assert.Equal(t, "o-1", decode(t, w)["orderId"])
}

func TestWebhook_TooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("a"), webhookBodyLimit+1)
	w := do(newEngine(nil, nil, noAuth()), http.MethodPost, "/v1/webhooks/cardGlobal", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// End to end through the real cardGlobal adapter and orchestrator.
func TestWebhook_SettlesOrderAndIgnoresRedelivery(t *testing.T) {
	store := repo.NewMemoryOrderRepo()
	audit := repo.NewMemoryAuditRepo()
	now := time.Now().UTC()
	_, err := store.Create(context.Background(), &domain.Order{
		ID: "o-1", BuyerID: "b-1", BuyerEmail: "b@example.com", Provider: gateway.CardGlobal,
		Items: []domain.Item{{ProductID: "p", Quantity: 1, UnitPrice: 5000}}, TotalAmount: 5000, Currency: "USD",
		PaymentReference: "AM-e2e", Status: domain.StatusPaymentPending, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	reg := gateway.NewRegistryOf(gateway.NewCardGlobal(gateway.Settings{WebhookSecret: "whsec"}))
	orch := usecase.NewOrchestrator(store, reg, audit)
	uc := usecase.NewReconcileWebhook(reg, orch, cache.NewMemoryIdempotencyStore(time.Hour), nil, time.Second)
	r := newEngine(nil, NewWebhookHandler(uc), noAuth())

	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"client_reference_id":"AM-e2e","payment_status":"paid","amount_total":5000}}}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	hdr := http.Header{"Stripe-Signature": {"t=" + ts + ",v1=" + security.HMACSHA256Hex("whsec", []byte(ts+"."+string(body)))}}

	w := do(r, http.MethodPost, "/v1/webhooks/cardGlobal", body, hdr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "transitioned", decode(t, w)["disposition"])

	w = do(r, http.MethodPost, "/v1/webhooks/cardGlobal", body, hdr)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate_ignored", decode(t, w)["disposition"])

	o, err := store.GetByID(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, o.Status)
	assert.Equal(t, 1, audit.Count(usecase.AuditTransition, "o-1"))
	assert.Equal(t, 1, audit.Count(usecase.AuditDuplicateIgnored, "o-1"))

	w = do(r, http.MethodPost, "/v1/webhooks/cardGlobal", body, http.Header{"Stripe-Signature": {"t=" + ts + ",v1=00"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/v1/webhooks/nope", body, hdr)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
