package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/security"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// signatureTolerance bounds how old a signed cardGlobal webhook may be.
const signatureTolerance = 5 * time.Minute

// CardGlobalGateway speaks a Stripe-style API: form-encoded Checkout Sessions
// and timestamped HMAC-SHA256 webhook signatures.
type CardGlobalGateway struct {
	s Settings
}

func NewCardGlobal(s Settings) *CardGlobalGateway {
	return &CardGlobalGateway{s: s.withDefaults()}
}

func (g *CardGlobalGateway) ID() string { return CardGlobal }

type cgSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (g *CardGlobalGateway) Initiate(ctx context.Context, req usecase.InitiateRequest) (usecase.InitiateResult, error) {
	if req.Amount <= 0 {
		return usecase.InitiateResult{}, usecase.Reject(CardGlobal, "amount must be positive")
	}
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.Reference)
	form.Set("customer_email", req.BuyerEmail)
	if g.s.ReturnURL != "" {
		form.Set("success_url", g.s.ReturnURL)
		form.Set("cancel_url", g.s.ReturnURL)
	}
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", "Order "+req.OrderID)
	form.Set("metadata[reference]", req.Reference)
	form.Set("metadata[order_id]", req.OrderID)
	// Charges and refunds carry the reference too.
	form.Set("payment_intent_data[metadata][reference]", req.Reference)

	var out cgSession
	err := postForm(ctx, g.s, CardGlobal, "/v1/checkout/sessions",
		map[string]string{"Authorization": "Bearer " + g.s.SecretKey}, form, &out)
	if err != nil {
		return usecase.InitiateResult{}, err
	}
	if out.URL == "" {
		return usecase.InitiateResult{}, usecase.Unavailable(CardGlobal, errMissing("url"))
	}
	return usecase.InitiateResult{ProviderReference: req.Reference, ActionURL: out.URL}, nil
}

type cgEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ClientReferenceID string            `json:"client_reference_id"`
			PaymentStatus     string            `json:"payment_status"`
			AmountTotal       *int64            `json:"amount_total"`
			AmountRefunded    *int64            `json:"amount_refunded"`
			Metadata          map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// verifySignature checks a "t=<unix>,v1=<hex>" header against body.
func (g *CardGlobalGateway) verifySignature(body []byte, header string, at time.Time) error {
	if header == "" {
		return unauthenticated(CardGlobal, "missing signature")
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || len(sigs) == 0 {
		return unauthenticated(CardGlobal, "malformed signature header")
	}
	age := at.Sub(time.Unix(sec, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return unauthenticated(CardGlobal, "signature timestamp outside tolerance")
	}

	signed := make([]byte, 0, len(ts)+1+len(body))
	signed = append(signed, ts...)
	signed = append(signed, '.')
	signed = append(signed, body...)
	want := security.HMACSHA256Hex(g.s.WebhookSecret, signed)
	for _, s := range sigs {
		if security.EqualHex(want, s) {
			return nil
		}
	}
	return unauthenticated(CardGlobal, "signature mismatch")
}

func (g *CardGlobalGateway) NormalizeWebhook(body []byte, headers http.Header) (usecase.NormalizedEvent, error) {
	return g.NormalizeWebhookAt(body, headers, g.s.Now())
}

// NormalizeWebhookAt checks the signature timestamp against receivedAt
// instead of the clock, for callbacks replayed after capture.
func (g *CardGlobalGateway) NormalizeWebhookAt(body []byte, headers http.Header, receivedAt time.Time) (usecase.NormalizedEvent, error) {
	if err := g.verifySignature(body, headers.Get("Stripe-Signature"), receivedAt); err != nil {
		return usecase.NormalizedEvent{}, err
	}

	var ev cgEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return usecase.NormalizedEvent{}, malformed(CardGlobal, err.Error())
	}
	obj := ev.Data.Object

	out := usecase.NormalizedEvent{Provider: CardGlobal, IdempotencyKey: ev.ID}
	switch ev.Type {
	case "checkout.session.completed":
		out.Outcome = usecase.OutcomePending
		if obj.PaymentStatus == "paid" {
			out.Outcome = usecase.OutcomeSuccess
		}
		out.AmountObserved = obj.AmountTotal
	case "checkout.session.async_payment_succeeded":
		out.Outcome = usecase.OutcomeSuccess
		out.AmountObserved = obj.AmountTotal
	case "checkout.session.async_payment_failed":
		out.Outcome = usecase.OutcomeFailed
		out.Reason = "payment failed"
	case "checkout.session.expired":
		out.Outcome = usecase.OutcomeFailed
		out.Reason = "checkout session expired"
	case "charge.refunded":
		out.Outcome = usecase.OutcomeRefunded
		out.AmountObserved = obj.AmountRefunded
	default:
		return usecase.NormalizedEvent{}, unsupported(CardGlobal, ev.Type)
	}

	out.ProviderReference = obj.ClientReferenceID
	if out.ProviderReference == "" {
		out.ProviderReference = obj.Metadata["reference"]
	}
	if out.ProviderReference == "" || ev.ID == "" {
		return usecase.NormalizedEvent{}, malformed(CardGlobal, "missing event id or reference")
	}
	return out, nil
}

var (
	_ usecase.PaymentGateway  = (*CardGlobalGateway)(nil)
	_ usecase.TimedNormalizer = (*CardGlobalGateway)(nil)
)
