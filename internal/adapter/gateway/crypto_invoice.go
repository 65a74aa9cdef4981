package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/security"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// CryptoInvoiceGateway speaks a NOWPayments-style API: fiat-priced invoices
// settled in crypto, IPNs signed over the key-sorted JSON body.
type CryptoInvoiceGateway struct {
	s Settings
}

func NewCryptoInvoice(s Settings) *CryptoInvoiceGateway {
	return &CryptoInvoiceGateway{s: s.withDefaults()}
}

func (g *CryptoInvoiceGateway) ID() string { return CryptoInvoice }

type cinInvoiceRequest struct {
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description"`
	IPNCallbackURL   string      `json:"ipn_callback_url,omitempty"`
	SuccessURL       string      `json:"success_url,omitempty"`
}

type cinInvoiceResponse struct {
	ID         json.Number `json:"id"`
	InvoiceURL string      `json:"invoice_url"`
}

func (g *CryptoInvoiceGateway) Initiate(ctx context.Context, req usecase.InitiateRequest) (usecase.InitiateResult, error) {
	if req.Amount <= 0 {
		return usecase.InitiateResult{}, usecase.Reject(CryptoInvoice, "amount must be positive")
	}
	var out cinInvoiceResponse
	err := postJSON(ctx, g.s, CryptoInvoice, "/v1/invoice",
		map[string]string{"x-api-key": g.s.SecretKey},
		cinInvoiceRequest{
			PriceAmount:      json.Number(domain.ToMajor(req.Amount, req.Currency).String()),
			PriceCurrency:    strings.ToLower(req.Currency),
			OrderID:          req.Reference,
			OrderDescription: "Order " + req.OrderID,
			IPNCallbackURL:   g.s.CallbackURL,
			SuccessURL:       g.s.ReturnURL,
		}, &out)
	if err != nil {
		return usecase.InitiateResult{}, err
	}
	if out.InvoiceURL == "" {
		return usecase.InitiateResult{}, usecase.Unavailable(CryptoInvoice, errMissing("invoice_url"))
	}
	return usecase.InitiateResult{ProviderReference: req.Reference, ActionURL: out.InvoiceURL}, nil
}

type cinIPN struct {
	PaymentID          json.Number  `json:"payment_id"`
	PaymentStatus      string       `json:"payment_status"`
	OrderID            string       `json:"order_id"`
	PriceCurrency      string       `json:"price_currency"`
	ActuallyPaidAtFiat *json.Number `json:"actually_paid_at_fiat"`
}

// sortedJSON re-encodes body with object keys sorted at every level and no
// HTML escaping, which is the byte string the IPN signature covers.
func sortedJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (g *CryptoInvoiceGateway) NormalizeWebhook(body []byte, headers http.Header) (usecase.NormalizedEvent, error) {
	sig := headers.Get("x-nowpayments-sig")
	if sig == "" {
		return usecase.NormalizedEvent{}, unauthenticated(CryptoInvoice, "missing signature")
	}
	canonical, err := sortedJSON(body)
	if err != nil {
		return usecase.NormalizedEvent{}, malformed(CryptoInvoice, err.Error())
	}
	if !security.EqualHex(security.HMACSHA512Hex(g.s.WebhookSecret, canonical), sig) {
		return usecase.NormalizedEvent{}, unauthenticated(CryptoInvoice, "signature mismatch")
	}

	var ipn cinIPN
	if err := json.Unmarshal(body, &ipn); err != nil {
		return usecase.NormalizedEvent{}, malformed(CryptoInvoice, err.Error())
	}
	if ipn.OrderID == "" || ipn.PaymentID == "" || ipn.PaymentStatus == "" {
		return usecase.NormalizedEvent{}, malformed(CryptoInvoice, "missing order_id, payment_id or payment_status")
	}

	out := usecase.NormalizedEvent{
		Provider:          CryptoInvoice,
		ProviderReference: ipn.OrderID,
		IdempotencyKey:    fmt.Sprintf("cin:%s:%s", ipn.PaymentID, ipn.PaymentStatus),
	}
	switch ipn.PaymentStatus {
	case "finished":
		out.Outcome = usecase.OutcomeSuccess
	case "failed", "expired":
		out.Outcome = usecase.OutcomeFailed
		out.Reason = "invoice " + ipn.PaymentStatus
	case "refunded":
		out.Outcome = usecase.OutcomeRefunded
	default:
		// waiting, confirming, confirmed, sending, partially_paid
		out.Outcome = usecase.OutcomePending
	}

	// The fiat equivalent is an exchange-rate estimate; only an exact minor
	// amount is reported.
	if ipn.ActuallyPaidAtFiat != nil {
		if major, err := decimal.NewFromString(ipn.ActuallyPaidAtFiat.String()); err == nil && major.IsPositive() {
			if minor, err := domain.ToMinor(major, strings.ToUpper(ipn.PriceCurrency)); err == nil {
				out.AmountObserved = &minor
			}
		}
	}
	return out, nil
}

var _ usecase.PaymentGateway = (*CryptoInvoiceGateway)(nil)
