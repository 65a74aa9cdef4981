package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/security"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// CardBankTransferGateway speaks a Paystack-style API: amounts in minor units,
// webhooks signed with HMAC-SHA512 of the raw body.
type CardBankTransferGateway struct {
	s Settings
}

func NewCardBankTransfer(s Settings) *CardBankTransferGateway {
	return &CardBankTransferGateway{s: s.withDefaults()}
}

func (g *CardBankTransferGateway) ID() string { return CardBankTransfer }

type cbtInitRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

type cbtInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (g *CardBankTransferGateway) Initiate(ctx context.Context, req usecase.InitiateRequest) (usecase.InitiateResult, error) {
	if req.Amount <= 0 {
		return usecase.InitiateResult{}, usecase.Reject(CardBankTransfer, "amount must be positive")
	}
	var out cbtInitResponse
	err := postJSON(ctx, g.s, CardBankTransfer, "/transaction/initialize",
		map[string]string{"Authorization": "Bearer " + g.s.SecretKey},
		cbtInitRequest{
			Email:       req.BuyerEmail,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Reference:   req.Reference,
			CallbackURL: g.s.ReturnURL,
			Metadata:    map[string]string{"order_id": req.OrderID},
		}, &out)
	if err != nil {
		return usecase.InitiateResult{}, err
	}
	if !out.Status {
		return usecase.InitiateResult{}, usecase.Reject(CardBankTransfer, "payment request refused")
	}
	if out.Data.AuthorizationURL == "" {
		return usecase.InitiateResult{}, usecase.Unavailable(CardBankTransfer, errMissing("authorization_url"))
	}
	ref := out.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return usecase.InitiateResult{ProviderReference: ref, ActionURL: out.Data.AuthorizationURL}, nil
}

type cbtEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID                   json.Number `json:"id"`
		Reference            string      `json:"reference"`
		TransactionReference string      `json:"transaction_reference"`
		Amount               *int64      `json:"amount"`
		GatewayResponse      string      `json:"gateway_response"`
	} `json:"data"`
}

func (g *CardBankTransferGateway) NormalizeWebhook(body []byte, headers http.Header) (usecase.NormalizedEvent, error) {
	sig := headers.Get("x-paystack-signature")
	if sig == "" {
		return usecase.NormalizedEvent{}, unauthenticated(CardBankTransfer, "missing signature")
	}
	if !security.EqualHex(security.HMACSHA512Hex(g.s.WebhookSecret, body), sig) {
		return usecase.NormalizedEvent{}, unauthenticated(CardBankTransfer, "signature mismatch")
	}

	var ev cbtEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return usecase.NormalizedEvent{}, malformed(CardBankTransfer, err.Error())
	}

	out := usecase.NormalizedEvent{Provider: CardBankTransfer, AmountObserved: ev.Data.Amount}
	switch ev.Event {
	case "charge.success":
		out.Outcome = usecase.OutcomeSuccess
		out.ProviderReference = ev.Data.Reference
	case "charge.failed":
		out.Outcome = usecase.OutcomeFailed
		out.ProviderReference = ev.Data.Reference
		out.Reason = declineReason(ev.Data.GatewayResponse)
	case "refund.processed":
		out.Outcome = usecase.OutcomeRefunded
		out.ProviderReference = ev.Data.TransactionReference
		if out.ProviderReference == "" {
			out.ProviderReference = ev.Data.Reference
		}
	default:
		return usecase.NormalizedEvent{}, unsupported(CardBankTransfer, ev.Event)
	}

	if out.ProviderReference == "" || ev.Data.ID == "" {
		return usecase.NormalizedEvent{}, malformed(CardBankTransfer, "missing data.reference or data.id")
	}
	out.IdempotencyKey = "cbt:" + ev.Event + ":" + ev.Data.ID.String()
	return out, nil
}

var _ usecase.PaymentGateway = (*CardBankTransferGateway)(nil)
