package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/security"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// MobileMoneyCardGateway speaks a Flutterwave-style API: amounts in major
// units, webhooks authenticated by a shared verif-hash header.
type MobileMoneyCardGateway struct {
	s Settings
}

func NewMobileMoneyCard(s Settings) *MobileMoneyCardGateway {
	return &MobileMoneyCardGateway{s: s.withDefaults()}
}

func (g *MobileMoneyCardGateway) ID() string { return MobileMoneyCard }

type mmcInitRequest struct {
	TxRef       string            `json:"tx_ref"`
	Amount      json.Number       `json:"amount"`
	Currency    string            `json:"currency"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Customer    mmcCustomer       `json:"customer"`
	Meta        map[string]string `json:"meta"`
}

type mmcCustomer struct {
	Email string `json:"email"`
}

type mmcInitResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

func (g *MobileMoneyCardGateway) Initiate(ctx context.Context, req usecase.InitiateRequest) (usecase.InitiateResult, error) {
	if req.Amount <= 0 {
		return usecase.InitiateResult{}, usecase.Reject(MobileMoneyCard, "amount must be positive")
	}
	var out mmcInitResponse
	err := postJSON(ctx, g.s, MobileMoneyCard, "/v3/payments",
		map[string]string{"Authorization": "Bearer " + g.s.SecretKey},
		mmcInitRequest{
			TxRef:       req.Reference,
			Amount:      json.Number(domain.ToMajor(req.Amount, req.Currency).String()),
			Currency:    req.Currency,
			RedirectURL: g.s.ReturnURL,
			Customer:    mmcCustomer{Email: req.BuyerEmail},
			Meta:        map[string]string{"order_id": req.OrderID},
		}, &out)
	if err != nil {
		return usecase.InitiateResult{}, err
	}
	if out.Status != "success" {
		return usecase.InitiateResult{}, usecase.Reject(MobileMoneyCard, "payment request refused")
	}
	if out.Data.Link == "" {
		return usecase.InitiateResult{}, usecase.Unavailable(MobileMoneyCard, errMissing("data.link"))
	}
	return usecase.InitiateResult{ProviderReference: req.Reference, ActionURL: out.Data.Link}, nil
}

type mmcEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID                json.Number  `json:"id"`
		TxRef             string       `json:"tx_ref"`
		Amount            *json.Number `json:"amount"`
		Currency          string       `json:"currency"`
		Status            string       `json:"status"`
		ProcessorResponse string       `json:"processor_response"`
	} `json:"data"`
}

func (g *MobileMoneyCardGateway) NormalizeWebhook(body []byte, headers http.Header) (usecase.NormalizedEvent, error) {
	if !security.EqualSecret(g.s.WebhookSecret, headers.Get("verif-hash")) {
		return usecase.NormalizedEvent{}, unauthenticated(MobileMoneyCard, "verif-hash mismatch")
	}

	var ev mmcEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return usecase.NormalizedEvent{}, malformed(MobileMoneyCard, err.Error())
	}
	if ev.Event != "charge.completed" {
		return usecase.NormalizedEvent{}, unsupported(MobileMoneyCard, ev.Event)
	}
	if ev.Data.TxRef == "" || ev.Data.ID == "" || ev.Data.Status == "" {
		return usecase.NormalizedEvent{}, malformed(MobileMoneyCard, "missing data.tx_ref, data.id or data.status")
	}

	out := usecase.NormalizedEvent{
		Provider:          MobileMoneyCard,
		ProviderReference: ev.Data.TxRef,
		IdempotencyKey:    "mmc:" + ev.Data.ID.String() + ":" + ev.Data.Status,
	}
	switch strings.ToLower(ev.Data.Status) {
	case "successful":
		out.Outcome = usecase.OutcomeSuccess
	case "failed", "cancelled":
		out.Outcome = usecase.OutcomeFailed
		out.Reason = declineReason(ev.Data.ProcessorResponse + " " + ev.Data.Status)
	default:
		out.Outcome = usecase.OutcomePending
	}

	if ev.Data.Amount != nil {
		major, err := decimal.NewFromString(ev.Data.Amount.String())
		if err != nil {
			return usecase.NormalizedEvent{}, malformed(MobileMoneyCard, "data.amount: "+err.Error())
		}
		minor, err := domain.ToMinor(major, ev.Data.Currency)
		if err != nil {
			return usecase.NormalizedEvent{}, malformed(MobileMoneyCard, err.Error())
		}
		out.AmountObserved = &minor
	}
	return out, nil
}

var _ usecase.PaymentGateway = (*MobileMoneyCardGateway)(nil)
