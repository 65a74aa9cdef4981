package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/configs"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// Registry is the closed provider set. It is filled once at construction and
// never changes afterwards.
type Registry struct {
	byID map[string]usecase.PaymentGateway
}

// NewRegistry builds adapters for every enabled provider in cfg. client may
// be nil for the default HTTP client.
func NewRegistry(cfg configs.Config, client Doer) (*Registry, error) {
	ctors := map[string]struct {
		id  string
		new func(Settings) usecase.PaymentGateway
	}{
		configs.KeyCardBankTransfer: {CardBankTransfer, func(s Settings) usecase.PaymentGateway { return NewCardBankTransfer(s) }},
		configs.KeyMobileMoneyCard:  {MobileMoneyCard, func(s Settings) usecase.PaymentGateway { return NewMobileMoneyCard(s) }},
		configs.KeyCryptoInvoice:    {CryptoInvoice, func(s Settings) usecase.PaymentGateway { return NewCryptoInvoice(s) }},
		configs.KeyCardGlobal:       {CardGlobal, func(s Settings) usecase.PaymentGateway { return NewCardGlobal(s) }},
	}

	base := strings.TrimRight(cfg.Payments.PublicBaseURL, "/")
	var gws []usecase.PaymentGateway
	for key, p := range cfg.Providers() {
		if !p.Enabled {
			continue
		}
		c, ok := ctors[key]
		if !ok {
			return nil, fmt.Errorf("payments.%s: no adapter", key)
		}
		s := Settings{
			BaseURL:       p.BaseURL,
			SecretKey:     p.SecretKey,
			WebhookSecret: p.WebhookSecret,
			ReturnURL:     cfg.Payments.ReturnURL,
			Client:        client,
		}
		if base != "" {
			s.CallbackURL = base + "/v1/webhooks/" + c.id
		}
		gws = append(gws, c.new(s))
	}
	return NewRegistryOf(gws...), nil
}

// NewRegistryOf fixes the set to gws.
func NewRegistryOf(gws ...usecase.PaymentGateway) *Registry {
	r := &Registry{byID: make(map[string]usecase.PaymentGateway, len(gws))}
	for _, g := range gws {
		r.byID[g.ID()] = g
	}
	return r
}

func (r *Registry) Resolve(providerID string) (usecase.PaymentGateway, error) {
	g, ok := r.byID[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", usecase.ErrUnknownProvider, providerID)
	}
	return g, nil
}

// IDs lists the enabled providers in a stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ usecase.ProviderRegistry = (*Registry)(nil)
