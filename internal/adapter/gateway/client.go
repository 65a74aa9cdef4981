package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// Provider identifiers, the closed set accepted by the registry.
const (
	CardBankTransfer = "cardBankTransfer"
	MobileMoneyCard  = "mobileMoneyCard"
	CryptoInvoice    = "cryptoInvoice"
	CardGlobal       = "cardGlobal"
)

// maxResponseBody caps how much of a gateway response is read.
const maxResponseBody = 1 << 20

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Settings configure one adapter.
type Settings struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	ReturnURL     string // where the buyer lands after paying
	CallbackURL   string // where the provider posts webhooks
	Client        Doer
	Now           func() time.Time
}

func (s Settings) withDefaults() Settings {
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	if s.Client == nil {
		s.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// postJSON sends body as JSON and decodes a 2xx response into out.
func postJSON(ctx context.Context, s Settings, provider, path string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(s, provider, req, out)
}

// postForm sends form-encoded values and decodes a 2xx response into out.
func postForm(ctx context.Context, s Settings, provider, path string, headers map[string]string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(s, provider, req, out)
}

// send translates the exchange into the usecase error taxonomy: transport
// failures, 429 and 5xx are retryable; any other non-2xx is a rejection.
func send(s Settings, provider string, req *http.Request, out any) error {
	resp, err := s.Client.Do(req)
	if err != nil {
		return usecase.Unavailable(provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return usecase.Unavailable(provider, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return usecase.Unavailable(provider, fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return usecase.Reject(provider, rejectionReason(resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return usecase.Unavailable(provider, fmt.Errorf("unexpected http %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return usecase.Unavailable(provider, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// rejectionReason keeps provider wording out of persisted reasons.
func rejectionReason(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "merchant credentials refused"
	case http.StatusPaymentRequired:
		return "payment declined"
	default:
		return "payment request refused"
	}
}

// declineReasons maps fragments of provider decline text onto the reasons we
// persist and show. Order matters: first match wins.
var declineReasons = []struct{ fragment, reason string }{
	{"insufficient", "insufficient funds"},
	{"expired", "card expired"},
	{"cancel", "payment cancelled"},
	{"abandon", "payment cancelled"},
	{"timed out", "payment timed out"},
	{"timeout", "payment timed out"},
	{"otp", "authentication failed"},
	{"pin", "authentication failed"},
	{"3ds", "authentication failed"},
	{"authenticat", "authentication failed"},
	{"limit", "limit exceeded"},
	{"fraud", "payment declined"},
	{"honor", "payment declined"},
	{"declin", "payment declined"},
}

// declineReason normalizes a provider's free-text failure. The raw text
// stays in the sealed audit payload only.
func declineReason(raw string) string {
	s := strings.ToLower(raw)
	for _, d := range declineReasons {
		if strings.Contains(s, d.fragment) {
			return d.reason
		}
	}
	return "payment failed"
}

// unsupported reports an event type the adapter deliberately ignores.
func unsupported(provider, kind string) error {
	return fmt.Errorf("%w: %s %q", usecase.ErrUnsupportedEvent, provider, kind)
}

func malformed(provider, what string) error {
	return fmt.Errorf("%w: %s: %s", usecase.ErrMalformedPayload, provider, what)
}

func unauthenticated(provider, what string) error {
	return fmt.Errorf("%w: %s: %s", usecase.ErrUnauthenticatedPayload, provider, what)
}

type errMissing string

func (e errMissing) Error() string { return "response missing " + string(e) }
