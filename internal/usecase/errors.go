package usecase

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
)

var (
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrGatewayRejected        = errors.New("gateway rejected")
	ErrUnknownProvider        = errors.New("unknown provider")
	ErrMalformedPayload       = errors.New("malformed payload")
	ErrUnauthenticatedPayload = errors.New("unauthenticated payload")
	ErrUnsupportedEvent       = errors.New("unsupported event")
	ErrStaleState             = errors.New("stale state")
	ErrWriteConflict          = errors.New("write conflict")
	ErrNotFound               = errors.New("not found")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrOutOfOrder             = errors.New("event arrived out of order")
	ErrDuplicate              = errors.New("duplicate idempotency key")
	ErrInFlight               = errors.New("delivery already in flight")
)

// RejectedError is a terminal refusal from a gateway. Reason is already
// provider-neutral text safe to persist and show to the buyer.
type RejectedError struct {
	Provider string
	Reason   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrGatewayRejected, e.Provider, e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrGatewayRejected }

// Reject builds a RejectedError for provider.
func Reject(provider, reason string) error {
	if reason == "" {
		reason = "declined by provider"
	}
	return &RejectedError{Provider: provider, Reason: reason}
}

// RejectionReason extracts the reason of a RejectedError, or the error text.
func RejectionReason(err error) string {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return err.Error()
}

// Unavailable wraps cause as ErrGatewayUnavailable unless it already is one.
func Unavailable(provider string, cause error) error {
	if errors.Is(cause, ErrGatewayUnavailable) {
		return cause
	}
	return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, provider, cause)
}

var known = []error{
	ErrStaleState, ErrWriteConflict, ErrNotFound, ErrStoreUnavailable,
	domain.ErrInvalidTransition, domain.ErrImmutableField, domain.ErrInvalidOrder, domain.ErrInvalidAmount,
}

// storeErr keeps taxonomy errors intact and wraps everything else (driver
// errors, deadlines) as ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Retryable reports whether the caller should try the same input again later.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrOutOfOrder) ||
		errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrInFlight) ||
		errors.Is(err, context.DeadlineExceeded)
}
