package weather

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a referenced location (or other record) is absent.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed input to a mutating operation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a commit violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrConcurrency is returned when a commit would overwrite a newer version of a record.
	ErrConcurrency = errors.New("data was changed by another process; retry the operation")
)

// ExternalKind classifies provider failures.
type ExternalKind string

const (
	KindAuthentication ExternalKind = "authentication"
	KindNotFound       ExternalKind = "not_found"
	KindRateLimited    ExternalKind = "rate_limited"
	KindUnavailable    ExternalKind = "upstream_unavailable"
	KindClient         ExternalKind = "client_error"
	KindTimeout        ExternalKind = "timeout"
	KindNetwork        ExternalKind = "network"
	KindParse          ExternalKind = "parse"
	KindNotConfigured  ExternalKind = "not_configured"
	KindCircuitOpen    ExternalKind = "circuit_open"
)

// ExternalError is a classified weather provider failure.
type ExternalError struct {
	Kind       ExternalKind
	Message    string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ExternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (status %d): %v", e.Message, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// ClassifyStatus maps a non-success provider HTTP status to an ExternalError.
// providerMessage is the upstream "message" text, if any.
func ClassifyStatus(status int, providerMessage string) *ExternalError {
	withDetail := func(base string) string {
		if providerMessage == "" {
			return base
		}
		return base + ": " + providerMessage
	}

	switch {
	case status == http.StatusUnauthorized:
		return &ExternalError{
			Kind:       KindAuthentication,
			Message:    withDetail("weather provider authentication failed; check API key validity and activation status"),
			StatusCode: status,
		}
	case status == http.StatusNotFound:
		return &ExternalError{Kind: KindNotFound, Message: withDetail("city not found"), StatusCode: status}
	case status == http.StatusTooManyRequests:
		return &ExternalError{
			Kind:       KindRateLimited,
			Message:    withDetail("weather provider rate limit reached"),
			StatusCode: status,
			Transient:  true,
		}
	case status >= 500:
		return &ExternalError{
			Kind:       KindUnavailable,
			Message:    withDetail(fmt.Sprintf("weather provider request failed (%d)", status)),
			StatusCode: status,
			Transient:  true,
		}
	default:
		return &ExternalError{
			Kind:       KindClient,
			Message:    withDetail(fmt.Sprintf("weather provider request failed (%d)", status)),
			StatusCode: status,
		}
	}
}

// IsTransient reports whether err is a provider failure worth retrying later.
func IsTransient(err error) bool {
	var ext *ExternalError
	return errors.As(err, &ext) && ext.Transient
}
