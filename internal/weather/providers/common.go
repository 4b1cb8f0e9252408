package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-sync/internal/metrics"
	"github.com/i474232898/weather-sync/internal/weather"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *resty.Client
	Backoff BackoffConfig
}

var (
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// outcome carries failures that must not count against the circuit breaker:
// permanent provider errors and caller cancellation.
type outcome struct {
	body []byte
	err  error
}

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(breakerGauge(to))
		},
	})
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

// doRequestWithResilience executes a GET with retries, exponential backoff
// and a circuit breaker, returning the body of a 2xx response. Failures come
// back as *weather.ExternalError except for caller cancellation, which is
// returned as the context error. Only transient failures other than rate
// limiting are retried.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	endpoint string,
	buildRequest func(*resty.Request) *resty.Request,
) ([]byte, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := buildRequest(cfg.Client.R().SetContext(ctx)).Get(endpoint)
			if execErr != nil {
				if ctx.Err() != nil {
					return outcome{err: ctx.Err()}, nil
				}
				return nil, classifyTransport(execErr)
			}

			if !resp.IsSuccess() {
				ext := weather.ClassifyStatus(resp.StatusCode(), providerMessage(resp.Body()))
				if !ext.Transient {
					return outcome{err: ext}, nil
				}
				return nil, ext
			}
			return outcome{body: resp.Body()}, nil
		})

		if err == nil {
			out, ok := result.(outcome)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			recordRequest(endpoint, out.err)
			if out.err != nil {
				return nil, out.err
			}
			return out.body, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			recordRequest(endpoint, err)
			return nil, &weather.ExternalError{
				Kind:       weather.KindCircuitOpen,
				Message:    "weather provider temporarily unavailable",
				StatusCode: http.StatusServiceUnavailable,
				Transient:  true,
				Err:        err,
			}
		}

		recordRequest(endpoint, err)
		var ext *weather.ExternalError
		if !errors.As(err, &ext) || ext.Kind == weather.KindRateLimited || attempt >= cfg.Backoff.MaxRetries {
			return nil, err
		}

		// Backoff with exponential delay.
		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			// continue to next attempt
		}

		attempt++
	}
}

func classifyTransport(err error) *weather.ExternalError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &weather.ExternalError{
			Kind:       weather.KindTimeout,
			Message:    "weather provider request timed out",
			StatusCode: http.StatusServiceUnavailable,
			Transient:  true,
			Err:        err,
		}
	}
	return &weather.ExternalError{
		Kind:       weather.KindNetwork,
		Message:    "weather provider is unreachable",
		StatusCode: http.StatusServiceUnavailable,
		Transient:  true,
		Err:        err,
	}
}

func parseFailure(err error) *weather.ExternalError {
	return &weather.ExternalError{
		Kind:       weather.KindParse,
		Message:    "weather provider returned an unreadable response",
		StatusCode: http.StatusBadGateway,
		Transient:  true,
		Err:        err,
	}
}

// providerMessage extracts the upstream "message" field of an error body.
func providerMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

func recordRequest(endpoint string, err error) {
	result := "success"
	var ext *weather.ExternalError
	switch {
	case err == nil:
	case errors.As(err, &ext):
		result = string(ext.Kind)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = string(weather.KindCircuitOpen)
	default:
		result = "cancelled"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(endpoint, result).Inc()
}
