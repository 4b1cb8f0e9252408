package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-sync/internal/weather"
)

const seattleCurrent = `{
	"coord": {"lon": -122.3321, "lat": 47.6062},
	"weather": [{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}],
	"main": {"temp": 12.4, "feels_like": 11.8, "humidity": 80, "pressure": 1012},
	"wind": {"speed": 3.6},
	"dt": 1735732800,
	"sys": {"country": "US"},
	"name": "Seattle"
}`

func newTestProvider(t *testing.T, handler http.HandlerFunc, retries int) (*OpenWeatherProvider, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	p := NewOpenWeatherProvider(OpenWeatherConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Backoff: BackoffConfig{MaxRetries: retries, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	})
	return p, &hits
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func requireExternal(t *testing.T, err error) *weather.ExternalError {
	t.Helper()
	var ext *weather.ExternalError
	require.True(t, errors.As(err, &ext), "expected *weather.ExternalError, got %v", err)
	return ext
}

func TestOpenWeather_CurrentParsesPayload(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, currentPath, r.URL.Path)
		assert.Equal(t, "Seattle,US", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		respond(http.StatusOK, seattleCurrent)(w, r)
	}, 0)

	obs, err := p.Current(context.Background(), "Seattle", "US", weather.UnitsMetric)
	require.NoError(t, err)

	assert.Equal(t, "Seattle", obs.City)
	assert.Equal(t, "US", obs.Country)
	assert.Equal(t, 47.6062, obs.Latitude)
	assert.Equal(t, -122.3321, obs.Longitude)
	assert.Equal(t, 12.4, obs.Temperature)
	assert.Equal(t, 11.8, obs.FeelsLike)
	assert.Equal(t, 80, obs.Humidity)
	assert.Equal(t, 1012, obs.Pressure)
	assert.Equal(t, 3.6, obs.WindSpeed)
	assert.Equal(t, "light rain", obs.Summary)
	assert.Equal(t, "10d", obs.IconCode)
	assert.Equal(t, time.Unix(1735732800, 0).UTC(), obs.ObservedAt)
	assert.Contains(t, obs.RawPayload, `"name": "Seattle"`)
}

func TestOpenWeather_CityOnlyQueryAndDefaults(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Oslo", r.URL.Query().Get("q"))
		assert.Equal(t, "imperial", r.URL.Query().Get("units"))
		respond(http.StatusOK, `{"main":{"temp":40.1},"dt":1735732800,"name":"Oslo","sys":{"country":"NO"}}`)(w, r)
	}, 0)

	obs, err := p.Current(context.Background(), "Oslo", "", weather.UnitsImperial)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", obs.Summary)
	assert.Equal(t, "01d", obs.IconCode)
}

func TestOpenWeather_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      weather.ExternalKind
		transient bool
		message   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"cod":401,"message":"Invalid API key."}`, weather.KindAuthentication, false, "Invalid API key."},
		{"not found", http.StatusNotFound, `{"cod":"404","message":"city not found"}`, weather.KindNotFound, false, "city not found"},
		{"rate limited", http.StatusTooManyRequests, `{"cod":429,"message":"quota exceeded"}`, weather.KindRateLimited, true, "quota exceeded"},
		{"server error", http.StatusBadGateway, `oops`, weather.KindUnavailable, true, "502"},
		{"bad request", http.StatusBadRequest, `{"cod":"400","message":"Nothing to geocode"}`, weather.KindClient, false, "Nothing to geocode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProvider(t, respond(tt.status, tt.body), 0)

			_, err := p.Current(context.Background(), "Somewhere", "", weather.UnitsMetric)
			ext := requireExternal(t, err)
			assert.Equal(t, tt.kind, ext.Kind)
			assert.Equal(t, tt.status, ext.StatusCode)
			assert.Equal(t, tt.transient, ext.Transient)
			assert.Equal(t, tt.transient, weather.IsTransient(err))
			assert.Contains(t, ext.Error(), tt.message)
		})
	}
}

func TestOpenWeather_RateLimitIsNotRetried(t *testing.T) {
	p, hits := newTestProvider(t, respond(http.StatusTooManyRequests, `{}`), 3)

	_, err := p.Current(context.Background(), "Somewhere", "", weather.UnitsMetric)
	assert.Equal(t, weather.KindRateLimited, requireExternal(t, err).Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestOpenWeather_PermanentErrorIsNotRetried(t *testing.T) {
	p, hits := newTestProvider(t, respond(http.StatusNotFound, `{"message":"city not found"}`), 3)

	_, err := p.Current(context.Background(), "Atlantis", "", weather.UnitsMetric)
	assert.Equal(t, weather.KindNotFound, requireExternal(t, err).Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestOpenWeather_ServerErrorRetriedUntilSuccess(t *testing.T) {
	var calls int32
	p, hits := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			respond(http.StatusServiceUnavailable, `{}`)(w, r)
			return
		}
		respond(http.StatusOK, seattleCurrent)(w, r)
	}, 3)

	obs, err := p.Current(context.Background(), "Seattle", "US", weather.UnitsMetric)
	require.NoError(t, err)
	assert.Equal(t, "Seattle", obs.City)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestOpenWeather_UnparsableBodyIsTransient(t *testing.T) {
	p, _ := newTestProvider(t, respond(http.StatusOK, `{"main": [`), 0)

	_, err := p.Current(context.Background(), "Seattle", "US", weather.UnitsMetric)
	ext := requireExternal(t, err)
	assert.Equal(t, weather.KindParse, ext.Kind)
	assert.Equal(t, http.StatusBadGateway, ext.StatusCode)
	assert.True(t, ext.Transient)
}

func TestOpenWeather_MissingAPIKey(t *testing.T) {
	p := NewOpenWeatherProvider(OpenWeatherConfig{BaseURL: "http://127.0.0.1:1"})

	_, err := p.Current(context.Background(), "Seattle", "US", weather.UnitsMetric)
	ext := requireExternal(t, err)
	assert.Equal(t, weather.KindNotConfigured, ext.Kind)
	assert.Equal(t, http.StatusInternalServerError, ext.StatusCode)
	assert.False(t, ext.Transient)
}

func TestOpenWeather_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		respond(http.StatusOK, seattleCurrent)(w, r)
	}))
	t.Cleanup(srv.Close)

	p := NewOpenWeatherProvider(OpenWeatherConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 50 * time.Millisecond,
		Backoff: BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond},
	})

	_, err := p.Current(context.Background(), "Seattle", "US", weather.UnitsMetric)
	ext := requireExternal(t, err)
	assert.Equal(t, weather.KindTimeout, ext.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, ext.StatusCode)
	assert.True(t, ext.Transient)
}

func TestOpenWeather_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewOpenWeatherProvider(OpenWeatherConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Backoff: BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond},
	})

	_, err := p.Current(context.Background(), "Seattle", "US", weather.UnitsMetric)
	ext := requireExternal(t, err)
	assert.True(t, ext.Transient)
	assert.Equal(t, http.StatusServiceUnavailable, ext.StatusCode)
}

func TestOpenWeather_CancelledContextSurfacesAsIs(t *testing.T) {
	p, hits := newTestProvider(t, respond(http.StatusOK, seattleCurrent), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Current(ctx, "Seattle", "US", weather.UnitsMetric)
	require.ErrorIs(t, err, context.Canceled)
	var ext *weather.ExternalError
	assert.False(t, errors.As(err, &ext))
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestOpenWeather_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	p, hits := newTestProvider(t, respond(http.StatusInternalServerError, `{}`), 0)

	for i := 0; i < 5; i++ {
		_, err := p.Current(context.Background(), "Seattle", "US", weather.UnitsMetric)
		require.Equal(t, weather.KindUnavailable, requireExternal(t, err).Kind)
	}

	_, err := p.Current(context.Background(), "Seattle", "US", weather.UnitsMetric)
	ext := requireExternal(t, err)
	assert.Equal(t, weather.KindCircuitOpen, ext.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, ext.StatusCode)
	assert.True(t, ext.Transient)
	assert.Equal(t, int32(5), atomic.LoadInt32(hits))
}

func TestOpenWeather_ForecastCappedAtFortyPoints(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"list":[`)
	for i := 0; i < 45; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"dt":%d,"main":{"temp":%d.5,"feels_like":10,"humidity":70},"weather":[{"description":"clear sky","icon":"01n"}],"wind":{"speed":2}}`,
			1735732800+i*10800, i)
	}
	b.WriteString(`],"city":{"name":"Seattle","country":"US"}}`)

	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, forecastPath, r.URL.Path)
		respond(http.StatusOK, b.String())(w, r)
	}, 0)

	items, err := p.Forecast(context.Background(), "Seattle", "US", weather.UnitsMetric)
	require.NoError(t, err)
	require.Len(t, items, weather.MaxForecastPoints)
	assert.Equal(t, time.Unix(1735732800, 0).UTC(), items[0].ForecastAt)
	assert.Equal(t, 0.5, items[0].Temperature)
	assert.Equal(t, 70, items[0].Humidity)
	assert.Equal(t, "clear sky", items[0].Summary)
	assert.Equal(t, "01n", items[0].IconCode)
}
