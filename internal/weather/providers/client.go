package providers

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weather-sync/internal/cache"
	"github.com/i474232898/weather-sync/internal/metrics"
	"github.com/i474232898/weather-sync/internal/weather"
)

// ClientConfig wires the layers behind Client.
type ClientConfig struct {
	// Seeded answers demo locations without a live call. Nil disables it.
	Seeded *SeededRegistry
	Live   weather.Provider

	CurrentCache  cache.Cache[weather.Observation]
	ForecastCache cache.Cache[[]weather.ForecastPoint]
	CacheTTL      time.Duration

	Logger *zap.Logger
}

// Client is the weather.Provider used by the services: seeded registry first,
// then the cache, then the live provider.
type Client struct {
	seeded   *SeededRegistry
	live     weather.Provider
	current  cache.Cache[weather.Observation]
	forecast cache.Cache[[]weather.ForecastPoint]
	ttl      time.Duration
	logger   *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		seeded:   cfg.Seeded,
		live:     cfg.Live,
		current:  cfg.CurrentCache,
		forecast: cfg.ForecastCache,
		ttl:      cache.NormalizeTTL(cfg.CacheTTL),
		logger:   cfg.Logger,
	}
	if c.current == nil {
		c.current = cache.Nop[weather.Observation]{}
	}
	if c.forecast == nil {
		c.forecast = cache.Nop[[]weather.ForecastPoint]{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func (c *Client) Current(ctx context.Context, city, country string, units weather.Units) (weather.Observation, error) {
	city, country = strings.TrimSpace(city), strings.TrimSpace(country)

	if obs, ok := c.seeded.Current(city, country, units); ok {
		metrics.ProviderSeededTotal.WithLabelValues(string(cache.EndpointCurrent)).Inc()
		return obs, nil
	}

	key := cache.NewKey(cache.EndpointCurrent, city, country, string(units))
	obs, err := c.current.GetOrFetch(ctx, key, c.ttl, func(ctx context.Context) (weather.Observation, error) {
		c.logger.Debug("fetching current weather", zap.String("key", key.String()))
		return c.live.Current(ctx, city, country, units)
	})
	if err != nil {
		return weather.Observation{}, err
	}
	return obs, nil
}

func (c *Client) Forecast(ctx context.Context, city, country string, units weather.Units) ([]weather.ForecastPoint, error) {
	city, country = strings.TrimSpace(city), strings.TrimSpace(country)

	if items, ok := c.seeded.Forecast(city, country, units); ok {
		metrics.ProviderSeededTotal.WithLabelValues(string(cache.EndpointForecast)).Inc()
		return items, nil
	}

	key := cache.NewKey(cache.EndpointForecast, city, country, string(units))
	items, err := c.forecast.GetOrFetch(ctx, key, c.ttl, func(ctx context.Context) ([]weather.ForecastPoint, error) {
		c.logger.Debug("fetching forecast", zap.String("key", key.String()))
		return c.live.Forecast(ctx, city, country, units)
	})
	if err != nil {
		return nil, err
	}
	if len(items) > weather.MaxForecastPoints {
		items = items[:weather.MaxForecastPoints]
	}
	return items, nil
}
