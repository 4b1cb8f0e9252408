package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-sync/internal/api/http"
	"github.com/i474232898/weather-sync/internal/cache"
	"github.com/i474232898/weather-sync/internal/config"
	"github.com/i474232898/weather-sync/internal/logger"
	"github.com/i474232898/weather-sync/internal/store"
	"github.com/i474232898/weather-sync/internal/weather"
	"github.com/i474232898/weather-sync/internal/weather/providers"
)

const memoryCacheEntries = 1000

// application holds everything the commands share.
type application struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	store    *store.SQLiteStore
	services httpapi.Services
	purgers  []cache.Purger

	closers []func() error
}

func newApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a := &application{cfg: cfg, log: log, store: st}
	a.closers = append(a.closers, st.Close)

	if cfg.SeedDemoLocations {
		added, err := st.SeedDemoData(ctx, time.Now())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to seed demo locations: %w", err)
		}
		if added > 0 {
			log.Info("seeded demo locations", zap.Int("count", added))
		}
	}

	client, err := a.buildProvider(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.services = httpapi.Services{
		Locations:   weather.NewLocationService(st, client, log.Named("locations")),
		Preferences: weather.NewPreferencesService(st, log.Named("preferences")),
		Query:       weather.NewQueryService(st, client, log.Named("query")),
		Sync:        weather.NewSyncService(st, client, log.Named("sync")),
	}
	return a, nil
}

// buildProvider assembles seeded registry, provider cache and live client.
func (a *application) buildProvider(ctx context.Context) (*providers.Client, error) {
	cfg := a.cfg

	var seeded *providers.SeededRegistry
	if cfg.SeededFallback {
		registry, err := providers.LoadSeededRegistry()
		if err != nil {
			return nil, fmt.Errorf("failed to load seeded registry: %w", err)
		}
		seeded = registry
	}

	live := providers.NewOpenWeatherProvider(providers.OpenWeatherConfig{
		APIKey:  cfg.OpenWeatherAPIKey,
		BaseURL: cfg.OpenWeatherBaseURL,
		Timeout: cfg.OpenWeatherTimeout,
	})
	if cfg.OpenWeatherAPIKey == "" {
		a.log.Warn("OPENWEATHER_API_KEY is not set; only seeded cities can be served")
	}

	var (
		current  cache.Cache[weather.Observation]
		forecast cache.Cache[[]weather.ForecastPoint]
	)
	switch cfg.CacheBackend {
	case config.CacheRedis:
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		current = cache.NewRedis[weather.Observation](rdb, "weather-sync:", a.log.Named("cache"))
		forecast = cache.NewRedis[[]weather.ForecastPoint](rdb, "weather-sync:", a.log.Named("cache"))
	default:
		mc := cache.NewMemory[weather.Observation](memoryCacheEntries)
		mf := cache.NewMemory[[]weather.ForecastPoint](memoryCacheEntries)
		a.purgers = append(a.purgers, mc, mf)
		current, forecast = mc, mf
	}

	return providers.NewClient(providers.ClientConfig{
		Seeded:        seeded,
		Live:          live,
		CurrentCache:  current,
		ForecastCache: forecast,
		CacheTTL:      cfg.CacheTTL,
		Logger:        a.log.Named("provider"),
	}), nil
}

// close releases resources in reverse order of acquisition.
func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("error during close", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
