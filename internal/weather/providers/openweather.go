package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-sync/internal/weather"
)

const (
	currentPath  = "/data/2.5/weather"
	forecastPath = "/data/2.5/forecast"

	defaultSummary = "Unknown"
	defaultIcon    = "01d"
)

// OpenWeatherConfig configures the live OpenWeatherMap client.
type OpenWeatherConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Backoff BackoffConfig
}

// OpenWeatherProvider implements weather.Provider against the OpenWeatherMap
// current weather and 5 day / 3 hour forecast endpoints.
type OpenWeatherProvider struct {
	apiKey  string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time
}

func NewOpenWeatherProvider(cfg OpenWeatherConfig) *OpenWeatherProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff = BackoffConfig{
			MaxRetries:      2,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		}
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &OpenWeatherProvider{
		apiKey:  cfg.APIKey,
		httpCfg: HTTPClientConfig{Client: client, Backoff: cfg.Backoff},
		circuit: newCircuitBreaker("openweathermap"),
		now:     time.Now,
	}
}

type owmCondition struct {
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owmMain struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Humidity  float64 `json:"humidity"`
	Pressure  float64 `json:"pressure"`
}

type owmWind struct {
	Speed float64 `json:"speed"`
}

type owmCurrent struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather []owmCondition `json:"weather"`
	Main    owmMain        `json:"main"`
	Wind    owmWind        `json:"wind"`
	Dt      int64          `json:"dt"`
	Sys     struct {
		Country string `json:"country"`
	} `json:"sys"`
	Name string `json:"name"`
}

type owmForecast struct {
	List []struct {
		Dt      int64          `json:"dt"`
		Main    owmMain        `json:"main"`
		Weather []owmCondition `json:"weather"`
		Wind    owmWind        `json:"wind"`
	} `json:"list"`
}

func (p *OpenWeatherProvider) Current(ctx context.Context, city, country string, units weather.Units) (weather.Observation, error) {
	body, err := p.get(ctx, currentPath, city, country, units)
	if err != nil {
		return weather.Observation{}, err
	}

	var payload owmCurrent
	if err := json.Unmarshal(body, &payload); err != nil {
		return weather.Observation{}, parseFailure(err)
	}

	summary, icon := firstCondition(payload.Weather)
	observedAt := time.Unix(payload.Dt, 0).UTC()
	if payload.Dt == 0 {
		observedAt = p.now().UTC().Truncate(time.Second)
	}

	return weather.Observation{
		City:        payload.Name,
		Country:     payload.Sys.Country,
		Latitude:    payload.Coord.Lat,
		Longitude:   payload.Coord.Lon,
		Temperature: payload.Main.Temp,
		FeelsLike:   payload.Main.FeelsLike,
		Humidity:    int(math.Round(payload.Main.Humidity)),
		Pressure:    int(math.Round(payload.Main.Pressure)),
		WindSpeed:   payload.Wind.Speed,
		Summary:     summary,
		IconCode:    icon,
		ObservedAt:  observedAt,
		RawPayload:  string(body),
	}, nil
}

func (p *OpenWeatherProvider) Forecast(ctx context.Context, city, country string, units weather.Units) ([]weather.ForecastPoint, error) {
	body, err := p.get(ctx, forecastPath, city, country, units)
	if err != nil {
		return nil, err
	}

	var payload owmForecast
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, parseFailure(err)
	}

	n := len(payload.List)
	if n > weather.MaxForecastPoints {
		n = weather.MaxForecastPoints
	}
	items := make([]weather.ForecastPoint, 0, n)
	for _, item := range payload.List[:n] {
		summary, icon := firstCondition(item.Weather)
		items = append(items, weather.ForecastPoint{
			ForecastAt:  time.Unix(item.Dt, 0).UTC(),
			Temperature: item.Main.Temp,
			FeelsLike:   item.Main.FeelsLike,
			Humidity:    int(math.Round(item.Main.Humidity)),
			WindSpeed:   item.Wind.Speed,
			Summary:     summary,
			IconCode:    icon,
		})
	}
	return items, nil
}

func (p *OpenWeatherProvider) get(ctx context.Context, path, city, country string, units weather.Units) ([]byte, error) {
	if p.apiKey == "" {
		return nil, &weather.ExternalError{
			Kind:       weather.KindNotConfigured,
			Message:    "OpenWeatherMap API key is not configured",
			StatusCode: http.StatusInternalServerError,
		}
	}

	q := city
	if country != "" {
		q = fmt.Sprintf("%s,%s", city, country)
	}

	return doRequestWithResilience(ctx, p.httpCfg, p.circuit, path, func(r *resty.Request) *resty.Request {
		return r.SetQueryParams(map[string]string{
			"q":     q,
			"appid": p.apiKey,
			"units": string(units),
		})
	})
}

func firstCondition(items []owmCondition) (string, string) {
	if len(items) == 0 {
		return defaultSummary, defaultIcon
	}
	summary, icon := items[0].Description, items[0].Icon
	if summary == "" {
		summary = defaultSummary
	}
	if icon == "" {
		icon = defaultIcon
	}
	return summary, icon
}
