package providers

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/i474232898/weather-sync/internal/weather"
)

//go:embed seed.yaml
var seedYAML []byte

const (
	minSeededHumidity  = 32
	maxSeededHumidity  = 98
	minSeededWindSpeed = 0.3

	forecastDays    = 5
	slotsPerDay     = 8
	forecastSlotLen = 3 * time.Hour
)

// SeedProfile is the metric base weather of one day.
type SeedProfile struct {
	Temperature float64 `yaml:"temperature"`
	FeelsLike   float64 `yaml:"feelsLike"`
	Humidity    int     `yaml:"humidity"`
	Pressure    int     `yaml:"pressure"`
	WindSpeed   float64 `yaml:"windSpeed"`
	Summary     string  `yaml:"summary"`
	Icon        string  `yaml:"icon"`
}

// SeedLocation is one registry entry.
type SeedLocation struct {
	City      string        `yaml:"city"`
	Country   string        `yaml:"country"`
	Latitude  float64       `yaml:"latitude"`
	Longitude float64       `yaml:"longitude"`
	Days      []SeedProfile `yaml:"days"`
}

// SeededRegistry generates deterministic, time-varying weather for a fixed
// set of demo locations. A nil registry never matches.
type SeededRegistry struct {
	locations []SeedLocation
	now       func() time.Time
}

// LoadSeededRegistry parses the embedded demo registry.
func LoadSeededRegistry() (*SeededRegistry, error) {
	return ParseSeededRegistry(seedYAML)
}

func ParseSeededRegistry(data []byte) (*SeededRegistry, error) {
	var doc struct {
		Locations []SeedLocation `yaml:"locations"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seeded registry: %w", err)
	}
	for _, loc := range doc.Locations {
		if strings.TrimSpace(loc.City) == "" {
			return nil, fmt.Errorf("seeded registry: entry without city")
		}
		if len(loc.Days) == 0 {
			return nil, fmt.Errorf("seeded registry: %s has no day profiles", loc.City)
		}
	}
	return &SeededRegistry{locations: doc.Locations, now: time.Now}, nil
}

// Locations returns the registered entries.
func (r *SeededRegistry) Locations() []SeedLocation {
	if r == nil {
		return nil
	}
	return r.locations
}

// Lookup matches city case-insensitively. A non-empty country must match the
// registered one as well.
func (r *SeededRegistry) Lookup(city, country string) (SeedLocation, bool) {
	if r == nil {
		return SeedLocation{}, false
	}
	city = strings.TrimSpace(city)
	country = strings.TrimSpace(country)
	for _, loc := range r.locations {
		if !strings.EqualFold(loc.City, city) {
			continue
		}
		if country != "" && !strings.EqualFold(loc.Country, country) {
			return SeedLocation{}, false
		}
		return loc, true
	}
	return SeedLocation{}, false
}

// Current returns the synthetic observation for the current UTC minute.
func (r *SeededRegistry) Current(city, country string, units weather.Units) (weather.Observation, bool) {
	loc, ok := r.Lookup(city, country)
	if !ok {
		return weather.Observation{}, false
	}

	at := r.now().UTC().Truncate(time.Minute)
	phase := dayPhase(at)
	base := loc.Days[0]

	// Coolest around midnight, warmest around noon; humidity moves opposite.
	swing := math.Sin(phase - math.Pi/2)
	temp := base.Temperature + 3*swing
	feels := base.FeelsLike + 3*swing
	humidity := clampInt(int(math.Round(float64(base.Humidity)-6*swing)), minSeededHumidity, maxSeededHumidity)
	wind := math.Max(minSeededWindSpeed, base.WindSpeed+0.8*math.Sin(phase+math.Pi/3))
	pressure := int(math.Round(float64(base.Pressure) + 2*math.Cos(phase)))

	obs := weather.Observation{
		City:        loc.City,
		Country:     loc.Country,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Temperature: convertTemperature(temp, units),
		FeelsLike:   convertTemperature(feels, units),
		Humidity:    humidity,
		Pressure:    pressure,
		WindSpeed:   convertSpeed(wind, units),
		Summary:     base.Summary,
		IconCode:    iconFor(base.Icon, at.Hour()),
		ObservedAt:  at,
	}
	obs.RawPayload = seededPayload(obs, units)
	return obs, true
}

// Forecast returns 5 days of 3-hour slots starting at the next slot boundary.
func (r *SeededRegistry) Forecast(city, country string, units weather.Units) ([]weather.ForecastPoint, bool) {
	loc, ok := r.Lookup(city, country)
	if !ok {
		return nil, false
	}

	start := r.now().UTC().Truncate(forecastSlotLen).Add(forecastSlotLen)
	items := make([]weather.ForecastPoint, 0, forecastDays*slotsPerDay)

	for i := 0; i < forecastDays*slotsPerDay; i++ {
		day := i / slotsPerDay
		if day >= len(loc.Days) {
			day = len(loc.Days) - 1
		}
		base := loc.Days[day]

		at := start.Add(time.Duration(i) * forecastSlotLen)
		slot := float64(at.Hour() / 3)
		daily := math.Sin(2*math.Pi*slot/slotsPerDay - math.Pi/2)
		short := math.Sin(2 * math.Pi * slot / (slotsPerDay / 2))

		temp := base.Temperature + 2.5*daily + 0.6*short
		feels := base.FeelsLike + 2.5*daily + 0.6*short
		humidity := clampInt(int(math.Round(float64(base.Humidity)-5*daily)), minSeededHumidity, maxSeededHumidity)
		wind := math.Max(minSeededWindSpeed, base.WindSpeed+0.5*short)

		items = append(items, weather.ForecastPoint{
			ForecastAt:  at,
			Temperature: convertTemperature(temp, units),
			FeelsLike:   convertTemperature(feels, units),
			Humidity:    humidity,
			WindSpeed:   convertSpeed(wind, units),
			Summary:     base.Summary,
			IconCode:    iconFor(base.Icon, at.Hour()),
		})
	}
	return items, true
}

func dayPhase(t time.Time) float64 {
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return 2 * math.Pi * float64(seconds) / 86400
}

func convertTemperature(celsius float64, units weather.Units) float64 {
	if units == weather.UnitsImperial {
		return round2(celsius*9/5 + 32)
	}
	return round2(celsius)
}

func convertSpeed(metersPerSecond float64, units weather.Units) float64 {
	if units == weather.UnitsImperial {
		return round2(metersPerSecond * 2.23694)
	}
	return round2(metersPerSecond)
}

// iconFor switches the day/night suffix of an icon code by UTC hour.
func iconFor(icon string, hour int) string {
	if len(icon) < 3 {
		return icon
	}
	suffix := "d"
	if hour < 6 || hour >= 18 {
		suffix = "n"
	}
	return icon[:len(icon)-1] + suffix
}

func seededPayload(obs weather.Observation, units weather.Units) string {
	data, err := json.Marshal(struct {
		Source string              `json:"source"`
		Units  weather.Units       `json:"units"`
		Data   weather.Observation `json:"data"`
	}{Source: "seeded", Units: units, Data: obs})
	if err != nil {
		return `{"source":"seeded"}`
	}
	return string(data)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
