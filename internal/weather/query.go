package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// QueryService serves read-only weather views over tracked locations and
// ad-hoc cities.
type QueryService struct {
	store    Store
	provider Provider
	logger   *zap.Logger
	now      func() time.Time
}

func NewQueryService(store Store, provider Provider, logger *zap.Logger) *QueryService {
	return &QueryService{store: store, provider: provider, logger: logger, now: time.Now}
}

// CurrentForTracked returns the latest known weather of every tracked
// location, favorites first. Locations without any snapshot are fetched live.
func (s *QueryService) CurrentForTracked(ctx context.Context) ([]CurrentWeather, error) {
	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	sortLocations(locations)

	items := make([]CurrentWeather, 0, len(locations))
	for _, loc := range locations {
		units := s.unitsOf(ctx, loc)

		latest, err := s.store.LatestSnapshot(ctx, loc.ID)
		switch {
		case err == nil:
			items = append(items, currentFromSnapshot(loc, latest, units))
		case errors.Is(err, ErrNotFound):
			obs, err := s.provider.Current(ctx, loc.City, loc.Country, units)
			if err != nil {
				return nil, err
			}
			id := loc.ID
			items = append(items, currentFromObservation(&id, obs, units, loc.LastSyncedAt))
		default:
			return nil, err
		}
	}
	return items, nil
}

// CurrentByLocation fetches current weather for a tracked location.
func (s *QueryService) CurrentByLocation(ctx context.Context, id int64) (CurrentWeather, error) {
	loc, err := s.location(ctx, id)
	if err != nil {
		return CurrentWeather{}, err
	}
	units := s.unitsOf(ctx, loc)
	obs, err := s.provider.Current(ctx, loc.City, loc.Country, units)
	if err != nil {
		return CurrentWeather{}, err
	}
	return currentFromObservation(&loc.ID, obs, units, loc.LastSyncedAt), nil
}

// CurrentByCity fetches current weather for any city. Empty units means the
// default preference.
func (s *QueryService) CurrentByCity(ctx context.Context, city, country string, units Units) (CurrentWeather, error) {
	city, err := normalizeRequired(city, "City")
	if err != nil {
		return CurrentWeather{}, err
	}
	if units, err = s.resolveUnits(ctx, units); err != nil {
		return CurrentWeather{}, err
	}
	obs, err := s.provider.Current(ctx, city, strings.TrimSpace(country), units)
	if err != nil {
		return CurrentWeather{}, err
	}
	return currentFromObservation(nil, obs, units, nil), nil
}

// ForecastByLocation returns the 5-day forecast of a tracked location.
func (s *QueryService) ForecastByLocation(ctx context.Context, id int64) (Forecast, error) {
	loc, err := s.location(ctx, id)
	if err != nil {
		return Forecast{}, err
	}
	units := s.unitsOf(ctx, loc)
	items, err := s.provider.Forecast(ctx, loc.City, loc.Country, units)
	if err != nil {
		return Forecast{}, err
	}
	return Forecast{City: loc.City, Country: loc.Country, Units: units, Items: items}, nil
}

// ForecastByCity returns the 5-day forecast of any city, labelled with the
// provider's canonical spelling.
func (s *QueryService) ForecastByCity(ctx context.Context, city, country string, units Units) (Forecast, error) {
	city, err := normalizeRequired(city, "City")
	if err != nil {
		return Forecast{}, err
	}
	country = strings.TrimSpace(country)
	if units, err = s.resolveUnits(ctx, units); err != nil {
		return Forecast{}, err
	}

	items, err := s.provider.Forecast(ctx, city, country, units)
	if err != nil {
		return Forecast{}, err
	}
	current, err := s.provider.Current(ctx, city, country, units)
	if err != nil {
		return Forecast{}, err
	}
	return Forecast{City: current.City, Country: current.Country, Units: units, Items: items}, nil
}

// History returns stored snapshots of a location in [from, to] with a summary.
func (s *QueryService) History(ctx context.Context, id int64, from, to time.Time) ([]Snapshot, HistorySummary, error) {
	if to.Before(from) {
		return nil, HistorySummary{}, fmt.Errorf("%w: 'to' must not be before 'from'", ErrValidation)
	}
	if _, err := s.location(ctx, id); err != nil {
		return nil, HistorySummary{}, err
	}
	snapshots, err := s.store.SnapshotRange(ctx, id, from.UTC(), to.UTC())
	if err != nil {
		return nil, HistorySummary{}, err
	}
	return snapshots, SummarizeSnapshots(snapshots), nil
}

func (s *QueryService) location(ctx context.Context, id int64) (Location, error) {
	loc, err := s.store.GetLocation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Location{}, fmt.Errorf("location with id '%d': %w", id, ErrNotFound)
	}
	return loc, err
}

func (s *QueryService) unitsOf(ctx context.Context, loc Location) Units {
	prefs, err := s.store.GetPreferences(ctx, loc.PreferencesID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("falling back to metric units", zap.Int64("location_id", loc.ID), zap.Error(err))
		}
		return UnitsMetric
	}
	return prefs.Units
}

func (s *QueryService) resolveUnits(ctx context.Context, units Units) (Units, error) {
	if units != "" {
		return units, nil
	}
	prefs, err := ensurePreferences(ctx, s.store, s.now)
	if err != nil {
		return "", err
	}
	return prefs.Units, nil
}

func currentFromSnapshot(loc Location, snap Snapshot, units Units) CurrentWeather {
	id := loc.ID
	return CurrentWeather{
		LocationID:   &id,
		City:         loc.City,
		Country:      loc.Country,
		Temperature:  snap.Temperature,
		FeelsLike:    snap.FeelsLike,
		Humidity:     snap.Humidity,
		Pressure:     snap.Pressure,
		WindSpeed:    snap.WindSpeed,
		Summary:      snap.Summary,
		IconCode:     snap.IconCode,
		ObservedAt:   snap.ObservedAt,
		Units:        units,
		LastSyncedAt: loc.LastSyncedAt,
	}
}

func currentFromObservation(locationID *int64, obs Observation, units Units, lastSynced *time.Time) CurrentWeather {
	return CurrentWeather{
		LocationID:   locationID,
		City:         obs.City,
		Country:      obs.Country,
		Temperature:  obs.Temperature,
		FeelsLike:    obs.FeelsLike,
		Humidity:     obs.Humidity,
		Pressure:     obs.Pressure,
		WindSpeed:    obs.WindSpeed,
		Summary:      obs.Summary,
		IconCode:     obs.IconCode,
		ObservedAt:   obs.ObservedAt,
		Units:        units,
		LastSyncedAt: lastSynced,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
