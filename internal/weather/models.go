package weather

import (
	"fmt"
	"strings"
	"time"
)

// Units is the unit system weather values are expressed in.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// ParseUnits accepts "metric" or "imperial" in any case.
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(UnitsMetric):
		return UnitsMetric, nil
	case string(UnitsImperial):
		return UnitsImperial, nil
	default:
		return "", fmt.Errorf("%w: units must be 'metric' or 'imperial'", ErrValidation)
	}
}

const (
	MinRefreshIntervalMinutes     = 5
	MaxRefreshIntervalMinutes     = 1440
	DefaultRefreshIntervalMinutes = 30
)

// Location is a tracked place. City/Country is unique, case-insensitively.
type Location struct {
	ID            int64      `json:"id" db:"id"`
	City          string     `json:"city" db:"city"`
	Country       string     `json:"country" db:"country"`
	Latitude      float64    `json:"latitude" db:"latitude"`
	Longitude     float64    `json:"longitude" db:"longitude"`
	IsFavorite    bool       `json:"isFavorite" db:"is_favorite"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty" db:"last_synced_at"`
	Fingerprint   *string    `json:"-" db:"last_fingerprint"`
	PreferencesID int64      `json:"preferencesId" db:"preferences_id"`

	// Version is the optimistic concurrency token, bumped on every update.
	Version int64 `json:"-" db:"version"`
}

// Label returns "City, Country" (or just the city when no country is known).
func (l Location) Label() string {
	if l.Country == "" {
		return l.City
	}
	return l.City + ", " + l.Country
}

// Snapshot is an immutable stored observation of a location.
type Snapshot struct {
	ID            int64     `json:"id" db:"id"`
	LocationID    int64     `json:"locationId" db:"location_id"`
	ObservedAt    time.Time `json:"observedAt" db:"observed_at"`
	Temperature   float64   `json:"temperature" db:"temperature"`
	FeelsLike     float64   `json:"feelsLike" db:"feels_like"`
	Humidity      int       `json:"humidity" db:"humidity"`
	Pressure      int       `json:"pressure" db:"pressure"`
	WindSpeed     float64   `json:"windSpeed" db:"wind_speed"`
	Summary       string    `json:"summary" db:"summary"`
	IconCode      string    `json:"iconCode" db:"icon_code"`
	SourcePayload string    `json:"-" db:"source_payload"`
}

// SyncKind tells a single-location refresh from a fleet-wide one.
type SyncKind string

const (
	SyncKindLocation SyncKind = "location"
	SyncKindAll      SyncKind = "all"
)

// AllLocationsLabel is the target label of fleet-wide sync operations.
const AllLocationsLabel = "All tracked locations"

// SyncOperation is the audit record of one refresh invocation.
type SyncOperation struct {
	ID                 int64     `json:"id" db:"id"`
	Kind               SyncKind  `json:"kind" db:"kind"`
	LocationID         *int64    `json:"locationId,omitempty" db:"location_id"`
	Target             string    `json:"target" db:"target"`
	RefreshedLocations int       `json:"refreshedLocations" db:"refreshed_locations"`
	SnapshotsCreated   int       `json:"snapshotsCreated" db:"snapshots_created"`
	CorrelationID      string    `json:"correlationId" db:"correlation_id"`
	OccurredAt         time.Time `json:"occurredAt" db:"occurred_at"`
}

// Preferences is the process-wide default configuration.
type Preferences struct {
	ID                     int64     `json:"id" db:"id"`
	Units                  Units     `json:"units" db:"units"`
	RefreshIntervalMinutes int       `json:"refreshIntervalMinutes" db:"refresh_interval_minutes"`
	CreatedAt              time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt              time.Time `json:"updatedAt" db:"updated_at"`
}

// RefreshInterval returns the configured interval as a duration.
func (p Preferences) RefreshInterval() time.Duration {
	return time.Duration(p.RefreshIntervalMinutes) * time.Minute
}

// Observation is a current-weather reading as reported by the provider,
// including the provider's canonical spelling of the place.
type Observation struct {
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feelsLike"`
	Humidity    int       `json:"humidity"`
	Pressure    int       `json:"pressure"`
	WindSpeed   float64   `json:"windSpeed"`
	Summary     string    `json:"summary"`
	IconCode    string    `json:"iconCode"`
	ObservedAt  time.Time `json:"observedAt"` // always UTC
	RawPayload  string    `json:"rawPayload,omitempty"`
}

// ForecastPoint is one 3-hour forecast slot.
type ForecastPoint struct {
	ForecastAt  time.Time `json:"forecastAt"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feelsLike"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Summary     string    `json:"summary"`
	IconCode    string    `json:"iconCode"`
}

// MaxForecastPoints bounds a forecast to 5 days of 3-hour slots.
const MaxForecastPoints = 40

// CurrentWeather is the read model returned by the query endpoints.
type CurrentWeather struct {
	LocationID   *int64     `json:"locationId,omitempty"`
	City         string     `json:"city"`
	Country      string     `json:"country"`
	Temperature  float64    `json:"temperature"`
	FeelsLike    float64    `json:"feelsLike"`
	Humidity     int        `json:"humidity"`
	Pressure     int        `json:"pressure"`
	WindSpeed    float64    `json:"windSpeed"`
	Summary      string     `json:"summary"`
	IconCode     string     `json:"iconCode"`
	ObservedAt   time.Time  `json:"observedAt"`
	Units        Units      `json:"units"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// Forecast is a 5-day forecast for one place.
type Forecast struct {
	City    string          `json:"city"`
	Country string          `json:"country"`
	Units   Units           `json:"units"`
	Items   []ForecastPoint `json:"items"`
}
