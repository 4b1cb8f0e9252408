package store

import (
	"context"
	"errors"
	"time"

	"github.com/i474232898/weather-sync/internal/weather"
)

type demoLocation struct {
	city      string
	country   string
	latitude  float64
	longitude float64
	favorite  bool
}

var demoLocations = []demoLocation{
	{city: "Bulawayo", country: "ZW", latitude: -20.1489, longitude: 28.5331},
	{city: "Gaborone", country: "BW", latitude: -24.6282, longitude: 25.9231},
	{city: "Johannesburg", country: "ZA", latitude: -26.2041, longitude: 28.0473, favorite: true},
}

// SeedDemoData makes sure default preferences exist and inserts the demo
// locations that are not tracked yet. It returns how many locations were
// added. Seeded locations carry no fingerprint, so their first refresh always
// stores a snapshot.
func (s *SQLiteStore) SeedDemoData(ctx context.Context, now time.Time) (int, error) {
	prefs, err := s.DefaultPreferences(ctx)
	if errors.Is(err, weather.ErrNotFound) {
		prefs = weather.NewDefaultPreferences(now)
		if err := s.Commit(ctx, &weather.ChangeSet{AddedPreferences: []*weather.Preferences{&prefs}}); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}

	cs := &weather.ChangeSet{}
	for _, d := range demoLocations {
		_, err := s.FindLocation(ctx, d.city, d.country)
		if err == nil {
			continue
		}
		if !errors.Is(err, weather.ErrNotFound) {
			return 0, err
		}
		cs.AddedLocations = append(cs.AddedLocations, &weather.Location{
			City:          d.city,
			Country:       d.country,
			Latitude:      d.latitude,
			Longitude:     d.longitude,
			IsFavorite:    d.favorite,
			PreferencesID: prefs.ID,
		})
	}

	if err := s.Commit(ctx, cs); err != nil {
		return 0, err
	}
	return len(cs.AddedLocations), nil
}
