package weather

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LocationService manages the set of tracked locations.
type LocationService struct {
	store    Store
	provider Provider
	logger   *zap.Logger
	now      func() time.Time
}

func NewLocationService(store Store, provider Provider, logger *zap.Logger) *LocationService {
	return &LocationService{store: store, provider: provider, logger: logger, now: time.Now}
}

// List returns favorites first, then by city.
func (s *LocationService) List(ctx context.Context) ([]Location, error) {
	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	sortLocations(locations)
	return locations, nil
}

func (s *LocationService) Get(ctx context.Context, id int64) (Location, error) {
	loc, err := s.store.GetLocation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Location{}, fmt.Errorf("location with id '%d': %w", id, ErrNotFound)
	}
	return loc, err
}

// Create starts tracking a city. The provider's canonical place data is
// stored, together with an initial snapshot.
func (s *LocationService) Create(ctx context.Context, req CreateLocationRequest) (Location, error) {
	if err := validateStruct(req); err != nil {
		return Location{}, err
	}
	city, err := normalizeRequired(req.City, "City")
	if err != nil {
		return Location{}, err
	}
	country := strings.TrimSpace(req.Country)

	if _, err := s.store.FindLocation(ctx, city, country); err == nil {
		return Location{}, fmt.Errorf("%w: location is already being tracked", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return Location{}, err
	}

	prefs, err := ensurePreferences(ctx, s.store, s.now)
	if err != nil {
		return Location{}, err
	}

	obs, err := s.provider.Current(ctx, city, country, prefs.Units)
	if err != nil {
		return Location{}, err
	}

	loc := &Location{
		City:          city,
		Country:       country,
		IsFavorite:    req.IsFavorite,
		PreferencesID: prefs.ID,
	}
	applyObservation(loc, obs, Fingerprint(obs), s.now().UTC())

	cs := &ChangeSet{AddedLocations: []*Location{loc}}
	cs.AddSnapshot(loc, SnapshotFromObservation(obs))
	if err := s.store.Commit(ctx, cs); err != nil {
		return Location{}, err
	}

	s.logger.Info("location created", zap.Int64("location_id", loc.ID), zap.String("target", loc.Label()))
	return *loc, nil
}

// Update edits the favorite flag and, when city or country changed,
// re-resolves the place through the provider and stores a fresh snapshot.
func (s *LocationService) Update(ctx context.Context, id int64, req UpdateLocationRequest) (Location, error) {
	if err := validateStruct(req); err != nil {
		return Location{}, err
	}

	loc, err := s.Get(ctx, id)
	if err != nil {
		return Location{}, err
	}

	if req.IsFavorite != nil {
		loc.IsFavorite = *req.IsFavorite
	}

	city := loc.City
	if req.City != nil {
		if city, err = normalizeRequired(*req.City, "City"); err != nil {
			return Location{}, err
		}
	}
	country := loc.Country
	if req.Country != nil {
		country = strings.TrimSpace(*req.Country)
	}

	cs := &ChangeSet{}
	if !strings.EqualFold(city, loc.City) || !strings.EqualFold(country, loc.Country) {
		prefs, err := s.store.GetPreferences(ctx, loc.PreferencesID)
		if errors.Is(err, ErrNotFound) {
			prefs, err = ensurePreferences(ctx, s.store, s.now)
		}
		if err != nil {
			return Location{}, err
		}

		obs, err := s.provider.Current(ctx, city, country, prefs.Units)
		if err != nil {
			return Location{}, err
		}
		applyObservation(&loc, obs, Fingerprint(obs), s.now().UTC())
		cs.AddSnapshot(&loc, SnapshotFromObservation(obs))
	}

	cs.UpdateLocation(&loc)
	if err := s.store.Commit(ctx, cs); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// Delete stops tracking a location; its snapshots go with it.
func (s *LocationService) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.Commit(ctx, &ChangeSet{RemovedLocations: []int64{id}}); err != nil {
		return err
	}
	s.logger.Info("location deleted", zap.Int64("location_id", id))
	return nil
}

func sortLocations(locations []Location) {
	sort.SliceStable(locations, func(i, j int) bool {
		if locations[i].IsFavorite != locations[j].IsFavorite {
			return locations[i].IsFavorite
		}
		return strings.ToLower(locations[i].City) < strings.ToLower(locations[j].City)
	})
}
