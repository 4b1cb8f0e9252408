package weather

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PreferencesService reads and edits the default preference set.
type PreferencesService struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewPreferencesService(store Store, logger *zap.Logger) *PreferencesService {
	return &PreferencesService{store: store, logger: logger, now: time.Now}
}

// Get returns the default preferences, creating them on first use.
func (s *PreferencesService) Get(ctx context.Context) (Preferences, error) {
	return ensurePreferences(ctx, s.store, s.now)
}

// Update validates and stores new default preferences.
func (s *PreferencesService) Update(ctx context.Context, req UpdatePreferencesRequest) (Preferences, error) {
	if err := validateStruct(req); err != nil {
		return Preferences{}, err
	}
	units, err := ParseUnits(req.Units)
	if err != nil {
		return Preferences{}, err
	}

	prefs, err := ensurePreferences(ctx, s.store, s.now)
	if err != nil {
		return Preferences{}, err
	}

	prefs.Units = units
	prefs.RefreshIntervalMinutes = req.RefreshIntervalMinutes
	prefs.UpdatedAt = s.now().UTC()

	if err := s.store.Commit(ctx, &ChangeSet{UpdatedPreferences: []*Preferences{&prefs}}); err != nil {
		return Preferences{}, err
	}

	s.logger.Info("preferences updated",
		zap.String("units", string(prefs.Units)),
		zap.Int("refresh_interval_minutes", prefs.RefreshIntervalMinutes),
	)
	return prefs, nil
}

// NewDefaultPreferences returns the record created when none exists.
func NewDefaultPreferences(now time.Time) Preferences {
	return Preferences{
		Units:                  UnitsMetric,
		RefreshIntervalMinutes: DefaultRefreshIntervalMinutes,
		CreatedAt:              now.UTC(),
		UpdatedAt:              now.UTC(),
	}
}

func ensurePreferences(ctx context.Context, store Store, now func() time.Time) (Preferences, error) {
	prefs, err := store.DefaultPreferences(ctx)
	if err == nil {
		return prefs, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Preferences{}, err
	}

	created := NewDefaultPreferences(now())
	if err := store.Commit(ctx, &ChangeSet{AddedPreferences: []*Preferences{&created}}); err != nil {
		return Preferences{}, err
	}
	return created, nil
}
