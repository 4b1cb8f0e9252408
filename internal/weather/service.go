package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i474232898/weather-sync/internal/metrics"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// SyncService refreshes tracked locations from the provider, stores a new
// snapshot only when the observation fingerprint changed, and records one
// SyncOperation per refresh invocation.
//
// It holds no lock between fetching and committing; concurrent refreshes of
// the same location are caught by the store's version check at commit time.
type SyncService struct {
	store    Store
	provider Provider
	logger   *zap.Logger
	now      func() time.Time
	newRunID func() string
}

// NewSyncService creates a new SyncService.
func NewSyncService(store Store, provider Provider, logger *zap.Logger) *SyncService {
	return &SyncService{
		store:    store,
		provider: provider,
		logger:   logger,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// RefreshLocation refreshes one location and commits its update, optional
// snapshot and audit record together.
func (s *SyncService) RefreshLocation(ctx context.Context, id int64) error {
	runID := s.newRunID()
	start := time.Now()
	log := s.logger.With(zap.String("run_id", runID), zap.Int64("location_id", id))

	err := s.refreshLocation(ctx, id, runID, log)
	s.observe(SyncKindLocation, start, err)
	if err != nil {
		log.Warn("location refresh failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *SyncService) refreshLocation(ctx context.Context, id int64, runID string, log *zap.Logger) error {
	loc, err := s.store.GetLocation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("location with id '%d': %w", id, ErrNotFound)
		}
		return err
	}

	units, err := s.locationUnits(ctx, loc)
	if err != nil {
		return err
	}

	cs := &ChangeSet{}
	created, err := s.refreshOne(ctx, &loc, units, cs)
	if err != nil {
		return err
	}

	locID := loc.ID
	cs.AddSyncOperation(&SyncOperation{
		Kind:               SyncKindLocation,
		LocationID:         &locID,
		Target:             loc.Label(),
		RefreshedLocations: 1,
		SnapshotsCreated:   boolToInt(created),
		CorrelationID:      runID,
		OccurredAt:         s.now().UTC(),
	})

	if err := s.store.Commit(ctx, cs); err != nil {
		return fmt.Errorf("commit refresh of location %d: %w", id, err)
	}

	if created {
		metrics.SnapshotsCreatedTotal.Inc()
	}
	log.Info("location refreshed", zap.String("target", loc.Label()), zap.Bool("snapshot_created", created))
	return nil
}

// RefreshAll refreshes every tracked location in one batch and returns how
// many were refreshed. The first provider failure aborts the batch and
// nothing is committed.
func (s *SyncService) RefreshAll(ctx context.Context) (int, error) {
	runID := s.newRunID()
	start := time.Now()
	log := s.logger.With(zap.String("run_id", runID))

	n, err := s.refreshAll(ctx, runID, log)
	s.observe(SyncKindAll, start, err)
	if err != nil {
		log.Warn("fleet refresh failed", zap.Error(err))
		return 0, err
	}
	return n, nil
}

func (s *SyncService) refreshAll(ctx context.Context, runID string, log *zap.Logger) (int, error) {
	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		return 0, err
	}

	cs := &ChangeSet{}
	if len(locations) == 0 {
		cs.AddSyncOperation(s.fleetOperation(0, 0, runID))
		if err := s.store.Commit(ctx, cs); err != nil {
			return 0, fmt.Errorf("commit empty fleet refresh: %w", err)
		}
		log.Info("fleet refresh found no tracked locations")
		return 0, nil
	}

	defaults, err := ensurePreferences(ctx, s.store, s.now)
	if err != nil {
		return 0, err
	}
	known := map[int64]Preferences{defaults.ID: defaults}

	snapshots := 0
	for i := range locations {
		loc := &locations[i]
		units, err := s.unitsFor(ctx, *loc, defaults, known)
		if err != nil {
			return 0, err
		}

		created, err := s.refreshOne(ctx, loc, units, cs)
		if err != nil {
			return 0, err
		}
		snapshots += boolToInt(created)
	}

	cs.AddSyncOperation(s.fleetOperation(len(locations), snapshots, runID))
	if err := s.store.Commit(ctx, cs); err != nil {
		return 0, fmt.Errorf("commit fleet refresh: %w", err)
	}

	metrics.SnapshotsCreatedTotal.Add(float64(snapshots))
	log.Info("fleet refresh completed",
		zap.Int("locations", len(locations)),
		zap.Int("snapshots_created", snapshots),
	)
	return len(locations), nil
}

// refreshOne fetches current weather for loc, queues a snapshot when the
// fingerprint changed and queues the location update. It reports whether a
// snapshot was queued.
func (s *SyncService) refreshOne(ctx context.Context, loc *Location, units Units, cs *ChangeSet) (bool, error) {
	obs, err := s.provider.Current(ctx, loc.City, loc.Country, units)
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", loc.Label(), err)
	}

	fp := Fingerprint(obs)
	created := loc.Fingerprint == nil || *loc.Fingerprint != fp
	if created {
		cs.AddSnapshot(loc, SnapshotFromObservation(obs))
	}

	applyObservation(loc, obs, fp, s.now().UTC())
	cs.UpdateLocation(loc)
	return created, nil
}

// RecentSyncHistory returns the newest sync operations first, at most limit
// of them after clamping to [1, 100]. Callers without a preference pass
// DefaultHistoryLimit.
func (s *SyncService) RecentSyncHistory(ctx context.Context, limit int) ([]SyncOperation, error) {
	return s.store.RecentSyncOperations(ctx, ClampHistoryLimit(limit))
}

// ClampHistoryLimit bounds a requested history size to [1, 100].
func ClampHistoryLimit(limit int) int {
	switch {
	case limit < 1:
		return 1
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

func (s *SyncService) locationUnits(ctx context.Context, loc Location) (Units, error) {
	prefs, err := s.store.GetPreferences(ctx, loc.PreferencesID)
	if err == nil {
		return prefs.Units, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	defaults, err := ensurePreferences(ctx, s.store, s.now)
	if err != nil {
		return "", err
	}
	return defaults.Units, nil
}

func (s *SyncService) unitsFor(ctx context.Context, loc Location, defaults Preferences, known map[int64]Preferences) (Units, error) {
	if p, ok := known[loc.PreferencesID]; ok {
		return p.Units, nil
	}
	prefs, err := s.store.GetPreferences(ctx, loc.PreferencesID)
	if errors.Is(err, ErrNotFound) {
		known[loc.PreferencesID] = defaults
		return defaults.Units, nil
	}
	if err != nil {
		return "", err
	}
	known[loc.PreferencesID] = prefs
	return prefs.Units, nil
}

func (s *SyncService) fleetOperation(refreshed, snapshots int, runID string) *SyncOperation {
	return &SyncOperation{
		Kind:               SyncKindAll,
		Target:             AllLocationsLabel,
		RefreshedLocations: refreshed,
		SnapshotsCreated:   snapshots,
		CorrelationID:      runID,
		OccurredAt:         s.now().UTC(),
	}
}

func (s *SyncService) observe(kind SyncKind, start time.Time, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	case IsTransient(err):
		outcome = "transient_error"
	default:
		outcome = "error"
	}
	metrics.SyncOperationsTotal.WithLabelValues(string(kind), outcome).Inc()
	metrics.SyncDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

// SnapshotFromObservation copies the stored fields of an observation.
func SnapshotFromObservation(obs Observation) *Snapshot {
	return &Snapshot{
		ObservedAt:    obs.ObservedAt.UTC(),
		Temperature:   obs.Temperature,
		FeelsLike:     obs.FeelsLike,
		Humidity:      obs.Humidity,
		Pressure:      obs.Pressure,
		WindSpeed:     obs.WindSpeed,
		Summary:       obs.Summary,
		IconCode:      obs.IconCode,
		SourcePayload: obs.RawPayload,
	}
}

// applyObservation overwrites the location with the provider's canonical
// place data and stamps the new fingerprint and sync time.
func applyObservation(loc *Location, obs Observation, fingerprint string, now time.Time) {
	if obs.City != "" {
		loc.City = obs.City
		loc.Country = obs.Country
		loc.Latitude = obs.Latitude
		loc.Longitude = obs.Longitude
	}
	loc.Fingerprint = &fingerprint
	loc.LastSyncedAt = &now
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
