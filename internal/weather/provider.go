package weather

import (
	"context"
	"time"
)

// Provider is the single source of current and forecast weather data.
type Provider interface {
	Current(ctx context.Context, city, country string, units Units) (Observation, error)
	Forecast(ctx context.Context, city, country string, units Units) ([]ForecastPoint, error)
}

// LocationRepository reads tracked locations.
type LocationRepository interface {
	GetLocation(ctx context.Context, id int64) (Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
	FindLocation(ctx context.Context, city, country string) (Location, error)
}

// SnapshotRepository reads snapshot history.
type SnapshotRepository interface {
	LatestSnapshot(ctx context.Context, locationID int64) (Snapshot, error)
	SnapshotRange(ctx context.Context, locationID int64, from, to time.Time) ([]Snapshot, error)
}

// PreferencesRepository reads preference sets.
type PreferencesRepository interface {
	DefaultPreferences(ctx context.Context) (Preferences, error)
	GetPreferences(ctx context.Context, id int64) (Preferences, error)
}

// SyncOperationRepository reads the sync audit log.
type SyncOperationRepository interface {
	RecentSyncOperations(ctx context.Context, limit int) ([]SyncOperation, error)
}

// UnitOfWork applies a ChangeSet atomically. Unique violations surface as
// ErrConflict and stale location writes as ErrConcurrency.
type UnitOfWork interface {
	Commit(ctx context.Context, cs *ChangeSet) error
}

// Store is everything the services need from storage.
type Store interface {
	LocationRepository
	SnapshotRepository
	PreferencesRepository
	SyncOperationRepository
	UnitOfWork
}

// ChangeSet collects pending writes for one Commit. Records added through it
// get their IDs assigned on a successful commit.
type ChangeSet struct {
	AddedPreferences   []*Preferences
	UpdatedPreferences []*Preferences
	AddedLocations     []*Location
	UpdatedLocations   []*Location
	RemovedLocations   []int64
	Snapshots          []PendingSnapshot
	SyncOperations     []*SyncOperation
}

// PendingSnapshot ties a snapshot to its location, which may itself be
// pending in the same ChangeSet.
type PendingSnapshot struct {
	Location *Location
	Snapshot *Snapshot
}

// AddSnapshot queues a snapshot for loc.
func (cs *ChangeSet) AddSnapshot(loc *Location, s *Snapshot) {
	cs.Snapshots = append(cs.Snapshots, PendingSnapshot{Location: loc, Snapshot: s})
}

// UpdateLocation queues loc for a version-checked update.
func (cs *ChangeSet) UpdateLocation(loc *Location) {
	cs.UpdatedLocations = append(cs.UpdatedLocations, loc)
}

// AddSyncOperation queues an audit record.
func (cs *ChangeSet) AddSyncOperation(op *SyncOperation) {
	cs.SyncOperations = append(cs.SyncOperations, op)
}

// Empty reports whether there is nothing to commit.
func (cs *ChangeSet) Empty() bool {
	return len(cs.AddedPreferences) == 0 && len(cs.UpdatedPreferences) == 0 &&
		len(cs.AddedLocations) == 0 && len(cs.UpdatedLocations) == 0 &&
		len(cs.RemovedLocations) == 0 && len(cs.Snapshots) == 0 && len(cs.SyncOperations) == 0
}
