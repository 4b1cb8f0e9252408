// Package store persists tracked locations, snapshots, preferences and the
// sync audit log in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/i474232898/weather-sync/internal/common"
	"github.com/i474232898/weather-sync/internal/weather"
)

// SQLiteStore implements weather.Store.
type SQLiteStore struct {
	conn *sqlx.DB
}

var _ weather.Store = (*SQLiteStore)(nil)

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		units TEXT NOT NULL,
		refresh_interval_minutes INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		city TEXT NOT NULL COLLATE NOCASE,
		country TEXT NOT NULL DEFAULT '' COLLATE NOCASE,
		latitude REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0,
		is_favorite INTEGER NOT NULL DEFAULT 0,
		last_synced_at DATETIME,
		last_fingerprint TEXT,
		preferences_id INTEGER NOT NULL REFERENCES preferences(id),
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS weather_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		location_id INTEGER NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
		observed_at DATETIME NOT NULL,
		temperature REAL NOT NULL,
		feels_like REAL NOT NULL,
		humidity INTEGER NOT NULL,
		pressure INTEGER NOT NULL,
		wind_speed REAL NOT NULL,
		summary TEXT NOT NULL,
		icon_code TEXT NOT NULL,
		source_payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		location_id INTEGER REFERENCES locations(id) ON DELETE SET NULL,
		target TEXT NOT NULL,
		refreshed_locations INTEGER NOT NULL,
		snapshots_created INTEGER NOT NULL,
		correlation_id TEXT NOT NULL,
		occurred_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_locations_city_country ON locations(city, country);
	CREATE INDEX IF NOT EXISTS idx_snapshots_location_observed ON weather_snapshots(location_id, observed_at);
	CREATE INDEX IF NOT EXISTS idx_sync_operations_occurred ON sync_operations(occurred_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

const locationColumns = `id, city, country, latitude, longitude, is_favorite, last_synced_at,
	last_fingerprint, preferences_id, version`

const snapshotColumns = `id, location_id, observed_at, temperature, feels_like, humidity, pressure,
	wind_speed, summary, icon_code, source_payload`

func (s *SQLiteStore) GetLocation(ctx context.Context, id int64) (weather.Location, error) {
	var loc weather.Location
	err := s.conn.GetContext(ctx, &loc, "SELECT "+locationColumns+" FROM locations WHERE id = ?", id)
	return loc, notFound(err)
}

func (s *SQLiteStore) ListLocations(ctx context.Context) ([]weather.Location, error) {
	var locations []weather.Location
	if err := s.conn.SelectContext(ctx, &locations, "SELECT "+locationColumns+" FROM locations ORDER BY id"); err != nil {
		return nil, err
	}
	return locations, nil
}

// FindLocation matches city and country case-insensitively.
func (s *SQLiteStore) FindLocation(ctx context.Context, city, country string) (weather.Location, error) {
	var loc weather.Location
	err := s.conn.GetContext(ctx, &loc,
		"SELECT "+locationColumns+" FROM locations WHERE city = ? AND country = ?",
		strings.TrimSpace(city), strings.TrimSpace(country))
	return loc, notFound(err)
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, locationID int64) (weather.Snapshot, error) {
	var snap weather.Snapshot
	err := s.conn.GetContext(ctx, &snap,
		"SELECT "+snapshotColumns+" FROM weather_snapshots WHERE location_id = ? ORDER BY observed_at DESC, id DESC LIMIT 1",
		locationID)
	return snap, notFound(err)
}

// SnapshotRange returns snapshots observed in [from, to], oldest first.
func (s *SQLiteStore) SnapshotRange(ctx context.Context, locationID int64, from, to time.Time) ([]weather.Snapshot, error) {
	var snaps []weather.Snapshot
	err := s.conn.SelectContext(ctx, &snaps,
		"SELECT "+snapshotColumns+` FROM weather_snapshots
		WHERE location_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at, id`,
		locationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// DefaultPreferences returns the oldest preference set.
func (s *SQLiteStore) DefaultPreferences(ctx context.Context) (weather.Preferences, error) {
	var p weather.Preferences
	err := s.conn.GetContext(ctx, &p,
		"SELECT id, units, refresh_interval_minutes, created_at, updated_at FROM preferences ORDER BY id LIMIT 1")
	return p, notFound(err)
}

func (s *SQLiteStore) GetPreferences(ctx context.Context, id int64) (weather.Preferences, error) {
	var p weather.Preferences
	err := s.conn.GetContext(ctx, &p,
		"SELECT id, units, refresh_interval_minutes, created_at, updated_at FROM preferences WHERE id = ?", id)
	return p, notFound(err)
}

// RecentSyncOperations returns up to limit operations, newest first.
func (s *SQLiteStore) RecentSyncOperations(ctx context.Context, limit int) ([]weather.SyncOperation, error) {
	var ops []weather.SyncOperation
	err := s.conn.SelectContext(ctx, &ops,
		`SELECT id, kind, location_id, target, refreshed_locations, snapshots_created, correlation_id, occurred_at
		FROM sync_operations ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// Commit writes the change set in one transaction and assigns IDs to the
// inserted records. Location versions are bumped in memory only once the
// transaction has committed.
func (s *SQLiteStore) Commit(ctx context.Context, cs *weather.ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var apply []func()

	for _, p := range cs.AddedPreferences {
		id, err := insert(ctx, tx,
			`INSERT INTO preferences (units, refresh_interval_minutes, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			p.Units, p.RefreshIntervalMinutes, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			return mapError(err)
		}
		p.ID = id
	}

	for _, p := range cs.UpdatedPreferences {
		res, err := tx.ExecContext(ctx,
			`UPDATE preferences SET units = ?, refresh_interval_minutes = ?, updated_at = ? WHERE id = ?`,
			p.Units, p.RefreshIntervalMinutes, p.UpdatedAt.UTC(), p.ID)
		if err != nil {
			return mapError(err)
		}
		if err := expectRow(res, weather.ErrNotFound); err != nil {
			return fmt.Errorf("preferences %d: %w", p.ID, err)
		}
	}

	for _, loc := range cs.AddedLocations {
		id, err := insert(ctx, tx,
			`INSERT INTO locations (city, country, latitude, longitude, is_favorite, last_synced_at,
				last_fingerprint, preferences_id, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			loc.City, loc.Country, loc.Latitude, loc.Longitude, loc.IsFavorite, utcPtr(loc.LastSyncedAt),
			loc.Fingerprint, loc.PreferencesID)
		if err != nil {
			return mapError(err)
		}
		loc.ID = id
		apply = append(apply, func() { loc.Version = 1 })
	}

	for _, loc := range cs.UpdatedLocations {
		res, err := tx.ExecContext(ctx,
			`UPDATE locations SET city = ?, country = ?, latitude = ?, longitude = ?, is_favorite = ?,
				last_synced_at = ?, last_fingerprint = ?, preferences_id = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			loc.City, loc.Country, loc.Latitude, loc.Longitude, loc.IsFavorite, utcPtr(loc.LastSyncedAt),
			loc.Fingerprint, loc.PreferencesID, loc.ID, loc.Version)
		if err != nil {
			return mapError(err)
		}
		if err := expectRow(res, weather.ErrConcurrency); err != nil {
			return fmt.Errorf("location %d: %w", loc.ID, err)
		}
		next := loc.Version + 1
		apply = append(apply, func() { loc.Version = next })
	}

	for _, id := range cs.RemovedLocations {
		res, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
		if err != nil {
			return mapError(err)
		}
		if err := expectRow(res, weather.ErrNotFound); err != nil {
			return fmt.Errorf("location %d: %w", id, err)
		}
	}

	for _, ps := range cs.Snapshots {
		snap := ps.Snapshot
		snap.LocationID = ps.Location.ID
		id, err := insert(ctx, tx,
			`INSERT INTO weather_snapshots (location_id, observed_at, temperature, feels_like, humidity, pressure,
				wind_speed, summary, icon_code, source_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.LocationID, snap.ObservedAt.UTC(), snap.Temperature, snap.FeelsLike, snap.Humidity, snap.Pressure,
			snap.WindSpeed, snap.Summary, snap.IconCode, snap.SourcePayload)
		if err != nil {
			return mapError(err)
		}
		snap.ID = id
	}

	for _, op := range cs.SyncOperations {
		id, err := insert(ctx, tx,
			`INSERT INTO sync_operations (kind, location_id, target, refreshed_locations, snapshots_created,
				correlation_id, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			op.Kind, op.LocationID, op.Target, op.RefreshedLocations, op.SnapshotsCreated,
			op.CorrelationID, op.OccurredAt.UTC())
		if err != nil {
			return mapError(err)
		}
		op.ID = id
	}

	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	for _, fn := range apply {
		fn()
	}
	return nil
}

func insert(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func expectRow(res sql.Result, errNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNone
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return weather.ErrNotFound
	}
	return err
}

// mapError turns unique constraint violations into weather.ErrConflict.
func mapError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: location is already being tracked", weather.ErrConflict)
		}
	}
	if err != nil && common.HasAny(err.Error(), "UNIQUE constraint failed", "PRIMARY KEY constraint failed") {
		return fmt.Errorf("%w: location is already being tracked", weather.ErrConflict)
	}
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
