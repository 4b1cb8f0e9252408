package weather

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same commit semantics as the
// SQLite store: all-or-nothing, unique city/country, version-checked updates.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	prefs     map[int64]Preferences
	locations map[int64]Location
	snapshots []Snapshot
	ops       []SyncOperation
	commits   int
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{
		prefs:     map[int64]Preferences{},
		locations: map[int64]Location{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) GetLocation(_ context.Context, id int64) (Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return Location{}, ErrNotFound
	}
	return loc, nil
}

func (m *memStore) ListLocations(_ context.Context) ([]Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Location, 0, len(m.locations))
	for _, loc := range m.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindLocation(_ context.Context, city, country string) (Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, loc := range m.locations {
		if strings.EqualFold(loc.City, city) && strings.EqualFold(loc.Country, country) {
			return loc, nil
		}
	}
	return Location{}, ErrNotFound
}

func (m *memStore) LatestSnapshot(_ context.Context, locationID int64) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		latest Snapshot
		found  bool
	)
	for _, s := range m.snapshots {
		if s.LocationID == locationID && (!found || !s.ObservedAt.Before(latest.ObservedAt)) {
			latest, found = s, true
		}
	}
	if !found {
		return Snapshot{}, ErrNotFound
	}
	return latest, nil
}

func (m *memStore) SnapshotRange(_ context.Context, locationID int64, from, to time.Time) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Snapshot
	for _, s := range m.snapshots {
		if s.LocationID == locationID && !s.ObservedAt.Before(from) && !s.ObservedAt.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) DefaultPreferences(_ context.Context) (Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  Preferences
		found bool
	)
	for _, p := range m.prefs {
		if !found || p.ID < best.ID {
			best, found = p, true
		}
	}
	if !found {
		return Preferences{}, ErrNotFound
	}
	return best, nil
}

func (m *memStore) GetPreferences(_ context.Context, id int64) (Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[id]
	if !ok {
		return Preferences{}, ErrNotFound
	}
	return p, nil
}

func (m *memStore) RecentSyncOperations(_ context.Context, limit int) ([]SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SyncOperation, 0, len(m.ops))
	for i := len(m.ops) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.ops[i])
	}
	return out, nil
}

func (m *memStore) Commit(_ context.Context, cs *ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}

	// Validate everything before mutating so a failed commit changes nothing.
	for _, loc := range cs.AddedLocations {
		for _, existing := range m.locations {
			if strings.EqualFold(existing.City, loc.City) && strings.EqualFold(existing.Country, loc.Country) {
				return ErrConflict
			}
		}
	}
	for _, loc := range cs.UpdatedLocations {
		if loc.ID == 0 {
			continue
		}
		current, ok := m.locations[loc.ID]
		if !ok || current.Version != loc.Version {
			return ErrConcurrency
		}
	}
	for _, id := range cs.RemovedLocations {
		if _, ok := m.locations[id]; !ok {
			return ErrNotFound
		}
	}

	for _, p := range cs.AddedPreferences {
		p.ID = m.id()
		m.prefs[p.ID] = *p
	}
	for _, p := range cs.UpdatedPreferences {
		m.prefs[p.ID] = *p
	}
	added := map[*Location]bool{}
	for _, loc := range cs.AddedLocations {
		loc.ID = m.id()
		loc.Version = 1
		m.locations[loc.ID] = *loc
		added[loc] = true
	}
	for _, loc := range cs.UpdatedLocations {
		if added[loc] {
			continue
		}
		loc.Version++
		m.locations[loc.ID] = *loc
	}
	for _, id := range cs.RemovedLocations {
		delete(m.locations, id)
		kept := m.snapshots[:0]
		for _, s := range m.snapshots {
			if s.LocationID != id {
				kept = append(kept, s)
			}
		}
		m.snapshots = kept
	}
	for _, ps := range cs.Snapshots {
		ps.Snapshot.ID = m.id()
		ps.Snapshot.LocationID = ps.Location.ID
		m.snapshots = append(m.snapshots, *ps.Snapshot)
	}
	for _, op := range cs.SyncOperations {
		op.ID = m.id()
		m.ops = append(m.ops, *op)
	}
	m.commits++
	return nil
}

func (m *memStore) snapshotCount(locationID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.snapshots {
		if s.LocationID == locationID {
			n++
		}
	}
	return n
}

func (m *memStore) opCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// fakeProvider answers every city with the queued observation, or fails with err.
type fakeProvider struct {
	mu       sync.Mutex
	obs      Observation
	forecast []ForecastPoint
	err      error
	calls    int
	units    []Units
}

func (p *fakeProvider) set(obs Observation, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.obs, p.err = obs, err
}

func (p *fakeProvider) Current(_ context.Context, city, country string, units Units) (Observation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.units = append(p.units, units)
	if p.err != nil {
		return Observation{}, p.err
	}
	obs := p.obs
	if obs.City == "" {
		obs.City, obs.Country = city, country
	}
	return obs, nil
}

func (p *fakeProvider) Forecast(_ context.Context, _, _ string, units Units) ([]ForecastPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.units = append(p.units, units)
	if p.err != nil {
		return nil, p.err
	}
	return p.forecast, nil
}

var errBoom = errors.New("boom")

func seattleObservation(observedAt time.Time) Observation {
	return Observation{
		City:        "Seattle",
		Country:     "US",
		Latitude:    47.6062,
		Longitude:   -122.3321,
		Temperature: 12.4,
		FeelsLike:   11.9,
		Humidity:    80,
		Pressure:    1013,
		WindSpeed:   4.1,
		Summary:     "light rain",
		IconCode:    "10d",
		ObservedAt:  observedAt,
	}
}
