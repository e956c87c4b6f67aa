package views

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"viewsync/internal/logging"
)

// viewState is the mutable cache behind one view. Guarded by Store.mu.
type viewState struct {
	cached      map[DataType]Collection
	active      map[DataType]IDSet
	lastSync    time.Time
	cacheHits   int64
	cacheMisses int64
}

// Store owns every view's mutable state behind a single mutex. It is the
// only writer-side surface; the event processor and the snapshot loader both
// mutate through it.
type Store struct {
	mu       sync.RWMutex
	states   map[View]*viewState
	declared map[View]map[DataType]struct{}
}

// NewStore creates empty view states. declared lists, per view, the data
// types some flow edge delivers into it; writes of undeclared types are
// rejected to keep the cachedData invariant.
func NewStore(declared map[View][]DataType) *Store {
	s := &Store{
		states:   make(map[View]*viewState, len(AllViews)),
		declared: make(map[View]map[DataType]struct{}, len(declared)),
	}
	for _, v := range AllViews {
		s.states[v] = &viewState{
			cached: make(map[DataType]Collection),
			active: make(map[DataType]IDSet),
		}
	}
	for v, types := range declared {
		set := make(map[DataType]struct{}, len(types))
		for _, dt := range types {
			set[dt] = struct{}{}
		}
		s.declared[v] = set
	}
	return s
}

// Declares reports whether dt may be cached in view v.
func (s *Store) Declares(v View, dt DataType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.declared[v]
	if !ok {
		return false
	}
	_, ok = set[dt]
	return ok
}

func (s *Store) checkDeclared(v View, dt DataType) error {
	if !Known(v) {
		return fmt.Errorf("unknown view %q", v)
	}
	set, ok := s.declared[v]
	if !ok {
		return fmt.Errorf("view %q has no declared data types", v)
	}
	if _, ok := set[dt]; !ok {
		return fmt.Errorf("data type %q not declared for view %q", dt, v)
	}
	return nil
}

// Replace swaps the named collection in each target view, replacing the
// active set for that data type. This is the `sync` operation; replaying it
// with the same records is idempotent.
func (s *Store) Replace(targets []View, dt DataType, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range targets {
		if err := s.checkDeclared(v, dt); err != nil {
			return err
		}
	}
	now := time.Now()
	for _, v := range targets {
		st := s.states[v]
		coll := make(Collection, len(records))
		ids := make(IDSet, len(records))
		for _, rec := range records {
			coll[rec.ID] = rec.Clone()
			ids[rec.ID] = struct{}{}
		}
		st.cached[dt] = coll
		st.active[dt] = ids
		st.lastSync = now
	}
	logging.StoreDebug("replace %s into %d views (%d records)", dt, len(targets), len(records))
	return nil
}

// Insert adds new keyed records and extends the active sets.
func (s *Store) Insert(targets []View, dt DataType, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range targets {
		if err := s.checkDeclared(v, dt); err != nil {
			return err
		}
	}
	now := time.Now()
	for _, v := range targets {
		st := s.states[v]
		coll := st.cached[dt]
		if coll == nil {
			coll = make(Collection)
			st.cached[dt] = coll
		}
		ids := st.active[dt]
		if ids == nil {
			ids = make(IDSet)
			st.active[dt] = ids
		}
		for _, rec := range records {
			coll[rec.ID] = rec.Clone()
			ids[rec.ID] = struct{}{}
		}
		st.lastSync = now
	}
	return nil
}

// Patch merges fields into existing records; records that do not exist yet
// are inserted, matching the upsert behavior callers expect from `update`.
func (s *Store) Patch(targets []View, dt DataType, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range targets {
		if err := s.checkDeclared(v, dt); err != nil {
			return err
		}
	}
	now := time.Now()
	for _, v := range targets {
		st := s.states[v]
		coll := st.cached[dt]
		if coll == nil {
			coll = make(Collection)
			st.cached[dt] = coll
		}
		ids := st.active[dt]
		if ids == nil {
			ids = make(IDSet)
			st.active[dt] = ids
		}
		for _, rec := range records {
			existing, ok := coll[rec.ID]
			if !ok {
				coll[rec.ID] = rec.Clone()
				ids[rec.ID] = struct{}{}
				continue
			}
			for k, val := range rec.Fields {
				if existing.Fields == nil {
					existing.Fields = make(map[string]interface{})
				}
				existing.Fields[k] = val
			}
			if rec.Score != 0 {
				existing.Score = rec.Score
			}
			existing.UpdatedAt = rec.UpdatedAt
			coll[rec.ID] = existing
		}
		st.lastSync = now
	}
	return nil
}

// Delete removes records and their active-set membership.
func (s *Store) Delete(targets []View, dt DataType, ids []EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range targets {
		if err := s.checkDeclared(v, dt); err != nil {
			return err
		}
	}
	now := time.Now()
	for _, v := range targets {
		st := s.states[v]
		for _, id := range ids {
			delete(st.cached[dt], id)
			delete(st.active[dt], id)
		}
		st.lastSync = now
	}
	return nil
}

// Records returns a copy of one collection, counting a cache hit or miss.
func (s *Store) Records(v View, dt DataType) (Collection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[v]
	if !ok {
		return nil, false
	}
	coll, ok := st.cached[dt]
	if !ok || len(coll) == 0 {
		st.cacheMisses++
		return nil, false
	}
	st.cacheHits++
	return coll.Clone(), true
}

// HasCollection reports whether a view already caches the data type,
// without touching the hit counters.
func (s *Store) HasCollection(v View, dt DataType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[v]
	if !ok {
		return false
	}
	return len(st.cached[dt]) > 0
}

// SetLastSync force-sets a view's sync timestamp. Intended for tests and for
// timestamp-correction fixes.
func (s *Store) SetLastSync(v View, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[v]; ok {
		st.lastSync = t
	}
}

// Info is the externally visible summary of one view's state.
type Info struct {
	View            View
	ActiveEntityIDs map[DataType][]EntityID
	LastSyncTime    time.Time
	CacheHitRate    float64
	CachedDataTypes []DataType
}

// Info summarizes a view for the query API.
func (s *Store) Info(v View) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[v]
	if !ok {
		return Info{}, false
	}
	info := Info{
		View:            v,
		ActiveEntityIDs: make(map[DataType][]EntityID, len(st.active)),
		LastSyncTime:    st.lastSync,
	}
	for dt, ids := range st.active {
		list := make([]EntityID, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		info.ActiveEntityIDs[dt] = list
	}
	for dt := range st.cached {
		info.CachedDataTypes = append(info.CachedDataTypes, dt)
	}
	sort.Slice(info.CachedDataTypes, func(i, j int) bool {
		return info.CachedDataTypes[i] < info.CachedDataTypes[j]
	})
	if total := st.cacheHits + st.cacheMisses; total > 0 {
		info.CacheHitRate = float64(st.cacheHits) / float64(total)
	}
	return info, true
}

// ViewSnapshot is a read-only deep copy of one view, safe to inspect without
// the store lock.
type ViewSnapshot struct {
	Cached       map[DataType]Collection
	Active       map[DataType]IDSet
	LastSyncTime time.Time
	CacheHitRate float64
}

// Snapshot is a point-in-time copy of every view.
type Snapshot struct {
	Views   map[View]ViewSnapshot
	TakenAt time.Time
}

// Snapshot deep-copies the whole store under the lock. Validation rules run
// against this copy so slow rule bodies never block the sync worker.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Views:   make(map[View]ViewSnapshot, len(s.states)),
		TakenAt: time.Now(),
	}
	for v, st := range s.states {
		vs := ViewSnapshot{
			Cached:       make(map[DataType]Collection, len(st.cached)),
			Active:       make(map[DataType]IDSet, len(st.active)),
			LastSyncTime: st.lastSync,
		}
		for dt, coll := range st.cached {
			vs.Cached[dt] = coll.Clone()
		}
		for dt, ids := range st.active {
			vs.Active[dt] = ids.Clone()
		}
		if total := st.cacheHits + st.cacheMisses; total > 0 {
			vs.CacheHitRate = float64(st.cacheHits) / float64(total)
		}
		snap.Views[v] = vs
	}
	return snap
}

// ActiveIn returns the active set for (view, dataType) inside a snapshot,
// never nil.
func (sn Snapshot) ActiveIn(v View, dt DataType) IDSet {
	vs, ok := sn.Views[v]
	if !ok {
		return IDSet{}
	}
	ids, ok := vs.Active[dt]
	if !ok {
		return IDSet{}
	}
	return ids
}
