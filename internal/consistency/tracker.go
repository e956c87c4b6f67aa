package consistency

import (
	"sort"
	"sync"
	"time"

	"viewsync/internal/logging"
)

// Tracker follows issues across validation runs by their fingerprint IDs. An
// issue seen this run stays active with its original discovery timestamp; an
// active issue absent from a run flips to resolved; resolved issues are kept
// for the retention window, then pruned.
type Tracker struct {
	mu        sync.Mutex
	active    map[string]*Issue
	resolved  map[string]*Issue
	retention time.Duration
}

// NewTracker creates an empty tracker.
func NewTracker(retention time.Duration) *Tracker {
	return &Tracker{
		active:    make(map[string]*Issue),
		resolved:  make(map[string]*Issue),
		retention: retention,
	}
}

// Reconcile folds one run's issues into the lifecycle state.
func (t *Tracker) Reconcile(issues []Issue, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(issues))
	newCount, resolvedCount := 0, 0
	for i := range issues {
		iss := issues[i]
		seen[iss.ID] = struct{}{}
		if existing, ok := t.active[iss.ID]; ok {
			// Keep the first-seen timestamp; refresh the observed state.
			iss.Timestamp = existing.Timestamp
			t.active[iss.ID] = &iss
			continue
		}
		if _, wasResolved := t.resolved[iss.ID]; wasResolved {
			// The same problem came back; it starts a fresh lifecycle.
			delete(t.resolved, iss.ID)
		}
		t.active[iss.ID] = &iss
		newCount++
	}

	for id, iss := range t.active {
		if _, stillPresent := seen[id]; stillPresent {
			continue
		}
		iss.Resolved = true
		iss.ResolutionTimestamp = now
		t.resolved[id] = iss
		delete(t.active, id)
		resolvedCount++
	}

	cutoff := now.Add(-t.retention)
	for id, iss := range t.resolved {
		if iss.ResolutionTimestamp.Before(cutoff) {
			delete(t.resolved, id)
		}
	}

	if newCount > 0 || resolvedCount > 0 {
		logging.Tracker("reconciled: %d new, %d resolved, %d active", newCount, resolvedCount, len(t.active))
	}
}

// ActiveIssues returns unresolved issues, highest priority first; ties break
// by ID for a stable order.
func (t *Tracker) ActiveIssues() []Issue {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Issue, 0, len(t.active))
	for _, iss := range t.active {
		out = append(out, *iss)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ResolvedIssues returns issues resolved within the retention window, most
// recently resolved first.
func (t *Tracker) ResolvedIssues() []Issue {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Issue, 0, len(t.resolved))
	for _, iss := range t.resolved {
		out = append(out, *iss)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ResolutionTimestamp.Equal(out[j].ResolutionTimestamp) {
			return out[i].ResolutionTimestamp.After(out[j].ResolutionTimestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Issue looks up a tracked issue, active or resolved.
func (t *Tracker) Issue(id string) (Issue, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if iss, ok := t.active[id]; ok {
		return *iss, true
	}
	if iss, ok := t.resolved[id]; ok {
		return *iss, true
	}
	return Issue{}, false
}

// Counts reports the active and retained-resolved totals.
func (t *Tracker) Counts() (active, resolved int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active), len(t.resolved)
}
