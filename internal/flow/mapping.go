package flow

import (
	"errors"
	"fmt"
	"time"

	"viewsync/internal/views"
)

// Mapping is one declared, directed edge between two views.
type Mapping struct {
	Source            views.View
	Target            views.View
	DataTypes         []views.DataType
	Bidirectional     bool
	RequiresTransform bool
	Transform         TransformID
	ExpectedLatency   time.Duration
	BatchSize         int
	SyncFrequency     time.Duration
}

func (m Mapping) carries(dt views.DataType) bool {
	for _, t := range m.DataTypes {
		if t == dt {
			return true
		}
	}
	return false
}

// ErrUnroutable is returned when an event names a target not reachable from
// its source for the given data type.
var ErrUnroutable = errors.New("no flow mapping for route")

// Table is the static routing table loaded at construction.
type Table struct {
	mappings []Mapping
	registry *Registry
}

// NewTable validates the edge list against the known views, data types and
// the transform registry, then builds the table. Invalid configuration is a
// hard error at startup, never a silent drop.
func NewTable(mappings []Mapping, registry *Registry) (*Table, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	expanded := make([]Mapping, 0, len(mappings))
	for i, m := range mappings {
		if !views.Known(m.Source) {
			return nil, fmt.Errorf("mapping %d: unknown source view %q", i, m.Source)
		}
		if !views.Known(m.Target) {
			return nil, fmt.Errorf("mapping %d: unknown target view %q", i, m.Target)
		}
		if m.Source == m.Target {
			return nil, fmt.Errorf("mapping %d: source and target are both %q", i, m.Source)
		}
		if len(m.DataTypes) == 0 {
			return nil, fmt.Errorf("mapping %d (%s->%s): no data types", i, m.Source, m.Target)
		}
		if m.RequiresTransform && !registry.Has(m.Transform) {
			return nil, fmt.Errorf("mapping %d (%s->%s): transform %q not registered",
				i, m.Source, m.Target, m.Transform)
		}
		expanded = append(expanded, m)
		if m.Bidirectional {
			rev := m
			rev.Source, rev.Target = m.Target, m.Source
			// Reverse legs mirror data without reapplying the forward transform.
			rev.RequiresTransform = false
			rev.Transform = ""
			rev.Bidirectional = false
			expanded = append(expanded, rev)
		}
	}
	return &Table{mappings: expanded, registry: registry}, nil
}

// Edge looks up the mapping for (source, target, dataType).
func (t *Table) Edge(source, target views.View, dt views.DataType) (Mapping, bool) {
	for _, m := range t.mappings {
		if m.Source == source && m.Target == target && m.carries(dt) {
			return m, true
		}
	}
	return Mapping{}, false
}

// Routes lists every target reachable from source for the data type.
func (t *Table) Routes(source views.View, dt views.DataType) []views.View {
	var out []views.View
	for _, m := range t.mappings {
		if m.Source == source && m.carries(dt) {
			out = append(out, m.Target)
		}
	}
	return out
}

// CheckRoute verifies every requested target is reachable. Unreachable
// targets are a configuration error surfaced to the submitter.
func (t *Table) CheckRoute(source views.View, targets []views.View, dt views.DataType) error {
	for _, target := range targets {
		if _, ok := t.Edge(source, target, dt); !ok {
			return fmt.Errorf("%w: %s->%s for %s", ErrUnroutable, source, target, dt)
		}
	}
	return nil
}

// RequiresTransform reports whether the edge demands a transformation.
func (t *Table) RequiresTransform(source, target views.View, dt views.DataType) bool {
	m, ok := t.Edge(source, target, dt)
	return ok && m.RequiresTransform
}

// Transform applies the edge's transform if one is required; pass-through
// otherwise. Pure: the input slice is never mutated.
func (t *Table) Transform(records []views.Record, source, target views.View, dt views.DataType) []views.Record {
	m, ok := t.Edge(source, target, dt)
	if !ok || !m.RequiresTransform {
		return records
	}
	return t.registry.Apply(m.Transform, records, source, target)
}

// DeclaredTypes derives, per view, the data types some edge delivers into it
// or out of it. The store uses this to enforce its cachedData invariant.
func (t *Table) DeclaredTypes() map[views.View][]views.DataType {
	seen := make(map[views.View]map[views.DataType]struct{})
	add := func(v views.View, dt views.DataType) {
		if seen[v] == nil {
			seen[v] = make(map[views.DataType]struct{})
		}
		seen[v][dt] = struct{}{}
	}
	for _, m := range t.mappings {
		for _, dt := range m.DataTypes {
			add(m.Source, dt)
			add(m.Target, dt)
		}
	}
	out := make(map[views.View][]views.DataType, len(seen))
	for v, set := range seen {
		for dt := range set {
			out[v] = append(out[v], dt)
		}
	}
	return out
}

// Linked lists every (source, target, dataType) triple in the table, used by
// the cross-view validation rules.
func (t *Table) Linked() []Mapping {
	out := make([]Mapping, len(t.mappings))
	copy(out, t.mappings)
	return out
}

// DefaultMappings is the standard pipeline: discover feeds research, research
// feeds qualify, qualify feeds outreach, and outreach feeds report, with
// scores flowing back from qualify to research for drift checks.
func DefaultMappings() []Mapping {
	return []Mapping{
		{
			Source:            views.ViewDiscover,
			Target:            views.ViewResearch,
			DataTypes:         []views.DataType{views.DataOrganizations, views.DataContacts},
			RequiresTransform: true,
			Transform:         TransformOrgEnrich,
			ExpectedLatency:   200 * time.Millisecond,
			BatchSize:         50,
			SyncFrequency:     5 * time.Second,
		},
		{
			Source:            views.ViewResearch,
			Target:            views.ViewQualify,
			DataTypes:         []views.DataType{views.DataLeads, views.DataScores},
			RequiresTransform: true,
			Transform:         TransformLeadQualify,
			ExpectedLatency:   200 * time.Millisecond,
			BatchSize:         50,
			SyncFrequency:     5 * time.Second,
		},
		{
			Source:            views.ViewQualify,
			Target:            views.ViewOutreach,
			DataTypes:         []views.DataType{views.DataLeads, views.DataActivities},
			RequiresTransform: true,
			Transform:         TransformScoreRollup,
			ExpectedLatency:   500 * time.Millisecond,
			BatchSize:         25,
			SyncFrequency:     10 * time.Second,
		},
		{
			Source:            views.ViewOutreach,
			Target:            views.ViewReport,
			DataTypes:         []views.DataType{views.DataLeads, views.DataActivities},
			RequiresTransform: true,
			Transform:         TransformReportFlatten,
			ExpectedLatency:   time.Second,
			BatchSize:         100,
			SyncFrequency:     30 * time.Second,
		},
		{
			Source:          views.ViewQualify,
			Target:          views.ViewResearch,
			DataTypes:       []views.DataType{views.DataScores},
			ExpectedLatency: time.Second,
			BatchSize:       100,
			SyncFrequency:   30 * time.Second,
		},
	}
}
