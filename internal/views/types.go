// Package views holds the per-stage caches of the shared dataset and the
// typed records that flow between them. One ViewState exists per pipeline
// stage; all mutation goes through the Store so the declared-data-type
// invariant can be enforced in one place.
package views

import "time"

// View identifies one stage-scoped cache of the shared dataset.
type View string

const (
	ViewDiscover View = "discover"
	ViewResearch View = "research"
	ViewQualify  View = "qualify"
	ViewOutreach View = "outreach"
	ViewReport   View = "report"

	// ViewGlobal is a pseudo-view used by cross-cutting validation rules.
	// It never holds cached data.
	ViewGlobal View = "global"
)

// AllViews lists the concrete (data-holding) views in pipeline order.
// The order doubles as the global lock order for implementations that
// shard the store lock per view.
var AllViews = []View{ViewDiscover, ViewResearch, ViewQualify, ViewOutreach, ViewReport}

// Known reports whether v names a concrete view.
func Known(v View) bool {
	for _, k := range AllViews {
		if k == v {
			return true
		}
	}
	return false
}

// DataType names one collection of records cached in a view.
type DataType string

const (
	DataOrganizations DataType = "organizations"
	DataContacts      DataType = "contacts"
	DataLeads         DataType = "leads"
	DataScores        DataType = "scores"
	DataActivities    DataType = "activities"
)

// EntityID is the stable identifier of a record across views.
type EntityID string

// Record is the typed unit cached in a view. Fields carries the per-data-type
// payload; Score surfaces the one numeric field that downstream views compare
// for business-logic consistency.
type Record struct {
	ID         EntityID
	Fields     map[string]interface{}
	Score      float64
	SourceView View
	UpdatedAt  time.Time
}

// Clone returns a deep copy so snapshots never alias live store state.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Collection is one data type's keyed record set inside a view.
type Collection map[EntityID]Record

// Clone deep-copies the collection.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for id, rec := range c {
		out[id] = rec.Clone()
	}
	return out
}

// IDSet is a set of active entity IDs.
type IDSet map[EntityID]struct{}

// Clone copies the set.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Contains reports membership.
func (s IDSet) Contains(id EntityID) bool {
	_, ok := s[id]
	return ok
}
