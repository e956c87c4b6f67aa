package engine

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"viewsync/internal/flow"
	"viewsync/internal/views"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestEngine starts an engine whose ticker never fires inside a test;
// events are drained deterministically with ProcessTick.
func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	table, err := flow.NewTable(flow.DefaultMappings(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	eng := New(views.NewStore(table.DeclaredTypes()), table, cfg)
	eng.Start()
	t.Cleanup(eng.Stop)
	return eng
}

func orgRecords() []views.Record {
	now := time.Now()
	return []views.Record{
		{ID: "org-123", Fields: map[string]interface{}{"name": "Acme", "domain": "acme.example"}, Score: 0.8, UpdatedAt: now},
		{ID: "org-456", Fields: map[string]interface{}{"name": "Borealis"}, Score: 0.6, UpdatedAt: now},
	}
}

func TestSyncPropagatesAlongRoute(t *testing.T) {
	eng := newTestEngine(t, Config{})
	records := orgRecords()
	if err := eng.LoadViewSnapshot(views.ViewDiscover, views.DataOrganizations, records); err != nil {
		t.Fatal(err)
	}

	id, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, records, PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}
	eng.ProcessTick()

	res, err := eng.GetSyncStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("sync failed: %v", res.Errors)
	}
	if len(res.SyncedViews) != 1 || res.SyncedViews[0] != views.ViewResearch {
		t.Errorf("synced views = %v, want [research]", res.SyncedViews)
	}

	coll, ok := eng.Store().Records(views.ViewResearch, views.DataOrganizations)
	if !ok {
		t.Fatal("research has no organizations after sync")
	}
	got, ok := coll["org-123"]
	if !ok {
		t.Fatal("org-123 missing from research")
	}
	if got.Fields["research_status"] != "pending" {
		t.Errorf("transform not applied: %v", got.Fields)
	}
}

func TestSyncReplayIsIdempotent(t *testing.T) {
	eng := newTestEngine(t, Config{})
	records := orgRecords()

	for i := 0; i < 2; i++ {
		if _, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, records, PriorityMedium); err != nil {
			t.Fatal(err)
		}
		eng.ProcessTick()
	}

	info, err := eng.GetViewState(views.ViewResearch)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(info.ActiveEntityIDs[views.DataOrganizations]); n != 2 {
		t.Errorf("active organizations = %d, want 2 after replay", n)
	}
}

func TestHigherPriorityProcessedFirst(t *testing.T) {
	eng := newTestEngine(t, Config{})
	records := orgRecords()

	lowID, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, records, PriorityLow)
	if err != nil {
		t.Fatal(err)
	}
	critID, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, records, PriorityCritical)
	if err != nil {
		t.Fatal(err)
	}
	eng.ProcessTick()

	crit, err := eng.GetSyncStatus(critID)
	if err != nil {
		t.Fatal(err)
	}
	low, err := eng.GetSyncStatus(lowID)
	if err != nil {
		t.Fatal(err)
	}
	if crit.CompletedAt.After(low.CompletedAt) {
		t.Error("critical event completed after the low-priority event submitted earlier")
	}
}

func TestSubmitValidation(t *testing.T) {
	eng := newTestEngine(t, Config{})

	if _, err := eng.Submit(DataEvent{SourceView: "nope", Operation: OpSync, DataType: views.DataLeads, Priority: PriorityLow}); err == nil {
		t.Error("unknown source view accepted")
	}
	if _, err := eng.Submit(DataEvent{SourceView: views.ViewDiscover, Operation: "explode", DataType: views.DataLeads, Priority: PriorityLow}); err == nil {
		t.Error("unknown operation accepted")
	}
	_, err := eng.Submit(DataEvent{
		SourceView:  views.ViewDiscover,
		TargetViews: []views.View{views.ViewReport},
		Operation:   OpSync,
		DataType:    views.DataOrganizations,
		Priority:    PriorityLow,
	})
	if !errors.Is(err, flow.ErrUnroutable) {
		t.Errorf("unroutable target: got %v", err)
	}
	if _, err := eng.Submit(DataEvent{SourceView: views.ViewDiscover, Operation: OpSync, DataType: views.DataLeads, Priority: Priority(42)}); err == nil {
		t.Error("invalid priority accepted")
	}
}

func TestCancelLifecycle(t *testing.T) {
	eng := newTestEngine(t, Config{})
	records := orgRecords()

	id, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, records, PriorityMedium)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Cancel(id); err != nil {
		t.Fatalf("cancel pending event: %v", err)
	}
	res, err := eng.GetSyncStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("cancelled event reported success")
	}

	// Already terminal: cancellable no longer.
	if err := eng.Cancel(id); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("second cancel: got %v, want ErrNotCancellable", err)
	}
	if err := eng.Cancel("no-such-event"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown cancel: got %v, want ErrNotFound", err)
	}

	eng.ProcessTick()
	if _, ok := eng.Store().Records(views.ViewResearch, views.DataOrganizations); ok {
		t.Error("cancelled event still mutated the target view")
	}
}

func TestRetryThenTerminalFailure(t *testing.T) {
	table, err := flow.NewTable(flow.DefaultMappings(), nil)
	if err != nil {
		t.Fatal(err)
	}
	// A store with no declared types rejects every write, so each dispatch fails.
	eng := New(views.NewStore(nil), table, Config{TickInterval: time.Hour, MaxRetryAttempts: 2})
	eng.Start()
	t.Cleanup(eng.Stop)

	id, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, orgRecords(), PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}

	eng.ProcessTick() // attempt 1, requeued
	res, err := eng.GetSyncStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}

	eng.ProcessTick() // attempt 2, requeued
	eng.ProcessTick() // attempt 3, terminal

	m := eng.Metrics()
	if m.TotalRetried != 2 {
		t.Errorf("retried = %d, want 2", m.TotalRetried)
	}
	if m.TotalFailed != 1 {
		t.Errorf("failed = %d, want 1", m.TotalFailed)
	}
	if m.QueueDepth != 0 {
		t.Errorf("queue depth = %d, want 0", m.QueueDepth)
	}
}

func TestStopCancelsPendingAndRejectsSubmit(t *testing.T) {
	eng := newTestEngine(t, Config{})
	id, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, orgRecords(), PriorityLow)
	if err != nil {
		t.Fatal(err)
	}
	eng.Stop()

	res, err := eng.GetSyncStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("pending event reported success after stop")
	}
	if _, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, nil, PriorityLow); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("submit after stop: got %v, want ErrEngineStopped", err)
	}

	// Stop is idempotent; Cleanup will call it again.
	eng.Stop()
}

func TestUpdateDataReachesSelfAndRoutes(t *testing.T) {
	eng := newTestEngine(t, Config{})
	records := orgRecords()
	if err := eng.LoadViewSnapshot(views.ViewDiscover, views.DataOrganizations, records); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, records, PriorityHigh); err != nil {
		t.Fatal(err)
	}
	eng.ProcessTick()

	patch := []views.Record{{ID: "org-123", Fields: map[string]interface{}{"domain": "acme.io"}, Score: 0.9, UpdatedAt: time.Now()}}
	id, err := eng.UpdateData(views.ViewDiscover, views.DataOrganizations, patch, PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}
	eng.ProcessTick()

	res, err := eng.GetSyncStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("update failed: %v", res.Errors)
	}

	for _, v := range []views.View{views.ViewDiscover, views.ViewResearch} {
		coll, ok := eng.Store().Records(v, views.DataOrganizations)
		if !ok {
			t.Fatalf("%s lost its organizations", v)
		}
		if got := coll["org-123"].Fields["domain"]; got != "acme.io" {
			t.Errorf("%s domain = %v, want acme.io", v, got)
		}
	}
}

func TestCanAcceptTracksCapacity(t *testing.T) {
	eng := newTestEngine(t, Config{TierCapacity: 1, QueueCapacity: 2})

	if !eng.CanAccept(PriorityHigh) {
		t.Fatal("empty queue should accept")
	}
	if _, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, orgRecords(), PriorityHigh); err != nil {
		t.Fatal(err)
	}
	if eng.CanAccept(PriorityHigh) {
		t.Error("full tier should refuse")
	}
	if !eng.CanAccept(PriorityLow) {
		t.Error("other tier should still accept")
	}
	if eng.CanAccept(Priority(42)) {
		t.Error("invalid priority should refuse")
	}
}

func TestResultHistoryBounded(t *testing.T) {
	eng := newTestEngine(t, Config{ResultHistory: 3})
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := eng.TriggerSync(views.ViewDiscover, nil, views.DataOrganizations, orgRecords(), PriorityMedium)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
		eng.ProcessTick()
	}
	if _, err := eng.GetSyncStatus(ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest result should be pruned, got %v", err)
	}
	if _, err := eng.GetSyncStatus(ids[4]); err != nil {
		t.Errorf("newest result missing: %v", err)
	}
}
