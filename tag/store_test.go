package tag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/telemetry"
)

type recordingNotifier struct {
	mu    sync.Mutex
	snaps []Snapshot
	// onNotify runs inside Notify; used to prove no lock is held.
	onNotify func(Snapshot)
}

func (n *recordingNotifier) Notify(s Snapshot) {
	if n.onNotify != nil {
		n.onNotify(s)
	}
	n.mu.Lock()
	n.snaps = append(n.snaps, s)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.snaps)
}

func (n *recordingNotifier) last() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snaps[len(n.snaps)-1]
}

func newTestStore(t *testing.T, cfgs ...Config) (*Store, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	s := NewStore(StoreConfig{Notifier: n, Logger: logging.Nop(), Metrics: telemetry.NewMetrics()})
	for _, cfg := range cfgs {
		if err := s.Create(cfg); err != nil {
			t.Fatalf("Create(%s) error: %v", cfg.ID, err)
		}
	}
	return s, n
}

// --- Unit Tests ---

func TestStore_Create(t *testing.T) {
	s, _ := newTestStore(t, Config{ID: "T1", ProcessIDs: []string{"P1"}, EquipmentIDs: []string{"E1"}})

	if err := s.Create(Config{ID: "T1"}); !errors.Is(err, errors.ErrCodeConflict) {
		t.Errorf("duplicate Create error = %v, want CONFLICT", err)
	}
	if err := s.Create(Config{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("empty id error = %v, want INVALID_INPUT", err)
	}

	snap, err := s.Get("T1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if snap.Accessible() || !snap.Quality.Has(FlagUninitialized) {
		t.Errorf("new tag should be UNINITIALIZED, got %v", snap.Quality)
	}
	if snap.Mode != ModeOperational {
		t.Errorf("Mode = %s, want OPERATIONAL", snap.Mode)
	}
	if _, ok := snap.ProcessStatus["P1"]; !ok {
		t.Error("declared process ancestor missing from status map")
	}
	if got := s.TagsFor(entity.KindEquipment, "E1"); len(got) != 1 || got[0] != "T1" {
		t.Errorf("TagsFor(E1) = %v", got)
	}
}

func TestStore_ApplyErrors(t *testing.T) {
	s, n := newTestStore(t, Config{ID: "T1"})
	ctx := context.Background()

	if _, err := s.Apply(ctx, nil); !errors.Is(err, errors.ErrCodePrecondition) {
		t.Errorf("nil update error = %v, want PRECONDITION", err)
	}
	if _, err := s.Apply(ctx, &Update{TagID: "nope", ServerTimestamp: at(1)}); !errors.IsNotFound(err) {
		t.Errorf("unknown tag error = %v, want NOT_FOUND", err)
	}
	if n.count() != 0 {
		t.Error("failed applies must not notify")
	}
}

func TestStore_ApplyAcceptedAndRejected(t *testing.T) {
	s, n := newTestStore(t, Config{ID: "T1"})
	ctx := context.Background()

	ok, err := s.Apply(ctx, &Update{TagID: "T1", Value: 21.5, ValueDescription: "warm", ServerTimestamp: at(200), Simulated: true})
	if err != nil || !ok {
		t.Fatalf("Apply = %v, %v; want accepted", ok, err)
	}
	if n.count() != 1 {
		t.Fatalf("notified %d times, want 1", n.count())
	}
	snap := n.last()
	if snap.Value != 21.5 || snap.ValueDescription != "warm" || !snap.Simulated || !snap.Accessible() {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	// Out of order: older server timestamp.
	ok, err = s.Apply(ctx, &Update{TagID: "T1", Value: 0.0, ServerTimestamp: at(100)})
	if err != nil || ok {
		t.Fatalf("older update = %v, %v; want rejected without error", ok, err)
	}
	if n.count() != 1 {
		t.Error("rejected update must not notify")
	}
	got, _ := s.Get("T1")
	if got.Value != 21.5 || !got.ServerTimestamp.Equal(at(200)) {
		t.Errorf("rejected update changed the record: %+v", got)
	}
}

func TestStore_RedeliveryIsIdempotent(t *testing.T) {
	s, n := newTestStore(t, Config{ID: "T1"})
	ctx := context.Background()
	u := &Update{TagID: "T1", Value: 1, ServerTimestamp: at(100), DAQTimestamp: at(50), SourceTimestamp: at(10)}

	if ok, _ := s.Apply(ctx, u); !ok {
		t.Fatal("first delivery should be accepted")
	}
	if ok, _ := s.Apply(ctx, u); ok {
		t.Error("redelivery must be rejected")
	}
	if n.count() != 1 {
		t.Errorf("notified %d times, want 1", n.count())
	}
}

func TestStore_SupervisionFlagsSurviveUpdates(t *testing.T) {
	s, _ := newTestStore(t, Config{ID: "T1", ProcessIDs: []string{"P1"}})
	ctx := context.Background()

	down := entity.Event{EntityID: "P1", Kind: entity.KindProcess, Status: entity.StatusDown, Message: "P1 down"}
	if changed, err := s.UpdateSupervision(ctx, "T1", down, RecomputeSupervision); err != nil || !changed {
		t.Fatalf("UpdateSupervision = %v, %v", changed, err)
	}

	s.Apply(ctx, &Update{TagID: "T1", Value: 5, ServerTimestamp: at(1), Quality: Invalid(FlagValueOutOfBounds, "hi")})
	snap, _ := s.Get("T1")
	if !snap.Quality.Has(FlagProcessDown) {
		t.Error("PROCESS_DOWN was cleared by a value update")
	}
	if !snap.Quality.Has(FlagValueOutOfBounds) {
		t.Error("update flag missing")
	}
	if snap.Quality.Has(FlagUninitialized) {
		t.Error("UNINITIALIZED should be replaced by the first update's quality")
	}
}

func TestStore_UpdateSupervisionIgnoresUndeclared(t *testing.T) {
	s, n := newTestStore(t, Config{ID: "T1", EquipmentIDs: []string{"E1"}})
	ev := entity.Event{EntityID: "E9", Kind: entity.KindEquipment, Status: entity.StatusDown}

	changed, err := s.UpdateSupervision(context.Background(), "T1", ev, RecomputeSupervision)
	if err != nil || changed {
		t.Fatalf("UpdateSupervision = %v, %v; want unchanged", changed, err)
	}
	snap, _ := s.Get("T1")
	if snap.Quality.Has(FlagEquipmentDown) || len(snap.EquipmentStatus) != 1 {
		t.Errorf("undeclared entity changed the tag: %+v", snap)
	}
	if n.count() != 0 {
		t.Error("no snapshot expected")
	}
}

func TestStore_FullUpdateReindexes(t *testing.T) {
	s, n := newTestStore(t, Config{ID: "T1", EquipmentIDs: []string{"E1"}})
	ctx := context.Background()

	s.UpdateSupervision(ctx, "T1", entity.Event{EntityID: "E1", Kind: entity.KindEquipment, Status: entity.StatusDown, Message: "E1 down"}, RecomputeSupervision)

	ok, err := s.Apply(ctx, &Update{
		TagID:           "T1",
		ServerTimestamp: at(1),
		Full:            true,
		Name:            "boiler.temp",
		Unit:            "degC",
		Metadata:        map[string]string{"site": "north"},
		RuleExpression:  "(#100 > 5) [1]",
		EquipmentIDs:    []string{"E2"},
	})
	if err != nil || !ok {
		t.Fatalf("full update = %v, %v", ok, err)
	}

	if got := s.TagsFor(entity.KindEquipment, "E1"); len(got) != 0 {
		t.Errorf("TagsFor(E1) = %v, want empty", got)
	}
	if got := s.TagsFor(entity.KindEquipment, "E2"); len(got) != 1 {
		t.Errorf("TagsFor(E2) = %v, want [T1]", got)
	}
	snap := n.last()
	if snap.Name != "boiler.temp" || snap.Unit != "degC" || snap.Metadata["site"] != "north" || snap.RuleExpression == "" {
		t.Errorf("full update fields not copied: %+v", snap)
	}
	if snap.Quality.Has(FlagEquipmentDown) {
		t.Error("EQUIPMENT_DOWN should clear once the down ancestor is no longer declared")
	}
}

func TestStore_SnapshotIsDetached(t *testing.T) {
	s, _ := newTestStore(t, Config{ID: "T1", ProcessIDs: []string{"P1"}, Metadata: map[string]string{"a": "1"}, Alarms: []string{"A1"}})

	snap, _ := s.Get("T1")
	snap.Metadata["a"] = "mutated"
	snap.Alarms[0] = "mutated"
	snap.ProcessStatus["P1"] = entity.Event{Status: entity.StatusDown}
	snap.Quality.Set(FlagProcessDown, "mutated")

	again, _ := s.Get("T1")
	if again.Metadata["a"] != "1" || again.Alarms[0] != "A1" {
		t.Error("snapshot aliases record slices or maps")
	}
	if again.ProcessStatus["P1"].Status != "" || again.Quality.Has(FlagProcessDown) {
		t.Error("snapshot aliases supervision state")
	}
}

func TestStore_Remove(t *testing.T) {
	s, _ := newTestStore(t, Config{ID: "T1", ProcessIDs: []string{"P1"}}, Config{ID: "T2"})

	if !s.Remove("T1") || s.Remove("T1") {
		t.Error("Remove should report existence exactly once")
	}
	if _, err := s.Get("T1"); !errors.IsNotFound(err) {
		t.Errorf("Get after Remove = %v", err)
	}
	if len(s.TagsFor(entity.KindProcess, "P1")) != 0 {
		t.Error("reverse index still references removed tag")
	}
	if ids := s.IDs(); len(ids) != 1 || ids[0] != "T2" || s.Len() != 1 {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestStore_UpdateSupervisionIgnoresOlderEvent(t *testing.T) {
	s, n := newTestStore(t, Config{ID: "T1", ProcessIDs: []string{"P1"}})
	ctx := context.Background()

	tests := []struct {
		name        string
		status      entity.Status
		ts          time.Time
		wantChanged bool
		wantDown    bool
	}{
		{"down", entity.StatusDown, at(1000), true, true},
		{"running", entity.StatusRunning, at(2000), true, false},
		{"older down", entity.StatusDown, at(1500), false, false},
		{"same instant down", entity.StatusDown, at(2000), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := entity.Event{EntityID: "P1", Kind: entity.KindProcess, Status: tt.status, Message: "P1 " + string(tt.status), Timestamp: tt.ts}
			changed, err := s.UpdateSupervision(ctx, "T1", ev, RecomputeSupervision)
			if err != nil || changed != tt.wantChanged {
				t.Fatalf("UpdateSupervision = %v, %v; want %v", changed, err, tt.wantChanged)
			}
			snap, _ := s.Get("T1")
			if snap.Quality.Has(FlagProcessDown) != tt.wantDown {
				t.Errorf("PROCESS_DOWN = %v, want %v", snap.Quality.Has(FlagProcessDown), tt.wantDown)
			}
		})
	}
	if n.count() != 3 {
		t.Errorf("notified %d times, want 3", n.count())
	}
}

func TestStore_FullUpdateAfterRemoveKeepsIndexClean(t *testing.T) {
	s, _ := newTestStore(t, Config{ID: "T1", ProcessIDs: []string{"P1"}})

	// An Apply that looked the entry up before Remove ran.
	e, ok := s.lookup("T1")
	if !ok {
		t.Fatal("T1 missing")
	}
	s.Remove("T1")

	if !s.applyEntry(e, &Update{TagID: "T1", ServerTimestamp: at(1), Full: true, ProcessIDs: []string{"P2"}}) {
		t.Fatal("update on the detached entry should still pass the gate")
	}
	for _, id := range []string{"P1", "P2"} {
		if got := s.TagsFor(entity.KindProcess, id); len(got) != 0 {
			t.Errorf("TagsFor(%s) = %v, want empty after removal", id, got)
		}
	}
}

// --- Concurrency ---

func TestStore_NotifiesOutsideLock(t *testing.T) {
	s, n := newTestStore(t, Config{ID: "T1"})
	n.onNotify = func(snap Snapshot) {
		// Re-entering the store would deadlock if the write lock were held.
		if _, err := s.Get(snap.ID); err != nil {
			t.Errorf("Get from listener: %v", err)
		}
		s.Apply(context.Background(), &Update{TagID: snap.ID, ServerTimestamp: snap.ServerTimestamp})
	}

	if ok, _ := s.Apply(context.Background(), &Update{TagID: "T1", ServerTimestamp: at(1)}); !ok {
		t.Fatal("update should be accepted")
	}
}

func TestStore_ConcurrentWritersKeepNewest(t *testing.T) {
	s, _ := newTestStore(t, Config{ID: "T1"})

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Apply(context.Background(), &Update{TagID: "T1", Value: i, ServerTimestamp: at(i)})
		}(i)
	}
	wg.Wait()

	snap, _ := s.Get("T1")
	if !snap.ServerTimestamp.Equal(at(100)) || snap.Value != 100 {
		t.Errorf("final state = %v at %v, want 100", snap.Value, snap.ServerTimestamp)
	}
}

func TestStore_ConcurrentSupervisionAndUpdates(t *testing.T) {
	s, _ := newTestStore(t, Config{ID: "T1", ProcessIDs: []string{"P1"}})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Apply(ctx, &Update{TagID: "T1", Value: i, ServerTimestamp: at(i)})
		}(i)
		go func(i int) {
			defer wg.Done()
			status := entity.StatusRunning
			if i%2 == 0 {
				status = entity.StatusDown
			}
			s.UpdateSupervision(ctx, "T1", entity.Event{EntityID: "P1", Kind: entity.KindProcess, Status: status}, RecomputeSupervision)
		}(i)
	}
	wg.Wait()

	snap, _ := s.Get("T1")
	down := snap.ProcessStatus["P1"].Status == entity.StatusDown
	if snap.Quality.Has(FlagProcessDown) != down {
		t.Errorf("flag %v disagrees with status %s", snap.Quality.Has(FlagProcessDown), snap.ProcessStatus["P1"].Status)
	}
}
