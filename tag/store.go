package tag

import (
	"context"
	"maps"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/telemetry"
)

// Notifier receives a snapshot after every change to a record. It is
// called with no store lock held.
type Notifier interface {
	Notify(s Snapshot)
}

// SupervisionFunc recomputes a tag's quality from the status map of one
// entity kind. It runs under the record's write lock and reports whether
// the quality changed.
type SupervisionFunc func(kind entity.Kind, statuses map[string]entity.Event, q *Quality) bool

// StoreConfig configures a Store.
type StoreConfig struct {
	Notifier Notifier
	Logger   *logging.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
}

type entry struct {
	mu  sync.RWMutex
	rec *Record
	// removed is set under mu once the entry has left the store.
	removed bool
}

// Store holds the authoritative tag records. Each record has its own
// RWMutex; the store-level lock guards only the id map.
type Store struct {
	mu      sync.RWMutex
	records map[string]*entry

	// kind -> entity id -> tag ids
	indexMu sync.RWMutex
	index   map[entity.Kind]map[string]map[string]struct{}

	notifier Notifier
	logger   *logging.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	s := &Store{
		records:  make(map[string]*entry),
		index:    make(map[entity.Kind]map[string]map[string]struct{}),
		notifier: cfg.Notifier,
		logger:   cfg.Logger.WithComponent("tagstore"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}
	for _, kind := range entity.Kinds {
		s.index[kind] = make(map[string]map[string]struct{})
	}
	return s
}

// Create registers a new record from cfg.
func (s *Store) Create(cfg Config) error {
	if cfg.ID == "" {
		return errors.InvalidInput("tag id is required")
	}
	rec := newRecord(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[cfg.ID]; ok {
		return errors.New(errors.ErrCodeConflict, "tag "+cfg.ID+" already exists", errors.WithTagID(cfg.ID))
	}
	s.records[cfg.ID] = &entry{rec: rec}
	s.reindex(rec.ID, nil, rec)
	return nil
}

// Remove deletes a record. It reports whether the record existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	e, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.removed = true
	s.reindex(id, e.rec, nil)
	e.mu.Unlock()
	return true
}

// Get returns a snapshot of the record.
func (s *Store) Get(id string) (Snapshot, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Snapshot{}, errors.TagNotFound(id)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rec.snapshot(), nil
}

// IDs returns all tag ids, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.records))
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// TagsFor returns the ids of tags that declare entityID as an ancestor of
// the given kind, sorted.
func (s *Store) TagsFor(kind entity.Kind, entityID string) []string {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return slices.Sorted(maps.Keys(s.index[kind][entityID]))
}

// Apply runs the acceptance gate for u and, if accepted, copies the
// update onto the record and publishes a snapshot. A rejected update
// returns false with a nil error.
func (s *Store) Apply(ctx context.Context, u *Update) (accepted bool, err error) {
	if u == nil {
		return false, errors.Precondition("nil tag update")
	}
	_, span := s.tracer.StartApplySpan(ctx, u.TagID, u.Full)
	defer func() {
		telemetry.End(span, err, attribute.Bool("tag.accepted", accepted))
	}()

	e, ok := s.lookup(u.TagID)
	if !ok {
		s.metrics.IncUpdate(telemetry.UpdateFailed)
		return false, errors.TagNotFound(u.TagID)
	}
	return s.applyEntry(e, u), nil
}

func (s *Store) applyEntry(e *entry, u *Update) bool {
	e.mu.Lock()
	if !Accept(e.rec, u) {
		e.mu.Unlock()
		s.metrics.IncUpdate(telemetry.UpdateRejected)
		s.logger.Debug("update_rejected", map[string]interface{}{
			"tag":    u.TagID,
			"server": u.ServerTimestamp,
		})
		return false
	}
	var before *Record
	if u.Full {
		before = &Record{
			ProcessStatus:      e.rec.ProcessStatus,
			EquipmentStatus:    e.rec.EquipmentStatus,
			SubEquipmentStatus: e.rec.SubEquipmentStatus,
		}
	}
	applyUpdate(e.rec, u)
	if u.Full && !e.removed {
		s.reindex(e.rec.ID, before, e.rec)
	}
	snap := e.rec.snapshot()
	e.mu.Unlock()

	s.metrics.IncUpdate(telemetry.UpdateAccepted)
	s.notify(snap)
	return true
}

// UpdateSupervision records ev in the tag's status map for ev.Kind and
// lets fn recompute the quality. Events for entities the tag does not
// declare are ignored, as are events older than the one already recorded
// for that entity. A snapshot is published only if the quality
// changed.
func (s *Store) UpdateSupervision(ctx context.Context, tagID string, ev entity.Event, fn SupervisionFunc) (changed bool, err error) {
	if ev.EntityID == "" || fn == nil {
		return false, errors.Precondition("supervision update needs an entity id and a recompute function", errors.WithTagID(tagID))
	}
	_, span := s.tracer.StartSupervisionSpan(ctx, telemetry.SpanAggregate, ev.EntityID, string(ev.Kind), string(ev.Status))
	defer func() {
		telemetry.End(span, err, attribute.String("tag.id", tagID), attribute.Bool("tag.quality_changed", changed))
	}()

	e, ok := s.lookup(tagID)
	if !ok {
		return false, errors.TagNotFound(tagID)
	}

	e.mu.Lock()
	statuses := e.rec.Statuses(ev.Kind)
	prev, declared := statuses[ev.EntityID]
	if !declared {
		e.mu.Unlock()
		return false, nil
	}
	// Transitions reach the store on several goroutines; an event older
	// than the recorded one is stale.
	if !ev.Timestamp.IsZero() && ev.Timestamp.Before(prev.Timestamp) {
		e.mu.Unlock()
		s.logger.Debug("supervision_event_stale", map[string]interface{}{
			"tag":    tagID,
			"entity": ev.EntityID,
			"status": string(ev.Status),
		})
		return false, nil
	}
	statuses[ev.EntityID] = ev
	if !fn(ev.Kind, statuses, &e.rec.Quality) {
		e.mu.Unlock()
		return false, nil
	}
	snap := e.rec.snapshot()
	e.mu.Unlock()

	s.notify(snap)
	return true, nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[id]
	return e, ok
}

func (s *Store) notify(snap Snapshot) {
	if s.notifier != nil {
		s.notifier.Notify(snap)
	}
}

// reindex moves tagID's reverse-index entries from the ancestors declared
// in before to those declared in after. Either may be nil.
func (s *Store) reindex(tagID string, before, after *Record) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	for _, kind := range entity.Kinds {
		byEntity := s.index[kind]
		if before != nil {
			for id := range before.Statuses(kind) {
				delete(byEntity[id], tagID)
				if len(byEntity[id]) == 0 {
					delete(byEntity, id)
				}
			}
		}
		if after != nil {
			for id := range after.Statuses(kind) {
				if byEntity[id] == nil {
					byEntity[id] = make(map[string]struct{})
				}
				byEntity[id][tagID] = struct{}{}
			}
		}
	}
}

// applyUpdate copies the mutable fields of u onto rec. Supervision flags
// on rec survive; every other flag comes from the update.
func applyUpdate(rec *Record, u *Update) {
	rec.Value = u.Value
	rec.ValueDescription = u.ValueDescription
	rec.Quality = rec.Quality.mergeUpdate(u.Quality)
	rec.ServerTimestamp = u.ServerTimestamp
	rec.DAQTimestamp = u.DAQTimestamp
	rec.SourceTimestamp = u.SourceTimestamp
	if u.Mode != "" {
		rec.Mode = u.Mode
	}
	rec.Simulated = u.Simulated

	if !u.Full {
		return
	}
	rec.Name = u.Name
	rec.Topic = u.Topic
	rec.Unit = u.Unit
	rec.Metadata = maps.Clone(u.Metadata)
	rec.RuleExpression = u.RuleExpression
	for _, kind := range entity.Kinds {
		rec.setStatuses(kind, statusesFor(kind, u.ancestorIDs(kind), rec.Statuses(kind)))
		RecomputeSupervision(kind, rec.Statuses(kind), &rec.Quality)
	}
}
