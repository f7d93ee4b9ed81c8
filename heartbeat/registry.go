package heartbeat

import (
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
)

// Transition describes an activation or deactivation of an entity. At is
// taken from the registry clock, so transitions of one entity are ordered
// by server time even when the entity's own clock drifts.
type Transition struct {
	Entity entity.Entity
	Status entity.Status
	At     time.Time
}

// Event converts the transition into a supervision event.
func (t Transition) Event() entity.Event {
	return entity.NewEvent(t.Entity, t.Status, t.At)
}

// slot holds one entity. Its mutex serializes heartbeats for that entity
// only; the registry lock guards the map, never the entity.
type slot struct {
	mu sync.Mutex
	e  entity.Entity
}

// Registry is the per-entity liveness store.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*slot
	clock Clock
}

// NewRegistry creates an empty registry. A nil clock means time.Now.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		slots: make(map[string]*slot),
		clock: clock,
	}
}

// Now returns the registry's notion of the current time.
func (r *Registry) Now() time.Time {
	return r.clock()
}

// Register adds an entity or replaces its configuration. Liveness state of
// an already registered entity is kept.
func (r *Registry) Register(e entity.Entity) error {
	if e.ID == "" {
		return errors.InvalidInput("entity id is required")
	}
	if !e.Kind.Valid() {
		return errors.InvalidInput("invalid entity kind "+string(e.Kind), errors.WithEntityID(e.ID))
	}
	if e.AliveInterval <= 0 {
		return errors.InvalidInput("alive interval must be positive", errors.WithEntityID(e.ID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slots[e.ID]; ok {
		s.mu.Lock()
		e.Active = s.e.Active
		e.LastUpdate = s.e.LastUpdate
		s.e = e
		s.mu.Unlock()
		return nil
	}
	r.slots[e.ID] = &slot{e: e}
	return nil
}

// Remove unregisters an entity. Removing an unknown id is not an error.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.slots, id)
	r.mu.Unlock()
}

func (r *Registry) lookup(id string) (*slot, error) {
	r.mu.RLock()
	s, ok := r.slots[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.EntityNotFound(id)
	}
	return s, nil
}

// Get returns a copy of the entity.
func (r *Registry) Get(id string) (entity.Entity, error) {
	s, err := r.lookup(id)
	if err != nil {
		return entity.Entity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e, nil
}

// List returns copies of all entities sorted by id.
func (r *Registry) List() []entity.Entity {
	r.mu.RLock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	result := make([]entity.Entity, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		result = append(result, s.e)
		s.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// RecordHeartbeat marks the entity active and advances its last update to
// ts. A heartbeat older than the stored one is rejected and changes
// nothing; an inactive entity is only reactivated by a heartbeat newer
// than its last update. The returned transition is non-nil when the
// entity was inactive.
func (r *Registry) RecordHeartbeat(id string, ts time.Time) (*Transition, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ts.Before(s.e.LastUpdate) {
		return nil, nil
	}
	if s.e.Active {
		s.e.LastUpdate = ts
		return nil, nil
	}
	// Reactivation needs a strictly newer heartbeat; a redelivered one
	// would revive an entity that is already past its expiry threshold.
	if !ts.After(s.e.LastUpdate) {
		return nil, nil
	}
	s.e.LastUpdate = ts
	s.e.Active = true
	return &Transition{Entity: s.e, Status: entity.StatusRunning, At: r.clock()}, nil
}

// Start marks the entity active after a (re)connection. It always yields a
// STARTUP transition.
func (r *Registry) Start(id string, ts time.Time) (*Transition, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.e.Active = true
	if ts.After(s.e.LastUpdate) {
		s.e.LastUpdate = ts
	}
	return &Transition{Entity: s.e, Status: entity.StatusStartup, At: r.clock()}, nil
}

// Stop marks the entity inactive after a deliberate disconnect announced
// at ts. A newer ts becomes the last update, so heartbeats sent before the
// disconnect cannot reactivate the entity. The transition is non-nil only
// if the entity was active.
func (r *Registry) Stop(id string, ts time.Time) (*Transition, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ts.After(s.e.LastUpdate) {
		s.e.LastUpdate = ts
	}
	if !s.e.Active {
		return nil, nil
	}
	s.e.Active = false
	return &Transition{Entity: s.e, Status: entity.StatusStopped, At: r.clock()}, nil
}

// Expire stops the entity if, under its lock, it is still active and past
// its expiry threshold. A heartbeat that slipped in after HasExpired wins.
func (r *Registry) Expire(id string) (*Transition, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := r.clock()
	if !s.e.Expired(now) {
		return nil, nil
	}
	s.e.Active = false
	return &Transition{Entity: s.e, Status: entity.StatusDown, At: now}, nil
}

// HasExpired reports whether the entity is active and has been silent for
// longer than its alive interval plus a third.
func (r *Registry) HasExpired(id string) (bool, error) {
	s, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.Expired(r.clock()), nil
}
