// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package location

import (
	"fmt"
	"sync"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/clock"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
)

// InitHook runs once per location, in subsystem-registration order, to
// let a subsystem set up its per-location state. Registering one from
// the runtime layer is also how a substrate's on-location-creation
// management hook gets wired in without this package importing substrate.
type InitHook func(*Location)

// DeleteHook runs once per location removed via Delete, in
// registration order.
type DeleteHook func(*Location)

type deferredInit struct {
	loc    *Location
	parent *Location
}

// Manager owns the process-wide location list, the deferred-init queue
// used before the runtime finishes booting, and the two singleton
// accessors for per-process and per-host metric locations (spec.md
// §4.5: "acquired through a dedicated locked accessor").
type Manager struct {
	mu sync.Mutex

	alloc    *arena.Allocator
	registry *definition.Registry

	nextID uint32
	head   *Location
	tail   *Location

	deferred     bool
	deferredList []deferredInit
	initHooks    []InitHook
	deleteHooks  []DeleteHook

	numSubsystems int

	processMetrics *Location
	hostMetrics    *Location
}

// NewManager creates a Manager. numSubsystems sizes every location's
// per-subsystem data slice at creation time.
func NewManager(alloc *arena.Allocator, registry *definition.Registry, numSubsystems int) *Manager {
	return &Manager{
		alloc:         alloc,
		registry:      registry,
		numSubsystems: numSubsystems,
		deferred:      true,
	}
}

// RegisterInitHook appends a subsystem per-location init hook, run in
// registration order for every subsequently-created location (and for
// already-created locations once FlushDeferred runs).
func (m *Manager) RegisterInitHook(h InitHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initHooks = append(m.initHooks, h)
}

// Create implements the four-step location-creation protocol from
// spec.md §4.5:
//  1. Allocate the Location plus its per-subsystem slot array.
//  2. Register a Location definition, cross-linked to the new Location.
//  3. Append to the global location list under m.mu.
//  4. Either run init hooks immediately, or queue for deferred init.
func (m *Manager) Create(typ Type, parent *Location, name string) (*Location, error) {
	m.mu.Lock()

	nameHandle, err := m.registry.Strings.Define(name)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	id := m.nextID
	m.nextID++

	loc := &Location{
		id:            id,
		typ:           typ,
		epoch:         clock.NewEpoch(),
		arenas:        arena.NewKindSet(m.alloc),
		parent:        parent,
		subsystemData: make([]any, m.numSubsystems),
	}

	var parentHandle arena.SeqHandle = definition.NoSeqHandle
	if parent != nil {
		parentHandle = parent.defHandle
	}
	defHandle, _ := m.registry.Locations.Define(definition.LocationKey{
		GlobalID: uint64(id), // provisional; real global id assigned later via AssignGlobalID
		Parent:   parentHandle,
		Name:     nameHandle,
		Type:     definition.LocationType(typ),
	})
	loc.defHandle = defHandle

	if m.tail == nil {
		m.head = loc
	} else {
		m.tail.next = loc
	}
	m.tail = loc

	deferred := m.deferred
	hooks := append([]InitHook(nil), m.initHooks...)
	if deferred {
		m.deferredList = append(m.deferredList, deferredInit{loc: loc, parent: parent})
	}
	m.mu.Unlock()

	if !deferred {
		for _, hook := range hooks {
			hook(loc)
		}
	}
	return loc, nil
}

// FlushDeferred runs every registered init hook, in registration order,
// against every location created while initialization was still
// deferred, then switches the manager to immediate-init mode. This
// mirrors spec.md §4.12 step 11: locations created before the thread
// model and subsystems finish booting get their hooks run once
// everything is ready.
func (m *Manager) FlushDeferred() {
	m.mu.Lock()
	pending := m.deferredList
	hooks := append([]InitHook(nil), m.initHooks...)
	m.deferredList = nil
	m.deferred = false
	m.mu.Unlock()

	for _, d := range pending {
		for _, hook := range hooks {
			hook(d.loc)
		}
	}
}

// RegisterDeleteHook appends a hook run, in registration order, for
// every location passed to Delete.
func (m *Manager) RegisterDeleteHook(h DeleteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteHooks = append(m.deleteHooks, h)
}

// Delete unlinks loc from the process-wide list and runs every
// registered delete hook against it. Locations in this fork/join model
// are otherwise permanent for the process lifetime (reused across team
// re-entries); the one caller is the runtime's finalize step, which
// deletes every location once its arenas have been freed.
func (m *Manager) Delete(loc *Location) error {
	m.mu.Lock()
	var prev *Location
	cur := m.head
	for cur != nil && cur != loc {
		prev = cur
		cur = cur.next
	}
	if cur == nil {
		m.mu.Unlock()
		return fmt.Errorf("location: delete: location %d is not in the manager's list", loc.id)
	}

	if prev == nil {
		m.head = loc.next
	} else {
		prev.next = loc.next
	}
	if m.tail == loc {
		m.tail = prev
	}
	loc.next = nil

	hooks := append([]DeleteHook(nil), m.deleteHooks...)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(loc)
	}
	return nil
}

// All returns every location currently in the process-wide list, in
// creation order.
func (m *Manager) All() []*Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Location
	for l := m.head; l != nil; l = l.next {
		out = append(out, l)
	}
	return out
}

// ProcessMetrics returns the singleton per-process-metrics location,
// creating it on first access.
func (m *Manager) ProcessMetrics() (*Location, error) {
	m.mu.Lock()
	if m.processMetrics != nil {
		l := m.processMetrics
		m.mu.Unlock()
		return l, nil
	}
	m.mu.Unlock()

	loc, err := m.Create(TypeMetric, nil, "process metrics")
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.processMetrics == nil {
		m.processMetrics = loc
	}
	existing := m.processMetrics
	m.mu.Unlock()
	return existing, nil
}

// HostMetrics returns the singleton per-host-metrics location, creating
// it on first access.
func (m *Manager) HostMetrics() (*Location, error) {
	m.mu.Lock()
	if m.hostMetrics != nil {
		l := m.hostMetrics
		m.mu.Unlock()
		return l, nil
	}
	m.mu.Unlock()

	loc, err := m.Create(TypeMetric, nil, "host metrics")
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.hostMetrics == nil {
		m.hostMetrics = loc
	}
	existing := m.hostMetrics
	m.mu.Unlock()
	return existing, nil
}
