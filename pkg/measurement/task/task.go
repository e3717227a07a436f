// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package task implements the measurement runtime's explicit task engine
// (C7): OpenMP-style task create/begin/switch/end tracking, with lazy
// allocation at first run per spec.md §4.7.
package task

import (
	"fmt"
	"sync"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
)

// ID identifies a task by its origin thread and a generation number,
// matching spec.md §4.7's "(thread_id, generation_number)".
type ID struct {
	ThreadID   uint32
	Generation uint32
}

// Task is an explicit task's runtime record. It is allocated lazily, at
// first run, from the owning location's MISC page manager rather than at
// TaskCreate time, to minimize transferring task objects across
// locations when tasks rarely migrate.
type Task struct {
	id     ID
	region arena.SeqHandle
	handle arena.MovableHandle // valid only once allocated (first run)
}

// ID returns the task's (thread_id, generation_number) identity.
func (t *Task) ID() ID { return t.id }

// Region returns the region handle associated with this task.
func (t *Task) Region() arena.SeqHandle { return t.region }

// Engine tracks, per location, the currently running task and the set
// of tasks created but not yet allocated.
type Engine struct {
	mu         sync.Mutex
	created    map[ID]*Task
	current    map[uint32]*Task // keyed by location id
	pageMgrs   map[uint32]*arena.PageManager
	substrates *substrate.Table
}

// NewEngine creates an empty task engine.
func NewEngine() *Engine {
	return &Engine{
		created:  make(map[ID]*Task),
		current:  make(map[uint32]*Task),
		pageMgrs: make(map[uint32]*arena.PageManager),
	}
}

// SetSubstrates wires the fan-out table MgmtCoreTaskCreate/Complete are
// run against. Called once, by the runtime layer, once the table exists.
func (e *Engine) SetSubstrates(substrates *substrate.Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.substrates = substrates
}

// Create implements TaskCreate(thread_id, gen): registers the task's
// identity without allocating backing memory yet, and runs
// MgmtCoreTaskCreate with the new Task.
func (e *Engine) Create(id ID, region arena.SeqHandle) *Task {
	e.mu.Lock()
	t := &Task{id: id, region: region}
	e.created[id] = t
	substrates := e.substrates
	e.mu.Unlock()

	if substrates != nil {
		_, _ = substrates.RunManagementHook(substrate.MgmtCoreTaskCreate, t)
	}
	return t
}

// Begin implements TaskBegin(region, thread_id, gen): if the task has
// not yet run, allocates it from locationPM (the location's MISC page
// manager) and switches the location's current task to it. If the caller
// did not pre-create the task via Create, Begin creates it on the fly.
func (e *Engine) Begin(locationID uint32, locationPM *arena.PageManager, id ID, region arena.SeqHandle) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.created[id]
	if !ok {
		t = &Task{id: id, region: region}
		e.created[id] = t
	}

	if !t.handle.Valid() {
		h, err := locationPM.AllocMovable(taskRecordSize)
		if err != nil {
			return nil, fmt.Errorf("task: allocating task record for %+v: %w", id, err)
		}
		t.handle = h
		e.pageMgrs[locationID] = locationPM
	}

	e.current[locationID] = t
	return t, nil
}

// taskRecordSize is the nominal backing-memory footprint of one Task
// record in the location's MISC arena: enough for the region handle and
// bookkeeping fields scorep's task struct carries.
const taskRecordSize = 16

// Switch implements TaskSwitch(task): updates the location's current
// task pointer without touching backing memory.
func (e *Engine) Switch(locationID uint32, t *Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current[locationID] = t
}

// Current returns the task currently running on locationID, if any.
func (e *Engine) Current(locationID uint32) (*Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.current[locationID]
	return t, ok
}

// End implements TaskEnd(region, task): completes and frees the task's
// backing allocation, removing it from tracking, and runs
// MgmtCoreTaskComplete with the completed Task.
func (e *Engine) End(locationID uint32, t *Task) error {
	e.mu.Lock()

	if t.handle.Valid() {
		pm, ok := e.pageMgrs[locationID]
		if ok {
			if err := pm.Rollback(t.handle); err != nil {
				// Rollback only reclaims space when this task's record was the
				// most recent allocation on its page; otherwise the space is
				// simply abandoned until the page manager is freed, which is
				// safe (just not maximally space-efficient).
				_ = err
			}
		}
	}

	delete(e.created, t.id)
	if e.current[locationID] == t {
		delete(e.current, locationID)
	}
	substrates := e.substrates
	e.mu.Unlock()

	if substrates != nil {
		_, _ = substrates.RunManagementHook(substrate.MgmtCoreTaskComplete, t)
	}
	return nil
}
