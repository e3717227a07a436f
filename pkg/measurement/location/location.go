// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package location implements the measurement runtime's location model
// (C5): the uniquely identifiable event streams every thread, GPU
// stream, or metric source writes into.
package location

import (
	"fmt"
	"sync"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/clock"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
)

// Type classifies a Location's event stream.
type Type int

const (
	TypeCPUThread Type = iota
	TypeGPU
	TypeMetric
)

func (t Type) String() string {
	switch t {
	case TypeCPUThread:
		return "cpu_thread"
	case TypeGPU:
		return "gpu"
	case TypeMetric:
		return "metric"
	default:
		return "unknown"
	}
}

// Location is a single event stream: one per OS thread that has entered
// the measurement API, plus one per GPU stream or metric source the
// runtime tracks on its behalf.
type Location struct {
	mu sync.Mutex

	id        uint32 // process-local, dense, assigned at creation
	typ       Type
	defHandle arena.SeqHandle
	epoch     *clock.Epoch

	arenas *arena.KindSet

	substrateSlots []any
	subsystemData  []any

	parent *Location
	next   *Location // intrusive, owned by Manager's list mutex

	globalID    uint64
	hasGlobalID bool
}

// ID returns the process-local, dense location id assigned at creation.
func (l *Location) ID() uint32 { return l.id }

// Type returns the location's stream classification.
func (l *Location) Type() Type { return l.typ }

// DefinitionHandle returns the handle of this location's Location
// definition in the registry.
func (l *Location) DefinitionHandle() arena.SeqHandle { return l.defHandle }

// Parent returns the location this one was forked/created from, or nil
// for a root location.
func (l *Location) Parent() *Location { return l.parent }

// Arenas returns the location's per-memory-type page managers (C2).
func (l *Location) Arenas() *arena.KindSet { return l.arenas }

// RecordTimestamp enforces the per-location monotonicity contract
// (spec.md §4.3/§4.5: "last recorded timestamp (monotonic guard)") and
// stores t as the new last-seen timestamp. A regression is fatal.
func (l *Location) RecordTimestamp(t clock.Ticks) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch.CheckMonotonic(t)
}

// SubstrateSlot returns the opaque per-substrate slot at index id, or
// nil if nothing has been stored there yet; only SetSubstrateSlot grows
// the slot array. Substrate ids are assigned at registration time by C10.
func (l *Location) SubstrateSlot(id int) any {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id >= len(l.substrateSlots) {
		return nil
	}
	return l.substrateSlots[id]
}

// SetSubstrateSlot stores v in the per-substrate slot at index id.
func (l *Location) SetSubstrateSlot(id int, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id >= len(l.substrateSlots) {
		grown := make([]any, id+1)
		copy(grown, l.substrateSlots)
		l.substrateSlots = grown
	}
	l.substrateSlots[id] = v
}

// SubsystemData returns the per-subsystem slot at index id, one per
// registered subsystem, sized at creation time (spec.md's "flexible
// array of per-subsystem data").
func (l *Location) SubsystemData(id int) any {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id >= len(l.subsystemData) {
		return nil
	}
	return l.subsystemData[id]
}

// SetSubsystemData stores v in the per-subsystem slot at index id.
func (l *Location) SetSubsystemData(id int, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id >= len(l.subsystemData) {
		return
	}
	l.subsystemData[id] = v
}

// GlobalID returns the 64-bit composite (thread_local_id<<32 | rank)
// global location id, and whether it has been assigned yet. It is
// assigned lazily at first flush or finalize because it requires the
// MPP rank, unavailable before MPP init (spec.md §4.5).
func (l *Location) GlobalID() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.globalID, l.hasGlobalID
}

// AssignGlobalID assigns the location's global id exactly once.
// Reassigning with a different value is a programmer error.
func (l *Location) AssignGlobalID(threadLocalID uint32, rank uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uint64(threadLocalID)<<32 | uint64(rank)
	if l.hasGlobalID && l.globalID != id {
		return fmt.Errorf("location: global id already assigned (%d), cannot reassign to %d", l.globalID, id)
	}
	l.globalID = id
	l.hasGlobalID = true
	return nil
}
