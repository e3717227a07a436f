// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package invalidator implements the property-invalidator substrate
// (spec.md §8's "testable properties"): a static table of named
// boolean properties, each registered true at init, each with a
// condition under which it is no longer guaranteed to hold. The two
// properties spec.md names are grounded directly on the original
// implementation's scorep_properties.c, which registers a small fixed
// table of such properties at measurement init and exposes a single
// SCOREP_InvalidateProperty(property) call that flips one's
// "invalidated" bit in place, never re-registers it.
package invalidator

import (
	"fmt"
	"sync"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
)

// Property ids, matching the original's scorep_properties.c naming.
const (
	MPICommunicationComplete    = "MPI_COMMUNICATION_COMPLETE"
	ThreadForkJoinEventComplete = "THREAD_FORK_JOIN_EVENT_COMPLETE"
)

// mpiEvents are the event types whose suppression (recording disabled)
// means MPI_COMMUNICATION_COMPLETE can no longer be guaranteed: every
// point-to-point, collective, and one-sided RMA event type, since a
// missed one leaves the communication record incomplete.
var mpiEvents = map[substrate.EventType]bool{
	substrate.EventMPISend:               true,
	substrate.EventMPIRecv:               true,
	substrate.EventMPIISend:              true,
	substrate.EventMPIIRecv:              true,
	substrate.EventMPICollectiveBegin:    true,
	substrate.EventMPICollectiveEnd:      true,
	substrate.EventRMAWinCreate:          true,
	substrate.EventRMAWinDestroy:         true,
	substrate.EventRMACollectiveBegin:    true,
	substrate.EventRMACollectiveEnd:      true,
	substrate.EventRMAGroupSync:          true,
	substrate.EventRMARequestLock:        true,
	substrate.EventRMAAcquireLock:        true,
	substrate.EventRMATryLock:            true,
	substrate.EventRMAReleaseLock:        true,
	substrate.EventRMASync:               true,
	substrate.EventRMAWaitChange:         true,
	substrate.EventRMAPut:                true,
	substrate.EventRMAGet:                true,
	substrate.EventRMAAtomic:             true,
	substrate.EventRMAOpCompleteBlocking: true,
	substrate.EventRMAOpCompleteNonBlocking: true,
	substrate.EventRMAOpTest:             true,
	substrate.EventRMAOpCompleteRemote:   true,
}

// forkJoinEvents are the event types whose suppression means
// THREAD_FORK_JOIN_EVENT_COMPLETE can no longer be guaranteed. The
// fork/join transitions themselves (thread.Model's OnFork/OnTeamBegin/
// OnTeamEnd/OnJoin) are not substrate events in this model; the
// acquire/release lock pair is the closest event-typed proxy for a
// team's internal synchronization completing.
var forkJoinEvents = map[substrate.EventType]bool{
	substrate.EventThreadAcquireLock: true,
	substrate.EventThreadReleaseLock: true,
}

// Substrate is the property-invalidator: it owns no event callbacks,
// only the MgmtInvalidateProperty management hook the dispatcher calls
// when a would-be event is suppressed because recording is disabled.
type Substrate struct {
	mu         sync.Mutex
	properties *definition.Table[definition.PropertyKey]
	handles    map[string]arena.SeqHandle
}

// New registers every named property, true and not invalidated, against
// properties (spec.md §4.12 step 14, "register property definitions").
func New(properties *definition.Table[definition.PropertyKey]) *Substrate {
	s := &Substrate{
		properties: properties,
		handles:    make(map[string]arena.SeqHandle),
	}
	defs := []definition.PropertyKey{
		{ID: MPICommunicationComplete, Condition: "all MPI/RMA events recorded", Initial: true},
		{ID: ThreadForkJoinEventComplete, Condition: "all thread lock events recorded", Initial: true},
	}
	for _, d := range defs {
		h, _ := properties.Define(d)
		s.handles[d.ID] = h
	}
	return s
}

func (s *Substrate) Name() string { return "invalidator" }

func (s *Substrate) EventCallbacks() map[substrate.EventType]substrate.EventCallback {
	return nil
}

func (s *Substrate) ManagementHooks() map[substrate.ManagementHook]func(args ...any) (any, error) {
	return map[substrate.ManagementHook]func(args ...any) (any, error){
		substrate.MgmtInvalidateProperty: s.onInvalidateProperty,
	}
}

// Requirement places no demands on the substrate table.
func (s *Substrate) Requirement(flag substrate.RequirementFlag) int64 { return 0 }

// onInvalidateProperty is called with the EventType of an event
// suppressed while recording was disabled. Event types outside the
// classified sets leave every property untouched.
func (s *Substrate) onInvalidateProperty(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("invalidator: invalidate_property expects (EventType), got %d args", len(args))
	}
	et, ok := args[0].(substrate.EventType)
	if !ok {
		return nil, fmt.Errorf("invalidator: invalidate_property: arg 0 is not a substrate.EventType")
	}

	switch {
	case mpiEvents[et]:
		return nil, s.invalidate(MPICommunicationComplete)
	case forkJoinEvents[et]:
		return nil, s.invalidate(ThreadForkJoinEventComplete)
	}
	return nil, nil
}

// invalidate flips the named property's Invalidated bit in place via
// Table.Set, mirroring SCOREP_InvalidateProperty's direct dereference
// of the property definition it already holds a handle to.
func (s *Substrate) invalidate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.handles[id]
	if !ok {
		return nil
	}
	key, ok := s.properties.Get(handle)
	if !ok || key.Invalidated {
		return nil
	}
	key.Invalidated = true
	return s.properties.Set(handle, key)
}

// Invalidated reports whether the named property has been invalidated,
// for reporting at write-out (spec.md §8).
func (s *Substrate) Invalidated(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.handles[id]
	if !ok {
		return false
	}
	key, ok := s.properties.Get(handle)
	return ok && key.Invalidated
}
