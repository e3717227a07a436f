// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package substrate implements the event fan-out table (C10): two
// NULL-terminated callback arrays per substrate — event callbacks keyed
// by event type, and lifecycle ("management") callbacks keyed by
// management hook — folded across every registered substrate at init.
package substrate

import (
	"fmt"
	"sync"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/clock"
	"github.com/antimetal/scorep-core/pkg/measurement/location"
	"github.com/antimetal/scorep-core/pkg/measurement/metric"
)

// EventType enumerates the event-callback table's kinds, one per
// public entry point in spec.md §6 whose shape is
// "location → timestamp → (metric read) → substrate fan-out".
type EventType int

const (
	EventEnterRegion EventType = iota
	EventExitRegion
	EventMPISend
	EventMPIRecv
	EventMPIISend
	EventMPIIRecv
	EventMPICollectiveBegin
	EventMPICollectiveEnd
	EventRMAWinCreate
	EventRMAWinDestroy
	EventRMACollectiveBegin
	EventRMACollectiveEnd
	EventRMAGroupSync
	EventRMARequestLock
	EventRMAAcquireLock
	EventRMATryLock
	EventRMAReleaseLock
	EventRMASync
	EventRMAWaitChange
	EventRMAPut
	EventRMAGet
	EventRMAAtomic
	EventRMAOpCompleteBlocking
	EventRMAOpCompleteNonBlocking
	EventRMAOpTest
	EventRMAOpCompleteRemote
	EventThreadAcquireLock
	EventThreadReleaseLock
	EventTriggerCounterInt64
	EventTriggerCounterUint64
	EventTriggerCounterDouble
	EventTriggerParameterInt64
	EventTriggerParameterUint64
	EventTriggerParameterString
	EventAddAttribute
	EventAddLocationProperty
	EventEnterRewindRegion
	EventExitRewindRegion
	EventMarker

	eventTypeCount
)

// Record is the common envelope every event callback receives. Not
// every field is populated for every EventType — e.g. Region is unset
// for MPI point-to-point events, Bytes is unset for ENTER_REGION.
type Record struct {
	Type      EventType
	Location  *location.Location
	Timestamp clock.Ticks
	Region    arena.SeqHandle
	Metrics   []metric.Value

	Rank, Peer int
	Comm       arena.SeqHandle
	Tag        int
	Bytes      uint64
	ReqID      uint64

	Counter   arena.SeqHandle
	IntValue  int64
	UintValue uint64
	DblValue  float64
	StrValue  string

	LockID uint32
	Order  uint32
}

// EventCallback handles one fan-out slot. Returning an error does not
// stop fan-out to later slots — spec.md's straight-line loop stops only
// at the NULL terminator, never on a callback error.
type EventCallback func(rec Record) error

// ManagementHook enumerates the lifecycle callback table's kinds.
type ManagementHook int

const (
	MgmtInitSubstrate ManagementHook = iota
	MgmtFinalizeSubstrate
	MgmtOnLocationCreation
	MgmtOnLocationDeletion
	MgmtOnCPULocationActivation
	MgmtOnCPULocationDeactivation
	MgmtCoreTaskCreate
	MgmtCoreTaskComplete
	MgmtWriteData
	MgmtPreUnifySubstrate
	MgmtNewDefinitionHandle
	MgmtEnsureGlobalID
	MgmtAddAttribute
	MgmtLeakedMemory
	MgmtGetRequirement

	// MgmtInvalidateProperty is run by the dispatcher whenever recording
	// is disabled and an event that would have carried an invalidating
	// condition is suppressed instead of dispatched. Called with the
	// suppressed Record's EventType. A property-invalidator substrate is
	// the only substrate expected to register this hook.
	MgmtInvalidateProperty

	mgmtHookCount
)

// RequirementFlag names one of the substrate requirement bits folded
// over every registered substrate at init.
type RequirementFlag int

const (
	RequirementEventIsConsumed RequirementFlag = iota
	RequirementNeedsMetrics
	RequirementIsSignalSafe
)

// FoldOp is how a requirement flag is folded across substrates.
type FoldOp int

const (
	FoldAnd FoldOp = iota
	FoldOr
	FoldNone
)

// Substrate is a consumer of the event stream: a trace writer, profile
// writer, property invalidator, or external plugin. It supplies its own
// callback slots; the Table packs them into the NULL-terminated arrays.
type Substrate interface {
	Name() string
	EventCallbacks() map[EventType]EventCallback
	ManagementHooks() map[ManagementHook]func(args ...any) (any, error)
	Requirement(flag RequirementFlag) int64
}

// Table holds every registered substrate's callback slots, packed
// event-kind-major the way the C implementation packs a fixed-size
// NULL-terminated array per event kind.
type Table struct {
	mu         sync.RWMutex
	substrates []Substrate
	eventCBs   [eventTypeCount][]EventCallback
	mgmtCBs    [mgmtHookCount][]func(args ...any) (any, error)
}

// NewTable creates an empty fan-out table.
func NewTable() *Table {
	return &Table{}
}

// Register adds a substrate, packs its callback slots into the table's
// per-event and per-hook arrays in registration order, and runs the
// substrate's own MgmtInitSubstrate hook, if it has one, once
// registration is visible to other callers.
func (t *Table) Register(s Substrate) error {
	hooks := s.ManagementHooks()

	t.mu.Lock()
	t.substrates = append(t.substrates, s)
	for et, cb := range s.EventCallbacks() {
		t.eventCBs[et] = append(t.eventCBs[et], cb)
	}
	for hook, cb := range hooks {
		t.mgmtCBs[hook] = append(t.mgmtCBs[hook], cb)
	}
	t.mu.Unlock()

	if initHook, ok := hooks[MgmtInitSubstrate]; ok {
		if _, err := initHook(); err != nil {
			return fmt.Errorf("substrate: %q init hook: %w", s.Name(), err)
		}
	}
	return nil
}

// FinalizeAll runs every registered substrate's own MgmtFinalizeSubstrate
// hook, if it has one, in registration order, collecting the first error.
func (t *Table) FinalizeAll() error {
	t.mu.RLock()
	substrates := make([]Substrate, len(t.substrates))
	copy(substrates, t.substrates)
	t.mu.RUnlock()

	var firstErr error
	for _, s := range substrates {
		finalizeHook, ok := s.ManagementHooks()[MgmtFinalizeSubstrate]
		if !ok {
			continue
		}
		if _, err := finalizeHook(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("substrate: %q finalize hook: %w", s.Name(), err)
		}
	}
	return firstErr
}

// EventIsConsumed reports whether slot 0 of the named event kind is
// non-NULL — adapters use this to short-circuit expensive argument
// computation before building a Record at all.
func (t *Table) EventIsConsumed(et EventType) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.eventCBs[et]) > 0
}

// Dispatch fans rec out to every substrate registered for its event
// type, in a straight-line loop; a callback error is collected but does
// not stop the loop, matching the "stop only at NULL" contract.
func (t *Table) Dispatch(rec Record) error {
	t.mu.RLock()
	cbs := t.eventCBs[rec.Type]
	t.mu.RUnlock()

	var firstErr error
	for _, cb := range cbs {
		if err := cb(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunManagementHook invokes every registered callback for hook, in
// registration order, collecting the first error and the last non-nil
// result.
func (t *Table) RunManagementHook(hook ManagementHook, args ...any) (any, error) {
	t.mu.RLock()
	cbs := t.mgmtCBs[hook]
	t.mu.RUnlock()

	var result any
	var firstErr error
	for _, cb := range cbs {
		r, err := cb(args...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if r != nil {
			result = r
		}
	}
	return result, firstErr
}

// FoldRequirement folds flag across every registered substrate using
// op, matching spec.md's "substrate requirement flags are folded
// (AND/OR/NONE) over all substrates at init."
func (t *Table) FoldRequirement(flag RequirementFlag, op FoldOp) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.substrates) == 0 {
		return 0
	}
	switch op {
	case FoldAnd:
		result := int64(-1)
		for _, s := range t.substrates {
			result &= s.Requirement(flag)
		}
		return result
	case FoldOr:
		var result int64
		for _, s := range t.substrates {
			result |= s.Requirement(flag)
		}
		return result
	default: // FoldNone
		return t.substrates[0].Requirement(flag)
	}
}

// All returns every registered substrate, in registration order.
func (t *Table) All() []Substrate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Substrate, len(t.substrates))
	copy(out, t.substrates)
	return out
}
