// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package event implements the measurement runtime's public entry
// points (C9): enter/exit region, the MPI/RMA/thread/counter/parameter
// specializations, and the rewind and recording-control calls, each
// following the shared shape spec.md §4.9 describes: obtain the
// current location, stamp and check monotonicity, optionally sample
// strictly-synchronous metrics, fan out to every substrate.
//
// The C implementation reaches the "current location" through
// thread-local storage; callers here hold their own *thread.TPD instead
// (the Go equivalent of a per-goroutine instrumentation context), so
// every entry point takes it explicitly.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/clock"
	"github.com/antimetal/scorep-core/pkg/measurement/metric"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
	"github.com/antimetal/scorep-core/pkg/measurement/task"
	"github.com/antimetal/scorep-core/pkg/measurement/thread"
)

// Dispatcher is the measurement runtime's single entry-point surface.
// Adapters (compiler instrumentation, MPI wrappers, OpenMP runtime
// hooks, manual API calls) all go through one Dispatcher per process.
type Dispatcher struct {
	clock      *clock.Source
	substrates *substrate.Table
	tasks      *task.Engine
	metrics    *metric.Registry

	recordingMu sync.Mutex
	recording   bool

	// taskGeneration is a single counter, shared by every thread using
	// this Dispatcher, for synthesizing task.ID generation numbers when
	// callers don't manage them explicitly.
	taskGeneration atomic.Uint32
}

// New creates a Dispatcher wired to the given clock source, substrate
// fan-out table, task engine, and metric registry.
func New(clk *clock.Source, substrates *substrate.Table, tasks *task.Engine, metrics *metric.Registry) *Dispatcher {
	return &Dispatcher{clock: clk, substrates: substrates, tasks: tasks, metrics: metrics, recording: true}
}

// stampAndCheck reads the clock, enforces per-location monotonicity,
// and returns the timestamp to use for this event.
func (d *Dispatcher) stampAndCheck(tpd *thread.TPD) (clock.Ticks, error) {
	loc := tpd.Location()
	t := d.clock.Now()
	if err := loc.RecordTimestamp(t); err != nil {
		return 0, err
	}
	return t, nil
}

// sampleStrict reads every strictly-synchronous-class counter the
// location's event set covers. A nil eventSet (no metrics configured
// for this location) is not an error — it simply yields no values.
func (d *Dispatcher) sampleStrict(es *metric.EventSet) []metric.Value {
	if es == nil {
		return nil
	}
	_ = es.SampleStrict(d.metrics)
	return es.Values()
}

// dispatch fans rec out to every substrate registered for its event
// type, unless recording is disabled. While disabled, rec is still
// offered to the invalidator substrate's MgmtInvalidateProperty hook
// (the one path DisableRecording's contract carves out) so a property
// whose requisite events can no longer be emitted gets invalidated
// instead of silently going stale.
func (d *Dispatcher) dispatch(rec substrate.Record) error {
	d.recordingMu.Lock()
	recording := d.recording
	d.recordingMu.Unlock()
	if !recording {
		_, err := d.substrates.RunManagementHook(substrate.MgmtInvalidateProperty, rec.Type)
		return err
	}
	return d.substrates.Dispatch(rec)
}

// EnterRegion implements enter_region(region_handle): the 6-step shape
// from spec.md §4.9, steps 1-5 (task tracking happens for explicit
// tasks via EnterRegionWithTask, not every plain region enter).
func (d *Dispatcher) EnterRegion(tpd *thread.TPD, region arena.SeqHandle, es *metric.EventSet) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: substrate.EventEnterRegion, Location: tpd.Location(), Timestamp: t,
		Region: region, Metrics: d.sampleStrict(es),
	})
}

// ExitRegion implements exit_region(region_handle).
func (d *Dispatcher) ExitRegion(tpd *thread.TPD, region arena.SeqHandle, es *metric.EventSet) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: substrate.EventExitRegion, Location: tpd.Location(), Timestamp: t,
		Region: region, Metrics: d.sampleStrict(es),
	})
}

// LocationEnterRegion implements location_enter_region(loc, t, region):
// the non-CPU-location variant that takes an explicit, caller-supplied
// timestamp instead of sampling the clock.
func (d *Dispatcher) LocationEnterRegion(loc Locationer, t clock.Ticks, region arena.SeqHandle) error {
	if err := loc.RecordTimestamp(t); err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventEnterRegion, Timestamp: t, Region: region})
}

// LocationExitRegion implements location_exit_region(loc, t, region).
func (d *Dispatcher) LocationExitRegion(loc Locationer, t clock.Ticks, region arena.SeqHandle) error {
	if err := loc.RecordTimestamp(t); err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventExitRegion, Timestamp: t, Region: region})
}

// Locationer is the minimal surface LocationEnterRegion/LocationExitRegion
// need from a non-CPU location (a GPU stream or metric-source pseudo
// location) — just enough to check monotonicity without depending on
// the full location.Manager lifecycle.
type Locationer interface {
	RecordTimestamp(t clock.Ticks) error
}

// EnterRegionWithTask wraps EnterRegion with task.Engine tracking
// (TaskBegin), for explicit task regions.
func (d *Dispatcher) EnterRegionWithTask(tpd *thread.TPD, region arena.SeqHandle, taskID task.ID, locationPM *arena.PageManager, es *metric.EventSet) error {
	loc := tpd.Location()
	if _, err := d.tasks.Begin(loc.ID(), locationPM, taskID, region); err != nil {
		return err
	}
	return d.EnterRegion(tpd, region, es)
}

// ExitRegionWithTask wraps ExitRegion with task.Engine completion
// (TaskEnd).
func (d *Dispatcher) ExitRegionWithTask(tpd *thread.TPD, region arena.SeqHandle, es *metric.EventSet) error {
	if err := d.ExitRegion(tpd, region, es); err != nil {
		return err
	}
	loc := tpd.Location()
	if t, ok := d.tasks.Current(loc.ID()); ok {
		return d.tasks.End(loc.ID(), t)
	}
	return nil
}

// MPISend implements mpi_send(dest_rank, comm, tag, bytes).
func (d *Dispatcher) MPISend(tpd *thread.TPD, destRank int, comm arena.SeqHandle, tag int, bytes uint64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: substrate.EventMPISend, Location: tpd.Location(), Timestamp: t,
		Peer: destRank, Comm: comm, Tag: tag, Bytes: bytes,
	})
}

// MPIRecv implements mpi_recv(src_rank, comm, tag, bytes).
func (d *Dispatcher) MPIRecv(tpd *thread.TPD, srcRank int, comm arena.SeqHandle, tag int, bytes uint64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: substrate.EventMPIRecv, Location: tpd.Location(), Timestamp: t,
		Peer: srcRank, Comm: comm, Tag: tag, Bytes: bytes,
	})
}

// MPIISend implements mpi_isend(dest, comm, tag, bytes, req_id): the
// non-blocking send's request-lifecycle begin.
func (d *Dispatcher) MPIISend(tpd *thread.TPD, dest int, comm arena.SeqHandle, tag int, bytes uint64, reqID uint64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: substrate.EventMPIISend, Location: tpd.Location(), Timestamp: t,
		Peer: dest, Comm: comm, Tag: tag, Bytes: bytes, ReqID: reqID,
	})
}

// MPIIRecv implements mpi_irecv(src, comm, tag, bytes, req_id).
func (d *Dispatcher) MPIIRecv(tpd *thread.TPD, src int, comm arena.SeqHandle, tag int, bytes uint64, reqID uint64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: substrate.EventMPIIRecv, Location: tpd.Location(), Timestamp: t,
		Peer: src, Comm: comm, Tag: tag, Bytes: bytes, ReqID: reqID,
	})
}

// MPICollectiveBegin implements mpi_collective_begin(region) →
// timestamp: it dispatches an EventMPICollectiveBegin record carrying
// the collective's region (no separate ENTER_REGION record is
// dispatched) and returns the timestamp used, so the matching End call
// can report elapsed collective time.
func (d *Dispatcher) MPICollectiveBegin(tpd *thread.TPD, region arena.SeqHandle, es *metric.EventSet) (clock.Ticks, error) {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return 0, err
	}
	if err := d.dispatch(substrate.Record{
		Type: substrate.EventMPICollectiveBegin, Location: tpd.Location(), Timestamp: t,
		Region: region, Metrics: d.sampleStrict(es),
	}); err != nil {
		return 0, err
	}
	return t, nil
}

// MPICollectiveEnd implements mpi_collective_end(region, comm, root,
// type, bytes_sent, bytes_recv): it dispatches the EventMPICollectiveEnd
// record closing the collective (no separate EXIT_REGION record is
// dispatched).
func (d *Dispatcher) MPICollectiveEnd(tpd *thread.TPD, region arena.SeqHandle, comm arena.SeqHandle, root int, bytesSent, bytesRecv uint64, es *metric.EventSet) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: substrate.EventMPICollectiveEnd, Location: tpd.Location(), Timestamp: t,
		Region: region, Comm: comm, Rank: root, Bytes: bytesSent + bytesRecv, Metrics: d.sampleStrict(es),
	})
}

// rmaEvent is the shared implementation behind every RMA entry point:
// each follows the location → timestamp → fan-out shape with no
// strictly-synchronous metric read (RMA events are not enter/exit
// pairs), except that reuseTimestamp, when set, carries forward the
// last stamped timestamp instead of sampling the clock afresh, per
// spec.md §4.9's lock/RMA carve-out.
func (d *Dispatcher) rmaEvent(tpd *thread.TPD, et substrate.EventType, win arena.SeqHandle, reuseTimestamp *clock.Ticks) error {
	var t clock.Ticks
	if reuseTimestamp != nil {
		t = *reuseTimestamp
	} else {
		var err error
		t, err = d.stampAndCheck(tpd)
		if err != nil {
			return err
		}
	}
	return d.dispatch(substrate.Record{Type: et, Location: tpd.Location(), Timestamp: t, Region: win})
}

func (d *Dispatcher) RMAWinCreate(tpd *thread.TPD, win arena.SeqHandle) error {
	return d.rmaEvent(tpd, substrate.EventRMAWinCreate, win, nil)
}
func (d *Dispatcher) RMAWinDestroy(tpd *thread.TPD, win arena.SeqHandle) error {
	return d.rmaEvent(tpd, substrate.EventRMAWinDestroy, win, nil)
}
func (d *Dispatcher) RMACollectiveBegin(tpd *thread.TPD, win arena.SeqHandle) error {
	return d.rmaEvent(tpd, substrate.EventRMACollectiveBegin, win, nil)
}
func (d *Dispatcher) RMACollectiveEnd(tpd *thread.TPD, win arena.SeqHandle) error {
	return d.rmaEvent(tpd, substrate.EventRMACollectiveEnd, win, nil)
}
func (d *Dispatcher) RMAGroupSync(tpd *thread.TPD, win arena.SeqHandle) error {
	return d.rmaEvent(tpd, substrate.EventRMAGroupSync, win, nil)
}

// RMARequestLock, RMAAcquireLock, RMATryLock, RMAReleaseLock,
// RMASync, and RMAWaitChange intentionally share the last stamped
// timestamp when reuseTimestamp is non-nil, per spec.md §4.9: "a lock
// release and its preceding enter share a stamp."
func (d *Dispatcher) RMARequestLock(tpd *thread.TPD, win arena.SeqHandle, reuse *clock.Ticks) error {
	return d.rmaEvent(tpd, substrate.EventRMARequestLock, win, reuse)
}
func (d *Dispatcher) RMAAcquireLock(tpd *thread.TPD, win arena.SeqHandle, reuse *clock.Ticks) error {
	return d.rmaEvent(tpd, substrate.EventRMAAcquireLock, win, reuse)
}
func (d *Dispatcher) RMATryLock(tpd *thread.TPD, win arena.SeqHandle, reuse *clock.Ticks) error {
	return d.rmaEvent(tpd, substrate.EventRMATryLock, win, reuse)
}
func (d *Dispatcher) RMAReleaseLock(tpd *thread.TPD, win arena.SeqHandle, reuse *clock.Ticks) error {
	return d.rmaEvent(tpd, substrate.EventRMAReleaseLock, win, reuse)
}
func (d *Dispatcher) RMASync(tpd *thread.TPD, win arena.SeqHandle, reuse *clock.Ticks) error {
	return d.rmaEvent(tpd, substrate.EventRMASync, win, reuse)
}
func (d *Dispatcher) RMAWaitChange(tpd *thread.TPD, win arena.SeqHandle, reuse *clock.Ticks) error {
	return d.rmaEvent(tpd, substrate.EventRMAWaitChange, win, reuse)
}

// rmaTransfer covers RMA put/get/atomic/op-complete-*/op-test, each
// location → timestamp → fan-out carrying a byte count.
func (d *Dispatcher) rmaTransfer(tpd *thread.TPD, et substrate.EventType, win arena.SeqHandle, remote int, bytes uint64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: et, Location: tpd.Location(), Timestamp: t, Region: win, Peer: remote, Bytes: bytes,
	})
}

func (d *Dispatcher) RMAPut(tpd *thread.TPD, win arena.SeqHandle, remote int, bytes uint64) error {
	return d.rmaTransfer(tpd, substrate.EventRMAPut, win, remote, bytes)
}
func (d *Dispatcher) RMAGet(tpd *thread.TPD, win arena.SeqHandle, remote int, bytes uint64) error {
	return d.rmaTransfer(tpd, substrate.EventRMAGet, win, remote, bytes)
}
func (d *Dispatcher) RMAAtomic(tpd *thread.TPD, win arena.SeqHandle, remote int, bytes uint64) error {
	return d.rmaTransfer(tpd, substrate.EventRMAAtomic, win, remote, bytes)
}
func (d *Dispatcher) RMAOpCompleteBlocking(tpd *thread.TPD, win arena.SeqHandle) error {
	return d.rmaEvent(tpd, substrate.EventRMAOpCompleteBlocking, win, nil)
}
func (d *Dispatcher) RMAOpCompleteNonBlocking(tpd *thread.TPD, win arena.SeqHandle) error {
	return d.rmaEvent(tpd, substrate.EventRMAOpCompleteNonBlocking, win, nil)
}
func (d *Dispatcher) RMAOpTest(tpd *thread.TPD, win arena.SeqHandle) error {
	return d.rmaEvent(tpd, substrate.EventRMAOpTest, win, nil)
}
func (d *Dispatcher) RMAOpCompleteRemote(tpd *thread.TPD, win arena.SeqHandle) error {
	return d.rmaEvent(tpd, substrate.EventRMAOpCompleteRemote, win, nil)
}

// ThreadAcquireLock implements thread_acquire_lock(paradigm, lock_id,
// order). paradigm is carried as the event's Comm field (an opaque
// per-paradigm identifier, not a communicator handle) to avoid growing
// Record with a rarely-used field.
func (d *Dispatcher) ThreadAcquireLock(tpd *thread.TPD, paradigm arena.SeqHandle, lockID, order uint32) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: substrate.EventThreadAcquireLock, Location: tpd.Location(), Timestamp: t,
		Comm: paradigm, LockID: lockID, Order: order,
	})
}

// ThreadReleaseLock implements thread_release_lock(paradigm, lock_id, order).
func (d *Dispatcher) ThreadReleaseLock(tpd *thread.TPD, paradigm arena.SeqHandle, lockID, order uint32) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{
		Type: substrate.EventThreadReleaseLock, Location: tpd.Location(), Timestamp: t,
		Comm: paradigm, LockID: lockID, Order: order,
	})
}

// TriggerCounterInt64 implements trigger_counter_int64(counter, value).
func (d *Dispatcher) TriggerCounterInt64(tpd *thread.TPD, counter arena.SeqHandle, value int64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventTriggerCounterInt64, Location: tpd.Location(), Timestamp: t, Counter: counter, IntValue: value})
}

// TriggerCounterUint64 implements trigger_counter_uint64(counter, value).
func (d *Dispatcher) TriggerCounterUint64(tpd *thread.TPD, counter arena.SeqHandle, value uint64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventTriggerCounterUint64, Location: tpd.Location(), Timestamp: t, Counter: counter, UintValue: value})
}

// TriggerCounterDouble implements trigger_counter_double(counter, value).
func (d *Dispatcher) TriggerCounterDouble(tpd *thread.TPD, counter arena.SeqHandle, value float64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventTriggerCounterDouble, Location: tpd.Location(), Timestamp: t, Counter: counter, DblValue: value})
}

// TriggerParameterInt64 implements trigger_parameter_int64(param, value).
func (d *Dispatcher) TriggerParameterInt64(tpd *thread.TPD, param arena.SeqHandle, value int64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventTriggerParameterInt64, Location: tpd.Location(), Timestamp: t, Counter: param, IntValue: value})
}

// TriggerParameterUint64 implements trigger_parameter_uint64(param, value).
func (d *Dispatcher) TriggerParameterUint64(tpd *thread.TPD, param arena.SeqHandle, value uint64) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventTriggerParameterUint64, Location: tpd.Location(), Timestamp: t, Counter: param, UintValue: value})
}

// TriggerParameterString implements trigger_parameter_string(param, value).
func (d *Dispatcher) TriggerParameterString(tpd *thread.TPD, param arena.SeqHandle, value string) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventTriggerParameterString, Location: tpd.Location(), Timestamp: t, Counter: param, StrValue: value})
}

// AddAttribute implements add_attribute(attr, value).
func (d *Dispatcher) AddAttribute(tpd *thread.TPD, attr arena.SeqHandle, value string) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventAddAttribute, Location: tpd.Location(), Timestamp: t, Counter: attr, StrValue: value})
}

// AddLocationProperty implements add_location_property(name, value):
// unlike AddAttribute it is a pure management call, running
// MgmtAddAttribute rather than an event fan-out — location properties
// describe the location itself, not a moment in its event stream.
func (d *Dispatcher) AddLocationProperty(tpd *thread.TPD, name, value string) error {
	_, err := d.substrates.RunManagementHook(substrate.MgmtAddAttribute, tpd.Location(), name, value)
	return err
}

// EnterRewindRegion implements enter_rewind_region(region).
func (d *Dispatcher) EnterRewindRegion(tpd *thread.TPD, region arena.SeqHandle) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	return d.dispatch(substrate.Record{Type: substrate.EventEnterRewindRegion, Location: tpd.Location(), Timestamp: t, Region: region})
}

// ExitRewindRegion implements exit_rewind_region(do_rewind): do_rewind
// is carried via IntValue (1 = rewind requested, 0 = not).
func (d *Dispatcher) ExitRewindRegion(tpd *thread.TPD, region arena.SeqHandle, doRewind bool) error {
	t, err := d.stampAndCheck(tpd)
	if err != nil {
		return err
	}
	var rewind int64
	if doRewind {
		rewind = 1
	}
	return d.dispatch(substrate.Record{Type: substrate.EventExitRewindRegion, Location: tpd.Location(), Timestamp: t, Region: region, IntValue: rewind})
}

// EnableRecording implements enable_recording(): event fan-out resumes.
func (d *Dispatcher) EnableRecording() {
	d.recordingMu.Lock()
	d.recording = true
	d.recordingMu.Unlock()
}

// DisableRecording implements disable_recording(): all subsequent
// events are suppressed from substrate fan-out, except that each
// suppressed event's type is still offered to the invalidator
// substrate's MgmtInvalidateProperty hook. The caller is responsible
// for bracketing this with the synthetic "MEASUREMENT OFF" region
// enter/exit (done by the runtime package, which owns that region's
// handle).
func (d *Dispatcher) DisableRecording() {
	d.recordingMu.Lock()
	d.recording = false
	d.recordingMu.Unlock()
}

// RecordingEnabled implements recording_enabled().
func (d *Dispatcher) RecordingEnabled() bool {
	d.recordingMu.Lock()
	defer d.recordingMu.Unlock()
	return d.recording
}

// NextTaskGeneration returns a fresh task generation number from the
// Dispatcher-wide counter (unique across all threads) for synthesizing a
// task.ID, for adapters that don't already track one.
func (d *Dispatcher) NextTaskGeneration() uint32 {
	return d.taskGeneration.Add(1)
}
