// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package clock provides the measurement runtime's monotonic timestamp
// source, per-process epoch bounds, and the sync-pair bookkeeping needed
// to interpolate local ticks onto a shared master timeline at
// definition-write time.
package clock

import (
	"sync"
	"time"

	"github.com/antimetal/scorep-core/pkg/measurement/internal/ringbuffer"
	"github.com/antimetal/scorep-core/pkg/merrors"
)

// Ticks is a monotonic 64-bit tick count, strictly increasing within a
// single location's stream.
type Ticks int64

// Source is the process-wide monotonic clock. All locations share one
// Source; it never goes backward.
type Source struct {
	start time.Time
}

// NewSource creates a Source anchored to the current monotonic reading.
func NewSource() *Source {
	return &Source{start: time.Now()}
}

// Now returns the current tick count.
func (s *Source) Now() Ticks {
	return Ticks(time.Since(s.start).Nanoseconds())
}

// SyncPair records the mapping between a local tick reading and the
// corresponding master-time offset at one synchronization point.
type SyncPair struct {
	Local  Ticks
	Offset int64 // master - local, in nanoseconds, at the moment Local was read
}

// Epoch tracks one process's [begin, end) measurement window plus the
// bounded history of sync pairs needed to interpolate it onto master
// time. Only the first and last recorded pair are ever read back
// (original_source's scorep_clock_synchronization.c does the same), so
// the history is capped rather than grown without bound.
type Epoch struct {
	mu       sync.Mutex
	begin    Ticks
	end      Ticks
	began    bool
	ended    bool
	lastSeen Ticks
	first    SyncPair // first pair ever recorded, kept outside the capped history
	hasFirst bool
	pairs    *ringbuffer.RingBuffer[SyncPair]
}

// DefaultSyncPairHistory bounds how many sync pairs Epoch retains.
// Interpolation only ever needs the first and last, but keeping a small
// window makes drift diagnosable without re-running the process.
const DefaultSyncPairHistory = 16

// NewEpoch creates an Epoch with the default sync-pair history capacity.
func NewEpoch() *Epoch {
	rb, _ := ringbuffer.New[SyncPair](DefaultSyncPairHistory)
	return &Epoch{pairs: rb}
}

// Begin captures the epoch's start tick. Calling it more than once is a
// no-op; the first call wins.
func (e *Epoch) Begin(t Ticks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.began {
		return
	}
	e.begin = t
	e.began = true
}

// End captures the epoch's end tick.
func (e *Epoch) End(t Ticks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.end = t
	e.ended = true
}

// Bounds returns the captured [begin, end) window.
func (e *Epoch) Bounds() (begin, end Ticks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.begin, e.end
}

// RecordSyncPair appends a new (local, offset) sample. It is the
// caller's responsibility to invoke this from a single synchronization
// source; RecordSyncPair itself is safe for concurrent callers.
func (e *Epoch) RecordSyncPair(local Ticks, offset int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := SyncPair{Local: local, Offset: offset}
	if !e.hasFirst {
		e.first, e.hasFirst = p, true
	}
	e.pairs.Push(p)
}

// Interpolate maps a local tick onto master time using the linear model
// built from the first and last recorded sync pairs:
//
//	master = local + offset1 + (offset2-offset1)*(local-t1)/(t2-t1)
//
// If fewer than two pairs have been recorded, Interpolate falls back to
// the single known offset (or zero offset if none was ever recorded).
func (e *Epoch) Interpolate(local Ticks) int64 {
	e.mu.Lock()
	first, haveFirst := e.first, e.hasFirst
	last, haveLast := e.pairs.Last()
	e.mu.Unlock()

	if !haveFirst {
		return int64(local)
	}
	if !haveLast || last.Local == first.Local {
		return int64(local) + first.Offset
	}

	span := int64(last.Local - first.Local)
	delta := last.Offset - first.Offset
	interpolated := first.Offset + delta*int64(local-first.Local)/span
	return int64(local) + interpolated
}

// CheckMonotonic enforces the per-location ordering contract: a
// timestamp observed on a location must never precede the previous one
// observed on that same location. A violation is a contract break (a
// migrated thread or a broken TSC) and is fatal, matching spec.md §4.3's
// "assertion failure stops the process" language.
func (e *Epoch) CheckMonotonic(t Ticks) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSeen != 0 && t < e.lastSeen {
		return merrors.NewFatal("clock: timestamp regression detected on location (thread migration or broken TSC)")
	}
	e.lastSeen = t
	return nil
}
