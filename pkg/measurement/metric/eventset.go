// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metric

import (
	"sync"

	"github.com/antimetal/scorep-core/pkg/measurement/clock"
)

// CounterRef names one (source, counter) pair an EventSet samples.
type CounterRef struct {
	Source string
	ID     CounterID
}

// EventSet is a location's flat values[] buffer for one scope, sized to
// the union of metrics it records, with per-counter offsets matching
// spec.md §4.8's "flat values[] buffer... with per-source offsets."
type EventSet struct {
	mu       sync.Mutex
	scope    Scope
	counters []CounterRef
	values   []Value
	lastSamp []clock.Ticks // per-counter, for sync-optional delta-t gating
	sampled  []bool        // per-counter, set once a sample has been accepted
	minDelta []int64
}

// NewEventSet creates an EventSet for the given scope and counter list.
// minDeltas, if non-nil, holds each counter's minimum nanosecond gap
// between accepted samples (sync-optional class only; zero means "no
// gating").
func NewEventSet(scope Scope, counters []CounterRef, minDeltas []int64) *EventSet {
	es := &EventSet{
		scope:    scope,
		counters: counters,
		values:   make([]Value, len(counters)),
		lastSamp: make([]clock.Ticks, len(counters)),
		sampled:  make([]bool, len(counters)),
	}
	if minDeltas != nil {
		es.minDelta = minDeltas
	} else {
		es.minDelta = make([]int64, len(counters))
	}
	return es
}

// Len returns the number of counters in this event set — the
// cardinality *m* spec.md's testable property #6 refers to.
func (es *EventSet) Len() int { return len(es.counters) }

// Values returns a snapshot of the event set's current values, in
// counter order. The returned slice is a copy.
func (es *EventSet) Values() []Value {
	es.mu.Lock()
	defer es.mu.Unlock()
	out := make([]Value, len(es.values))
	copy(out, es.values)
	return out
}

// SampleStrict samples every counter unconditionally via
// Source.CurrentValue, matching the strictly-synchronous class's "every
// enter/exit event must sample every metric" rule. The registry
// supplies source lookup; a missing source leaves that counter's prior
// value untouched and is not an error (spec.md: unavailable sources are
// silently skipped).
func (es *EventSet) SampleStrict(reg *Registry) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	for i, ref := range es.counters {
		src, ok := reg.Get(ref.Source)
		if !ok {
			continue
		}
		v, err := src.CurrentValue(ref.ID)
		if err != nil {
			continue
		}
		es.values[i] = v
	}
	return nil
}

// SampleOptional samples every counter via Source.OptionalValue, honoring
// each counter's minimum delta-t: a counter is skipped if not enough
// time has elapsed since its last accepted sample.
func (es *EventSet) SampleOptional(reg *Registry, now clock.Ticks) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	for i, ref := range es.counters {
		if es.minDelta[i] > 0 && es.sampled[i] {
			if int64(now-es.lastSamp[i]) < es.minDelta[i] {
				continue
			}
		}
		src, ok := reg.Get(ref.Source)
		if !ok {
			continue
		}
		v, accepted, err := src.OptionalValue(ref.ID)
		if err != nil || !accepted {
			continue
		}
		es.values[i] = v
		es.lastSamp[i] = now
		es.sampled[i] = true
	}
	return nil
}
