// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package metric implements the measurement runtime's metric pipeline
// (C8): the four metric classes, per-location event sets, and the
// plugin-shaped Source ABI that RUSAGE, PAPI-equivalent, and
// dynamically loaded metric producers all implement.
package metric

import "github.com/antimetal/scorep-core/pkg/measurement/clock"

// Class is one of the four metric semantics spec.md §4.8 defines.
type Class int

const (
	// ClassStrictlySync metrics are sampled on every enter/exit event,
	// with an identical metric set on every location.
	ClassStrictlySync Class = iota
	// ClassSyncOptional metrics are sampled at every event but may refuse
	// to update, subject to a per-metric minimum delta-t.
	ClassSyncOptional
	// ClassAsync sources return an array of timestamped values that may
	// cover several events between samples.
	ClassAsync
	// ClassAsyncEvent sources mark record arrival instead of being
	// periodically read.
	ClassAsyncEvent
)

// Scope is an event set's sampling granularity beyond per-thread.
type Scope int

const (
	ScopeThread Scope = iota
	ScopeProcess
	ScopeHost
	ScopeOnce
)

// ValueType is the runtime type carried by a Value.
type ValueType int

const (
	ValueInt64 ValueType = iota
	ValueUint64
	ValueDouble
)

// Value is a single sampled metric reading.
type Value struct {
	Type   ValueType
	Int64  int64
	Uint64 uint64
	Double float64
}

// TimestampedValue is one entry of an asynchronous source's value array.
type TimestampedValue struct {
	Timestamp clock.Ticks
	Value     Value
}

// CounterID identifies one counter a Source has been asked to track, via
// AddCounter.
type CounterID uint32

// EventInfo describes one counter a Source exposes, enough to populate a
// Metric definition (C4).
type EventInfo struct {
	Name        string
	Description string
	Unit        string
	ValueType   ValueType
}

// SourceInfo is the plugin-ABI "get_info()" return value: the static
// facts about a metric source needed before any counter is added.
type SourceInfo struct {
	Name     string
	Version  int // major*100+minor; see Registry.Register for the version-jump rule
	Class    Class
	Scopes   []Scope
	MinDelta int64 // minimum nanoseconds between samples the source will honor, if SyncOptional
}
