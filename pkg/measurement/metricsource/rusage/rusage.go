// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package rusage implements a strictly-synchronous metric.Source backed
// by syscall.Getrusage. There is no third-party library in the example
// pack for reading process resource usage — it's a single syscall with
// no protocol, transport, or parsing surface a dependency would add
// value to — so this metric source is built directly on the
// standard library (see DESIGN.md).
package rusage

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/antimetal/scorep-core/pkg/measurement/metric"
)

// Counter names this source recognizes, mirroring the fields
// scorep_metric_rusage.c exposes.
const (
	CounterUserTime   = "rusage.utime"
	CounterSystemTime = "rusage.stime"
	CounterMaxRSS     = "rusage.maxrss"
	CounterMinFaults  = "rusage.minflt"
	CounterMajFaults  = "rusage.majflt"
)

var counterNames = []string{CounterUserTime, CounterSystemTime, CounterMaxRSS, CounterMinFaults, CounterMajFaults}

// Source is a strictly-synchronous metric.Source reading getrusage(2)
// for the calling process (RUSAGE_SELF) on every sample.
type Source struct {
	mu       sync.Mutex
	counters []string
}

// New creates an uninitialized rusage Source.
func New() *Source {
	return &Source{}
}

func (s *Source) Info() metric.SourceInfo {
	return metric.SourceInfo{
		Name:   "rusage",
		Version: 100,
		Class:  metric.ClassStrictlySync,
		Scopes: []metric.Scope{metric.ScopeThread, metric.ScopeProcess},
	}
}

func (s *Source) Initialize() error { return nil }

func (s *Source) AddCounter(name string) (metric.CounterID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := false
	for _, n := range counterNames {
		if n == name {
			valid = true
			break
		}
	}
	if !valid {
		return 0, fmt.Errorf("rusage: unknown counter %q", name)
	}
	s.counters = append(s.counters, name)
	return metric.CounterID(len(s.counters) - 1), nil
}

func (s *Source) EventInfo(id metric.CounterID) (metric.EventInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) >= len(s.counters) {
		return metric.EventInfo{}, fmt.Errorf("rusage: unknown counter id %d", id)
	}
	name := s.counters[id]
	vt := metric.ValueInt64
	unit := "count"
	switch name {
	case CounterUserTime, CounterSystemTime:
		unit = "microseconds"
	case CounterMaxRSS:
		unit = "kilobytes"
	}
	return metric.EventInfo{Name: name, Unit: unit, ValueType: vt}, nil
}

func (s *Source) CurrentValue(id metric.CounterID) (metric.Value, error) {
	s.mu.Lock()
	name := ""
	if int(id) < len(s.counters) {
		name = s.counters[id]
	}
	s.mu.Unlock()
	if name == "" {
		return metric.Value{}, fmt.Errorf("rusage: unknown counter id %d", id)
	}

	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return metric.Value{}, fmt.Errorf("rusage: getrusage: %w", err)
	}

	var v int64
	switch name {
	case CounterUserTime:
		v = ru.Utime.Sec*1_000_000 + int64(ru.Utime.Usec)
	case CounterSystemTime:
		v = ru.Stime.Sec*1_000_000 + int64(ru.Stime.Usec)
	case CounterMaxRSS:
		v = ru.Maxrss
	case CounterMinFaults:
		v = ru.Minflt
	case CounterMajFaults:
		v = ru.Majflt
	}
	return metric.Value{Type: metric.ValueInt64, Int64: v}, nil
}

// OptionalValue is unused: rusage is a strictly-synchronous source.
func (s *Source) OptionalValue(id metric.CounterID) (metric.Value, bool, error) {
	v, err := s.CurrentValue(id)
	return v, err == nil, err
}

// AllValues is unused: rusage is a strictly-synchronous source.
func (s *Source) AllValues(id metric.CounterID) ([]metric.TimestampedValue, error) {
	return nil, fmt.Errorf("rusage: source is strictly-synchronous, has no buffered values")
}

func (s *Source) Finalize() error                  { return nil }
func (s *Source) SetClockFunction(now func() int64) {}
