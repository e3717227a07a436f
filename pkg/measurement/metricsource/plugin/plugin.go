// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package plugin loads a metric.Source out of a Go plugin (.so), built
// around the standard library's plugin package rather than a
// third-party dynamic-loading library — the example pack carries no
// dependency for resolving symbols out of a shared object; that's
// exactly what plugin.Open/Lookup already does (see DESIGN.md).
//
// The shared object must export a package-level GetInfo function
// returning an ABI struct whose fields are the exported functions
// spec.md §6's metric-source plugin ABI names: Initialize, AddCounter,
// GetEventInfo, Finalize, GetCurrentValue, GetOptionalValue,
// GetAllValues, SetClockFunc.
package plugin

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/antimetal/scorep-core/pkg/measurement/clock"
	"github.com/antimetal/scorep-core/pkg/measurement/metric"
)

// ABI is the exact shape a plugin's exported GetInfo() must return.
// Besides the Version/Class/Scopes/MinDelta data fields, each field is a
// function, matching spec.md §6's "get_info() →
// {version, sync_class, per_class, initialize(), add_counter(name), ...}".
type ABI struct {
	Version  int
	Class    metric.Class
	Scopes   []metric.Scope
	MinDelta int64

	Initialize      func() error
	AddCounter      func(name string) (metric.CounterID, error)
	GetEventInfo    func(id metric.CounterID) (metric.EventInfo, error)
	Finalize        func() error
	GetCurrentValue func(id metric.CounterID) (metric.Value, error)
	GetOptionalValue func(id metric.CounterID) (metric.Value, bool, error)
	GetAllValues    func(id metric.CounterID) ([]metric.TimestampedValue, error)
	SetClockFunc    func(now func() int64)
}

// Source adapts a loaded plugin's ABI struct to metric.Source.
type Source struct {
	mu   sync.Mutex
	name string
	path string
	abi  *ABI
}

// Open loads the plugin at path and resolves its GetInfo symbol. The
// plugin is not initialized yet — that happens in Initialize, matching
// every other metric.Source's lifecycle.
func Open(name, path string) (*Source, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: opening %q: %w", path, err)
	}
	sym, err := p.Lookup("GetInfo")
	if err != nil {
		return nil, fmt.Errorf("plugin: %q has no exported GetInfo: %w", path, err)
	}
	getInfo, ok := sym.(func() ABI)
	if !ok {
		return nil, fmt.Errorf("plugin: %q GetInfo has unexpected signature", path)
	}
	abi := getInfo()
	if err := validateABI(&abi); err != nil {
		return nil, fmt.Errorf("plugin: %q: %w", path, err)
	}
	return &Source{name: name, path: path, abi: &abi}, nil
}

func validateABI(abi *ABI) error {
	if abi.Initialize == nil || abi.AddCounter == nil || abi.GetEventInfo == nil ||
		abi.Finalize == nil {
		return fmt.Errorf("ABI missing required entry point")
	}
	switch abi.Class {
	case metric.ClassStrictlySync, metric.ClassSyncOptional:
		if abi.GetCurrentValue == nil && abi.GetOptionalValue == nil {
			return fmt.Errorf("sync classes require GetCurrentValue or GetOptionalValue")
		}
	case metric.ClassAsync, metric.ClassAsyncEvent:
		if abi.GetAllValues == nil {
			return fmt.Errorf("async classes require GetAllValues")
		}
	}
	return nil
}

func (s *Source) Info() metric.SourceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return metric.SourceInfo{
		Name:    s.name,
		Version: s.abi.Version,
		Class:   s.abi.Class,
		Scopes:  s.abi.Scopes,
		MinDelta: s.abi.MinDelta,
	}
}

func (s *Source) Initialize() error { return s.abi.Initialize() }

func (s *Source) AddCounter(name string) (metric.CounterID, error) { return s.abi.AddCounter(name) }

func (s *Source) EventInfo(id metric.CounterID) (metric.EventInfo, error) {
	return s.abi.GetEventInfo(id)
}

func (s *Source) CurrentValue(id metric.CounterID) (metric.Value, error) {
	if s.abi.GetCurrentValue == nil {
		return metric.Value{}, fmt.Errorf("plugin: %q does not implement GetCurrentValue", s.name)
	}
	return s.abi.GetCurrentValue(id)
}

func (s *Source) OptionalValue(id metric.CounterID) (metric.Value, bool, error) {
	if s.abi.GetOptionalValue == nil {
		return metric.Value{}, false, fmt.Errorf("plugin: %q does not implement GetOptionalValue", s.name)
	}
	return s.abi.GetOptionalValue(id)
}

func (s *Source) AllValues(id metric.CounterID) ([]metric.TimestampedValue, error) {
	if s.abi.GetAllValues == nil {
		return nil, fmt.Errorf("plugin: %q does not implement GetAllValues", s.name)
	}
	return s.abi.GetAllValues(id)
}

func (s *Source) Finalize() error { return s.abi.Finalize() }

func (s *Source) SetClockFunction(now func() int64) {
	if s.abi.SetClockFunc != nil {
		s.abi.SetClockFunc(now)
	}
}

// clockFuncFromEpoch adapts a clock.Epoch's interpolation to the
// func() int64 shape SetClockFunction expects, so plugin sources read
// master-synchronized time the same way substrates do.
func clockFuncFromEpoch(epoch *clock.Epoch, now func() clock.Ticks) func() int64 {
	return func() int64 {
		return epoch.Interpolate(now())
	}
}
