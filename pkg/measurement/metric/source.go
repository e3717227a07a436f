// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metric

// Source is the metric-source plugin ABI from spec.md's "Metric-source
// plugin ABI" section, translated from a C struct-of-function-pointers
// into a Go interface. RUSAGE, the eBPF async-event source, and
// dynamically loaded plugins all implement it identically; the core
// never needs to know which.
type Source interface {
	// Info returns the source's static identity and declared class.
	Info() SourceInfo

	// Initialize prepares the source for use (opening file descriptors,
	// loading BPF programs, dlopen'ing a plugin, etc).
	Initialize() error

	// AddCounter registers interest in the named counter and returns an
	// opaque id used by the other methods below.
	AddCounter(name string) (CounterID, error)

	// EventInfo describes the counter previously registered via AddCounter.
	EventInfo(id CounterID) (EventInfo, error)

	// CurrentValue samples a strictly-synchronous counter. It must
	// always succeed if the source is healthy; a read failure is a
	// source-unavailable condition, not a refusal.
	CurrentValue(id CounterID) (Value, error)

	// OptionalValue samples a sync-optional counter. ok=false means the
	// source is refusing to update this sample (e.g. its minimum
	// delta-t has not elapsed); this is not an error.
	OptionalValue(id CounterID) (Value, bool, error)

	// AllValues drains an asynchronous counter's buffered timestamped
	// readings since the last call.
	AllValues(id CounterID) ([]TimestampedValue, error)

	// Finalize releases any resources Initialize acquired.
	Finalize() error

	// SetClockFunction installs the runtime's clock.Source.Now-equivalent
	// function, so the source can stamp asynchronous samples on the same
	// timeline as synchronous events.
	SetClockFunction(now func() int64)
}
