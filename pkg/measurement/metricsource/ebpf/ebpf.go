// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ebpf implements a metric.ClassAsyncEvent source whose samples
// arrive as kernel ring-buffer records rather than periodic reads,
// following the reader-goroutine shape of execsnoop.go: a precompiled
// CO-RE object is loaded from a configurable path, a tracepoint program
// in it is attached, and a background goroutine drains its ring buffer
// into a per-counter backlog that AllValues drains in turn.
package ebpf

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/go-logr/logr"

	core "github.com/antimetal/scorep-core/pkg/ebpf/core"
	"github.com/antimetal/scorep-core/pkg/measurement/clock"
	"github.com/antimetal/scorep-core/pkg/measurement/metric"
)

// DefaultObjectPathEnv names the environment variable this source falls
// back to when no explicit object path is given, mirroring execsnoop's
// ANTIMETAL_BPF_PATH convention.
const DefaultObjectPathEnv = "SCOREP_CORE_BPF_PATH"

// record is the fixed 16-byte ring-buffer wire format this source
// expects every attached program to emit: a kernel timestamp (ns,
// CLOCK_MONOTONIC) and a single counter payload. Richer per-event
// payloads are out of scope here — see metric.TimestampedValue's
// Value.Uint64 field.
type record struct {
	TimestampNS uint64
	Value       uint64
}

const recordSize = 16

// Tracepoint names one kernel tracepoint this source's object attaches
// a program to.
type Tracepoint struct {
	Group   string
	Name    string
	Program string // program name within the collection
}

// Source is an async-event metric.Source backed by a CO-RE eBPF
// collection. Exactly one counter is exposed per constructed Source,
// fed by one ring-buffer map.
type Source struct {
	mu sync.Mutex

	name        string
	objectPath  string
	mapName     string
	tracepoints []Tracepoint
	logger      logr.Logger

	counterName string
	counterID   metric.CounterID
	registered  bool

	manager *core.Manager
	coll    *ebpf.Collection
	links   []link.Link
	reader  *ringbuf.Reader

	backlogMu sync.Mutex
	backlog   []metric.TimestampedValue

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config describes how to construct an async-event Source.
type Config struct {
	// Name identifies this source in the metric.Registry (e.g. "page-faults").
	Name string
	// ObjectPath is the path to the precompiled .o file. If empty, it
	// falls back to DefaultObjectPathEnv, then to a conventional
	// "<name>.bpf.o" in the current directory.
	ObjectPath string
	// MapName is the ring buffer map exported by the object. Defaults to "events".
	MapName string
	// Tracepoints lists the kernel tracepoints to attach the object's programs to.
	Tracepoints []Tracepoint
	// CounterName is the single counter name this source exposes.
	CounterName string
}

// New constructs an uninitialized async-event Source. Initialize loads
// and attaches the BPF object; no kernel interaction happens here.
func New(cfg Config, logger logr.Logger) *Source {
	path := cfg.ObjectPath
	if path == "" {
		if env := os.Getenv(DefaultObjectPathEnv); env != "" {
			path = env
		} else {
			path = cfg.Name + ".bpf.o"
		}
	}
	mapName := cfg.MapName
	if mapName == "" {
		mapName = "events"
	}
	return &Source{
		name:        cfg.Name,
		objectPath:  path,
		mapName:     mapName,
		tracepoints: cfg.Tracepoints,
		counterName: cfg.CounterName,
		logger:      logger.WithName("ebpf-source").WithValues("source", cfg.Name),
		stopCh:      make(chan struct{}),
	}
}

func (s *Source) Info() metric.SourceInfo {
	return metric.SourceInfo{
		Name:   s.name,
		Version: 100,
		Class:  metric.ClassAsyncEvent,
		Scopes: []metric.Scope{metric.ScopeProcess, metric.ScopeHost},
	}
}

// Initialize loads the CO-RE object, attaches its tracepoint programs,
// opens the ring buffer reader, and starts the draining goroutine. It
// follows core.Manager.LoadCollection plus execsnoop.go's attach/open/
// spawn sequence.
func (s *Source) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("ebpf: removing memlock rlimit: %w", err)
	}

	manager, err := core.NewManager(s.logger)
	if err != nil {
		return fmt.Errorf("ebpf: building CO-RE manager: %w", err)
	}
	s.manager = manager

	coll, err := manager.LoadCollection(s.objectPath)
	if err != nil {
		return fmt.Errorf("ebpf: loading collection %q: %w", s.objectPath, err)
	}
	s.coll = coll

	for _, tp := range s.tracepoints {
		prog, ok := coll.Programs[tp.Program]
		if !ok {
			s.cleanup()
			return fmt.Errorf("ebpf: collection %q has no program %q", s.objectPath, tp.Program)
		}
		l, err := link.Tracepoint(tp.Group, tp.Name, prog, nil)
		if err != nil {
			s.cleanup()
			return fmt.Errorf("ebpf: attaching tracepoint %s/%s: %w", tp.Group, tp.Name, err)
		}
		s.links = append(s.links, l)
	}

	m, ok := coll.Maps[s.mapName]
	if !ok {
		s.cleanup()
		return fmt.Errorf("ebpf: collection %q has no ring buffer map %q", s.objectPath, s.mapName)
	}
	reader, err := ringbuf.NewReader(m)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("ebpf: opening ring buffer reader: %w", err)
	}
	s.reader = reader

	s.wg.Add(1)
	go s.readEvents()
	return nil
}

// readEvents drains the ring buffer until Finalize closes the reader,
// mirroring execsnoop.go's readEvents loop: a blocking Read() call
// unblocked by closing the reader out from under it, with each parsed
// record appended to a bounded backlog (oldest dropped on overflow
// rather than blocking the kernel-side writer).
func (s *Source) readEvents() {
	defer s.wg.Done()
	const backlogCap = 4096

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		raw, err := s.reader.Read()
		if err != nil {
			return // reader closed by Finalize, or a fatal read error
		}
		rec, err := parseRecord(raw.RawSample)
		if err != nil {
			s.logger.V(1).Info("dropping malformed ring buffer record", "error", err)
			continue
		}

		s.backlogMu.Lock()
		s.backlog = append(s.backlog, metric.TimestampedValue{
			Timestamp: clock.Ticks(rec.TimestampNS),
			Value:     metric.Value{Type: metric.ValueUint64, Uint64: rec.Value},
		})
		if len(s.backlog) > backlogCap {
			s.backlog = s.backlog[len(s.backlog)-backlogCap:]
		}
		s.backlogMu.Unlock()
	}
}

func parseRecord(data []byte) (record, error) {
	if len(data) < recordSize {
		return record{}, fmt.Errorf("ebpf: short ring buffer record (%d bytes)", len(data))
	}
	return record{
		TimestampNS: binary.LittleEndian.Uint64(data[0:8]),
		Value:       binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

func (s *Source) AddCounter(name string) (metric.CounterID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != s.counterName {
		return 0, fmt.Errorf("ebpf: source %q only exposes counter %q, not %q", s.name, s.counterName, name)
	}
	s.registered = true
	return s.counterID, nil
}

func (s *Source) EventInfo(id metric.CounterID) (metric.EventInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registered || id != s.counterID {
		return metric.EventInfo{}, fmt.Errorf("ebpf: unknown counter id %d", id)
	}
	return metric.EventInfo{Name: s.counterName, Unit: "count", ValueType: metric.ValueUint64}, nil
}

// CurrentValue is unsupported: async-event sources have no single
// "current" reading, only a backlog of arrived records.
func (s *Source) CurrentValue(id metric.CounterID) (metric.Value, error) {
	return metric.Value{}, fmt.Errorf("ebpf: source %q is async-event, has no synchronous current value", s.name)
}

// OptionalValue is unsupported for the same reason as CurrentValue.
func (s *Source) OptionalValue(id metric.CounterID) (metric.Value, bool, error) {
	return metric.Value{}, false, fmt.Errorf("ebpf: source %q is async-event, has no optional synchronous value", s.name)
}

// AllValues drains and returns every record that has arrived since the
// last call, matching ClassAsyncEvent's "marks record arrival instead
// of periodic read" semantics.
func (s *Source) AllValues(id metric.CounterID) ([]metric.TimestampedValue, error) {
	s.mu.Lock()
	registered := s.registered && id == s.counterID
	s.mu.Unlock()
	if !registered {
		return nil, fmt.Errorf("ebpf: unknown counter id %d", id)
	}

	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	out := s.backlog
	s.backlog = nil
	return out, nil
}

// Finalize stops the reader goroutine and tears down the links,
// collection, and ring buffer reader in the reverse order they were
// acquired, matching execsnoop.go's cleanup().
func (s *Source) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.stopCh)
	s.cleanup()
	s.wg.Wait()
	return nil
}

// cleanup releases kernel resources; callers must hold s.mu.
func (s *Source) cleanup() {
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
	for _, l := range s.links {
		l.Close()
	}
	s.links = nil
	if s.coll != nil {
		s.coll.Close()
		s.coll = nil
	}
}

// SetClockFunction is a no-op: record timestamps come from the kernel
// program itself, not from the core's synchronized clock.
func (s *Source) SetClockFunction(now func() int64) {}
