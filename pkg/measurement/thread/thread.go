// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package thread implements the measurement runtime's fork/join thread
// model (C6): a thread-private-data (TPD) tree with a state machine per
// TPD, a singleton-team reuse-count stack, and a process-wide fork
// sequence counter.
package thread

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/antimetal/scorep-core/pkg/measurement/location"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
)

// State is a TPD's fork/join lifecycle state.
type State int

const (
	StateActive State = iota
	StateSuspended
)

// TPD is one thread's private data block: a link to its Location, its
// parent TPD, and the bookkeeping the fork/join state machine needs.
// TPDs form a tree that mirrors the fork/join nesting of the
// instrumented program.
type TPD struct {
	mu sync.Mutex

	loc    *location.Location
	parent *TPD
	state  State

	// children holds this TPD's team member slots, indexed by
	// thread-number within the team it most recently forked.
	children []*TPD

	// reuseStack holds fork-sequence counts pushed by singleton-team
	// (team-size == 1) ON_TEAM_BEGIN calls that reused this TPD instead of
	// creating a new one; ON_TEAM_END pops it.
	reuseStack []uint32

	// singletonCounter distinguishes nested singleton-team re-entries
	// sharing the same (num_threads, thread_num) team identity; it is not
	// hashed into the team's InterimCommunicator payload key, per spec.md
	// §4.6, only compared when two keys are otherwise equal.
	singletonCounter uint32

	// pendingForkSeq is set by ON_FORK and consumed by the next
	// ON_TEAM_BEGIN on this TPD's children.
	pendingForkSeq uint32
}

// Location returns the Location this TPD's thread currently writes
// events into.
func (t *TPD) Location() *location.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loc
}

// Parent returns the TPD that forked this one, or nil for the initial TPD.
func (t *TPD) Parent() *TPD {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parent
}

// State returns the TPD's current fork/join state.
func (t *TPD) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// TeamKey is the dedup identity of a team's InterimCommunicator payload:
// two teams are the same iff NumThreads and ThreadNum match and the
// parent TPD is identical (spec.md §4.6). SingletonCounter is carried
// for diagnostics only; it is deliberately excluded from equality.
type TeamKey struct {
	NumThreads int
	ThreadNum  int
	Parent     *TPD
}

// Model owns the process-wide TPD tree: the initial TPD, the
// process-wide fork sequence counter, and the first-fork location pool
// that sequence count 1 lazily allocates.
type Model struct {
	mu sync.Mutex

	locations *location.Manager
	forkSeq   uint32 // atomic; next value handed out by nextForkSequence

	initial *TPD

	// firstForkPool holds one pre-allocated Location per non-master team
	// slot, created once (at fork sequence 1) so that location ids stay
	// deterministic across runs with the same team shape (spec.md §4.6).
	firstForkPool     []*location.Location
	firstForkPoolOnce sync.Once
	firstForkPoolSize int

	substrates *substrate.Table
}

// SetSubstrates wires the fan-out table MgmtOnCPULocationActivation/
// Deactivation are run against. Called once, by the runtime layer,
// once the table exists.
func (m *Model) SetSubstrates(substrates *substrate.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.substrates = substrates
}

func (m *Model) notifyActivation(loc *location.Location) {
	m.mu.Lock()
	substrates := m.substrates
	m.mu.Unlock()
	if substrates != nil {
		_, _ = substrates.RunManagementHook(substrate.MgmtOnCPULocationActivation, loc)
	}
}

func (m *Model) notifyDeactivation(loc *location.Location) {
	m.mu.Lock()
	substrates := m.substrates
	m.mu.Unlock()
	if substrates != nil {
		_, _ = substrates.RunManagementHook(substrate.MgmtOnCPULocationDeactivation, loc)
	}
}

// NewModel creates a Model with an initial TPD bound to the process's
// first (root) Location.
func NewModel(locations *location.Manager) (*Model, error) {
	root, err := locations.Create(location.TypeCPUThread, nil, "initial thread")
	if err != nil {
		return nil, err
	}
	return &Model{
		locations: locations,
		initial:   &TPD{loc: root, state: StateActive},
	}, nil
}

// Initial returns the process's initial TPD, created at Model
// construction (spec.md §4.12 step 11).
func (m *Model) Initial() *TPD {
	return m.initial
}

// nextForkSequence returns the next value of the process-wide
// monotonically increasing fork sequence counter. Sequence count 1 is
// special: the caller must trigger first-fork pool allocation.
func (m *Model) nextForkSequence() uint32 {
	return atomic.AddUint32(&m.forkSeq, 1)
}

// OnFork implements ON_FORK(n): the calling (master) TPD records a fork
// sequence count, grows its children slots to size n, and suspends.
// Returns the fork sequence count, which callers pass to OnTeamBegin.
func (m *Model) OnFork(master *TPD, n int) (uint32, error) {
	if n < 1 {
		return 0, fmt.Errorf("thread: fork team size must be >= 1, got %d", n)
	}

	seq := m.nextForkSequence()

	master.mu.Lock()
	if len(master.children) < n {
		grown := make([]*TPD, n)
		copy(grown, master.children)
		master.children = grown
	}
	master.pendingForkSeq = seq
	master.state = StateSuspended
	master.mu.Unlock()

	if seq == 1 {
		m.ensureFirstForkPool(n)
	}
	return seq, nil
}

// ensureFirstForkPool lazily pre-allocates one Location per non-master
// team slot exactly once, under a mutex, so that location ids assigned
// to early team members stay deterministic (spec.md §4.6).
func (m *Model) ensureFirstForkPool(n int) {
	m.firstForkPoolOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.firstForkPoolSize = n
		m.firstForkPool = make([]*location.Location, n)
		for i := 1; i < n; i++ { // slot 0 always reuses the master's own Location
			loc, err := m.locations.Create(location.TypeCPUThread, nil, fmt.Sprintf("first-fork slot %d", i))
			if err != nil {
				continue
			}
			m.firstForkPool[i] = loc
		}
	})
}

// OnTeamBegin implements ON_TEAM_BEGIN for a worker entering a team of
// the given size at the given thread-number (0 == master slot).
//
//   - teamSize == 1 ("singleton team"): self is reused; its fork sequence
//     count is pushed on self's reuse-count stack instead of creating a
//     new TPD.
//   - threadNum == 0: the master's own Location is reused; no new TPD or
//     Location is created — self is returned directly.
//   - otherwise: the corresponding child TPD is reused if self ran a
//     previous fork at the same team slot, else a new TPD (and, for the
//     very first fork, a pre-allocated pool Location) is created.
func (m *Model) OnTeamBegin(self *TPD, forkSeq uint32, teamSize, threadNum int) (*TPD, error) {
	if teamSize == 1 {
		self.mu.Lock()
		self.reuseStack = append(self.reuseStack, forkSeq)
		self.mu.Unlock()
		return self, nil
	}
	if threadNum == 0 {
		return self, nil
	}

	self.mu.Lock()
	defer self.mu.Unlock()

	if threadNum >= len(self.children) {
		return nil, fmt.Errorf("thread: team slot %d exceeds forked team size %d", threadNum, len(self.children))
	}
	if child := self.children[threadNum]; child != nil {
		child.mu.Lock()
		child.state = StateActive
		loc := child.loc
		child.mu.Unlock()
		m.notifyActivation(loc)
		return child, nil
	}

	loc := m.poolLocation(threadNum)
	if loc == nil {
		var err error
		loc, err = m.locations.Create(location.TypeCPUThread, self.loc, fmt.Sprintf("team slot %d", threadNum))
		if err != nil {
			return nil, err
		}
	}

	child := &TPD{loc: loc, parent: self, state: StateActive}
	self.children[threadNum] = child
	m.notifyActivation(loc)
	return child, nil
}

// poolLocation returns the pre-allocated first-fork Location for slot,
// if the pool exists and has a free entry there, and removes it from the
// pool so no other TPD is handed the same Location.
func (m *Model) poolLocation(slot int) *location.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot < len(m.firstForkPool) {
		loc := m.firstForkPool[slot]
		m.firstForkPool[slot] = nil
		return loc
	}
	return nil
}

// OnTeamEnd implements ON_TEAM_END: pop self's reuse-count stack if
// non-empty (singleton-team re-entry unwinding) and return the popped
// fork sequence count; otherwise suspend self and return its parent.
func (m *Model) OnTeamEnd(self *TPD) (*TPD, uint32, bool) {
	self.mu.Lock()
	if n := len(self.reuseStack); n > 0 {
		seq := self.reuseStack[n-1]
		self.reuseStack = self.reuseStack[:n-1]
		self.mu.Unlock()
		return self, seq, true
	}

	self.state = StateSuspended
	loc := self.loc
	parent := self.parent
	self.mu.Unlock()

	m.notifyDeactivation(loc)
	return parent, 0, false
}

// OnJoin implements ON_JOIN: every active child of master is suspended,
// and master transitions back to active.
func (m *Model) OnJoin(master *TPD) {
	master.mu.Lock()
	var deactivated []*location.Location
	for _, child := range master.children {
		if child == nil {
			continue
		}
		child.mu.Lock()
		if child.state == StateActive {
			child.state = StateSuspended
			deactivated = append(deactivated, child.loc)
		}
		child.mu.Unlock()
	}
	master.state = StateActive
	master.mu.Unlock()

	for _, loc := range deactivated {
		m.notifyDeactivation(loc)
	}
}
