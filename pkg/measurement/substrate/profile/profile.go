// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package profile implements an in-memory call-path profile substrate:
// the minimum viable "profile writer" spec.md requires to exist,
// accumulating per-region visit counts and inclusive/exclusive duration
// into a call-path tree, then emitting it as a Snapshot — modeled on
// the teacher's performance.Snapshot/Metrics update pattern (a flat
// struct rebuilt per collection cycle rather than an incremental
// streaming writer).
package profile

import (
	"sync"
	"time"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/clock"
	"github.com/antimetal/scorep-core/pkg/measurement/location"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
)

// node is one call-path tree entry for one location, keyed by region
// handle under its enclosing parent node.
type node struct {
	region     arena.SeqHandle
	visits     uint64
	exclusive  clock.Ticks
	inclusive  clock.Ticks
	enterStack []clock.Ticks
	children   map[arena.SeqHandle]*node
}

func newNode(region arena.SeqHandle) *node {
	return &node{region: region, children: make(map[arena.SeqHandle]*node)}
}

// NodeSnapshot is an immutable, externally consumable view of one
// call-path node, mirroring the teacher's Snapshot/Metrics split
// between live collector state and the struct handed to a reader.
type NodeSnapshot struct {
	Region    arena.SeqHandle
	Visits    uint64
	Exclusive time.Duration
	Inclusive time.Duration
	Children  []NodeSnapshot
}

// Snapshot is the tree Substrate.Snapshot returns: one root per
// location that has recorded at least one region enter.
type Snapshot struct {
	Timestamp time.Time
	Roots     map[uint32]NodeSnapshot // keyed by location ID
}

// Substrate accumulates call-path profile data from ENTER_REGION /
// EXIT_REGION events.
type Substrate struct {
	mu     sync.Mutex
	roots  map[uint32]*node
	stacks map[uint32][]*node
}

// New creates an empty profile substrate.
func New() *Substrate {
	return &Substrate{
		roots:  make(map[uint32]*node),
		stacks: make(map[uint32][]*node),
	}
}

func (s *Substrate) Name() string { return "profile" }

func (s *Substrate) EventCallbacks() map[substrate.EventType]substrate.EventCallback {
	return map[substrate.EventType]substrate.EventCallback{
		substrate.EventEnterRegion: s.onEnter,
		substrate.EventExitRegion:  s.onExit,
	}
}

func (s *Substrate) ManagementHooks() map[substrate.ManagementHook]func(args ...any) (any, error) {
	return map[substrate.ManagementHook]func(args ...any) (any, error){
		substrate.MgmtOnLocationDeletion: func(args ...any) (any, error) {
			if len(args) == 1 {
				if loc, ok := args[0].(*location.Location); ok {
					s.mu.Lock()
					delete(s.roots, loc.ID())
					delete(s.stacks, loc.ID())
					s.mu.Unlock()
				}
			}
			return nil, nil
		},
	}
}

// Requirement declares this substrate needs strictly-synchronous
// metrics for inclusive/exclusive accounting; it otherwise places no
// demands.
func (s *Substrate) Requirement(flag substrate.RequirementFlag) int64 {
	if flag == substrate.RequirementNeedsMetrics {
		return 1
	}
	return 0
}

func (s *Substrate) onEnter(rec substrate.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locID := rec.Location.ID()
	stack := s.stacks[locID]

	var parent *node
	if len(stack) > 0 {
		parent = stack[len(stack)-1]
	} else {
		root, ok := s.roots[locID]
		if !ok {
			root = newNode(0)
			s.roots[locID] = root
		}
		parent = root
	}

	child, ok := parent.children[rec.Region]
	if !ok {
		child = newNode(rec.Region)
		parent.children[rec.Region] = child
	}
	child.visits++
	child.enterStack = append(child.enterStack, rec.Timestamp)
	s.stacks[locID] = append(stack, child)
	return nil
}

func (s *Substrate) onExit(rec substrate.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locID := rec.Location.ID()
	stack := s.stacks[locID]
	if len(stack) == 0 {
		return nil
	}
	n := stack[len(stack)-1]
	s.stacks[locID] = stack[:len(stack)-1]

	if len(n.enterStack) == 0 {
		return nil
	}
	enter := n.enterStack[len(n.enterStack)-1]
	n.enterStack = n.enterStack[:len(n.enterStack)-1]

	dur := rec.Timestamp - enter
	n.inclusive += dur
	n.exclusive += dur

	// A child's time is not exclusive to its parent.
	if len(s.stacks[locID]) > 0 {
		caller := s.stacks[locID][len(s.stacks[locID])-1]
		caller.exclusive -= dur
	}
	return nil
}

// Snapshot returns a point-in-time copy of every location's call-path
// tree accumulated so far.
func (s *Substrate) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	roots := make(map[uint32]NodeSnapshot, len(s.roots))
	for locID, root := range s.roots {
		roots[locID] = snapshotNode(root)
	}
	return Snapshot{Timestamp: time.Now(), Roots: roots}
}

func snapshotNode(n *node) NodeSnapshot {
	out := NodeSnapshot{
		Region:    n.region,
		Visits:    n.visits,
		Exclusive: time.Duration(n.exclusive),
		Inclusive: time.Duration(n.inclusive),
	}
	for _, child := range n.children {
		out.Children = append(out.Children, snapshotNode(child))
	}
	return out
}
