// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package definition

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
)

// StringTable is the one definition kind whose payload is raw bytes
// rather than a struct of handles, so unlike the rest of the registry it
// stores its committed content in an arena.PageManager and exercises the
// allocate -> probe -> rollback-or-link protocol literally: every Define
// call allocates movable bytes up front, and a duplicate's allocation is
// rolled back rather than left committed.
//
// The empty string is pre-registered at sequence 0 so every other
// definition kind can reference "no name" without a nil check.
type StringTable struct {
	mu      sync.Mutex
	pm      *arena.PageManager
	index   map[string]arena.SeqHandle
	handles []arena.MovableHandle
	lengths []uint32
}

// NewStringTable creates a StringTable backed by pm, pre-registering the
// empty string at sequence 0.
func NewStringTable(pm *arena.PageManager) *StringTable {
	t := &StringTable{
		pm:    pm,
		index: make(map[string]arena.SeqHandle),
	}
	if _, err := t.Define(""); err != nil {
		// Reserving sequence 0 is a zero-byte allocation; it still draws
		// the manager's first page, so it fails only if the allocator's
		// budget is already exhausted.
		panic(fmt.Sprintf("definition: failed to reserve empty string: %v", err))
	}
	return t
}

// Define registers s, returning its dense sequence handle. Calling
// Define twice with equal content always returns the same handle.
func (t *StringTable) Define(s string) (arena.SeqHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.pm.AllocMovable(uint32(len(s)))
	if err != nil {
		return 0, fmt.Errorf("definition: allocating string %q: %w", s, err)
	}
	if len(s) > 0 {
		buf, err := t.pm.Resolve(h, uint32(len(s)))
		if err != nil {
			return 0, err
		}
		copy(buf, s)
	}

	if existing, ok := t.index[s]; ok {
		// Duplicate: undo the speculative allocation above. Safe because
		// nothing else can have allocated from pm between AllocMovable and
		// here — StringTable.Define holds pm exclusively under its own lock.
		if err := t.pm.Rollback(h); err != nil {
			return 0, err
		}
		return existing, nil
	}

	seq := arena.SeqHandle(len(t.handles))
	t.handles = append(t.handles, h)
	t.lengths = append(t.lengths, uint32(len(s)))
	t.index[s] = seq
	return seq, nil
}

// Bytes resolves handle back to its string content.
func (t *StringTable) Bytes(handle arena.SeqHandle) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(handle) >= len(t.handles) {
		return "", fmt.Errorf("definition: unknown string handle %d", handle)
	}
	if t.lengths[handle] == 0 {
		return "", nil
	}
	buf, err := t.pm.Resolve(t.handles[handle], t.lengths[handle])
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// Len returns the number of distinct strings registered so far.
func (t *StringTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// fnvHash64 is the hash function every other kind's Key implementation
// uses for its Hash() method.
func fnvHash64(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
