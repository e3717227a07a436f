// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package definition

import (
	"fmt"
	"sync"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
)

// Table is a deduplicating, dense-sequence-numbered table for one
// definition kind. It is the generic realization of the define(args)
// protocol: compute the key's hash, probe the bucket chain, and either
// return an existing handle or link in a new one with the next
// sequence number.
//
// A definition's SeqHandle is always equal to its position in
// sequence-assignment order (0, 1, 2, ...), so All() returns definitions
// already in handle order and Get is an O(1) slice index.
type Table[K Key] struct {
	mu      sync.Mutex
	buckets map[uint64][]int
	entries []K
}

// NewTable creates an empty definition table.
func NewTable[K Key]() *Table[K] {
	return &Table[K]{buckets: make(map[uint64][]int)}
}

// Define registers key if it has not been seen before and returns its
// handle plus whether this call created it. An equal key previously
// registered returns the existing handle with created=false.
func (t *Table[K]) Define(key K) (handle arena.SeqHandle, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := key.Hash()
	for _, idx := range t.buckets[h] {
		if t.entries[idx].Equal(key) {
			return arena.SeqHandle(idx), false
		}
	}

	idx := len(t.entries)
	t.entries = append(t.entries, key)
	t.buckets[h] = append(t.buckets[h], idx)
	return arena.SeqHandle(idx), true
}

// Set overwrites the entry at handle in place, without touching the
// hash buckets. Define's dedup-by-Equal contract means re-Defining a
// key that differs only in a field Equal ignores (e.g. a property's
// Invalidated flag, which PropertyKey.Equal does not compare) returns
// the stale existing handle instead of updating anything; Set is the
// escape hatch for that case, mirroring SCOREP_InvalidateProperty's
// direct flip of the property definition it already holds a handle to.
func (t *Table[K]) Set(handle arena.SeqHandle, key K) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(handle) >= len(t.entries) {
		return fmt.Errorf("definition: set: handle %d out of range", handle)
	}
	t.entries[handle] = key
	return nil
}

// Get returns the definition registered under handle, if any.
func (t *Table[K]) Get(handle arena.SeqHandle) (K, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(handle) >= len(t.entries) {
		var zero K
		return zero, false
	}
	return t.entries[handle], true
}

// Len returns the number of definitions registered so far.
func (t *Table[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// All returns every registered definition in ascending handle
// (sequence-number) order. The returned slice is a copy; callers may
// mutate it freely.
func (t *Table[K]) All() []K {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]K, len(t.entries))
	copy(out, t.entries)
	return out
}
