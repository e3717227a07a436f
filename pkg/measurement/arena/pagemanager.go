// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package arena

import (
	"fmt"
	"sync"
)

// page tracks one fixed-size page owned by a PageManager plus its bump
// pointer: the byte offset of the next free slot.
type page struct {
	bytes []byte
	next  uint32
}

// PageManager is a single-owner bump allocator: it draws whole pages
// from a shared Allocator and hands out byte ranges within them. A
// Location owns one PageManager per arena.Kind (C2).
//
// Each PageManager method takes the manager's own mutex, so single calls
// are safe from multiple goroutines; a sequence of calls (an allocation
// followed by its Rollback) is not atomic, so the owning Location is
// responsible for serializing such sequences, consistent with the lock
// order in spec.md §5 (allocator lock is always acquired beneath any
// location-level lock, never the reverse).
type PageManager struct {
	mu    sync.Mutex
	alloc *Allocator
	pages []*page
}

// NewPageManager creates a PageManager drawing pages from alloc.
func NewPageManager(alloc *Allocator) *PageManager {
	return &PageManager{alloc: alloc}
}

// Alloc reserves size bytes and returns a raw pointer (the backing
// slice) to them. It fails with ErrOutOfPages if size exceeds a single
// page or the allocator's budget is exhausted.
func (pm *PageManager) Alloc(size uint32) ([]byte, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if size > pm.alloc.PageSize() {
		return nil, fmt.Errorf("%w: requested size %d exceeds page size %d", ErrOutOfPages, size, pm.alloc.PageSize())
	}

	if n := len(pm.pages); n > 0 {
		p := pm.pages[n-1]
		if pm.alloc.PageSize()-p.next >= size {
			b := p.bytes[p.next : p.next+size]
			p.next += size
			return b, nil
		}
	}

	raw, _, err := pm.alloc.acquirePage()
	if err != nil {
		return nil, err
	}
	p := &page{bytes: raw, next: size}
	pm.pages = append(pm.pages, p)
	return p.bytes[:size], nil
}

// AllocMovable reserves size bytes and returns a MovableHandle rather
// than a raw pointer, so the allocation survives page-list growth (the
// backing slice header for an earlier page never needs to move; the
// handle simply records which page it lives in).
func (pm *PageManager) AllocMovable(size uint32) (MovableHandle, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if size > pm.alloc.PageSize() {
		return NoHandle, fmt.Errorf("%w: requested size %d exceeds page size %d", ErrOutOfPages, size, pm.alloc.PageSize())
	}

	if n := len(pm.pages); n > 0 {
		p := pm.pages[n-1]
		if pm.alloc.PageSize()-p.next >= size {
			off := p.next
			p.next += size
			return newMovableHandle(uint32(n-1), off), nil
		}
	}

	raw, _, err := pm.alloc.acquirePage()
	if err != nil {
		return NoHandle, err
	}
	p := &page{bytes: raw, next: size}
	pm.pages = append(pm.pages, p)
	return newMovableHandle(uint32(len(pm.pages)-1), 0), nil
}

// Resolve returns the raw byte range a MovableHandle addresses. The
// returned slice is only valid until the next Rollback or Free call.
func (pm *PageManager) Resolve(h MovableHandle, size uint32) ([]byte, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	idx := h.PageIndex()
	if int(idx) >= len(pm.pages) {
		return nil, fmt.Errorf("arena: handle references unknown page %d", idx)
	}
	p := pm.pages[idx]
	off := h.Offset()
	if off+size > uint32(len(p.bytes)) {
		return nil, fmt.Errorf("arena: handle range [%d,%d) exceeds page bounds", off, off+size)
	}
	return p.bytes[off : off+size], nil
}

// Rollback truncates the bump pointer of the page addressed by h back to
// h's offset, discarding h and everything allocated after it. The
// definition registry (C4) uses this to undo a speculative allocation
// when a define() call turns out to hash-collide with an existing entry.
//
// Rollback only works correctly when h was the most recent allocation on
// its page; rolling back anything else silently reopens memory that a
// later allocation has already claimed, so callers must roll back in
// strict LIFO order.
func (pm *PageManager) Rollback(h MovableHandle) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	idx := h.PageIndex()
	if int(idx) >= len(pm.pages) {
		return fmt.Errorf("arena: handle references unknown page %d", idx)
	}
	pm.pages[idx].next = h.Offset()
	return nil
}

// Free drops every page this PageManager owns, returning them to the
// shared Allocator's budget. The PageManager is empty and reusable
// afterward.
func (pm *PageManager) Free() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.alloc.releasePages(uint32(len(pm.pages)))
	pm.pages = nil
}

// PageCount returns the number of pages currently owned by pm, mostly
// for tests and metrics.
func (pm *PageManager) PageCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.pages)
}
