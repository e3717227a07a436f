// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package arena implements the measurement runtime's page allocator: a
// deterministic, fixed-budget memory source shared by every page manager
// in the process. It hands out fixed-size pages on demand and never
// returns memory to the OS until Allocator.Close, matching the "hard cap,
// no surprise growth" guarantee instrumented applications depend on.
package arena

import (
	"fmt"
	"sync"
)

// MaxTotalMemory is the hard cap from the configuration surface: 4 GiB - 1.
const MaxTotalMemory = (1 << 32) - 1

// Locker is the guard hook an Allocator may be constructed with, so a
// caller that already holds a broader lock (e.g. a location's own mutex)
// can supply it instead of letting the allocator take its own.
type Locker interface {
	Lock()
	Unlock()
}

// Allocator owns the fixed-size page pool for one process. All page
// managers draw pages from the same Allocator.
type Allocator struct {
	guard    Locker
	pageSize uint32
	maxPages uint32

	mu        sync.Mutex
	pages     [][]byte
	allocated uint32
}

// New creates an Allocator with the given total memory budget and page
// size. totalMemory is clamped to MaxTotalMemory with no error (the
// boundary behaviour the spec calls for); pageSize must evenly divide the
// (possibly clamped) totalMemory or New returns a fatal configuration
// error, since a ragged last page would silently shrink the budget.
func New(totalMemory, pageSize uint64, guard Locker) (*Allocator, error) {
	if pageSize == 0 {
		return nil, fmt.Errorf("page_size must be > 0")
	}
	if totalMemory > MaxTotalMemory {
		totalMemory = MaxTotalMemory
	}
	if pageSize > totalMemory {
		return nil, fmt.Errorf("page_size (%d) exceeds total_memory (%d)", pageSize, totalMemory)
	}
	if totalMemory%pageSize != 0 {
		return nil, fmt.Errorf("page_size (%d) must evenly divide total_memory (%d)", pageSize, totalMemory)
	}

	a := &Allocator{
		pageSize: uint32(pageSize),
		maxPages: uint32(totalMemory / pageSize),
		guard:    guard,
	}
	if a.guard == nil {
		a.guard = &a.mu
	}
	return a, nil
}

// PageSize returns the fixed page size this allocator hands out.
func (a *Allocator) PageSize() uint32 {
	return a.pageSize
}

// acquirePage hands a fresh zeroed page to the caller, or reports
// ErrOutOfPages if the total memory budget is exhausted.
func (a *Allocator) acquirePage() ([]byte, uint32, error) {
	a.guard.Lock()
	defer a.guard.Unlock()

	if a.allocated >= a.maxPages {
		return nil, 0, ErrOutOfPages
	}
	page := make([]byte, a.pageSize)
	a.pages = append(a.pages, page)
	a.allocated++
	return page, a.allocated - 1, nil
}

// releasePages returns n pages to the budget. It does not recycle the
// underlying byte slices (they become eligible for GC); the accounting is
// what the spec's "free(pm): drop all pages owned by pm" needs.
func (a *Allocator) releasePages(n uint32) {
	a.guard.Lock()
	defer a.guard.Unlock()
	if n > a.allocated {
		n = a.allocated
	}
	a.allocated -= n
}

// BytesInUse reports the total bytes currently handed out across every
// page manager drawing from this allocator (testable property #7).
func (a *Allocator) BytesInUse() uint64 {
	a.guard.Lock()
	defer a.guard.Unlock()
	return uint64(a.allocated) * uint64(a.pageSize)
}

// ErrOutOfPages is returned by PageManager.Alloc/AllocMovable when the
// allocator's total memory budget is exhausted. The runtime lifecycle
// layer treats this as fatal per spec.md §7.
var ErrOutOfPages = fmt.Errorf("arena: out of pages")
