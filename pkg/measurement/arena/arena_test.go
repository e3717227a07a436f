// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package arena_test

import (
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("total memory equal to page size succeeds", func(t *testing.T) {
		a, err := arena.New(4096, 4096, nil)
		require.NoError(t, err)
		assert.Equal(t, uint32(4096), a.PageSize())
	})

	t.Run("page size exceeding total memory is a configuration error", func(t *testing.T) {
		_, err := arena.New(1024, 4096, nil)
		assert.Error(t, err)
	})

	t.Run("page size must evenly divide total memory", func(t *testing.T) {
		_, err := arena.New(5000, 4096, nil)
		assert.Error(t, err)
	})

	t.Run("total memory above the 4 GiB cap is clamped, not rejected", func(t *testing.T) {
		// MaxTotalMemory+1 is clamped back down to MaxTotalMemory, which a
		// page size of 1 divides evenly, so this must succeed rather than
		// surface a configuration error for the oversize request.
		_, err := arena.New(arena.MaxTotalMemory+1, 1, nil)
		require.NoError(t, err)
	})

	t.Run("zero page size is rejected", func(t *testing.T) {
		_, err := arena.New(4096, 0, nil)
		assert.Error(t, err)
	})
}

func TestAllocator_BytesInUse(t *testing.T) {
	a, err := arena.New(8192, 4096, nil)
	require.NoError(t, err)
	pm := arena.NewPageManager(a)

	assert.Equal(t, uint64(0), a.BytesInUse())

	_, err = pm.Alloc(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), a.BytesInUse())

	pm.Free()
	assert.Equal(t, uint64(0), a.BytesInUse())
}

type noopLocker struct {
	locked int
}

func (l *noopLocker) Lock()   { l.locked++ }
func (l *noopLocker) Unlock() { l.locked-- }

func TestNew_CustomGuard(t *testing.T) {
	guard := &noopLocker{}
	a, err := arena.New(4096, 4096, guard)
	require.NoError(t, err)

	pm := arena.NewPageManager(a)
	_, err = pm.Alloc(10)
	require.NoError(t, err)
	assert.Equal(t, 0, guard.locked, "guard must be released after use")
}
