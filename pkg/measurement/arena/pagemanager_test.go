// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package arena_test

import (
	"errors"
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageManager_Alloc(t *testing.T) {
	a, err := arena.New(4096*2, 4096, nil)
	require.NoError(t, err)
	pm := arena.NewPageManager(a)

	t.Run("bump allocates within a page without drawing a new one", func(t *testing.T) {
		_, err := pm.Alloc(100)
		require.NoError(t, err)
		assert.Equal(t, 1, pm.PageCount())

		_, err = pm.Alloc(100)
		require.NoError(t, err)
		assert.Equal(t, 1, pm.PageCount(), "second small alloc should reuse the same page")
	})

	t.Run("allocation larger than the remaining page draws a fresh page", func(t *testing.T) {
		_, err := pm.Alloc(4090)
		require.NoError(t, err)
		assert.Equal(t, 2, pm.PageCount())
	})

	t.Run("allocation larger than a whole page fails with ErrOutOfPages", func(t *testing.T) {
		_, err := pm.Alloc(8192)
		assert.ErrorIs(t, err, arena.ErrOutOfPages)
	})

	t.Run("budget exhaustion fails with ErrOutOfPages", func(t *testing.T) {
		// pm has already claimed both pages the allocator's 2-page budget allows.
		pm2 := arena.NewPageManager(a)
		_, err := pm2.Alloc(4096)
		assert.ErrorIs(t, err, arena.ErrOutOfPages)
	})
}

func TestPageManager_AllocMovable_ResolveRoundTrip(t *testing.T) {
	a, err := arena.New(4096, 4096, nil)
	require.NoError(t, err)
	pm := arena.NewPageManager(a)

	h, err := pm.AllocMovable(16)
	require.NoError(t, err)
	assert.True(t, h.Valid())

	buf, err := pm.Resolve(h, 16)
	require.NoError(t, err)
	require.Len(t, buf, 16)

	copy(buf, []byte("0123456789abcdef"))

	buf2, err := pm.Resolve(h, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), buf2)
}

func TestPageManager_Rollback(t *testing.T) {
	a, err := arena.New(4096, 4096, nil)
	require.NoError(t, err)
	pm := arena.NewPageManager(a)

	first, err := pm.AllocMovable(100)
	require.NoError(t, err)

	dup, err := pm.AllocMovable(50)
	require.NoError(t, err)

	// Definition registry discovers dup collides with an existing entry
	// and discards it.
	require.NoError(t, pm.Rollback(dup))

	// The space freed by the rollback is available to the next allocation.
	reused, err := pm.AllocMovable(50)
	require.NoError(t, err)
	assert.Equal(t, dup.Offset(), reused.Offset())

	_, err = pm.Resolve(first, 100)
	require.NoError(t, err, "rollback must not disturb earlier allocations")
}

func TestPageManager_Free(t *testing.T) {
	a, err := arena.New(4096*2, 4096, nil)
	require.NoError(t, err)
	pm := arena.NewPageManager(a)

	_, err = pm.Alloc(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), a.BytesInUse())

	pm.Free()
	assert.Equal(t, 0, pm.PageCount())
	assert.Equal(t, uint64(0), a.BytesInUse())

	// Pages are returned to the shared budget and can be reacquired.
	pm2 := arena.NewPageManager(a)
	_, err = pm2.Alloc(100)
	require.NoError(t, err)
}

func TestPageManager_Resolve_UnknownPage(t *testing.T) {
	a, err := arena.New(4096, 4096, nil)
	require.NoError(t, err)
	pm := arena.NewPageManager(a)

	_, err = pm.Resolve(arena.MovableHandle(1<<40), 8)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, arena.ErrOutOfPages))
}
