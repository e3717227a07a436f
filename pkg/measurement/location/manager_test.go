// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package location_test

import (
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
	"github.com/antimetal/scorep-core/pkg/measurement/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *location.Manager {
	t.Helper()
	a, err := arena.New(1<<20, 4096, nil)
	require.NoError(t, err)
	reg := definition.NewRegistry(arena.NewPageManager(a))
	return location.NewManager(a, reg, 2)
}

func TestManager_Create(t *testing.T) {
	m := newTestManager(t)

	l1, err := m.Create(location.TypeCPUThread, nil, "thread 0")
	require.NoError(t, err)
	assert.Equal(t, location.TypeCPUThread, l1.Type())

	l2, err := m.Create(location.TypeCPUThread, l1, "thread 1")
	require.NoError(t, err)
	assert.Equal(t, l1, l2.Parent())

	all := m.All()
	assert.Len(t, all, 2)
}

func TestManager_DeferredInitRunsOnFlush(t *testing.T) {
	m := newTestManager(t)

	var initialized []uint32
	m.RegisterInitHook(func(l *location.Location) {
		initialized = append(initialized, l.ID())
	})

	l1, err := m.Create(location.TypeCPUThread, nil, "early")
	require.NoError(t, err)
	assert.Empty(t, initialized, "hooks must not run before FlushDeferred while init is deferred")

	m.FlushDeferred()
	assert.Equal(t, []uint32{l1.ID()}, initialized)

	l2, err := m.Create(location.TypeCPUThread, nil, "late")
	require.NoError(t, err)
	assert.Equal(t, []uint32{l1.ID(), l2.ID()}, initialized, "hooks run immediately once init is no longer deferred")
}

func TestManager_DeleteRemovesLocationAndRunsDeleteHooks(t *testing.T) {
	m := newTestManager(t)

	var deleted []uint32
	m.RegisterDeleteHook(func(l *location.Location) {
		deleted = append(deleted, l.ID())
	})

	l1, err := m.Create(location.TypeCPUThread, nil, "a")
	require.NoError(t, err)
	l2, err := m.Create(location.TypeCPUThread, nil, "b")
	require.NoError(t, err)
	require.Len(t, m.All(), 2)

	require.NoError(t, m.Delete(l1))
	assert.Equal(t, []uint32{l1.ID()}, deleted)
	assert.Equal(t, []*location.Location{l2}, m.All())

	require.NoError(t, m.Delete(l2))
	assert.Equal(t, []uint32{l1.ID(), l2.ID()}, deleted)
	assert.Empty(t, m.All())
}

func TestManager_DeleteRejectsUnknownLocation(t *testing.T) {
	m1 := newTestManager(t)
	m2 := newTestManager(t)

	foreign, err := m2.Create(location.TypeCPUThread, nil, "foreign")
	require.NoError(t, err)

	assert.Error(t, m1.Delete(foreign))
}

func TestManager_ProcessMetricsIsSingleton(t *testing.T) {
	m := newTestManager(t)

	a, err := m.ProcessMetrics()
	require.NoError(t, err)
	b, err := m.ProcessMetrics()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestLocation_RecordTimestampMonotonic(t *testing.T) {
	m := newTestManager(t)
	l, err := m.Create(location.TypeCPUThread, nil, "t")
	require.NoError(t, err)

	require.NoError(t, l.RecordTimestamp(100))
	require.NoError(t, l.RecordTimestamp(200))
	assert.Error(t, l.RecordTimestamp(150))
}

func TestLocation_GlobalIDLazyAssignment(t *testing.T) {
	m := newTestManager(t)
	l, err := m.Create(location.TypeCPUThread, nil, "t")
	require.NoError(t, err)

	_, ok := l.GlobalID()
	assert.False(t, ok)

	require.NoError(t, l.AssignGlobalID(l.ID(), 0))
	id, ok := l.GlobalID()
	require.True(t, ok)
	assert.Equal(t, uint64(l.ID())<<32, id)

	// Reassigning with the same value is fine; a different value is not.
	require.NoError(t, l.AssignGlobalID(l.ID(), 0))
	assert.Error(t, l.AssignGlobalID(l.ID(), 1))
}
