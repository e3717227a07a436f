// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package thread_test

import (
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
	"github.com/antimetal/scorep-core/pkg/measurement/location"
	"github.com/antimetal/scorep-core/pkg/measurement/thread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) (*thread.Model, *location.Manager) {
	t.Helper()
	a, err := arena.New(1<<20, 4096, nil)
	require.NoError(t, err)
	reg := definition.NewRegistry(arena.NewPageManager(a))
	locs := location.NewManager(a, reg, 1)
	m, err := thread.NewModel(locs)
	require.NoError(t, err)
	return m, locs
}

func TestModel_ForkJoinTeam(t *testing.T) {
	m, _ := newTestModel(t)
	master := m.Initial()

	seq, err := m.OnFork(master, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seq, "first fork sequence count is 1")

	self, err := m.OnTeamBegin(master, seq, 4, 0)
	require.NoError(t, err)
	assert.Same(t, master, self, "thread 0 reuses the master's own location")

	worker, err := m.OnTeamBegin(master, seq, 4, 1)
	require.NoError(t, err)
	assert.NotSame(t, master, worker)
	assert.Equal(t, master, worker.Parent())

	parent, poppedSeq, wasSingleton := m.OnTeamEnd(worker)
	assert.False(t, wasSingleton)
	assert.Equal(t, uint32(0), poppedSeq)
	assert.Equal(t, master, parent)
	assert.Equal(t, thread.StateSuspended, worker.State())

	m.OnJoin(master)
	assert.Equal(t, thread.StateActive, master.State())
}

func TestModel_SingletonTeamRecursion(t *testing.T) {
	m, _ := newTestModel(t)
	master := m.Initial()

	seq1, err := m.OnFork(master, 1)
	require.NoError(t, err)
	self1, err := m.OnTeamBegin(master, seq1, 1, 0)
	require.NoError(t, err)
	assert.Same(t, master, self1, "singleton team never creates a new TPD")

	seq2, err := m.OnFork(master, 1)
	require.NoError(t, err)
	self2, err := m.OnTeamBegin(master, seq2, 1, 0)
	require.NoError(t, err)
	assert.Same(t, master, self2)

	// Unwind: two TEAM_END calls pop the reuse-count stack back to empty,
	// and no new Location was ever created.
	_, popped2, singleton2 := m.OnTeamEnd(master)
	assert.True(t, singleton2)
	assert.Equal(t, seq2, popped2)

	_, popped1, singleton1 := m.OnTeamEnd(master)
	assert.True(t, singleton1)
	assert.Equal(t, seq1, popped1)

	// Stack is empty now; the next TEAM_END (outside this test's scope)
	// would fall through to the suspend/parent path.
	assert.NotEqual(t, seq1, seq2, "two distinct fork sequence counts were allocated")
}

func TestModel_FirstForkSequenceIsOne(t *testing.T) {
	m, _ := newTestModel(t)
	master := m.Initial()

	seq, err := m.OnFork(master, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seq)
}

func TestModel_TeamSlotReuseAcrossForks(t *testing.T) {
	m, _ := newTestModel(t)
	master := m.Initial()

	seqA, err := m.OnFork(master, 2)
	require.NoError(t, err)
	workerA, err := m.OnTeamBegin(master, seqA, 2, 1)
	require.NoError(t, err)
	m.OnTeamEnd(workerA)
	m.OnJoin(master)

	seqB, err := m.OnFork(master, 2)
	require.NoError(t, err)
	workerB, err := m.OnTeamBegin(master, seqB, 2, 1)
	require.NoError(t, err)

	assert.Same(t, workerA, workerB, "the same team slot reuses its TPD across forks")
}
