// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package task_test

import (
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CreateBeginLazilyAllocates(t *testing.T) {
	a, err := arena.New(1<<16, 4096, nil)
	require.NoError(t, err)
	pm := arena.NewPageManager(a)

	e := task.NewEngine()
	id := task.ID{ThreadID: 1, Generation: 1}

	e.Create(id, arena.SeqHandle(5))
	assert.Equal(t, 0, pm.PageCount(), "TaskCreate must not allocate backing memory")

	tk, err := e.Begin(0, pm, id, arena.SeqHandle(5))
	require.NoError(t, err)
	assert.Equal(t, 1, pm.PageCount(), "first TaskBegin allocates the task record")

	current, ok := e.Current(0)
	require.True(t, ok)
	assert.Same(t, tk, current)
}

func TestEngine_SwitchAndEnd(t *testing.T) {
	a, err := arena.New(1<<16, 4096, nil)
	require.NoError(t, err)
	pm := arena.NewPageManager(a)
	e := task.NewEngine()

	id1 := task.ID{ThreadID: 1, Generation: 1}
	id2 := task.ID{ThreadID: 1, Generation: 2}

	t1, err := e.Begin(0, pm, id1, arena.SeqHandle(1))
	require.NoError(t, err)
	t2, err := e.Begin(0, pm, id2, arena.SeqHandle(2))
	require.NoError(t, err)

	e.Switch(0, t1)
	current, ok := e.Current(0)
	require.True(t, ok)
	assert.Same(t, t1, current)

	require.NoError(t, e.End(0, t2))
	_, stillCurrent := e.Current(0)
	assert.True(t, stillCurrent, "ending a non-current task must not clear the current pointer")
}
