// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package substrate_test

import (
	"errors"
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubstrate struct {
	name        string
	entered     int
	requirement int64
}

func (f *fakeSubstrate) Name() string { return f.name }
func (f *fakeSubstrate) EventCallbacks() map[substrate.EventType]substrate.EventCallback {
	return map[substrate.EventType]substrate.EventCallback{
		substrate.EventEnterRegion: func(rec substrate.Record) error {
			f.entered++
			return nil
		},
	}
}
func (f *fakeSubstrate) ManagementHooks() map[substrate.ManagementHook]func(args ...any) (any, error) {
	return map[substrate.ManagementHook]func(args ...any) (any, error){
		substrate.MgmtInitSubstrate: func(args ...any) (any, error) { return f.name, nil },
	}
}
func (f *fakeSubstrate) Requirement(flag substrate.RequirementFlag) int64 { return f.requirement }

type lifecycleSubstrate struct {
	name        string
	initErr     error
	finalizeErr error
	finalized   bool
}

func (f *lifecycleSubstrate) Name() string { return f.name }
func (f *lifecycleSubstrate) EventCallbacks() map[substrate.EventType]substrate.EventCallback {
	return nil
}
func (f *lifecycleSubstrate) ManagementHooks() map[substrate.ManagementHook]func(args ...any) (any, error) {
	return map[substrate.ManagementHook]func(args ...any) (any, error){
		substrate.MgmtInitSubstrate: func(args ...any) (any, error) { return nil, f.initErr },
		substrate.MgmtFinalizeSubstrate: func(args ...any) (any, error) {
			f.finalized = true
			return nil, f.finalizeErr
		},
	}
}
func (f *lifecycleSubstrate) Requirement(flag substrate.RequirementFlag) int64 { return 0 }

func TestTable_DispatchFansOutInRegistrationOrder(t *testing.T) {
	tbl := substrate.NewTable()
	a := &fakeSubstrate{name: "a"}
	b := &fakeSubstrate{name: "b"}
	tbl.Register(a)
	tbl.Register(b)

	assert.True(t, tbl.EventIsConsumed(substrate.EventEnterRegion))
	assert.False(t, tbl.EventIsConsumed(substrate.EventExitRegion))

	require.NoError(t, tbl.Dispatch(substrate.Record{Type: substrate.EventEnterRegion}))
	assert.Equal(t, 1, a.entered)
	assert.Equal(t, 1, b.entered)
}

type failingSubstrate struct {
	name    string
	entered bool
}

func (f *failingSubstrate) Name() string { return f.name }
func (f *failingSubstrate) EventCallbacks() map[substrate.EventType]substrate.EventCallback {
	return map[substrate.EventType]substrate.EventCallback{
		substrate.EventEnterRegion: func(rec substrate.Record) error {
			f.entered = true
			return errBoom
		},
	}
}
func (f *failingSubstrate) ManagementHooks() map[substrate.ManagementHook]func(args ...any) (any, error) {
	return nil
}
func (f *failingSubstrate) Requirement(flag substrate.RequirementFlag) int64 { return 0 }

func TestTable_DispatchCollectsFirstErrorWithoutStopping(t *testing.T) {
	tbl := substrate.NewTable()
	first := &failingSubstrate{name: "first"}
	second := &fakeSubstrate{name: "second"}
	tbl.Register(first)
	tbl.Register(second)

	err := tbl.Dispatch(substrate.Record{Type: substrate.EventEnterRegion})
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, first.entered)
	assert.Equal(t, 1, second.entered, "later slots still run after an earlier one errors")
}

func TestTable_RunManagementHook(t *testing.T) {
	tbl := substrate.NewTable()
	tbl.Register(&fakeSubstrate{name: "tracer"})
	result, err := tbl.RunManagementHook(substrate.MgmtInitSubstrate)
	require.NoError(t, err)
	assert.Equal(t, "tracer", result)
}

func TestTable_FoldRequirement(t *testing.T) {
	tbl := substrate.NewTable()
	tbl.Register(&fakeSubstrate{name: "a", requirement: 1})
	tbl.Register(&fakeSubstrate{name: "b", requirement: 0})

	assert.Equal(t, int64(0), tbl.FoldRequirement(substrate.RequirementNeedsMetrics, substrate.FoldAnd))
	assert.Equal(t, int64(1), tbl.FoldRequirement(substrate.RequirementNeedsMetrics, substrate.FoldOr))
}

func TestTable_RegisterRunsNewSubstratesInitHook(t *testing.T) {
	tbl := substrate.NewTable()
	s := &lifecycleSubstrate{name: "lifecycle"}
	require.NoError(t, tbl.Register(s))
}

func TestTable_RegisterPropagatesInitHookError(t *testing.T) {
	tbl := substrate.NewTable()
	s := &lifecycleSubstrate{name: "lifecycle", initErr: errBoom}
	err := tbl.Register(s)
	assert.ErrorIs(t, err, errBoom)
}

func TestTable_FinalizeAllRunsEverySubstratesFinalizeHook(t *testing.T) {
	tbl := substrate.NewTable()
	a := &lifecycleSubstrate{name: "a"}
	b := &lifecycleSubstrate{name: "b"}
	require.NoError(t, tbl.Register(a))
	require.NoError(t, tbl.Register(b))

	require.NoError(t, tbl.FinalizeAll())
	assert.True(t, a.finalized)
	assert.True(t, b.finalized)
}

func TestTable_FinalizeAllCollectsFirstError(t *testing.T) {
	tbl := substrate.NewTable()
	a := &lifecycleSubstrate{name: "a", finalizeErr: errBoom}
	b := &lifecycleSubstrate{name: "b"}
	require.NoError(t, tbl.Register(a))
	require.NoError(t, tbl.Register(b))

	err := tbl.FinalizeAll()
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, a.finalized)
	assert.True(t, b.finalized, "later substrates still run after an earlier one errors")
}

var errBoom = errors.New("boom")
