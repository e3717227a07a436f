// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package event_test

import (
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/clock"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
	"github.com/antimetal/scorep-core/pkg/measurement/event"
	"github.com/antimetal/scorep-core/pkg/measurement/location"
	"github.com/antimetal/scorep-core/pkg/measurement/metric"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
	"github.com/antimetal/scorep-core/pkg/measurement/task"
	"github.com/antimetal/scorep-core/pkg/measurement/thread"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubstrate struct {
	records []substrate.Record
}

func (r *recordingSubstrate) Name() string { return "recorder" }
func (r *recordingSubstrate) EventCallbacks() map[substrate.EventType]substrate.EventCallback {
	cb := func(rec substrate.Record) error {
		r.records = append(r.records, rec)
		return nil
	}
	out := make(map[substrate.EventType]substrate.EventCallback)
	for et := substrate.EventEnterRegion; et <= substrate.EventMarker; et++ {
		out[et] = cb
	}
	return out
}
func (r *recordingSubstrate) ManagementHooks() map[substrate.ManagementHook]func(args ...any) (any, error) {
	return nil
}
func (r *recordingSubstrate) Requirement(flag substrate.RequirementFlag) int64 { return 0 }

type invalidateSpySubstrate struct {
	invalidated []substrate.EventType
}

func (s *invalidateSpySubstrate) Name() string { return "invalidate-spy" }
func (s *invalidateSpySubstrate) EventCallbacks() map[substrate.EventType]substrate.EventCallback {
	return nil
}
func (s *invalidateSpySubstrate) ManagementHooks() map[substrate.ManagementHook]func(args ...any) (any, error) {
	return map[substrate.ManagementHook]func(args ...any) (any, error){
		substrate.MgmtInvalidateProperty: func(args ...any) (any, error) {
			s.invalidated = append(s.invalidated, args[0].(substrate.EventType))
			return nil, nil
		},
	}
}
func (s *invalidateSpySubstrate) Requirement(flag substrate.RequirementFlag) int64 { return 0 }

func newHarness(t *testing.T) (*event.Dispatcher, *thread.TPD, *recordingSubstrate) {
	t.Helper()
	alloc, err := arena.New(1<<20, 4096, nil)
	require.NoError(t, err)
	registry := definition.NewRegistry(arena.NewPageManager(alloc))
	locMgr := location.NewManager(alloc, registry, 0)
	model, err := thread.NewModel(locMgr)
	require.NoError(t, err)

	rec := &recordingSubstrate{}
	tbl := substrate.NewTable()
	require.NoError(t, tbl.Register(rec))

	d := event.New(clock.NewSource(), tbl, task.NewEngine(), metric.NewRegistry(logr.Discard()))
	return d, model.Initial(), rec
}

func TestDispatcher_EnterExitProducesIncreasingTimestamps(t *testing.T) {
	d, tpd, rec := newHarness(t)
	region := arena.SeqHandle(1)

	require.NoError(t, d.EnterRegion(tpd, region, nil))
	require.NoError(t, d.ExitRegion(tpd, region, nil))

	require.Len(t, rec.records, 2)
	assert.Equal(t, substrate.EventEnterRegion, rec.records[0].Type)
	assert.Equal(t, substrate.EventExitRegion, rec.records[1].Type)
	assert.Greater(t, rec.records[1].Timestamp, rec.records[0].Timestamp)
}

func TestDispatcher_DisableRecordingSuppressesFanOut(t *testing.T) {
	d, tpd, rec := newHarness(t)
	d.DisableRecording()
	require.NoError(t, d.EnterRegion(tpd, 1, nil))
	assert.Empty(t, rec.records)
	assert.False(t, d.RecordingEnabled())

	d.EnableRecording()
	require.NoError(t, d.EnterRegion(tpd, 1, nil))
	assert.Len(t, rec.records, 1)
}

func TestDispatcher_DisableRecordingInvalidatesPropertiesInstead(t *testing.T) {
	alloc, err := arena.New(1<<20, 4096, nil)
	require.NoError(t, err)
	registry := definition.NewRegistry(arena.NewPageManager(alloc))
	locMgr := location.NewManager(alloc, registry, 0)
	model, err := thread.NewModel(locMgr)
	require.NoError(t, err)

	spy := &invalidateSpySubstrate{}
	tbl := substrate.NewTable()
	require.NoError(t, tbl.Register(spy))

	d := event.New(clock.NewSource(), tbl, task.NewEngine(), metric.NewRegistry(logr.Discard()))
	tpd := model.Initial()

	d.DisableRecording()
	require.NoError(t, d.EnterRegion(tpd, arena.SeqHandle(1), nil))

	require.Len(t, spy.invalidated, 1)
	assert.Equal(t, substrate.EventEnterRegion, spy.invalidated[0])
}

func TestDispatcher_RMALockReusesSuppliedTimestamp(t *testing.T) {
	d, tpd, rec := newHarness(t)
	ts := clock.Ticks(12345)

	require.NoError(t, d.RMARequestLock(tpd, arena.SeqHandle(1), &ts))
	require.Len(t, rec.records, 1)
	assert.Equal(t, ts, rec.records[0].Timestamp)
}

func TestDispatcher_MPICollectiveBeginEndBracket(t *testing.T) {
	d, tpd, rec := newHarness(t)
	region := arena.SeqHandle(9)

	beginTS, err := d.MPICollectiveBegin(tpd, region, nil)
	require.NoError(t, err)
	require.NoError(t, d.MPICollectiveEnd(tpd, region, arena.SeqHandle(2), 0, 10, 20, nil))

	require.Len(t, rec.records, 2)
	assert.Equal(t, beginTS, rec.records[0].Timestamp)
	assert.Equal(t, uint64(30), rec.records[1].Bytes)
}
