// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package profile_test

import (
	"testing"
	"time"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/clock"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
	"github.com/antimetal/scorep-core/pkg/measurement/location"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocation(t *testing.T) *location.Location {
	t.Helper()
	alloc, err := arena.New(1<<20, 4096, nil)
	require.NoError(t, err)
	registry := definition.NewRegistry(arena.NewPageManager(alloc))
	mgr := location.NewManager(alloc, registry, 0)
	loc, err := mgr.Create(location.TypeCPUThread, nil, "thread-0")
	require.NoError(t, err)
	return loc
}

func TestSubstrate_AccumulatesVisitsAndDuration(t *testing.T) {
	sub := profile.New()
	loc := newTestLocation(t)
	region := arena.SeqHandle(7)

	require.NoError(t, sub.EventCallbacks()[substrate.EventEnterRegion](substrate.Record{
		Type: substrate.EventEnterRegion, Location: loc, Region: region, Timestamp: clock.Ticks(100),
	}))
	require.NoError(t, sub.EventCallbacks()[substrate.EventExitRegion](substrate.Record{
		Type: substrate.EventExitRegion, Location: loc, Region: region, Timestamp: clock.Ticks(150),
	}))

	snap := sub.Snapshot()
	root, ok := snap.Roots[loc.ID()]
	require.True(t, ok)
	require.Len(t, root.Children, 1)
	assert.Equal(t, uint64(1), root.Children[0].Visits)
	assert.Equal(t, region, root.Children[0].Region)
}

func TestSubstrate_NestedRegionsExcludeChildTimeFromParentExclusive(t *testing.T) {
	sub := profile.New()
	loc := newTestLocation(t)
	outer, inner := arena.SeqHandle(1), arena.SeqHandle(2)

	enter := substrate.EventEnterRegion
	exit := substrate.EventExitRegion
	cbs := sub.EventCallbacks()

	require.NoError(t, cbs[enter](substrate.Record{Type: enter, Location: loc, Region: outer, Timestamp: 0}))
	require.NoError(t, cbs[enter](substrate.Record{Type: enter, Location: loc, Region: inner, Timestamp: 10}))
	require.NoError(t, cbs[exit](substrate.Record{Type: exit, Location: loc, Region: inner, Timestamp: 40}))
	require.NoError(t, cbs[exit](substrate.Record{Type: exit, Location: loc, Region: outer, Timestamp: 100}))

	snap := sub.Snapshot()
	root := snap.Roots[loc.ID()]
	require.Len(t, root.Children, 1)
	outerNode := root.Children[0]
	assert.Equal(t, time.Duration(100), outerNode.Inclusive, "inclusive covers the whole enter/exit span")
	assert.Less(t, outerNode.Exclusive, outerNode.Inclusive, "exclusive time excludes the nested child's span")
}
