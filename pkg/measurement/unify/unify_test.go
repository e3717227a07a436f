// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package unify_test

import (
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
	"github.com/antimetal/scorep-core/pkg/measurement/unify"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *definition.Registry {
	t.Helper()
	alloc, err := arena.New(1<<20, 4096, nil)
	require.NoError(t, err)
	return definition.NewRegistry(arena.NewPageManager(alloc))
}

func TestRun_DuplicateRegionsAcrossLocalsCollapseToOneUnifiedEntry(t *testing.T) {
	local1 := newRegistry(t)
	local2 := newRegistry(t)
	unified := newRegistry(t)

	nameA, err := local1.Strings.Define("compute_step")
	require.NoError(t, err)
	fileA, err := local1.SourceFiles.Define(definition.SourceFileKey{Name: nameA})
	require.NoError(t, err)
	_, err = local1.Regions.Define(definition.RegionKey{Name: nameA, File: fileA, BeginLine: 10, EndLine: 20})
	require.NoError(t, err)

	nameB, err := local2.Strings.Define("compute_step")
	require.NoError(t, err)
	fileB, err := local2.SourceFiles.Define(definition.SourceFileKey{Name: nameB})
	require.NoError(t, err)
	_, err = local2.Regions.Define(definition.RegionKey{Name: nameB, File: fileB, BeginLine: 10, EndLine: 20})
	require.NoError(t, err)

	_, err = unify.Run(local1, unified, nil)
	require.NoError(t, err)
	_, err = unify.Run(local2, unified, nil)
	require.NoError(t, err)

	require.Equal(t, 1, unified.Regions.Len())
	require.Equal(t, 1, unified.Strings.Len()-1) // +1 for the pre-registered empty string, only 1 distinct name
}

func TestRun_MapsCrossReferencesThroughRewrittenHandles(t *testing.T) {
	local := newRegistry(t)
	unified := newRegistry(t)

	name, err := local.Strings.Define("main.c")
	require.NoError(t, err)
	file, err := local.SourceFiles.Define(definition.SourceFileKey{Name: name})
	require.NoError(t, err)
	regionName, err := local.Strings.Define("main")
	require.NoError(t, err)
	_, err = local.Regions.Define(definition.RegionKey{Name: regionName, File: file, BeginLine: 1, EndLine: 5})
	require.NoError(t, err)

	result, err := unify.Run(local, unified, nil)
	require.NoError(t, err)

	unifiedRegions := unified.Regions.All()
	require.Len(t, unifiedRegions, 1)
	unifiedFiles := unified.SourceFiles.All()
	require.Len(t, unifiedFiles, 1)

	mappedFile := result.SourceFiles.Map(file)
	require.Equal(t, arena.SeqHandle(0), mappedFile)
	require.Equal(t, mappedFile, unifiedRegions[0].File)
}

func TestRun_PreservesNoSeqHandleForAbsentOptionalReferences(t *testing.T) {
	local := newRegistry(t)
	unified := newRegistry(t)

	name, err := local.Strings.Define("root")
	require.NoError(t, err)
	class, err := local.Strings.Define("node")
	require.NoError(t, err)
	_, err = local.SystemTreeNodes.Define(definition.SystemTreeNodeKey{
		Parent: definition.NoSeqHandle,
		Name:   name,
		Class:  class,
	})
	require.NoError(t, err)

	result, err := unify.Run(local, unified, nil)
	require.NoError(t, err)

	nodes := unified.SystemTreeNodes.All()
	require.Len(t, nodes, 1)
	require.Equal(t, definition.NoSeqHandle, nodes[0].Parent)
	require.Len(t, result.SystemTreeNodes, 1)
}

func TestAssignLocationGlobalIDs_AssignsOnlyToUnassignedLocations(t *testing.T) {
	unified := newRegistry(t)
	name, err := unified.Strings.Define("cpu-0")
	require.NoError(t, err)
	_, err = unified.Locations.Define(definition.LocationKey{GlobalID: 0, Name: name})
	require.NoError(t, err)
	_, err = unified.Locations.Define(definition.LocationKey{GlobalID: 42, Name: name})
	require.NoError(t, err)

	next := uint64(100)
	mapping := unify.AssignLocationGlobalIDs(unified, &next, nil)

	require.Equal(t, uint64(100), mapping[0])
	require.Equal(t, uint64(42), mapping[1])
	require.Equal(t, uint64(101), next)
}
