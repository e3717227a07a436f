// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package definition

import "github.com/antimetal/scorep-core/pkg/measurement/arena"

// Registry is the process-local definition manager: one table per
// definition kind. Only the StringTable draws its backing bytes from the
// definitions-kind PageManager; the other tables keep their keys in
// ordinary Go slices. Strings are defined first by
// convention, as required by spec.md §4.4, since every other kind
// references strings by handle.
type Registry struct {
	Strings              *StringTable
	SourceFiles          *Table[SourceFileKey]
	Regions              *Table[RegionKey]
	Groups               *Table[GroupKey]
	Communicators        *Table[CommunicatorKey]
	InterimCommunicators *Table[InterimCommunicatorKey]
	RmaWindows           *Table[RmaWindowKey]
	InterimRmaWindows    *Table[InterimRmaWindowKey]
	Metrics              *Table[MetricKey]
	SamplingSets         *Table[SamplingSetKey]
	Locations            *Table[LocationKey]
	LocationGroups       *Table[LocationGroupKey]
	SystemTreeNodes      *Table[SystemTreeNodeKey]
	Callpaths            *Table[CallpathKey]
	Parameters           *Table[ParameterKey]
	Properties           *Table[PropertyKey]
	Attributes           *Table[AttributeKey]
}

// NewRegistry creates a Registry whose StringTable draws raw bytes from
// definitionsPM (typically the KindDefinitions page manager of a
// process-wide "global" location, per spec.md §4.2/§4.4).
func NewRegistry(definitionsPM *arena.PageManager) *Registry {
	return &Registry{
		Strings:              NewStringTable(definitionsPM),
		SourceFiles:          NewTable[SourceFileKey](),
		Regions:              NewTable[RegionKey](),
		Groups:               NewTable[GroupKey](),
		Communicators:        NewTable[CommunicatorKey](),
		InterimCommunicators: NewTable[InterimCommunicatorKey](),
		RmaWindows:           NewTable[RmaWindowKey](),
		InterimRmaWindows:    NewTable[InterimRmaWindowKey](),
		Metrics:              NewTable[MetricKey](),
		SamplingSets:         NewTable[SamplingSetKey](),
		Locations:            NewTable[LocationKey](),
		LocationGroups:       NewTable[LocationGroupKey](),
		SystemTreeNodes:      NewTable[SystemTreeNodeKey](),
		Callpaths:            NewTable[CallpathKey](),
		Parameters:           NewTable[ParameterKey](),
		Properties:           NewTable[PropertyKey](),
		Attributes:           NewTable[AttributeKey](),
	}
}
