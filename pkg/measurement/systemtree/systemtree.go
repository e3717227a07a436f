// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package systemtree builds C12 init step 5's "system-tree path": the
// chain of definition.SystemTreeNode entries and the top LocationGroup a
// process hangs its locations from, before any Location itself is
// defined. spec.md leaves the exact source of that path unspecified;
// this expansion grounds it on the teacher's own deployment model
// (internal/kubernetes/cluster's Provider abstraction) rather than
// inventing a new one.
package systemtree

import (
	"context"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
)

// Path is the result of discovery: a chain of SystemTreeNode handles
// from the root down to the node this process belongs to, plus the
// LocationGroup handle C12 step 10 defines underneath it.
type Path struct {
	Nodes         []arena.SeqHandle // root-to-leaf SystemTreeNode chain
	LocationGroup arena.SeqHandle
}

// Discoverer populates a Registry's SystemTreeNode/LocationGroup
// definitions from the deployment environment.
type Discoverer interface {
	Discover(ctx context.Context, reg *definition.Registry) (Path, error)
}

// Static is the always-available Discoverer: it defines a single
// SystemTreeNode named after a fixed machine name (the machine_name
// config variable, spec.md §6) with no parent, and one LocationGroup
// underneath classified as a process. Used whenever no other Discoverer
// is configured; a Kubernetes Discoverer whose API calls fail returns
// its error and does not fall back to Static.
type Static struct {
	MachineName string
	ProcessName string
	NodeClass   string // e.g. "node"; defaults to "machine" if empty
}

// NewStatic creates a Static discoverer for the given machine and
// process name.
func NewStatic(machineName, processName string) *Static {
	return &Static{MachineName: machineName, ProcessName: processName}
}

func (s *Static) Discover(_ context.Context, reg *definition.Registry) (Path, error) {
	class := s.NodeClass
	if class == "" {
		class = "machine"
	}
	classHandle, err := reg.Strings.Define(class)
	if err != nil {
		return Path{}, err
	}
	nameHandle, err := reg.Strings.Define(s.MachineName)
	if err != nil {
		return Path{}, err
	}
	node, _ := reg.SystemTreeNodes.Define(definition.SystemTreeNodeKey{
		Parent: definition.NoSeqHandle,
		Name:   nameHandle,
		Class:  classHandle,
	})

	procName, err := reg.Strings.Define(s.ProcessName)
	if err != nil {
		return Path{}, err
	}
	group, _ := reg.LocationGroups.Define(definition.LocationGroupKey{
		SystemTreeParent: node,
		Name:             procName,
		Type:             definition.LocationGroupType(0), // process
	})

	return Path{Nodes: []arena.SeqHandle{node}, LocationGroup: group}, nil
}
