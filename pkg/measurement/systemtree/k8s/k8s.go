// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package k8s implements a systemtree.Discoverer that builds a two-level
// SystemTreeNode chain (cluster -> node) with a process LocationGroup
// under the node, checking the local Kubernetes Node object exists, using internal/kubernetes/cluster's Provider
// abstraction (EKS/KIND autodiscovery) exactly as the teacher's own
// deployment code resolves cluster identity.
package k8s

import (
	"context"
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/antimetal/scorep-core/internal/kubernetes/cluster"
	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/definition"
	"github.com/antimetal/scorep-core/pkg/measurement/systemtree"
)

// Discoverer populates the system tree from a live Kubernetes API
// server: a cluster-name root node (from cluster.Provider), a node-name
// child, and a process LocationGroup named ProcessName (or
// "process-<pid>" when ProcessName is empty).
type Discoverer struct {
	Provider    cluster.Provider
	Client      client.Client
	NodeName    string // local node name, e.g. from the Kubernetes Downward API
	ProcessName string
}

// NewDiscoverer creates a k8s Discoverer for the named provider ("eks",
// "kind"), resolving NodeName from the NODE_NAME environment variable
// (the Downward-API convention the teacher's own deployment manifests
// use) when not set explicitly.
func NewDiscoverer(ctx context.Context, providerName string, opts cluster.ProviderOptions, c client.Client) (*Discoverer, error) {
	provider, err := cluster.GetProvider(ctx, providerName, opts)
	if err != nil {
		return nil, fmt.Errorf("systemtree/k8s: resolving cluster provider: %w", err)
	}
	return &Discoverer{
		Provider: provider,
		Client:   c,
		NodeName: os.Getenv("NODE_NAME"),
	}, nil
}

func (d *Discoverer) Discover(ctx context.Context, reg *definition.Registry) (systemtree.Path, error) {
	clusterName, err := d.Provider.ClusterName(ctx)
	if err != nil {
		return systemtree.Path{}, fmt.Errorf("systemtree/k8s: resolving cluster name: %w", err)
	}

	clusterClass, err := reg.Strings.Define("kubernetes-cluster")
	if err != nil {
		return systemtree.Path{}, err
	}
	clusterNameHandle, err := reg.Strings.Define(clusterName)
	if err != nil {
		return systemtree.Path{}, err
	}
	clusterNode, _ := reg.SystemTreeNodes.Define(definition.SystemTreeNodeKey{
		Parent: definition.NoSeqHandle,
		Name:   clusterNameHandle,
		Class:  clusterClass,
	})

	nodeName := d.NodeName
	if d.Client != nil && nodeName != "" {
		var node corev1.Node
		if err := d.Client.Get(ctx, client.ObjectKey{Name: nodeName}, &node); err != nil {
			return systemtree.Path{}, fmt.Errorf("systemtree/k8s: fetching node %q: %w", nodeName, err)
		}
	}
	if nodeName == "" {
		nodeName = "unknown-node"
	}

	nodeClass, err := reg.Strings.Define("kubernetes-node")
	if err != nil {
		return systemtree.Path{}, err
	}
	nodeNameHandle, err := reg.Strings.Define(nodeName)
	if err != nil {
		return systemtree.Path{}, err
	}
	nodeHandle, _ := reg.SystemTreeNodes.Define(definition.SystemTreeNodeKey{
		Parent: clusterNode,
		Name:   nodeNameHandle,
		Class:  nodeClass,
	})

	procName := d.ProcessName
	if procName == "" {
		procName = fmt.Sprintf("process-%d", os.Getpid())
	}
	procNameHandle, err := reg.Strings.Define(procName)
	if err != nil {
		return systemtree.Path{}, err
	}
	group, _ := reg.LocationGroups.Define(definition.LocationGroupKey{
		SystemTreeParent: nodeHandle,
		Name:             procNameHandle,
		Type:             definition.LocationGroupType(0),
	})

	return systemtree.Path{
		Nodes:         []arena.SeqHandle{clusterNode, nodeHandle},
		LocationGroup: group,
	}, nil
}
