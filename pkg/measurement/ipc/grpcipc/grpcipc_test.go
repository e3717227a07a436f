// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package grpcipc_test

import (
	"net"
	"sync"
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/ipc/grpcipc"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_GatherAcrossTwoRanks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real gRPC loopback exchange in short mode")
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	coord, err := grpcipc.NewCoordinator(lis, logr.Discard())
	require.NoError(t, err)
	defer coord.Stop()

	addr := lis.Addr().String()
	rank0, err := grpcipc.Dial(0, 2, addr, false, logr.Discard())
	require.NoError(t, err)
	defer rank0.Close()
	rank1, err := grpcipc.Dial(1, 2, addr, false, logr.Discard())
	require.NoError(t, err)
	defer rank1.Close()

	var wg sync.WaitGroup
	recv0 := make([]byte, 8)
	recv1 := make([]byte, 8)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = rank0.Gather([]byte{1, 2, 3, 4}, recv0, 0)
	}()
	go func() {
		defer wg.Done()
		_ = rank1.Gather([]byte{5, 6, 7, 8}, recv1, 0)
	}()
	wg.Wait()

	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, recv0)
}
