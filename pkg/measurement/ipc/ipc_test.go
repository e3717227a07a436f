// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ipc_test

import (
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockup_RankIsZeroOfOne(t *testing.T) {
	m := ipc.NewMockup()
	rank, size := m.Rank()
	assert.Equal(t, 0, rank)
	assert.Equal(t, 1, size)
}

func TestMockup_GatherMemcpysIntoSelf(t *testing.T) {
	m := ipc.NewMockup()
	send := []byte{1, 2, 3, 4}
	recv := make([]byte, 4)
	require.NoError(t, m.Gather(send, recv, 0))
	assert.Equal(t, send, recv)
}

func TestMockup_RejectsNonZeroRoot(t *testing.T) {
	m := ipc.NewMockup()
	buf := []byte{1}
	assert.Error(t, m.Broadcast(buf, 1))
	assert.Error(t, m.Gather(buf, buf, 1))
	assert.Error(t, m.Reduce(buf, buf, ipc.Byte, ipc.Sum, 1))
}
