// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package grpcipc

import (
	"encoding/binary"
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/ipc"
	"github.com/stretchr/testify/assert"
)

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func TestReduce_SumUint64(t *testing.T) {
	contribs := [][]byte{uint64Bytes(10), uint64Bytes(20), uint64Bytes(5)}
	out := reduce(contribs, ipc.Uint64, ipc.Sum)
	assert.Equal(t, uint64(35), binary.LittleEndian.Uint64(out))
}

func TestReduce_MaxUint64(t *testing.T) {
	contribs := [][]byte{uint64Bytes(10), uint64Bytes(99), uint64Bytes(5)}
	out := reduce(contribs, ipc.Uint64, ipc.Max)
	assert.Equal(t, uint64(99), binary.LittleEndian.Uint64(out))
}

func TestReduce_BandByte(t *testing.T) {
	contribs := [][]byte{{0b1110}, {0b1010}, {0b1111}}
	out := reduce(contribs, ipc.Byte, ipc.Band)
	assert.Equal(t, byte(0b1010), out[0])
}
