// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ebpf_test

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/metric"
	"github.com/antimetal/scorep-core/pkg/measurement/metricsource/ebpf"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ObjectPathResolution(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		src := ebpf.New(ebpf.Config{Name: "faults", ObjectPath: "/opt/faults.bpf.o", CounterName: "faults"}, logr.Discard())
		assert.NotNil(t, src)
	})

	t.Run("falls back to env var", func(t *testing.T) {
		require.NoError(t, os.Setenv(ebpf.DefaultObjectPathEnv, "/opt/env-path.bpf.o"))
		defer os.Unsetenv(ebpf.DefaultObjectPathEnv)
		src := ebpf.New(ebpf.Config{Name: "faults", CounterName: "faults"}, logr.Discard())
		assert.NotNil(t, src)
	})
}

func TestSource_Info(t *testing.T) {
	src := ebpf.New(ebpf.Config{Name: "faults", CounterName: "faults"}, logr.Discard())
	info := src.Info()
	assert.Equal(t, metric.ClassAsyncEvent, info.Class)
	assert.Equal(t, "faults", info.Name)
}

func TestSource_AddCounter_RejectsUnknownName(t *testing.T) {
	src := ebpf.New(ebpf.Config{Name: "faults", CounterName: "faults"}, logr.Discard())
	_, err := src.AddCounter("not-faults")
	assert.Error(t, err)

	id, err := src.AddCounter("faults")
	require.NoError(t, err)

	_, err = src.EventInfo(id)
	assert.NoError(t, err)
}

func TestSource_CurrentValue_UnsupportedForAsyncClass(t *testing.T) {
	src := ebpf.New(ebpf.Config{Name: "faults", CounterName: "faults"}, logr.Discard())
	id, err := src.AddCounter("faults")
	require.NoError(t, err)

	_, err = src.CurrentValue(id)
	assert.Error(t, err)
	_, _, err = src.OptionalValue(id)
	assert.Error(t, err)
}

func TestSource_Initialize_FailsOnMissingObject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping BPF load attempt in short mode")
	}
	src := ebpf.New(ebpf.Config{
		Name:        "faults",
		ObjectPath:  "/nonexistent/faults.bpf.o",
		CounterName: "faults",
	}, logr.Discard())

	err := src.Initialize()
	assert.Error(t, err, "Initialize should fail against a missing BPF object or unsupported platform")
}

// recordBytes builds a raw 16-byte ring buffer record for tests that
// want to exercise parsing without a real kernel.
func recordBytes(tb testing.TB, timestampNS, value uint64) []byte {
	tb.Helper()
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], timestampNS)
	binary.LittleEndian.PutUint64(buf[8:16], value)
	return buf
}

func TestRecordBytes_RoundTripsThroughBinaryLayout(t *testing.T) {
	// Exercises the same little-endian 16-byte layout parseRecord expects,
	// guarding against an accidental field-order or width change.
	buf := recordBytes(t, 123, 456)
	require.Len(t, buf, 16)
	assert.Equal(t, uint64(123), binary.LittleEndian.Uint64(buf[0:8]))
	assert.Equal(t, uint64(456), binary.LittleEndian.Uint64(buf[8:16]))
}
