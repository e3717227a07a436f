// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config_test

import (
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/config"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize_SuffixesAndTrailingB(t *testing.T) {
	cases := []struct {
		raw  string
		want uint64
	}{
		{"8192", 8192},
		{"16K", 16 << 10},
		{"16KB", 16 << 10},
		{"4G", 4 << 30},
		{"1M", 1 << 20},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := config.ParseSize(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseSize_RejectsGarbage(t *testing.T) {
	_, err := config.ParseSize("not-a-size")
	assert.Error(t, err)
}

func TestRegistry_ApplyOverridesFromEnvironment(t *testing.T) {
	r := config.New("SCOREP", logr.Discard())
	require.NoError(t, r.RegisterCoreVariables())

	assert.True(t, r.Bool("", "enable_profiling"))

	err := r.Apply([]string{
		"SCOREP_ENABLE_PROFILING=false",
		"SCOREP_TOTAL_MEMORY=32M",
		"SCOREP_MACHINE_NAME=test-host",
	})
	require.NoError(t, err)

	assert.False(t, r.Bool("", "enable_profiling"))
	assert.Equal(t, uint64(32<<20), r.Size("", "total_memory"))
	assert.Equal(t, "test-host", r.String("", "machine_name"))
}

func TestRegistry_Apply_RejectsInvalidValueKeepsPriorState(t *testing.T) {
	r := config.New("SCOREP", logr.Discard())
	require.NoError(t, r.Register(config.Variable{Name: "page_size", Type: config.TypeSize, Default: uint64(8192)}))

	err := r.Apply([]string{"SCOREP_PAGE_SIZE=not-a-size"})
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), r.Size("", "page_size"))
}

func TestRegistry_Set_DedupsCaseInsensitiveAndDropsUnknown(t *testing.T) {
	r := config.New("SCOREP", logr.Discard())
	require.NoError(t, r.Register(config.Variable{
		Name: "metric_rusage", Type: config.TypeSet,
		Accepted: []string{"maxrss", "minflt", "majflt"},
	}))

	err := r.Apply([]string{"SCOREP_METRIC_RUSAGE=maxrss,MAXRSS:minflt;bogus"})
	require.NoError(t, err)
	assert.Equal(t, []string{"maxrss", "minflt"}, r.Set("", "metric_rusage"))
}
