// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package plugin_test

import (
	"testing"

	"github.com/antimetal/scorep-core/pkg/measurement/metric"
	"github.com/antimetal/scorep-core/pkg/measurement/metricsource/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RejectsMissingFile(t *testing.T) {
	_, err := plugin.Open("bogus", "/nonexistent/path.so")
	assert.Error(t, err)
}

func TestABI_Initialize(t *testing.T) {
	// Exercises the ABI struct shape documented in spec.md §6 without
	// needing a real .so. Only Initialize and AddCounter are set, so this
	// ABI would not pass Open()'s validation; the test calls them directly.
	called := false
	abi := plugin.ABI{
		Version: 100,
		Class:   metric.ClassStrictlySync,
		Initialize: func() error {
			called = true
			return nil
		},
		AddCounter: func(name string) (metric.CounterID, error) { return 0, nil },
	}

	require.NoError(t, abi.Initialize())
	assert.True(t, called)

	id, err := abi.AddCounter("whatever")
	require.NoError(t, err)
	assert.Equal(t, metric.CounterID(0), id)
}
