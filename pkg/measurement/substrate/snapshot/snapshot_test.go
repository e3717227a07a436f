// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package snapshot_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate/snapshot"
)

func TestSubstrate_EnsureGlobalIDPersistsAndPublishes(t *testing.T) {
	s, err := snapshot.Open("", logr.Discard())
	require.NoError(t, err)
	defer s.Close()

	sub := s.Subscribe()

	hooks := s.ManagementHooks()
	hook, ok := hooks[substrate.MgmtEnsureGlobalID]
	require.True(t, ok)

	_, err = hook(arena.SeqHandle(3), uint64(99))
	require.NoError(t, err)

	got, err := s.Get([]byte("location/3/global-id"))
	require.NoError(t, err)
	assert.Equal(t, "99", string(got))

	select {
	case ev := <-sub:
		assert.Equal(t, []byte("location/3/global-id"), ev.Key)
	default:
		t.Fatal("expected a publish event")
	}
}

func TestSubstrate_WriteDataContentAddressesBlob(t *testing.T) {
	s, err := snapshot.Open("", logr.Discard())
	require.NoError(t, err)
	defer s.Close()

	hooks := s.ManagementHooks()
	hook, ok := hooks[substrate.MgmtWriteData]
	require.True(t, ok)

	payload := []byte("unified definitions blob")
	key, err := hook(payload)
	require.NoError(t, err)

	got, err := s.Get(key.([]byte))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSubstrate_HasNoEventCallbacks(t *testing.T) {
	s, err := snapshot.Open("", logr.Discard())
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.EventCallbacks())
	assert.Equal(t, "snapshot", s.Name())
}
