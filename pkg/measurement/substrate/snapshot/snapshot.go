// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package snapshot implements a substrate (C14) that mirrors every
// unified definition and every finalized location's global id into an
// embedded github.com/dgraph-io/badger/v4 store, for post-finalize
// inspection tooling. It is deliberately a side-channel KV mirror, never
// presented as a trace format (see SPEC_FULL.md's Non-goals).
//
// Keying follows the teacher's own resource store: slash-joined byte
// keys scoped by kind (buildKey-style), with sha256-addressed blobs for
// content too large to want duplicated across entries, and a Subscribe
// channel for downstream watchers — the same shape as pkg/resource's
// key/blob/subscribe trio, repurposed here from live resource snapshots
// to definition/location mirroring.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate"
)

// buildKey joins parts with "/" the way the teacher's resource store
// keys its entries, e.g. "region/42" or "location/7/global-id".
func buildKey(parts ...string) []byte {
	return []byte(strings.Join(parts, "/"))
}

// blobKey content-addresses payload bytes too large or too often-shared
// to want duplicated verbatim under every referencing key.
func blobKey(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return buildKey("blob", hex.EncodeToString(sum[:]))
}

// Event is published to every Subscribe channel whenever a key is
// written, mirroring the teacher's resource-store change notifications.
type Event struct {
	Key []byte
}

// Substrate is the badger-backed definition/location mirror. It
// implements measurement/substrate.Substrate so the event dispatcher's
// Table can fan events into it like any other substrate.
type Substrate struct {
	db     *badger.DB
	logger logr.Logger

	mu          sync.Mutex
	subscribers []chan Event
}

// Open creates (or reuses) a badger store rooted at dir. An empty dir
// uses badger's in-memory mode, appropriate for the demonstration binary
// and for tests.
func Open(dir string, logger logr.Logger) (*Substrate, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil) // badger's own verbose logger is not the ambient logr facade

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening badger store at %q: %w", dir, err)
	}
	return &Substrate{db: db, logger: logger.WithName("snapshot-substrate")}, nil
}

// Close releases the underlying badger store.
func (s *Substrate) Close() error {
	return s.db.Close()
}

// Subscribe registers a channel that receives every key written from
// this point forward. The channel is never closed by Substrate; callers
// drain it until they're done, mirroring the teacher's own
// fire-and-forget resource subscription channels.
func (s *Substrate) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

func (s *Substrate) publish(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- Event{Key: append([]byte(nil), key...)}:
		default: // a slow subscriber misses events rather than blocking the writer
		}
	}
}

func (s *Substrate) put(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return err
	}
	s.publish(key)
	return nil
}

// Get reads back a previously written value, for inspection tooling.
func (s *Substrate) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, err
}

func (s *Substrate) Name() string { return "snapshot" }

// EventCallbacks returns no event-type callbacks: this substrate mirrors
// definitions and location global ids, not per-event payloads, so it
// only reacts through management hooks.
func (s *Substrate) EventCallbacks() map[substrate.EventType]substrate.EventCallback {
	return nil
}

// ManagementHooks mirrors ensure_global_id and write_data, the two
// management calls spec.md §6 lists that touch definition/location
// state rather than a single event.
func (s *Substrate) ManagementHooks() map[substrate.ManagementHook]func(args ...any) (any, error) {
	return map[substrate.ManagementHook]func(args ...any) (any, error){
		substrate.MgmtEnsureGlobalID: s.onEnsureGlobalID,
		substrate.MgmtWriteData:      s.onWriteData,
	}
}

func (s *Substrate) Requirement(flag substrate.RequirementFlag) int64 {
	return 0
}

// onEnsureGlobalID persists a location's assigned global id keyed by its
// process-local definition handle, called with (handle arena.SeqHandle,
// globalID uint64).
func (s *Substrate) onEnsureGlobalID(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("snapshot: ensure_global_id expects (handle, globalID), got %d args", len(args))
	}
	handle, ok := args[0].(arena.SeqHandle)
	if !ok {
		return nil, fmt.Errorf("snapshot: ensure_global_id: arg 0 is not an arena.SeqHandle")
	}
	globalID, ok := args[1].(uint64)
	if !ok {
		return nil, fmt.Errorf("snapshot: ensure_global_id: arg 1 is not a uint64")
	}
	key := buildKey("location", fmt.Sprintf("%d", handle), "global-id")
	return nil, s.put(key, []byte(fmt.Sprintf("%d", globalID)))
}

// onWriteData persists an opaque blob (a serialized unified definition
// set, typically) content-addressed by sha256, called with ([]byte).
func (s *Substrate) onWriteData(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("snapshot: write_data expects (payload), got %d args", len(args))
	}
	payload, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("snapshot: write_data: arg 0 is not a []byte")
	}
	key := blobKey(payload)
	return key, s.put(key, payload)
}
