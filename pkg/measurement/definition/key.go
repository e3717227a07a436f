// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package definition implements the measurement runtime's deduplicating
// definition registry (C4): one dense, sequence-numbered table per
// definition kind, built on a single generic Table type instead of the
// per-kind macro expansion the original C implementation relies on.
package definition

// Key is the deduplication key for one definition kind. Several kinds
// carry slice-valued fields (Group.Members, InterimCommunicator's
// model-specific payload) that aren't comparable with ==, so dedup keys
// implement their own Hash/Equal rather than relying on a `comparable`
// constraint.
type Key interface {
	Hash() uint64
	Equal(other Key) bool
}
