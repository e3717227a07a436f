// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package definition

import (
	"slices"
	"strconv"

	"github.com/antimetal/scorep-core/pkg/measurement/arena"
)

// SourceFileKey dedups on its name handle alone.
type SourceFileKey struct {
	Name arena.SeqHandle
}

func (k SourceFileKey) Hash() uint64 { return uint64(k.Name) }
func (k SourceFileKey) Equal(other Key) bool {
	o, ok := other.(SourceFileKey)
	return ok && k == o
}

// RegionType classifies a Region definition (function, loop, phase, ...).
type RegionType int

// RegionKey dedups on every listed field.
type RegionKey struct {
	Name          arena.SeqHandle
	CanonicalName arena.SeqHandle
	Description   arena.SeqHandle
	Type          RegionType
	File          arena.SeqHandle
	BeginLine     int
	EndLine       int
	Adapter       string
}

func (k RegionKey) Hash() uint64 {
	return fnvHash64(strconv.Itoa(int(k.Name)), strconv.Itoa(int(k.CanonicalName)),
		strconv.Itoa(int(k.Type)), strconv.Itoa(int(k.File)),
		strconv.Itoa(k.BeginLine), strconv.Itoa(k.EndLine), k.Adapter)
}
func (k RegionKey) Equal(other Key) bool {
	o, ok := other.(RegionKey)
	return ok && k == o
}

// GroupType classifies a Group definition (locations, regions, metrics, ...).
type GroupType int

// GroupKey dedups on type plus membership.
type GroupKey struct {
	Type    GroupType
	Members []arena.SeqHandle
}

func (k GroupKey) Hash() uint64 {
	parts := make([]string, 0, len(k.Members)+1)
	parts = append(parts, strconv.Itoa(int(k.Type)))
	for _, m := range k.Members {
		parts = append(parts, strconv.Itoa(int(m)))
	}
	return fnvHash64(parts...)
}
func (k GroupKey) Equal(other Key) bool {
	o, ok := other.(GroupKey)
	return ok && k.Type == o.Type && slices.Equal(k.Members, o.Members)
}

// CommunicatorKey dedups on every listed field.
type CommunicatorKey struct {
	Group  arena.SeqHandle
	Name   arena.SeqHandle
	Parent arena.SeqHandle // NoSeqHandle if root
}

func (k CommunicatorKey) Hash() uint64 { return fnvHash64(strconv.Itoa(int(k.Group)), strconv.Itoa(int(k.Name)), strconv.Itoa(int(k.Parent))) }
func (k CommunicatorKey) Equal(other Key) bool {
	o, ok := other.(CommunicatorKey)
	return ok && k == o
}

// Paradigm identifies the communication model an InterimCommunicator
// belongs to (MPI, SHMEM, pthreads, ...).
type Paradigm int

// InterimCommunicatorKey dedups on parent plus the model-specific
// payload, per spec's "parent + payload (model-defined equality)" rule.
// Payload equality is left to the caller by comparing opaque byte
// payloads; two interim communicators from different paradigms never
// compare equal even with identical payload bytes.
type InterimCommunicatorKey struct {
	Paradigm Paradigm
	Parent   arena.SeqHandle
	Payload  string // opaque model-specific identity, caller-encoded
}

func (k InterimCommunicatorKey) Hash() uint64 {
	return fnvHash64(strconv.Itoa(int(k.Paradigm)), strconv.Itoa(int(k.Parent)), k.Payload)
}
func (k InterimCommunicatorKey) Equal(other Key) bool {
	o, ok := other.(InterimCommunicatorKey)
	return ok && k == o
}

// RmaWindowKey dedups on every listed field.
type RmaWindowKey struct {
	Communicator arena.SeqHandle
	Attributes   string
}

func (k RmaWindowKey) Hash() uint64 { return fnvHash64(strconv.Itoa(int(k.Communicator)), k.Attributes) }
func (k RmaWindowKey) Equal(other Key) bool {
	o, ok := other.(RmaWindowKey)
	return ok && k == o
}

// InterimRmaWindowKey mirrors RmaWindowKey before unification resolves
// the communicator to its global handle.
type InterimRmaWindowKey struct {
	Communicator arena.SeqHandle
	Attributes   string
}

func (k InterimRmaWindowKey) Hash() uint64 { return fnvHash64(strconv.Itoa(int(k.Communicator)), k.Attributes) }
func (k InterimRmaWindowKey) Equal(other Key) bool {
	o, ok := other.(InterimRmaWindowKey)
	return ok && k == o
}

// MetricValueType is the runtime type of a metric's sampled value.
type MetricValueType int

// MetricMode distinguishes accumulated vs. absolute metric semantics.
type MetricMode int

// MetricKey dedups on every listed field.
type MetricKey struct {
	Name           arena.SeqHandle
	Description    arena.SeqHandle
	SourceType     string
	Mode           MetricMode
	ValueType      MetricValueType
	Base           int
	Exponent       int
	Unit           arena.SeqHandle
	ProfilingType  string
}

func (k MetricKey) Hash() uint64 {
	return fnvHash64(strconv.Itoa(int(k.Name)), strconv.Itoa(int(k.Description)), k.SourceType,
		strconv.Itoa(int(k.Mode)), strconv.Itoa(int(k.ValueType)), strconv.Itoa(k.Base),
		strconv.Itoa(k.Exponent), strconv.Itoa(int(k.Unit)), k.ProfilingType)
}
func (k MetricKey) Equal(other Key) bool {
	o, ok := other.(MetricKey)
	return ok && k == o
}

// SamplingSetKey dedups on every listed field.
type SamplingSetKey struct {
	Occurrence int
	Metrics    []arena.SeqHandle
	Scope      arena.SeqHandle // NoSeqHandle if unscoped
	Recorder   arena.SeqHandle // NoSeqHandle if unrecorded
}

func (k SamplingSetKey) Hash() uint64 {
	parts := []string{strconv.Itoa(k.Occurrence), strconv.Itoa(int(k.Scope)), strconv.Itoa(int(k.Recorder))}
	for _, m := range k.Metrics {
		parts = append(parts, strconv.Itoa(int(m)))
	}
	return fnvHash64(parts...)
}
func (k SamplingSetKey) Equal(other Key) bool {
	o, ok := other.(SamplingSetKey)
	return ok && k.Occurrence == o.Occurrence && k.Scope == o.Scope && k.Recorder == o.Recorder && slices.Equal(k.Metrics, o.Metrics)
}

// LocationType classifies a Location definition (CPU thread, GPU, metric stream).
type LocationType int

// LocationKey dedups on the 64-bit global id alone; everything else is
// descriptive metadata carried for output, not part of the identity.
type LocationKey struct {
	GlobalID      uint64
	Parent        arena.SeqHandle
	Name          arena.SeqHandle
	Type          LocationType
	LocationGroup arena.SeqHandle
	EventCount    uint64
}

func (k LocationKey) Hash() uint64 { return k.GlobalID }
func (k LocationKey) Equal(other Key) bool {
	o, ok := other.(LocationKey)
	return ok && k.GlobalID == o.GlobalID
}

// LocationGroupType distinguishes process vs. accelerator location groups.
type LocationGroupType int

// LocationGroupKey dedups on every listed field.
type LocationGroupKey struct {
	SystemTreeParent arena.SeqHandle
	Name             arena.SeqHandle
	Type             LocationGroupType
}

func (k LocationGroupKey) Hash() uint64 {
	return fnvHash64(strconv.Itoa(int(k.SystemTreeParent)), strconv.Itoa(int(k.Name)), strconv.Itoa(int(k.Type)))
}
func (k LocationGroupKey) Equal(other Key) bool {
	o, ok := other.(LocationGroupKey)
	return ok && k == o
}

// SystemTreeNodeKey dedups on every listed field.
type SystemTreeNodeKey struct {
	Parent arena.SeqHandle // NoSeqHandle if root
	Name   arena.SeqHandle
	Class  arena.SeqHandle
}

func (k SystemTreeNodeKey) Hash() uint64 { return fnvHash64(strconv.Itoa(int(k.Parent)), strconv.Itoa(int(k.Name)), strconv.Itoa(int(k.Class))) }
func (k SystemTreeNodeKey) Equal(other Key) bool {
	o, ok := other.(SystemTreeNodeKey)
	return ok && k == o
}

// CallpathKey dedups on every listed field. Exactly one of Region or
// (Parameter set) is populated, matching spec's "region *or*
// (parameter + int/string value)" rule.
type CallpathKey struct {
	Parent    arena.SeqHandle // NoSeqHandle if root
	Region    arena.SeqHandle
	Parameter arena.SeqHandle
	IntValue  int64
	StrValue  arena.SeqHandle
	HasInt    bool
}

func (k CallpathKey) Hash() uint64 {
	return fnvHash64(strconv.Itoa(int(k.Parent)), strconv.Itoa(int(k.Region)), strconv.Itoa(int(k.Parameter)),
		strconv.FormatInt(k.IntValue, 10), strconv.Itoa(int(k.StrValue)), strconv.FormatBool(k.HasInt))
}
func (k CallpathKey) Equal(other Key) bool {
	o, ok := other.(CallpathKey)
	return ok && k == o
}

// ParameterType distinguishes int64, double, and string parameters.
type ParameterType int

// ParameterKey dedups on every listed field.
type ParameterKey struct {
	Name arena.SeqHandle
	Type ParameterType
}

func (k ParameterKey) Hash() uint64 { return fnvHash64(strconv.Itoa(int(k.Name)), strconv.Itoa(int(k.Type))) }
func (k ParameterKey) Equal(other Key) bool {
	o, ok := other.(ParameterKey)
	return ok && k == o
}

// PropertyKey dedups on id alone.
type PropertyKey struct {
	ID          string
	Condition   string
	Initial     bool
	Invalidated bool
}

func (k PropertyKey) Hash() uint64 { return fnvHash64(k.ID) }
func (k PropertyKey) Equal(other Key) bool {
	o, ok := other.(PropertyKey)
	return ok && k.ID == o.ID
}

// AttributeType is the runtime type of an Attribute definition's value.
type AttributeType int

// AttributeKey dedups on every listed field.
type AttributeKey struct {
	Name        arena.SeqHandle
	Description arena.SeqHandle
	Type        AttributeType
}

func (k AttributeKey) Hash() uint64 { return fnvHash64(strconv.Itoa(int(k.Name)), strconv.Itoa(int(k.Description)), strconv.Itoa(int(k.Type))) }
func (k AttributeKey) Equal(other Key) bool {
	o, ok := other.(AttributeKey)
	return ok && k == o
}

// NoSeqHandle marks an optional reference field as absent (e.g. a root
// SystemTreeNode's Parent, or an unscoped SamplingSet's Scope). Sequence
// 0 is a legitimate handle (the pre-registered empty string for
// StringTable), so kinds that use NoSeqHandle never alias it against a
// real definition at sequence 0 of their own table.
const NoSeqHandle arena.SeqHandle = 1<<32 - 1
