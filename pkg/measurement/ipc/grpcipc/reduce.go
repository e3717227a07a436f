// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package grpcipc

import (
	"encoding/binary"
	"math"
	"strconv"

	"google.golang.org/grpc/metadata"

	"github.com/antimetal/scorep-core/pkg/measurement/ipc"
)

func firstOr(md metadata.MD, key, def string) string {
	if vs := md.Get(key); len(vs) > 0 {
		return vs[0]
	}
	return def
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func itoa(i int) string { return strconv.Itoa(i) }

// elemSize returns the wire width, in bytes, of one value of dt.
func elemSize(dt ipc.Datatype) int {
	switch dt {
	case ipc.Byte, ipc.Char:
		return 1
	case ipc.Int32, ipc.Uint32:
		return 4
	case ipc.Int64, ipc.Uint64, ipc.Double:
		return 8
	default:
		return 1
	}
}

// reduce combines every rank's contribution element-wise according to
// op, over size elemSize(dt)-wide slots, matching spec.md §4.11's
// "well-known datatypes... ops: band, bor, min, max, sum".
func reduce(contributions [][]byte, dt ipc.Datatype, op ipc.Op) []byte {
	if len(contributions) == 0 {
		return nil
	}
	width := elemSize(dt)
	n := len(contributions[0]) / width
	out := make([]byte, n*width)
	copy(out, contributions[0])

	for _, contrib := range contributions[1:] {
		for i := 0; i < n; i++ {
			off := i * width
			combineElement(out[off:off+width], contrib[off:off+width], dt, op)
		}
	}
	return out
}

func combineElement(acc, val []byte, dt ipc.Datatype, op ipc.Op) {
	switch dt {
	case ipc.Byte, ipc.Char:
		acc[0] = foldByte(acc[0], val[0], op)
	case ipc.Int32:
		a := int64(int32(binary.LittleEndian.Uint32(acc)))
		b := int64(int32(binary.LittleEndian.Uint32(val)))
		binary.LittleEndian.PutUint32(acc, uint32(int32(foldInt(a, b, op))))
	case ipc.Uint32:
		a := uint64(binary.LittleEndian.Uint32(acc))
		b := uint64(binary.LittleEndian.Uint32(val))
		binary.LittleEndian.PutUint32(acc, uint32(foldUint(a, b, op)))
	case ipc.Int64:
		a := int64(binary.LittleEndian.Uint64(acc))
		b := int64(binary.LittleEndian.Uint64(val))
		binary.LittleEndian.PutUint64(acc, uint64(foldInt(a, b, op)))
	case ipc.Uint64:
		a := binary.LittleEndian.Uint64(acc)
		b := binary.LittleEndian.Uint64(val)
		binary.LittleEndian.PutUint64(acc, foldUint(a, b, op))
	case ipc.Double:
		a := math.Float64frombits(binary.LittleEndian.Uint64(acc))
		b := math.Float64frombits(binary.LittleEndian.Uint64(val))
		binary.LittleEndian.PutUint64(acc, math.Float64bits(foldFloat(a, b, op)))
	}
}

func foldByte(a, b byte, op ipc.Op) byte {
	switch op {
	case ipc.Band:
		return a & b
	case ipc.Bor:
		return a | b
	case ipc.Min:
		if b < a {
			return b
		}
		return a
	case ipc.Max:
		if b > a {
			return b
		}
		return a
	default: // Sum
		return a + b
	}
}

func foldInt(a, b int64, op ipc.Op) int64 {
	switch op {
	case ipc.Band:
		return a & b
	case ipc.Bor:
		return a | b
	case ipc.Min:
		if b < a {
			return b
		}
		return a
	case ipc.Max:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

func foldUint(a, b uint64, op ipc.Op) uint64 {
	switch op {
	case ipc.Band:
		return a & b
	case ipc.Bor:
		return a | b
	case ipc.Min:
		if b < a {
			return b
		}
		return a
	case ipc.Max:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

func foldFloat(a, b float64, op ipc.Op) float64 {
	switch op {
	case ipc.Min:
		if b < a {
			return b
		}
		return a
	case ipc.Max:
		if b > a {
			return b
		}
		return a
	default: // Sum; Band/Bor are not meaningful for Double
		return a + b
	}
}
