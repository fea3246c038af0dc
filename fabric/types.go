// Package fabric implements the single-sided RDMA data path: endpoint
// contexts with completion queues and counters, ordered write/read/atomic
// primitives, fencing and quiescence, and strided/indexed scatter-gather.
// It is built against a small Provider interface rather than directly
// against libfabric, because no portable Go libfabric binding exists in
// the ecosystem (see DESIGN.md).
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package fabric

import (
	"fmt"
	"math"
)

// Key is the 64-bit fabric-side token identifying a registered memory
// region for RDMA access.
type Key uint64

// BaseAddress is the virtual address a provider returns when it registers
// a region's backing memory.
type BaseAddress uint64

// PeerAddr is an opaque address-vector entry, analogous to libfabric's
// fi_addr_t: it names a reachable remote endpoint.
type PeerAddr struct {
	raw string
}

func NewPeerAddr(raw string) PeerAddr { return PeerAddr{raw: raw} }
func (p PeerAddr) String() string     { return p.raw }
func (p PeerAddr) IsZero() bool       { return p.raw == "" }

// AtomicOp enumerates the remote atomic operation kinds the data path
// supports, matching the set fam_ops exposes: plain RMW operations plus
// fetching and comparing variants.
type AtomicOp int

const (
	AtomicSum AtomicOp = iota
	AtomicMin
	AtomicMax
	AtomicAnd
	AtomicOr
	AtomicXor
	AtomicWrite // unconditional store via "atomic" path (no torn writes)
)

// Datatype enumerates the remote datum width/signedness for an atomic op.
// Both sides must agree on (op, datatype) for the op to be well-formed.
type Datatype int

const (
	DtInt32 Datatype = iota
	DtInt64
	DtUint32
	DtUint64
	DtFloat
	DtDouble
)

// ProviderErrno mirrors the small set of provider error conditions the
// data path needs to distinguish; get_fam_error maps a raw provider errno
// to a cmn.FamErrKind (see errors.go).
type ProviderErrno int

const (
	ErrnoOK ProviderErrno = iota
	ErrnoAgain
	ErrnoTimeout
	ErrnoNoPerm
	ErrnoOther
)

// ProviderError is what a provider's error completion queue yields.
type ProviderError struct {
	Errno   ProviderErrno
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (errno=%d): %s", e.Errno, e.Message)
}

// Completion is one entry drained from a completion queue.
type Completion struct {
	OpContext uint64 // matches the context a post() was tagged with
	Len       int    // bytes transferred, where applicable
}

// CQSide selects which of a context's two completion queues an operation
// drains into.
type CQSide int

const (
	CQTx CQSide = iota
	CQRx
)

// ApplyAtomic computes the post-op value of a remote atomic against the
// 8-byte word prev holds before the op. Both sides must agree on
// (op, datatype): min/max compare signed for the signed datatypes and as
// IEEE754 for the float ones, and sum adds in the datatype's own
// arithmetic. Every Provider that implements PostAtomic locally (rather
// than against real NIC hardware) shares this so memprovider and
// tcpprovider agree on RMW semantics.
func ApplyAtomic(op AtomicOp, dt Datatype, prev, operand uint64) uint64 {
	switch op {
	case AtomicSum:
		switch dt {
		case DtFloat:
			return uint64(math.Float32bits(math.Float32frombits(uint32(prev)) + math.Float32frombits(uint32(operand))))
		case DtDouble:
			return math.Float64bits(math.Float64frombits(prev) + math.Float64frombits(operand))
		default:
			return prev + operand
		}
	case AtomicMin:
		if atomicLess(dt, operand, prev) {
			return operand
		}
		return prev
	case AtomicMax:
		if atomicLess(dt, prev, operand) {
			return operand
		}
		return prev
	case AtomicAnd:
		return prev & operand
	case AtomicOr:
		return prev | operand
	case AtomicXor:
		return prev ^ operand
	case AtomicWrite:
		return operand
	default:
		return prev
	}
}

// atomicLess compares two raw 8-byte operands under dt's interpretation.
func atomicLess(dt Datatype, a, b uint64) bool {
	switch dt {
	case DtInt32:
		return int32(a) < int32(b)
	case DtInt64:
		return int64(a) < int64(b)
	case DtUint32:
		return uint32(a) < uint32(b)
	case DtFloat:
		return math.Float32frombits(uint32(a)) < math.Float32frombits(uint32(b))
	case DtDouble:
		return math.Float64frombits(a) < math.Float64frombits(b)
	default:
		return a < b
	}
}
