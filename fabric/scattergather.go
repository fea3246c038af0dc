package fabric

// IOV is one local/remote scatter-gather entry built by the stride/index
// helpers below, ready to hand to write_multi_msg/read_multi_msg.
type IOV struct {
	LocalOff  int64  // offset into the caller's local buffer
	RemoteOff uint64 // B + ... per spec.md's stride/index formula
	Len       int64
}

// StrideIOVs builds the c iov entries for a strided scatter/gather of count
// elements of size elemSize, starting at element first with stride s
// elements, against base virtual address base (spec.md §4.2 "Scatter/gather
// stride"): local L+i*e, remote B+f*e+i*s*e, length e.
func StrideIOVs(base uint64, elemSize, first, stride int64, count int) []IOV {
	out := make([]IOV, count)
	for i := 0; i < count; i++ {
		ii := int64(i)
		out[i] = IOV{
			LocalOff:  ii * elemSize,
			RemoteOff: base + uint64((first+ii*stride)*elemSize),
			Len:       elemSize,
		}
	}
	return out
}

// IndexIOVs builds the iov entries for an indexed scatter/gather: same
// shape as StrideIOVs but the i-th remote offset is B + index[i]*e.
func IndexIOVs(base uint64, elemSize int64, index []int64) []IOV {
	out := make([]IOV, len(index))
	for i, idx := range index {
		out[i] = IOV{
			LocalOff:  int64(i) * elemSize,
			RemoteOff: base + uint64(idx*elemSize),
			Len:       elemSize,
		}
	}
	return out
}
