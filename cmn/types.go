package cmn

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// MinObjSize is the smallest data item size the allocator accepts.
	MinObjSize = 128
	// MinRegionSize is the floor applied to each memory server's share of
	// a newly created region, before the 64-byte alignment pass.
	MinRegionSize = 1 << 20 // 1 MiB
	// AllocAlignment is the per-memory-server allocation granularity.
	AllocAlignment = 64
	// MaxMemServersPerRegion bounds the ordered participating-MS list.
	MaxMemServersPerRegion = 64
	// RegionIDMask is the low 48 bits reserved for the offset component
	// of a synthesized dataitem_id (see DataItemID).
	RegionIDMask = (uint64(1) << 48) - 1
	// DefaultInterleaveSize is the block granularity allocate() assigns a
	// newly-created data item when its region has interleaving enabled
	// and spans more than one memory server. spec.md §4.1 leaves the
	// exact policy to the implementer; copy()'s destination-centric
	// fan-out (cis/copy.go) uses the same constant so a region's copy
	// layout lines up with its own scatter/gather layout.
	DefaultInterleaveSize = 4096
)

// RedundancyLevel enumerates the (single) supported redundancy scheme.
// Erasure coding / multi-copy across memory servers is out of scope.
type RedundancyLevel int

const (
	RedundancyRAID1 RedundancyLevel = iota // single-copy, no redundancy
)

type MemoryType int

const (
	MemoryVolatile MemoryType = iota
	MemoryPersistent
)

type PermissionLevel int

const (
	PermRegion PermissionLevel = iota
	PermDataItem
)

// Region is the top-level named, permissioned container striped across a
// chosen set of memory servers.
type Region struct {
	RegionID        uint64          `json:"region_id"`
	Name            string          `json:"name"`
	UID             uint32          `json:"uid"`
	GID             uint32          `json:"gid"`
	Mode            uint32          `json:"mode"`
	Size            int64           `json:"size"`
	Redundancy      RedundancyLevel `json:"redundancy"`
	MemoryType      MemoryType      `json:"memory_type"`
	InterleaveEnable bool           `json:"interleave_enable"`
	Permission      PermissionLevel `json:"permission_level"`
	MemServerIDs    []uint64        `json:"memserver_ids"`
	Destroyed       bool            `json:"-"`
}

func (r *Region) UsedMemsrvCnt() int { return len(r.MemServerIDs) }

// Validate checks the region invariants from spec.md §3.
func (r *Region) Validate() error {
	if r.UsedMemsrvCnt() > MaxMemServersPerRegion {
		return NewFamError(ErrInvalidOption, fmt.Sprintf("region %s: too many memory servers (%d > %d)",
			r.Name, r.UsedMemsrvCnt(), MaxMemServersPerRegion))
	}
	return nil
}

// DataItem is a sized byte range inside a region, with its own permissions
// and its own (possibly striped) placement across a subset of the region's
// memory servers.
type DataItem struct {
	DataItemID    uint64   `json:"dataitem_id"`
	RegionID      uint64   `json:"region_id"`
	Name          string   `json:"name,omitempty"`
	Offsets       []int64  `json:"offsets"`        // per-MS allocation offset, parallel to MemServerIDs
	Size          int64    `json:"size"`           // total logical size
	InterleaveSize int64   `json:"interleave_size"` // 0 == no striping
	UID           uint32   `json:"uid"`
	GID           uint32   `json:"gid"`
	Mode          uint32   `json:"mode"`
	Permission    PermissionLevel `json:"permission_level"`
	MemServerIDs  []uint64 `json:"memserver_ids"`

	// Keys/BaseAddresses are populated only on a fresh allocate() under
	// DATAITEM permission level (spec.md §4.1 "immediately call
	// register_dataitem_memory on every participating MS and return
	// keys+base addresses"); not persisted, since a server restart
	// invalidates any previously-issued fabric key.
	Keys          []uint64 `json:"-"`
	BaseAddresses []uint64 `json:"-"`
}

// BackupMeta is the durable record written once, by the anchor memory
// server only, when backup() completes: everything restore() needs to
// rehydrate a data item without consulting the original region.
type BackupMeta struct {
	Name           string   `json:"name"`
	ItemName       string   `json:"item_name"`
	Size           int64    `json:"size"`
	Mode           uint32   `json:"mode"`
	UID            uint32   `json:"uid"`
	GID            uint32   `json:"gid"`
	InterleaveSize int64    `json:"interleave_size"`
	MemServerIDs   []uint64 `json:"memserver_ids"` // chunk layout used at backup time, reused at restore time
}

// Validate checks the data item invariants from spec.md §3.
func (d *DataItem) Validate() error {
	if d.Size < MinObjSize {
		return NewFamError(ErrInvalidOption, fmt.Sprintf("dataitem %q: size %d below MIN_OBJ_SIZE %d",
			d.Name, d.Size, MinObjSize))
	}
	for _, off := range d.Offsets {
		if off%AllocAlignment != 0 {
			return NewFamError(ErrInvalidOption, fmt.Sprintf("dataitem %q: offset %d not 64-byte aligned",
				d.Name, off))
		}
	}
	return nil
}

// DataItemID synthesizes the 64-bit dataitem identifier:
// (first_memserver_id << 48) | (offset / MIN_OBJ_SIZE).
func DataItemID(firstMemserverID uint64, offset int64) uint64 {
	return (firstMemserverID << 48) | (uint64(offset/MinObjSize) & RegionIDMask)
}

// AlignUp rounds n up to the given power-of-two alignment.
func AlignUp(n int64, align int64) int64 {
	return (n + align - 1) / align * align
}

// PerServerRegionSize computes each memory server's share of a region of size
// bytes split across n servers, applying the 64-byte alignment and the
// MIN_REGION_SIZE floor from spec.md §4.1.
func PerServerRegionSize(size int64, n int) int64 {
	cmnAssertPositive(n)
	share := AlignUp(size/int64(n), AllocAlignment)
	if share < MinRegionSize {
		share = MinRegionSize
	}
	return share
}

// PerServerItemSize computes each memory server's share of a data item of
// size bytes split across n servers, applying the 64-byte alignment and
// the MIN_OBJ_SIZE floor from spec.md §4.1.
func PerServerItemSize(size int64, n int) int64 {
	cmnAssertPositive(n)
	share := AlignUp(size/int64(n), AllocAlignment)
	if share < MinObjSize {
		share = MinObjSize
	}
	return share
}

func cmnAssertPositive(n int) {
	Assert(n > 0)
}

// PerServerShare computes one server's share of a data item: for a
// striped item, enough whole interleave-sized blocks to hold the
// worst-case stripe count any one server receives under the round-robin
// mapping; for an unstriped (or single-server) item, the whole size.
// Both allocate and deallocate derive the per-server allocation length
// from this, so the two always agree.
func PerServerShare(size, interleave int64, n int) int64 {
	if n <= 1 || interleave <= 0 {
		return PerServerItemSize(size, 1)
	}
	blocks := (size + interleave - 1) / interleave
	share := (blocks + int64(n) - 1) / int64(n) * interleave
	share = AlignUp(share, AllocAlignment)
	if share < MinObjSize {
		share = MinObjSize
	}
	return share
}

// StripeMapping implements the interleaving contract of spec.md §3: for a
// byte offset b within an item striped with block size s over n servers
// (ordered by the item's MemServerIDs), returns the server's index within
// that ordered list and the local (per-server) offset.
func StripeMapping(b int64, s int64, n int) (serverIndex int, localOffset int64) {
	if s <= 0 || n <= 1 {
		return 0, b
	}
	block := b / s
	within := b % s
	serverIndex = int(block % int64(n))
	localOffset = (block/int64(n))*s + within
	return
}

// CopyDestLayout implements the destination-server-centric layout chosen
// by copy() in spec.md §4.1: the starting destination server index and
// within-stripe displacement for a copy landing at destOffset.
func CopyDestLayout(destOffset, destInterleave int64, nDest int) (startServer int, startDisplacement int64) {
	if destInterleave <= 0 || nDest <= 1 {
		return 0, destOffset
	}
	startServer = int((destOffset / destInterleave) % int64(nDest))
	startDisplacement = destOffset % destInterleave
	return
}

// MemServerInfo is one entry of the flat memserverinfo wire stream: a
// node id plus its opaque fabric address.
type MemServerInfo struct {
	NodeID       uint64
	FabricAddr   []byte
}

// EncodeMemServerInfo serializes a list of MemServerInfo entries as
// uint64 node_id | size_t addr_size | byte[addr_size] in native byte
// order, per spec.md §6. Interop is in-cluster only.
func EncodeMemServerInfo(infos []MemServerInfo) []byte {
	buf := &bytes.Buffer{}
	for _, info := range infos {
		_ = binary.Write(buf, binary.NativeEndian, info.NodeID)
		_ = binary.Write(buf, binary.NativeEndian, uint64(len(info.FabricAddr)))
		buf.Write(info.FabricAddr)
	}
	return buf.Bytes()
}

// DecodeMemServerInfo parses the memserverinfo wire stream produced by
// EncodeMemServerInfo, consuming until the declared size is exhausted.
func DecodeMemServerInfo(data []byte) ([]MemServerInfo, error) {
	r := bytes.NewReader(data)
	var out []MemServerInfo
	for r.Len() > 0 {
		var nodeID, addrSize uint64
		if err := binary.Read(r, binary.NativeEndian, &nodeID); err != nil {
			return nil, WrapFamError(ErrRPC, "truncated memserverinfo: node_id", err)
		}
		if err := binary.Read(r, binary.NativeEndian, &addrSize); err != nil {
			return nil, WrapFamError(ErrRPC, "truncated memserverinfo: addr_size", err)
		}
		addr := make([]byte, addrSize)
		if _, err := r.Read(addr); err != nil {
			return nil, WrapFamError(ErrRPC, "truncated memserverinfo: fabric_address", err)
		}
		out = append(out, MemServerInfo{NodeID: nodeID, FabricAddr: addr})
	}
	return out, nil
}
