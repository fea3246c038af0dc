package cis

import "github.com/openfam/fam/cmn"

// Interface is the CIS control-plane surface the client library depends
// on. *Coordinator satisfies it directly for an in-process deployment
// (memsrv_interface_type/metadata_interface_type = "direct"); rpc/httpx
// and rpc/grpcx each provide a remote client satisfying it for a
// disaggregated one (memsrv_interface_type = "rpc"), so client.Client
// never needs to know which transport it is talking over.
type Interface interface {
	CreateRegion(name string, size int64, mode uint32, uid, gid uint32,
		redundancy cmn.RedundancyLevel, memType cmn.MemoryType, interleave bool, perm cmn.PermissionLevel) (*cmn.Region, error)
	DestroyRegion(regionID uint64, uid, gid uint32) error
	ResizeRegion(regionID uint64, nbytes int64, uid, gid uint32) error
	ChangeRegionPermission(regionID uint64, newMode uint32, uid, gid uint32) error
	ChangeDataItemPermission(regionID uint64, name string, newMode uint32, uid, gid uint32) error
	OpenRegion(name string, uid, gid uint32) (*cmn.Region, []RegionMemEntry, error)
	CloseRegion(regionID uint64, memservers []uint64) error
	Allocate(name string, regionID uint64, size int64, mode uint32, uid, gid uint32) (*cmn.DataItem, error)
	Deallocate(regionID uint64, name string, uid, gid uint32) error
	Lookup(regionID uint64, itemName string, uid, gid uint32) (*cmn.DataItem, error)
	LookupRegion(name string, uid, gid uint32) (*cmn.Region, error)
	StatInfo(regionID uint64, itemName string, uid, gid uint32) (*cmn.DataItem, error)
	Copy(srcRegionID uint64, srcItemName string, srcOffset int64, destRegionID uint64, destItemName string, destOffset int64, size int64, uid, gid uint32) (cmn.WaitToken, error)
	Backup(regionID uint64, itemName, backupName string, uid, gid uint32) (cmn.WaitToken, error)
	Restore(backupName string, destRegionID uint64, newItemName string, uid, gid uint32) (cmn.WaitToken, error)
	DeleteBackup(backupName string, uid, gid uint32) (cmn.WaitToken, error)
	WaitFor(tok cmn.WaitToken) error
	GetMemServerInfo() []byte
	GetMemServerInfoSize() int

	// AcquireCASLock/ReleaseCASLock are the CIS-mediated per-object lock
	// of spec.md §6/§9, forwarded to the named memory server's lock
	// service; a 128-bit compare-and-swap holds it across its
	// read-compare-write.
	AcquireCASLock(regionID uint64, offset int64, memserverID uint64) error
	ReleaseCASLock(regionID uint64, offset int64, memserverID uint64) error

	// GetAtomic/PutAtomic/ScatterStridedAtomic/GatherStridedAtomic/
	// ScatterIndexedAtomic/GatherIndexedAtomic are spec.md §6's atomic
	// control-plane passthroughs: each enqueues onto the owning memory
	// server's ATL (see §4.3) rather than posting fabric ops directly, so
	// the request survives a crash mid-apply. clientAddr/sourceKey name
	// the caller's own registered fabric memory for the ops that pull from
	// or push results back to the client.
	GetAtomic(regionID uint64, itemName string, offset, size int64, clientAddr string, sourceKey uint64, uid, gid uint32) error
	PutAtomic(regionID uint64, itemName string, offset int64, data []byte, uid, gid uint32) error
	ScatterStridedAtomic(regionID uint64, itemName string, elemSize, first, stride int64, count int64, clientAddr string, sourceKey uint64, uid, gid uint32) error
	GatherStridedAtomic(regionID uint64, itemName string, elemSize, first, stride int64, count int64, clientAddr string, sourceKey uint64, uid, gid uint32) error
	ScatterIndexedAtomic(regionID uint64, itemName string, elemSize int64, index []int64, clientAddr string, sourceKey uint64, uid, gid uint32) error
	GatherIndexedAtomic(regionID uint64, itemName string, elemSize int64, index []int64, clientAddr string, sourceKey uint64, uid, gid uint32) error
}

var _ Interface = (*Coordinator)(nil)
