package cis

import (
	"github.com/openfam/fam/atl"
	"github.com/openfam/fam/cmn"
)

// resolveAtomicTarget looks up itemName's catalog record, checks access,
// and locates the single memory server the queued op lands on. get_atomic/
// put_atomic respect the item's own interleaving (offset maps through
// cmn.StripeMapping like any other data-path call); the scatter/gather
// passthroughs are, like their direct-fabric counterparts in client/item.go,
// defined over the item's base (unstriped) server.
func (c *Coordinator) resolveAtomicTarget(regionID uint64, itemName string, offset int64, uid, gid uint32, want uint32, strided bool) (MSClient, *cmn.DataItem, int64, error) {
	d, err := c.Catalog.GetDataItem(regionID, itemName)
	if err != nil {
		return nil, nil, 0, err
	}
	if err := cmn.RequireAccess(d.Mode, d.UID, d.GID, uid, gid, want); err != nil {
		return nil, nil, 0, err
	}

	var serverID uint64
	var localOff int64
	if strided {
		serverID = d.MemServerIDs[0]
		localOff = d.Offsets[0] + offset
	} else {
		idx, local := cmn.StripeMapping(offset, d.InterleaveSize, len(d.MemServerIDs))
		serverID = d.MemServerIDs[idx]
		localOff = d.Offsets[idx] + local
	}

	client, ok := c.mss[serverID]
	if !ok {
		return nil, nil, 0, cmn.NewFamError(cmn.ErrMemservListEmpty, "target memory server unreachable")
	}
	return client, d, localOff, nil
}

// GetAtomic implements spec.md §6's get_atomic: a read-only ATL passthrough
// that pushes the fetched bytes back to clientAddr/sourceKey.
func (c *Coordinator) GetAtomic(regionID uint64, itemName string, offset, size int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	client, d, localOff, err := c.resolveAtomicTarget(regionID, itemName, offset, uid, gid, cmn.ModeRead, false)
	if err != nil {
		return err
	}
	return client.EnqueueAtomic(d.RegionID, &atl.Descriptor{
		Flags:      atl.FlagRead,
		RegionID:   d.RegionID,
		Offset:     localOff,
		Size:       size,
		ClientAddr: clientAddr,
		SourceKey:  sourceKey,
	})
}

// PutAtomic implements spec.md §6's put_atomic: the payload travels inline
// with the RPC (CONTAIN_DATA), so the worker never needs to pull it back
// from the client.
func (c *Coordinator) PutAtomic(regionID uint64, itemName string, offset int64, data []byte, uid, gid uint32) error {
	client, d, localOff, err := c.resolveAtomicTarget(regionID, itemName, offset, uid, gid, cmn.ModeWrite, false)
	if err != nil {
		return err
	}
	return client.EnqueueAtomic(d.RegionID, &atl.Descriptor{
		Flags:    atl.FlagWrite | atl.FlagContainData,
		RegionID: d.RegionID,
		Offset:   localOff,
		Size:     int64(len(data)),
		Buffer:   data,
	})
}

// ScatterStridedAtomic implements spec.md §6's scatter_strided_atomic.
func (c *Coordinator) ScatterStridedAtomic(regionID uint64, itemName string, elemSize, first, stride int64, count int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	client, d, localOff, err := c.resolveAtomicTarget(regionID, itemName, 0, uid, gid, cmn.ModeWrite, true)
	if err != nil {
		return err
	}
	return client.EnqueueAtomic(d.RegionID, &atl.Descriptor{
		Flags:      atl.FlagScatterStride,
		RegionID:   d.RegionID,
		Offset:     localOff,
		Size:       elemSize * count,
		ElemSize:   elemSize,
		First:      first,
		Stride:     stride,
		IndexCount: count,
		ClientAddr: clientAddr,
		SourceKey:  sourceKey,
	})
}

// GatherStridedAtomic implements spec.md §6's gather_strided_atomic.
func (c *Coordinator) GatherStridedAtomic(regionID uint64, itemName string, elemSize, first, stride int64, count int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	client, d, localOff, err := c.resolveAtomicTarget(regionID, itemName, 0, uid, gid, cmn.ModeRead, true)
	if err != nil {
		return err
	}
	return client.EnqueueAtomic(d.RegionID, &atl.Descriptor{
		Flags:      atl.FlagGatherStride,
		RegionID:   d.RegionID,
		Offset:     localOff,
		Size:       elemSize * count,
		ElemSize:   elemSize,
		First:      first,
		Stride:     stride,
		IndexCount: count,
		ClientAddr: clientAddr,
		SourceKey:  sourceKey,
	})
}

// ScatterIndexedAtomic implements spec.md §6's scatter_indexed_atomic.
func (c *Coordinator) ScatterIndexedAtomic(regionID uint64, itemName string, elemSize int64, index []int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	client, d, localOff, err := c.resolveAtomicTarget(regionID, itemName, 0, uid, gid, cmn.ModeWrite, true)
	if err != nil {
		return err
	}
	return client.EnqueueAtomic(d.RegionID, &atl.Descriptor{
		Flags:      atl.FlagScatterIndex,
		RegionID:   d.RegionID,
		Offset:     localOff,
		Size:       elemSize * int64(len(index)),
		ElemSize:   elemSize,
		Index:      index,
		ClientAddr: clientAddr,
		SourceKey:  sourceKey,
	})
}

// GatherIndexedAtomic implements spec.md §6's gather_indexed_atomic.
func (c *Coordinator) GatherIndexedAtomic(regionID uint64, itemName string, elemSize int64, index []int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	client, d, localOff, err := c.resolveAtomicTarget(regionID, itemName, 0, uid, gid, cmn.ModeRead, true)
	if err != nil {
		return err
	}
	return client.EnqueueAtomic(d.RegionID, &atl.Descriptor{
		Flags:      atl.FlagGatherIndex,
		RegionID:   d.RegionID,
		Offset:     localOff,
		Size:       elemSize * int64(len(index)),
		ElemSize:   elemSize,
		Index:      index,
		ClientAddr: clientAddr,
		SourceKey:  sourceKey,
	})
}
