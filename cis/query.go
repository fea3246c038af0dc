package cis

import (
	"github.com/openfam/fam/cmn"
)

// ChangeRegionPermission implements spec.md's change_region_permission:
// only the owning uid/gid may modify a region's mode.
func (c *Coordinator) ChangeRegionPermission(regionID uint64, newMode uint32, uid, gid uint32) error {
	r, err := c.Catalog.GetRegion(regionID)
	if err != nil {
		return err
	}
	if uid != r.UID && gid != r.GID {
		return cmn.NewFamError(cmn.ErrRegionPermModifyNotPermitted, "only the owner may change a region's permission")
	}
	r.Mode = newMode
	return c.Catalog.FinalizeRegion(r)
}

// ChangeDataItemPermission implements spec.md's change_dataitem_permission.
// A data item under REGION-level permission takes its mode from the
// region (spec.md §3 "on REGION-level permission, item mode equals
// region mode") and cannot be changed independently.
func (c *Coordinator) ChangeDataItemPermission(regionID uint64, name string, newMode uint32, uid, gid uint32) error {
	d, err := c.Catalog.GetDataItem(regionID, name)
	if err != nil {
		return err
	}
	if uid != d.UID && gid != d.GID {
		return cmn.NewFamError(cmn.ErrItemPermModifyNotPermitted, "only the owner may change a dataitem's permission")
	}
	if d.Permission == cmn.PermRegion {
		return cmn.NewFamError(cmn.ErrItemPermModifyNotPermitted, "dataitem permission is inherited from its region")
	}
	d.Mode = newMode
	return c.Catalog.InsertDataItem(d)
}

// LookupRegion implements spec.md's lookup_region: resolves a name to its
// region record, subject to at-least-read access.
func (c *Coordinator) LookupRegion(name string, uid, gid uint32) (*cmn.Region, error) {
	r, err := c.Catalog.GetRegionByName(name)
	if err != nil {
		return nil, err
	}
	if err := cmn.RequireAccess(r.Mode, r.UID, r.GID, uid, gid, cmn.ModeRead); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup implements spec.md's lookup(item, region, ...): resolves a data
// item name within a region to its record.
func (c *Coordinator) Lookup(regionID uint64, itemName string, uid, gid uint32) (*cmn.DataItem, error) {
	d, err := c.Catalog.GetDataItem(regionID, itemName)
	if err != nil {
		return nil, err
	}
	if err := cmn.RequireAccess(d.Mode, d.UID, d.GID, uid, gid, cmn.ModeRead); err != nil {
		return nil, err
	}
	return d, nil
}

// StatInfo implements spec.md's stat_info: like Lookup, but callers only
// need read access to learn size/permission metadata (no write implied).
func (c *Coordinator) StatInfo(regionID uint64, itemName string, uid, gid uint32) (*cmn.DataItem, error) {
	return c.Lookup(regionID, itemName, uid, gid)
}

// ResizeRegion implements spec.md's resize_region: a caller whose uid or
// gid matches the region's owner may resize it, and any request smaller
// than the current size is rejected (a shrink could orphan existing
// allocations the MS-side allocators don't track back to MDS). Only the
// MDS region record is updated; the memory servers' slabs keep the size
// they were created with.
func (c *Coordinator) ResizeRegion(regionID uint64, nbytes int64, uid, gid uint32) error {
	r, err := c.Catalog.GetRegion(regionID)
	if err != nil {
		return err
	}
	if uid != r.UID && gid != r.GID {
		return cmn.NewFamError(cmn.ErrRegionResizeNotPermitted, "only the owner may resize a region")
	}
	if nbytes < r.Size {
		return cmn.NewFamError(cmn.ErrRegionResizeNotPermitted, "shrinking a region is not supported")
	}
	r.Size = nbytes
	return c.Catalog.FinalizeRegion(r)
}

// GetMemServerInfo implements spec.md's get_memserverinfo /
// get_memserverinfo_size: the flat memserverinfo wire stream (§6) for
// every memory server this coordinator can reach.
func (c *Coordinator) GetMemServerInfo() []byte {
	infos := make([]cmn.MemServerInfo, 0, len(c.mss))
	for id, client := range c.mss {
		infos = append(infos, cmn.MemServerInfo{NodeID: id, FabricAddr: []byte(client.Address())})
	}
	return cmn.EncodeMemServerInfo(infos)
}

// GetMemServerInfoSize implements spec.md's get_memserverinfo_size: the
// byte count a subsequent get_memserverinfo will return, so callers can
// size their receive buffer first.
func (c *Coordinator) GetMemServerInfoSize() int { return len(c.GetMemServerInfo()) }

// AcquireCASLock/ReleaseCASLock forward spec.md §6's
// acquire_CAS_lock/release_CAS_lock to the named memory server's
// per-(region,offset) lock service.
func (c *Coordinator) AcquireCASLock(regionID uint64, offset int64, memserverID uint64) error {
	client, ok := c.mss[memserverID]
	if !ok {
		return cmn.NewFamError(cmn.ErrRPCClientNotFound, "memory server unreachable for CAS lock")
	}
	return client.AcquireCASLock(regionID, offset)
}

func (c *Coordinator) ReleaseCASLock(regionID uint64, offset int64, memserverID uint64) error {
	client, ok := c.mss[memserverID]
	if !ok {
		return cmn.NewFamError(cmn.ErrRPCClientNotFound, "memory server unreachable for CAS lock")
	}
	return client.ReleaseCASLock(regionID, offset)
}
