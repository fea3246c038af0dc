package cis

import (
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric"
)

// RegionMemEntry is one server's contribution to the per-opened-region
// cache (spec.md §3's Fam_Region_Memory_Map): the fabric key and base
// address a client needs to issue RDMA directly against that server,
// plus the server's own address for peer resolution.
type RegionMemEntry struct {
	MemServerID uint64
	Key         fabric.Key
	Base        fabric.BaseAddress
	Address     string
}

// OpenRegion implements the client-library side of spec.md's open_region:
// resolve name, bump every participating server's open handle refcount,
// and register (or re-fetch, if already registered) each server's region
// memory so the caller can build its Fam_Region_Memory_Map.
func (c *Coordinator) OpenRegion(name string, uid, gid uint32) (*cmn.Region, []RegionMemEntry, error) {
	r, err := c.LookupRegion(name, uid, gid)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]RegionMemEntry, 0, len(r.MemServerIDs))
	for _, id := range r.MemServerIDs {
		client, ok := c.mss[id]
		if !ok {
			continue
		}
		if err := client.OpenRegion(r.RegionID); err != nil {
			c.rollbackOpen(r.RegionID, entries)
			return nil, nil, err
		}
		key, base, err := client.RegisterRegionMemory(r.RegionID)
		if err != nil {
			client.CloseRegion(r.RegionID)
			c.rollbackOpen(r.RegionID, entries)
			return nil, nil, err
		}
		entries = append(entries, RegionMemEntry{MemServerID: id, Key: key, Base: base, Address: client.Address()})
	}
	return r, entries, nil
}

func (c *Coordinator) rollbackOpen(regionID uint64, opened []RegionMemEntry) {
	for _, e := range opened {
		if client, ok := c.mss[e.MemServerID]; ok {
			client.CloseRegion(regionID)
		}
	}
}

// CloseRegion implements the client-library side of close_region:
// releases every participating server's open handle, per spec.md §3
// ("destroyed on close_region").
func (c *Coordinator) CloseRegion(regionID uint64, memservers []uint64) error {
	failed := bcast(c.subset(memservers), func(id uint64, ms MSClient) error {
		return ms.CloseRegion(regionID)
	})
	if len(failed) > 0 {
		return cmn.MultiPeerError(failed)
	}
	return nil
}
