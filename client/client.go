// Package client implements the FAM client library: the user-facing API
// that resolves a name to an opened region (caching its per-memory-server
// fabric keys and base addresses), then issues RDMA operations directly
// to the owning memory servers, bypassing CIS for every data-path call
// (spec.md §2 "Client Library").
package client

import (
	"fmt"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric"
)

// Client is one user's view of the cluster: a handle to the CIS
// coordinator for control-plane calls, and its own fabric Context/Provider
// for the data path. One Client may have many Regions open at once.
type Client struct {
	Coord     cis.Interface
	Provider  fabric.Provider
	Ctx       *fabric.Context
	Collector *fabric.Collector // optional; nil disables idle-context reaping
	UID, GID  uint32

	// Address is this client's own fabric peer address, the ClientAddr a
	// memory server's ATL worker resolves via Provider.LookupPeer to push
	// get_atomic/gather_*_atomic results back (spec.md §6).
	Address string
}

// New builds a Client bound to coord's cluster over provider's fabric
// endpoint. coord may be an in-process *cis.Coordinator or a remote
// rpc/httpx.CISClient / rpc/grpcx.CISClient, per config's
// memsrv_interface_type. provider must already be fabric.Provider.Connect-ed
// (or, for a networked provider, otherwise reachable) to every memory
// server this client will open regions on.
func New(coord cis.Interface, provider fabric.Provider, collector *fabric.Collector, uid, gid uint32) *Client {
	c := &Client{
		Coord:     coord,
		Provider:  provider,
		Ctx:       fabric.NewContext(provider),
		Collector: collector,
		UID:       uid,
		GID:       gid,
	}
	c.Address = fmt.Sprintf("client-%p", c)
	return c
}

// registerLocal registers buf for RDMA access from this client's own
// fabric endpoint, for the atomic passthroughs' push/pull-back leg
// (spec.md §6). The registration intentionally outlives this call: the
// owning memory server's ATL worker applies the queued op asynchronously,
// so buf must stay registered (and alive) until that completes; callers
// hold onto the returned key to deregister once they've confirmed that.
func (c *Client) registerLocal(buf []byte) (fabric.Key, error) {
	key, _, err := c.Provider.RegisterMemory(0, buf)
	return key, err
}

// CreateRegion, DestroyRegion, ChangeRegionPermission, ResizeRegion (and
// Region.Allocate/Deallocate) pass straight through to the CIS
// coordinator: spec.md's control plane is not a direct-to-MS concern.

func (c *Client) CreateRegion(name string, size int64, mode uint32, redundancy cmn.RedundancyLevel,
	memType cmn.MemoryType, interleave bool, perm cmn.PermissionLevel) (*cmn.Region, error) {
	return c.Coord.CreateRegion(name, size, mode, c.UID, c.GID, redundancy, memType, interleave, perm)
}

func (c *Client) DestroyRegion(regionID uint64) error {
	return c.Coord.DestroyRegion(regionID, c.UID, c.GID)
}

func (c *Client) ResizeRegion(regionID uint64, nbytes int64) error {
	return c.Coord.ResizeRegion(regionID, nbytes, c.UID, c.GID)
}

func (c *Client) ChangeRegionPermission(regionID uint64, newMode uint32) error {
	return c.Coord.ChangeRegionPermission(regionID, newMode, c.UID, c.GID)
}

// OpenRegion implements spec.md's open_region: resolves name, registers
// (or re-fetches) every participating server's fabric memory, and
// returns a Region handle caching the resulting Fam_Region_Memory_Map.
func (c *Client) OpenRegion(name string) (*Region, error) {
	info, entries, err := c.Coord.OpenRegion(name, c.UID, c.GID)
	if err != nil {
		return nil, err
	}
	mem := make(map[uint64]cis.RegionMemEntry, len(entries))
	for _, e := range entries {
		mem[e.MemServerID] = e
		if _, err := c.Ctx.Provider.LookupPeer(e.Address); err != nil {
			return nil, cmn.WrapFamError(cmn.ErrRPC, fmt.Sprintf("client not connected to memory server %d", e.MemServerID), err)
		}
	}
	r := &Region{client: c, info: info, mem: mem}
	if c.Collector != nil {
		c.Collector.Track(r.trackID(), c.Ctx)
	}
	return r, nil
}

// Region is a cached, opened region: spec.md §3's per-opened-region
// cache, plus convenience constructors for opening one of its data items.
type Region struct {
	client *Client
	info   *cmn.Region
	mem    map[uint64]cis.RegionMemEntry
}

func (r *Region) Info() *cmn.Region { return r.info }

func (r *Region) trackID() string { return fmt.Sprintf("region-%d", r.info.RegionID) }

// Close implements spec.md's close_region: releases every participating
// server's open handle and stops idle-reaping this region's context.
func (r *Region) Close() error {
	if r.client.Collector != nil {
		r.client.Collector.Untrack(r.trackID())
	}
	ids := make([]uint64, 0, len(r.mem))
	for id := range r.mem {
		ids = append(ids, id)
	}
	return r.client.Coord.CloseRegion(r.info.RegionID, ids)
}

// Allocate allocates a new data item inside this region and opens it for
// immediate data-path use.
func (r *Region) Allocate(name string, size int64, mode uint32) (*Item, error) {
	d, err := r.client.Coord.Allocate(name, r.info.RegionID, size, mode, r.client.UID, r.client.GID)
	if err != nil {
		return nil, err
	}
	return r.itemFromDataItem(d)
}

// Open resolves an existing data item by name and prepares it for the
// data path, reusing the region-level keys/bases when the region carries
// REGION-level permission, or the item's own keys otherwise (spec.md
// §4.1 "for REGION permission, return only the per-MS offsets; client
// will reuse region-level keys").
func (r *Region) Open(itemName string) (*Item, error) {
	d, err := r.client.Coord.Lookup(r.info.RegionID, itemName, r.client.UID, r.client.GID)
	if err != nil {
		return nil, err
	}
	return r.itemFromDataItem(d)
}

func (r *Region) itemFromDataItem(d *cmn.DataItem) (*Item, error) {
	peers := make([]fabric.PeerAddr, len(d.MemServerIDs))
	keys := make([]fabric.Key, len(d.MemServerIDs))
	bases := make([]fabric.BaseAddress, len(d.MemServerIDs))
	// offsetBase is added to an item-relative local offset before it is
	// posted as a RemoteOff: zero when the key registers just this item's
	// own byte range (DATAITEM permission), or the item's per-server
	// allocation offset when the key registers the whole region slab
	// (REGION permission, spec.md §4.1 "client will reuse region-level
	// keys").
	offsetBase := make([]int64, len(d.MemServerIDs))
	for i, id := range d.MemServerIDs {
		entry, ok := r.mem[id]
		if !ok {
			return nil, cmn.NewFamError(cmn.ErrRPC, fmt.Sprintf("region not open on memory server %d", id))
		}
		peer, err := r.client.Ctx.Provider.LookupPeer(entry.Address)
		if err != nil {
			return nil, err
		}
		peers[i] = peer
		if d.Permission == cmn.PermDataItem && i < len(d.Keys) {
			keys[i] = fabric.Key(d.Keys[i])
			bases[i] = fabric.BaseAddress(d.BaseAddresses[i])
			offsetBase[i] = 0
		} else {
			keys[i] = entry.Key
			bases[i] = entry.Base
			offsetBase[i] = d.Offsets[i]
		}
	}
	return &Item{
		region:     r,
		info:       d,
		peers:      peers,
		keys:       keys,
		bases:      bases,
		offsetBase: offsetBase,
	}, nil
}

func (r *Region) Deallocate(name string) error {
	return r.client.Coord.Deallocate(r.info.RegionID, name, r.client.UID, r.client.GID)
}
