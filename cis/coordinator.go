package cis

import (
	"sync"

	"github.com/golang/glog"

	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/mds"
)

// Coordinator is the stateless CIS: a cached handle to MDS and to every
// reachable memory server. It holds no per-call state; everything that
// must survive across client calls lives in MDS.
type Coordinator struct {
	Catalog MDSClient
	mss     MSSet
	waits   *waitRegistry
}

func NewCoordinator(catalog MDSClient, mss MSSet) *Coordinator {
	return &Coordinator{Catalog: catalog, mss: mss, waits: newWaitRegistry()}
}

// WaitFor joins a previously issued async task (copy/backup/restore/
// delete_backup) and forgets it once it has completed, per spec.md's
// wait_for_* contract.
func (c *Coordinator) WaitFor(tok cmn.WaitToken) error {
	w, ok := c.waits.lookup(tok)
	if !ok {
		return cmn.NewFamError(cmn.ErrInvalidOption, "unknown wait token")
	}
	err := w.Wait()
	c.waits.forget(tok)
	return err
}

// selectServers picks the participating MS set for a new region. The
// only placement policy implemented is "every reachable server, up to
// MaxMemServersPerRegion"; spec.md leaves finer placement policy
// unspecified beyond that cap.
func (c *Coordinator) selectServers() []uint64 {
	ids := make([]uint64, 0, len(c.mss))
	for id := range c.mss {
		ids = append(ids, id)
		if len(ids) >= cmn.MaxMemServersPerRegion {
			break
		}
	}
	return ids
}

// CreateRegion implements spec.md's create_region control flow:
// MDS.validate -> fan-out MS.create_region -> (failure: cleanup, release
// bit) -> MDS insert -> (failure: another cleanup pass).
func (c *Coordinator) CreateRegion(name string, size int64, mode uint32, uid, gid uint32,
	redundancy cmn.RedundancyLevel, memType cmn.MemoryType, interleave bool, perm cmn.PermissionLevel) (*cmn.Region, error) {

	memservers := c.selectServers()
	if len(memservers) == 0 {
		return nil, cmn.NewFamError(cmn.ErrMemservListEmpty, "no memory servers available")
	}

	regionID, err := c.Catalog.ReserveRegionID(name)
	if err != nil {
		return nil, err
	}

	sizePerServer := cmn.PerServerRegionSize(size, len(memservers))
	failed := bcast(c.subset(memservers), func(id uint64, ms MSClient) error {
		return ms.CreateRegion(regionID, sizePerServer)
	})
	if len(failed) > 0 {
		c.cleanupCreate(name, regionID, memservers, failed)
		return nil, cmn.MultiPeerError(failed)
	}

	r := &cmn.Region{
		RegionID: regionID, Name: name, UID: uid, GID: gid, Mode: mode,
		Size: size, Redundancy: redundancy, MemoryType: memType,
		InterleaveEnable: interleave, Permission: perm, MemServerIDs: memservers,
	}
	if err := c.Catalog.FinalizeRegion(r); err != nil {
		c.cleanupCreate(name, regionID, memservers, nil)
		return nil, err
	}

	if perm == cmn.PermRegion {
		failed = c.subset(memservers).registerRegionMemory(regionID)
		if len(failed) > 0 {
			glog.Errorf("cis: register_region_memory failed on some servers for region %d: %v", regionID, failed)
			return nil, cmn.MultiPeerError(failed)
		}
	}
	return r, nil
}

// cleanupCreate runs create-region cleanup on every server and, only if
// every cleanup succeeds, releases the region_id bit, per spec.md's
// "CIS instructs MDS to release the region_id bit" clause.
func (c *Coordinator) cleanupCreate(name string, regionID uint64, memservers []uint64, alreadyFailed map[uint64]error) {
	cleanupFailed := bcast(c.subset(memservers), func(id uint64, ms MSClient) error {
		return ms.CreateRegionFailureCleanup(regionID)
	})
	release := len(cleanupFailed) == 0
	if err := c.Catalog.AbandonReservation(name, regionID, release); err != nil {
		glog.Errorf("cis: failed to abandon reservation for region %d: %v", regionID, err)
	}
}

func (c *Coordinator) subset(ids []uint64) MSSet {
	out := make(MSSet, len(ids))
	for _, id := range ids {
		if client, ok := c.mss[id]; ok {
			out[id] = client
		}
	}
	return out
}

func (mss MSSet) registerRegionMemory(regionID uint64) map[uint64]error {
	return bcast(mss, func(id uint64, ms MSClient) error {
		_, _, err := ms.RegisterRegionMemory(regionID)
		return err
	})
}

// DestroyRegion implements spec.md's destroy_region: validate ownership,
// fan out MS.destroy_region, and release the region_id bit only if every
// server reports RELEASED.
func (c *Coordinator) DestroyRegion(regionID uint64, uid, gid uint32) error {
	r, err := c.Catalog.GetRegion(regionID)
	if err != nil {
		return err
	}
	if err := cmn.RequireAccess(r.Mode, r.UID, r.GID, uid, gid, cmn.ModeWrite); err != nil {
		return err
	}

	allReleased := true
	failed := bcast(c.subset(r.MemServerIDs), func(id uint64, ms MSClient) error {
		status, err := ms.DestroyRegion(regionID)
		if err != nil {
			return err
		}
		if status != Released {
			allReleased = false
		}
		return nil
	})
	if len(failed) > 0 {
		return cmn.MultiPeerError(failed)
	}
	return c.Catalog.DestroyRegion(regionID, allReleased)
}

// Allocate implements spec.md's allocate: CIS picks the item's servers
// and per-server share (cmn.PerServerShare) from the MDS region record,
// fans out MS.allocate, and on any failure runs allocate cleanup
// (parallel MS.deallocate on successes).
func (c *Coordinator) Allocate(name string, regionID uint64, size int64, mode uint32, uid, gid uint32) (*cmn.DataItem, error) {
	r, err := c.Catalog.GetRegion(regionID)
	if err != nil {
		return nil, err
	}
	if err := cmn.RequireAccess(r.Mode, r.UID, r.GID, uid, gid, cmn.ModeWrite); err != nil {
		return nil, err
	}

	// Placement policy: a striped item spans every one of its region's
	// servers; an unstriped item in a multi-server region lives whole on
	// one server, chosen by name hash so repeated allocations spread
	// without any placement state.
	memservers := r.MemServerIDs
	var interleaveSize int64
	if r.InterleaveEnable && len(memservers) > 1 {
		interleaveSize = cmn.DefaultInterleaveSize
	} else if len(memservers) > 1 {
		memservers = []uint64{mds.AnchorFor(name, memservers)}
	}
	return c.allocateOn(r, name, size, mode, uid, gid, memservers, interleaveSize)
}

// allocateOn runs allocate's fan-out with the placement already decided:
// Allocate computes it from the region's policy, Restore pins it to the
// layout the backup was taken with so every chunk lands back on the
// server that persisted it.
func (c *Coordinator) allocateOn(r *cmn.Region, name string, size int64, mode uint32, uid, gid uint32,
	memservers []uint64, interleaveSize int64) (*cmn.DataItem, error) {

	regionID := r.RegionID
	sizePerServer := cmn.PerServerShare(size, interleaveSize, len(memservers))

	var (
		mu      sync.Mutex
		offsets = make(map[uint64]int64, len(memservers))
	)
	failed := bcast(c.subset(memservers), func(id uint64, ms MSClient) error {
		off, err := ms.Allocate(regionID, sizePerServer)
		if err != nil {
			return err
		}
		mu.Lock()
		offsets[id] = off
		mu.Unlock()
		return nil
	})
	if len(failed) > 0 {
		c.cleanupAllocate(regionID, memservers, offsets, sizePerServer)
		for _, err := range failed {
			if cmn.KindOf(err) == cmn.ErrRegionNoSpace {
				return nil, err
			}
		}
		return nil, cmn.MultiPeerError(failed)
	}

	offList := make([]int64, 0, len(memservers))
	for _, id := range memservers {
		offList = append(offList, offsets[id])
	}
	d := &cmn.DataItem{
		DataItemID:     cmn.DataItemID(memservers[0], offList[0]),
		RegionID:       regionID,
		Name:           name,
		Offsets:        offList,
		Size:           size,
		InterleaveSize: interleaveSize,
		UID:            uid,
		GID:            gid,
		Mode:           mode,
		Permission:     r.Permission,
		MemServerIDs:   memservers,
	}
	if err := c.Catalog.InsertDataItem(d); err != nil {
		c.cleanupAllocate(regionID, memservers, offsets, sizePerServer)
		return nil, err
	}

	if r.Permission == cmn.PermDataItem {
		keys := make([]uint64, len(memservers))
		bases := make([]uint64, len(memservers))
		var mu sync.Mutex
		failed := bcast(c.subset(memservers), func(id uint64, ms MSClient) error {
			idx := -1
			for i, sid := range memservers {
				if sid == id {
					idx = i
					break
				}
			}
			key, base, err := ms.RegisterDataItemMemory(regionID, offsets[id], sizePerServer)
			if err != nil {
				return err
			}
			mu.Lock()
			keys[idx], bases[idx] = uint64(key), uint64(base)
			mu.Unlock()
			return nil
		})
		if len(failed) > 0 {
			glog.Errorf("cis: register_dataitem_memory failed on some servers for dataitem %q: %v", name, failed)
			return nil, cmn.MultiPeerError(failed)
		}
		d.Keys, d.BaseAddresses = keys, bases
	}
	return d, nil
}

func (c *Coordinator) cleanupAllocate(regionID uint64, memservers []uint64, offsets map[uint64]int64, size int64) {
	bcast(c.subset(memservers), func(id uint64, ms MSClient) error {
		off, ok := offsets[id]
		if !ok {
			return nil
		}
		return ms.Deallocate(regionID, off, size)
	})
}

// Deallocate implements spec.md's straightforward MDS query + fan-out.
func (c *Coordinator) Deallocate(regionID uint64, name string, uid, gid uint32) error {
	d, err := c.Catalog.GetDataItem(regionID, name)
	if err != nil {
		return err
	}
	if err := cmn.RequireAccess(d.Mode, d.UID, d.GID, uid, gid, cmn.ModeWrite); err != nil {
		return err
	}
	share := cmn.PerServerShare(d.Size, d.InterleaveSize, len(d.MemServerIDs))
	failed := bcast(c.subset(d.MemServerIDs), func(id uint64, ms MSClient) error {
		for i, sid := range d.MemServerIDs {
			if sid == id {
				return ms.Deallocate(regionID, d.Offsets[i], share)
			}
		}
		return nil
	})
	if len(failed) > 0 {
		return cmn.MultiPeerError(failed)
	}
	return c.Catalog.RemoveDataItem(regionID, name)
}
