package cis

import (
	"github.com/golang/glog"

	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/mds"
)

// Backup implements spec.md's backup(): the backup name is hashed to an
// owning MS among the item's participating servers (reusing the same
// AnchorFor hash the MDS anchor uses, per spec.md's "backup name is
// hashed to select an owning MS"); that server's existence check gates
// the whole operation, then every participating server persists its
// chunk, with the anchor also writing the one metadata record.
func (c *Coordinator) Backup(regionID uint64, itemName, backupName string, uid, gid uint32) (cmn.WaitToken, error) {
	d, err := c.Catalog.GetDataItem(regionID, itemName)
	if err != nil {
		return cmn.WaitToken{}, err
	}
	if err := cmn.RequireAccess(d.Mode, d.UID, d.GID, uid, gid, cmn.ModeRead); err != nil {
		return cmn.WaitToken{}, err
	}

	anchor := mds.AnchorFor(backupName, d.MemServerIDs)
	anchorClient, ok := c.mss[anchor]
	if !ok {
		return cmn.WaitToken{}, cmn.NewFamError(cmn.ErrMemservListEmpty, "backup anchor memory server unreachable")
	}
	exists, err := anchorClient.BackupExists(backupName)
	if err != nil {
		return cmn.WaitToken{}, err
	}
	if exists {
		return cmn.WaitToken{}, cmn.ErrBackupExistsf(backupName)
	}

	meta := &cmn.BackupMeta{
		Name: backupName, ItemName: itemName, Size: d.Size, Mode: d.Mode,
		UID: d.UID, GID: d.GID, InterleaveSize: d.InterleaveSize, MemServerIDs: d.MemServerIDs,
	}

	wo := newWaitObject()
	go func() {
		chunkSize := cmn.PerServerShare(d.Size, d.InterleaveSize, len(d.MemServerIDs))
		failed := bcast(c.subset(d.MemServerIDs), func(id uint64, ms MSClient) error {
			idx := indexOf(d.MemServerIDs, id)
			return ms.BackupChunk(regionID, d.Offsets[idx], chunkSize, backupName, idx, id == anchor, meta)
		})
		if len(failed) > 0 {
			glog.Errorf("cis: backup %q failed on some servers: %v", backupName, failed)
			wo.finish(cmn.MultiPeerError(failed))
			return
		}
		wo.finish(nil)
	}()
	return c.waits.register(wo), nil
}

// Restore implements spec.md's restore(): rehydrates a backup into a
// newly-allocated data item pinned to the layout the backup was taken
// with, so every chunk lands back on the server whose BackupStore holds
// it. The destination region must span those servers, and must be large
// enough for the backup.
func (c *Coordinator) Restore(backupName string, destRegionID uint64, newItemName string, uid, gid uint32) (cmn.WaitToken, error) {
	_, meta, err := c.findBackup(backupName)
	if err != nil {
		return cmn.WaitToken{}, err
	}

	r, err := c.Catalog.GetRegion(destRegionID)
	if err != nil {
		return cmn.WaitToken{}, err
	}
	if err := cmn.RequireAccess(r.Mode, r.UID, r.GID, uid, gid, cmn.ModeWrite); err != nil {
		return cmn.WaitToken{}, err
	}
	if r.Size < meta.Size {
		return cmn.WaitToken{}, cmn.ErrBackupSizeTooLargef(backupName, r.Size, meta.Size)
	}
	for _, id := range meta.MemServerIDs {
		if indexOf(r.MemServerIDs, id) < 0 {
			return cmn.WaitToken{}, cmn.NewFamError(cmn.ErrRegionNotFound,
				"destination region does not span the backup's memory servers")
		}
	}

	d, err := c.allocateOn(r, newItemName, meta.Size, meta.Mode, uid, gid, meta.MemServerIDs, meta.InterleaveSize)
	if err != nil {
		return cmn.WaitToken{}, err
	}

	wo := newWaitObject()
	go func() {
		failed := bcast(c.subset(d.MemServerIDs), func(id uint64, ms MSClient) error {
			idx := indexOf(d.MemServerIDs, id)
			_, err := ms.RestoreChunk(backupName, idx, destRegionID, d.Offsets[idx])
			return err
		})
		if len(failed) > 0 {
			glog.Errorf("cis: restore %q failed on some servers: %v", backupName, failed)
			wo.finish(cmn.MultiPeerError(failed))
			return
		}
		wo.finish(nil)
	}()
	return c.waits.register(wo), nil
}

// DeleteBackup implements spec.md's delete_backup(): fans out chunk
// deletion to every server that held a chunk of backupName.
func (c *Coordinator) DeleteBackup(backupName string, uid, gid uint32) (cmn.WaitToken, error) {
	_, meta, err := c.findBackup(backupName)
	if err != nil {
		return cmn.WaitToken{}, err
	}
	if err := cmn.RequireAccess(meta.Mode, meta.UID, meta.GID, uid, gid, cmn.ModeWrite); err != nil {
		return cmn.WaitToken{}, err
	}

	wo := newWaitObject()
	go func() {
		failed := bcast(c.subset(meta.MemServerIDs), func(id uint64, ms MSClient) error {
			return ms.DeleteBackup(backupName, len(meta.MemServerIDs))
		})
		if len(failed) > 0 {
			wo.finish(cmn.MultiPeerError(failed))
			return
		}
		wo.finish(nil)
	}()
	return c.waits.register(wo), nil
}

// findBackup locates backupName's anchor among every reachable server
// (the caller does not know in advance which server's hash owns it)
// and returns its metadata record.
func (c *Coordinator) findBackup(backupName string) (uint64, *cmn.BackupMeta, error) {
	for id, client := range c.mss {
		exists, err := client.BackupExists(backupName)
		if err != nil {
			continue
		}
		if exists {
			meta, err := client.ReadBackupMeta(backupName)
			if err != nil {
				return 0, nil, err
			}
			return id, meta, nil
		}
	}
	return 0, nil, cmn.NewFamError(cmn.ErrDataItemNotFound, "backup not found")
}

func indexOf(ids []uint64, id uint64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
