package ms

import (
	"github.com/openfam/fam/atl"
	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric"
)

// LocalClient adapts a *Server to cis.MSClient for in-process deployments
// (tests, and the single-binary daemon mode where CIS, MDS, and every MS
// share one process).
type LocalClient struct{ Server *Server }

func NewLocalClient(s *Server) *LocalClient { return &LocalClient{Server: s} }

func (l *LocalClient) CreateRegion(regionID uint64, sizePerServer int64) error {
	return l.Server.CreateRegion(regionID, sizePerServer)
}

func (l *LocalClient) CreateRegionFailureCleanup(regionID uint64) error {
	return l.Server.CreateRegionFailureCleanup(regionID)
}

func (l *LocalClient) RegisterRegionMemory(regionID uint64) (fabric.Key, fabric.BaseAddress, error) {
	return l.Server.RegisterRegionMemory(regionID)
}

func (l *LocalClient) DestroyRegion(regionID uint64) (cis.DestroyStatus, error) {
	st, err := l.Server.DestroyRegion(regionID)
	if err != nil {
		return cis.Released, err
	}
	if st == Released {
		return cis.Released, nil
	}
	return cis.InUse, nil
}

func (l *LocalClient) Allocate(regionID uint64, size int64) (int64, error) {
	return l.Server.Allocate(regionID, size)
}

func (l *LocalClient) Deallocate(regionID uint64, offset, size int64) error {
	return l.Server.Deallocate(regionID, offset, size)
}

func (l *LocalClient) RegisterDataItemMemory(regionID uint64, offset, size int64) (fabric.Key, fabric.BaseAddress, error) {
	return l.Server.RegisterDataItemMemory(regionID, offset, size)
}

func (l *LocalClient) OpenRegion(regionID uint64) error  { return l.Server.OpenRegion(regionID) }
func (l *LocalClient) CloseRegion(regionID uint64) error { return l.Server.CloseRegion(regionID) }

func (l *LocalClient) Address() string { return l.Server.Address() }

func (l *LocalClient) Copy(destRegionID uint64, destOffset int64, srcAddr string, srcKey fabric.Key, srcOffset, size int64) error {
	return l.Server.Copy(destRegionID, destOffset, srcAddr, srcKey, srcOffset, size)
}

func (l *LocalClient) EnqueueAtomic(regionID uint64, d *atl.Descriptor) error {
	return l.Server.EnqueueAtomic(regionID, d)
}

func (l *LocalClient) AcquireCASLock(regionID uint64, offset int64) error {
	l.Server.LockCAS(regionID, offset)
	return nil
}

func (l *LocalClient) ReleaseCASLock(regionID uint64, offset int64) error {
	l.Server.UnlockCAS(regionID, offset)
	return nil
}

func (l *LocalClient) BackupExists(backupName string) (bool, error) {
	return l.Server.BackupExists(backupName)
}

func (l *LocalClient) BackupChunk(regionID uint64, offset, size int64, backupName string, chunkIdx int, writeMeta bool, meta *cmn.BackupMeta) error {
	return l.Server.BackupChunk(regionID, offset, size, backupName, chunkIdx, writeMeta, meta)
}

func (l *LocalClient) ReadBackupMeta(backupName string) (*cmn.BackupMeta, error) {
	return l.Server.ReadBackupMeta(backupName)
}

func (l *LocalClient) RestoreChunk(backupName string, chunkIdx int, destRegionID uint64, destOffset int64) (int64, error) {
	return l.Server.RestoreChunk(backupName, chunkIdx, destRegionID, destOffset)
}

func (l *LocalClient) DeleteBackup(backupName string, nChunks int) error {
	return l.Server.DeleteBackup(backupName, nChunks)
}
