package ms

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sdomino/scribble"

	"github.com/openfam/fam/cmn"
)

const (
	backupChunkCollection = "backup_chunks"
	backupMetaCollection  = "backup_meta"
)

// BackupStore persists backup chunk bytes and, on the anchor server only,
// the backup's metadata record, independent of any region's volatile
// slab so a backup survives destruction of the region it came from.
// Grounded on the same scribble per-collection JSON-document pattern as
// mds.Catalog and atl.Queue.
type BackupStore struct {
	mu     sync.Mutex
	driver *scribble.Driver
}

func newBackupStore(dir string) (*BackupStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	driver, err := scribble.New(filepath.Join(dir, "backup.db"), nil)
	if err != nil {
		return nil, err
	}
	return &BackupStore{driver: driver}, nil
}

type backupChunkRecord struct {
	Data []byte `json:"data"`
}

func chunkKey(name string, idx int) string { return fmt.Sprintf("%s#%d", name, idx) }

func (b *BackupStore) exists(name string) bool {
	var m cmn.BackupMeta
	return b.driver.Read(backupMetaCollection, name, &m) == nil
}

// writeMeta fails with BACKUP_FILE_EXIST if name is already anchored here,
// per spec.md's "a second backup(name) must fail with BACKUP_FILE_EXIST".
func (b *BackupStore) writeMeta(meta *cmn.BackupMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exists(meta.Name) {
		return cmn.ErrBackupExistsf(meta.Name)
	}
	return b.driver.Write(backupMetaCollection, meta.Name, meta)
}

func (b *BackupStore) readMeta(name string) (*cmn.BackupMeta, error) {
	var m cmn.BackupMeta
	if err := b.driver.Read(backupMetaCollection, name, &m); err != nil {
		if os.IsNotExist(err) {
			return nil, cmn.NewFamError(cmn.ErrDataItemNotFound, fmt.Sprintf("backup %q not found", name))
		}
		return nil, err
	}
	return &m, nil
}

func (b *BackupStore) writeChunk(name string, idx int, data []byte) error {
	rec := backupChunkRecord{Data: append([]byte(nil), data...)}
	return b.driver.Write(backupChunkCollection, chunkKey(name, idx), &rec)
}

func (b *BackupStore) readChunk(name string, idx int) ([]byte, error) {
	var rec backupChunkRecord
	if err := b.driver.Read(backupChunkCollection, chunkKey(name, idx), &rec); err != nil {
		return nil, err
	}
	return rec.Data, nil
}

func (b *BackupStore) delete(name string, nChunks int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < nChunks; i++ {
		_ = b.driver.Delete(backupChunkCollection, chunkKey(name, i))
	}
	if err := b.driver.Delete(backupMetaCollection, name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// BackupExists reports whether this server anchors backupName.
func (s *Server) BackupExists(name string) (bool, error) {
	return s.backups.exists(name), nil
}

// BackupChunk reads chunkIdx's share of the source data item out of this
// server's region slab and persists it under backupName. writeMeta is set
// only on the anchor server, which also persists the whole-backup record.
func (s *Server) BackupChunk(regionID uint64, offset, size int64, backupName string, chunkIdx int, writeMeta bool, meta *cmn.BackupMeta) error {
	buf := make([]byte, size)
	if err := (&slabStore{s: s}).ReadAt(regionID, offset, buf); err != nil {
		return err
	}
	if writeMeta {
		if err := s.backups.writeMeta(meta); err != nil {
			return err
		}
	}
	return s.backups.writeChunk(backupName, chunkIdx, buf)
}

// ReadBackupMeta returns the anchored backup record, used by restore() to
// learn the original size/mode/layout before rehydrating.
func (s *Server) ReadBackupMeta(name string) (*cmn.BackupMeta, error) {
	return s.backups.readMeta(name)
}

// RestoreChunk writes chunkIdx's persisted bytes into (destRegionID,
// destOffset) on this server and returns how many bytes it wrote.
func (s *Server) RestoreChunk(backupName string, chunkIdx int, destRegionID uint64, destOffset int64) (int64, error) {
	data, err := s.backups.readChunk(backupName, chunkIdx)
	if err != nil {
		return 0, err
	}
	if err := (&slabStore{s: s}).WriteAt(destRegionID, destOffset, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// DeleteBackup removes every persisted chunk plus the metadata record, if
// this server holds one.
func (s *Server) DeleteBackup(name string, nChunks int) error {
	return s.backups.delete(name, nChunks)
}
