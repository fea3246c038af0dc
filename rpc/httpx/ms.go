package httpx

import (
	"net/http"

	"github.com/openfam/fam/atl"
	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric"
	"github.com/openfam/fam/ms"
)

// MS-internal wire schemas. These never leave the CIS<->MS trust
// boundary, so unlike cmn/wire.go's control-plane schemas they live in
// the transport package rather than cmn.

type createRegionReq struct {
	RegionID      uint64 `json:"region_id"`
	SizePerServer int64  `json:"size_per_server"`
}

type regionIDReq struct {
	RegionID uint64 `json:"region_id"`
}

type keyBaseResp struct {
	Key  fabric.Key          `json:"key"`
	Base fabric.BaseAddress `json:"base"`
}

type destroyRegionResp struct {
	Status cis.DestroyStatus `json:"status"`
}

type allocateReq struct {
	RegionID uint64 `json:"region_id"`
	Size     int64  `json:"size"`
}

type allocateResp struct {
	Offset int64 `json:"offset"`
}

type deallocateReq struct {
	RegionID uint64 `json:"region_id"`
	Offset   int64  `json:"offset"`
	Size     int64  `json:"size"`
}

type registerDataItemReq struct {
	RegionID uint64 `json:"region_id"`
	Offset   int64  `json:"offset"`
	Size     int64  `json:"size"`
}

type msCopyReq struct {
	DestRegionID uint64     `json:"dest_region_id"`
	DestOffset   int64      `json:"dest_offset"`
	SrcAddr      string     `json:"src_addr"`
	SrcKey       fabric.Key `json:"src_key"`
	SrcOffset    int64      `json:"src_offset"`
	Size         int64      `json:"size"`
}

type casLockReq struct {
	RegionID uint64 `json:"region_id"`
	Offset   int64  `json:"offset"`
}

// enqueueAtomicReq mirrors atl.Descriptor's wire-relevant fields for the
// six get_atomic/put_atomic/scatter_*_atomic/gather_*_atomic passthroughs
// (spec.md §6); Seq and BUFFER_ALLOCATED are worker-assigned and never
// travel over this RPC.
type enqueueAtomicReq struct {
	RegionID   uint64    `json:"region_id"`
	Flags      atl.OpFlag `json:"flags"`
	Offset     int64     `json:"offset"`
	ClientAddr string    `json:"client_addr"`
	SourceKey  uint64    `json:"source_key"`
	Size       int64     `json:"size"`
	ElemSize   int64     `json:"elem_size"`
	Stride     int64     `json:"stride"`
	First      int64     `json:"first"`
	IndexCount int64     `json:"index_count"`
	Index      []int64   `json:"index,omitempty"`
	Buffer     []byte    `json:"buffer,omitempty"`
}

type backupExistsResp struct {
	Exists bool `json:"exists"`
}

type backupChunkReq struct {
	RegionID   uint64          `json:"region_id"`
	Offset     int64           `json:"offset"`
	Size       int64           `json:"size"`
	BackupName string          `json:"backup_name"`
	ChunkIdx   int             `json:"chunk_idx"`
	WriteMeta  bool            `json:"write_meta"`
	Meta       *cmn.BackupMeta `json:"meta,omitempty"`
}

type restoreChunkReq struct {
	BackupName   string `json:"backup_name"`
	ChunkIdx     int    `json:"chunk_idx"`
	DestRegionID uint64 `json:"dest_region_id"`
	DestOffset   int64  `json:"dest_offset"`
}

type restoreChunkResp struct {
	N int64 `json:"n"`
}

type deleteBackupReq struct {
	BackupName string `json:"backup_name"`
	NChunks    int    `json:"n_chunks"`
}

// MSServer exposes one *ms.Server over HTTP so a remote CIS can drive it
// through rpc/httpx.MSClient instead of an in-process cis.MSClient
// adapter (ms.LocalClient).
type MSServer struct {
	srv *ms.Server
}

func NewMSServer(srv *ms.Server) *MSServer { return &MSServer{srv: srv} }

func (h *MSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ms/create_region", h.createRegion)
	mux.HandleFunc("/ms/create_region_cleanup", h.createRegionCleanup)
	mux.HandleFunc("/ms/register_region_memory", h.registerRegionMemory)
	mux.HandleFunc("/ms/destroy_region", h.destroyRegion)
	mux.HandleFunc("/ms/allocate", h.allocate)
	mux.HandleFunc("/ms/deallocate", h.deallocate)
	mux.HandleFunc("/ms/register_dataitem_memory", h.registerDataItemMemory)
	mux.HandleFunc("/ms/open_region", h.openRegion)
	mux.HandleFunc("/ms/close_region", h.closeRegion)
	mux.HandleFunc("/ms/copy", h.copy)
	mux.HandleFunc("/ms/acquire_cas_lock", h.acquireCASLock)
	mux.HandleFunc("/ms/release_cas_lock", h.releaseCASLock)
	mux.HandleFunc("/ms/enqueue_atomic", h.enqueueAtomic)
	mux.HandleFunc("/ms/backup_exists", h.backupExists)
	mux.HandleFunc("/ms/backup_chunk", h.backupChunk)
	mux.HandleFunc("/ms/read_backup_meta", h.readBackupMeta)
	mux.HandleFunc("/ms/restore_chunk", h.restoreChunk)
	mux.HandleFunc("/ms/delete_backup", h.deleteBackup)
	return mux
}

func (h *MSServer) createRegion(w http.ResponseWriter, r *http.Request) {
	var req createRegionReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.srv.CreateRegion(req.RegionID, req.SizePerServer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) createRegionCleanup(w http.ResponseWriter, r *http.Request) {
	var req regionIDReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.srv.CreateRegionFailureCleanup(req.RegionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) registerRegionMemory(w http.ResponseWriter, r *http.Request) {
	var req regionIDReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	key, base, err := h.srv.RegisterRegionMemory(req.RegionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keyBaseResp{Key: key, Base: base})
}

func (h *MSServer) destroyRegion(w http.ResponseWriter, r *http.Request) {
	var req regionIDReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.srv.DestroyRegion(req.RegionID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := cis.Released
	if st == ms.InUse {
		status = cis.InUse
	}
	writeJSON(w, http.StatusOK, destroyRegionResp{Status: status})
}

func (h *MSServer) allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	off, err := h.srv.Allocate(req.RegionID, req.Size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocateResp{Offset: off})
}

func (h *MSServer) deallocate(w http.ResponseWriter, r *http.Request) {
	var req deallocateReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.srv.Deallocate(req.RegionID, req.Offset, req.Size); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) registerDataItemMemory(w http.ResponseWriter, r *http.Request) {
	var req registerDataItemReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	key, base, err := h.srv.RegisterDataItemMemory(req.RegionID, req.Offset, req.Size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keyBaseResp{Key: key, Base: base})
}

func (h *MSServer) openRegion(w http.ResponseWriter, r *http.Request) {
	var req regionIDReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.srv.OpenRegion(req.RegionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) closeRegion(w http.ResponseWriter, r *http.Request) {
	var req regionIDReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.srv.CloseRegion(req.RegionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) copy(w http.ResponseWriter, r *http.Request) {
	var req msCopyReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.srv.Copy(req.DestRegionID, req.DestOffset, req.SrcAddr, req.SrcKey, req.SrcOffset, req.Size); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) acquireCASLock(w http.ResponseWriter, r *http.Request) {
	var req casLockReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.srv.LockCAS(req.RegionID, req.Offset)
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) releaseCASLock(w http.ResponseWriter, r *http.Request) {
	var req casLockReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.srv.UnlockCAS(req.RegionID, req.Offset)
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) enqueueAtomic(w http.ResponseWriter, r *http.Request) {
	var req enqueueAtomicReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d := &atl.Descriptor{
		Flags: req.Flags, RegionID: req.RegionID, Offset: req.Offset,
		ClientAddr: req.ClientAddr, SourceKey: req.SourceKey, Size: req.Size,
		ElemSize: req.ElemSize, Stride: req.Stride, First: req.First,
		IndexCount: req.IndexCount, Index: req.Index, Buffer: req.Buffer,
	}
	if err := h.srv.EnqueueAtomic(req.RegionID, d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) backupExists(w http.ResponseWriter, r *http.Request) {
	var req deleteBackupReq // reuse: only BackupName is read
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ok, err := h.srv.BackupExists(req.BackupName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backupExistsResp{Exists: ok})
}

func (h *MSServer) backupChunk(w http.ResponseWriter, r *http.Request) {
	var req backupChunkReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.srv.BackupChunk(req.RegionID, req.Offset, req.Size, req.BackupName, req.ChunkIdx, req.WriteMeta, req.Meta); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MSServer) readBackupMeta(w http.ResponseWriter, r *http.Request) {
	var req deleteBackupReq // reuse: only BackupName is read
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	meta, err := h.srv.ReadBackupMeta(req.BackupName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *MSServer) restoreChunk(w http.ResponseWriter, r *http.Request) {
	var req restoreChunkReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	n, err := h.srv.RestoreChunk(req.BackupName, req.ChunkIdx, req.DestRegionID, req.DestOffset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, restoreChunkResp{N: n})
}

func (h *MSServer) deleteBackup(w http.ResponseWriter, r *http.Request) {
	var req deleteBackupReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.srv.DeleteBackup(req.BackupName, req.NChunks); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// MSClient implements cis.MSClient against a remote MSServer, for a
// disaggregated deployment where CIS and the memory server are separate
// processes (memsrv_interface_type = "rpc").
type MSClient struct {
	d       *doer
	address string // fabric peer address this MS advertises, cached at construction
}

func NewMSClient(baseURL, fabricAddress string) *MSClient {
	return &MSClient{d: newDoer(baseURL), address: fabricAddress}
}

func (c *MSClient) CreateRegion(regionID uint64, sizePerServer int64) error {
	return c.d.call("/ms/create_region", createRegionReq{RegionID: regionID, SizePerServer: sizePerServer}, nil)
}

func (c *MSClient) CreateRegionFailureCleanup(regionID uint64) error {
	return c.d.call("/ms/create_region_cleanup", regionIDReq{RegionID: regionID}, nil)
}

func (c *MSClient) RegisterRegionMemory(regionID uint64) (fabric.Key, fabric.BaseAddress, error) {
	var resp keyBaseResp
	err := c.d.call("/ms/register_region_memory", regionIDReq{RegionID: regionID}, &resp)
	return resp.Key, resp.Base, err
}

func (c *MSClient) DestroyRegion(regionID uint64) (cis.DestroyStatus, error) {
	var resp destroyRegionResp
	err := c.d.call("/ms/destroy_region", regionIDReq{RegionID: regionID}, &resp)
	return resp.Status, err
}

func (c *MSClient) Allocate(regionID uint64, size int64) (int64, error) {
	var resp allocateResp
	err := c.d.call("/ms/allocate", allocateReq{RegionID: regionID, Size: size}, &resp)
	return resp.Offset, err
}

func (c *MSClient) Deallocate(regionID uint64, offset, size int64) error {
	return c.d.call("/ms/deallocate", deallocateReq{RegionID: regionID, Offset: offset, Size: size}, nil)
}

func (c *MSClient) RegisterDataItemMemory(regionID uint64, offset, size int64) (fabric.Key, fabric.BaseAddress, error) {
	var resp keyBaseResp
	err := c.d.call("/ms/register_dataitem_memory", registerDataItemReq{RegionID: regionID, Offset: offset, Size: size}, &resp)
	return resp.Key, resp.Base, err
}

func (c *MSClient) OpenRegion(regionID uint64) error {
	return c.d.call("/ms/open_region", regionIDReq{RegionID: regionID}, nil)
}

func (c *MSClient) CloseRegion(regionID uint64) error {
	return c.d.call("/ms/close_region", regionIDReq{RegionID: regionID}, nil)
}

func (c *MSClient) Address() string { return c.address }

func (c *MSClient) Copy(destRegionID uint64, destOffset int64, srcAddr string, srcKey fabric.Key, srcOffset, size int64) error {
	return c.d.call("/ms/copy", msCopyReq{
		DestRegionID: destRegionID, DestOffset: destOffset,
		SrcAddr: srcAddr, SrcKey: srcKey, SrcOffset: srcOffset, Size: size,
	}, nil)
}

func (c *MSClient) AcquireCASLock(regionID uint64, offset int64) error {
	return c.d.call("/ms/acquire_cas_lock", casLockReq{RegionID: regionID, Offset: offset}, nil)
}

func (c *MSClient) ReleaseCASLock(regionID uint64, offset int64) error {
	return c.d.call("/ms/release_cas_lock", casLockReq{RegionID: regionID, Offset: offset}, nil)
}

func (c *MSClient) EnqueueAtomic(regionID uint64, d *atl.Descriptor) error {
	return c.d.call("/ms/enqueue_atomic", enqueueAtomicReq{
		RegionID: regionID, Flags: d.Flags, Offset: d.Offset,
		ClientAddr: d.ClientAddr, SourceKey: d.SourceKey, Size: d.Size,
		ElemSize: d.ElemSize, Stride: d.Stride, First: d.First,
		IndexCount: d.IndexCount, Index: d.Index, Buffer: d.Buffer,
	}, nil)
}

func (c *MSClient) BackupExists(backupName string) (bool, error) {
	var resp backupExistsResp
	err := c.d.call("/ms/backup_exists", deleteBackupReq{BackupName: backupName}, &resp)
	return resp.Exists, err
}

func (c *MSClient) BackupChunk(regionID uint64, offset, size int64, backupName string, chunkIdx int, writeMeta bool, meta *cmn.BackupMeta) error {
	return c.d.call("/ms/backup_chunk", backupChunkReq{
		RegionID: regionID, Offset: offset, Size: size, BackupName: backupName,
		ChunkIdx: chunkIdx, WriteMeta: writeMeta, Meta: meta,
	}, nil)
}

func (c *MSClient) ReadBackupMeta(backupName string) (*cmn.BackupMeta, error) {
	var meta cmn.BackupMeta
	err := c.d.call("/ms/read_backup_meta", deleteBackupReq{BackupName: backupName}, &meta)
	return &meta, err
}

func (c *MSClient) RestoreChunk(backupName string, chunkIdx int, destRegionID uint64, destOffset int64) (int64, error) {
	var resp restoreChunkResp
	err := c.d.call("/ms/restore_chunk", restoreChunkReq{
		BackupName: backupName, ChunkIdx: chunkIdx, DestRegionID: destRegionID, DestOffset: destOffset,
	}, &resp)
	return resp.N, err
}

func (c *MSClient) DeleteBackup(backupName string, nChunks int) error {
	return c.d.call("/ms/delete_backup", deleteBackupReq{BackupName: backupName, NChunks: nChunks}, nil)
}

var _ cis.MSClient = (*MSClient)(nil)
