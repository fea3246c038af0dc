package httpx

import (
	"net/http"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
)

// changeDataItemPermReq, openRegionResp, etc. round out cmn/wire.go's
// control-plane schemas (spec.md §6) with the handful of request/response
// shapes that are httpx-specific; rpc/grpcx declares its own copies
// rather than sharing these Go types.

type changeDataItemPermReq struct {
	RegionID uint64 `json:"region_id"`
	Name     string `json:"name"`
	NewMode  uint32 `json:"new_mode"`
	UID      uint32 `json:"uid"`
	GID      uint32 `json:"gid"`
}

type openRegionReq struct {
	Name string `json:"name"`
	UID  uint32 `json:"uid"`
	GID  uint32 `json:"gid"`
}

type openRegionResp struct {
	Region  *cmn.Region          `json:"region"`
	Entries []cis.RegionMemEntry `json:"entries"`
}

type closeRegionReq struct {
	RegionID   uint64   `json:"region_id"`
	MemServers []uint64 `json:"memservers"`
}

type lookupRegionReq struct {
	Name string `json:"name"`
	UID  uint32 `json:"uid"`
	GID  uint32 `json:"gid"`
}

type statInfoReq struct {
	RegionID uint64 `json:"region_id"`
	ItemName string `json:"item_name"`
	UID      uint32 `json:"uid"`
	GID      uint32 `json:"gid"`
}

// getAtomicReq/putAtomicReq/strideAtomicReq/indexAtomicReq are the
// client-facing wire shapes for spec.md §6's atomic control-plane
// passthroughs; the coordinator resolves itemName to its owning MS and
// translates each into an atl.Descriptor (see cis/atomic.go).

type getAtomicReq struct {
	RegionID   uint64 `json:"region_id"`
	ItemName   string `json:"item_name"`
	Offset     int64  `json:"offset"`
	Size       int64  `json:"size"`
	ClientAddr string `json:"client_addr"`
	SourceKey  uint64 `json:"source_key"`
	UID        uint32 `json:"uid"`
	GID        uint32 `json:"gid"`
}

type putAtomicReq struct {
	RegionID uint64 `json:"region_id"`
	ItemName string `json:"item_name"`
	Offset   int64  `json:"offset"`
	Data     []byte `json:"data"`
	UID      uint32 `json:"uid"`
	GID      uint32 `json:"gid"`
}

type strideAtomicReq struct {
	RegionID   uint64 `json:"region_id"`
	ItemName   string `json:"item_name"`
	ElemSize   int64  `json:"elem_size"`
	First      int64  `json:"first"`
	Stride     int64  `json:"stride"`
	Count      int64  `json:"count"`
	ClientAddr string `json:"client_addr"`
	SourceKey  uint64 `json:"source_key"`
	UID        uint32 `json:"uid"`
	GID        uint32 `json:"gid"`
}

type indexAtomicReq struct {
	RegionID   uint64  `json:"region_id"`
	ItemName   string  `json:"item_name"`
	ElemSize   int64   `json:"elem_size"`
	Index      []int64 `json:"index"`
	ClientAddr string  `json:"client_addr"`
	SourceKey  uint64  `json:"source_key"`
	UID        uint32  `json:"uid"`
	GID        uint32  `json:"gid"`
}

// CISServer exposes one *cis.Coordinator over HTTP: the client-facing
// control plane of spec.md §6.
type CISServer struct {
	coord *cis.Coordinator
}

func NewCISServer(coord *cis.Coordinator) *CISServer { return &CISServer{coord: coord} }

func (h *CISServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(cmn.URLPath("fam", "v1", "create_region"), h.createRegion)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "destroy_region"), h.destroyRegion)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "resize_region"), h.resizeRegion)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "change_region_permission"), h.changeRegionPermission)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "change_dataitem_permission"), h.changeDataItemPermission)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "open_region"), h.openRegion)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "close_region"), h.closeRegion)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "allocate"), h.allocate)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "deallocate"), h.deallocate)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "lookup"), h.lookup)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "lookup_region"), h.lookupRegion)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "stat_info"), h.statInfo)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "copy"), h.copy)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "backup"), h.backup)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "restore"), h.restore)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "delete_backup"), h.deleteBackup)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "wait"), h.wait)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "memserverinfo"), h.memServerInfo)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "acquire_cas_lock"), h.acquireCASLock)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "release_cas_lock"), h.releaseCASLock)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "get_atomic"), h.getAtomic)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "put_atomic"), h.putAtomic)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "scatter_strided_atomic"), h.scatterStridedAtomic)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "gather_strided_atomic"), h.gatherStridedAtomic)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "scatter_indexed_atomic"), h.scatterIndexedAtomic)
	mux.HandleFunc(cmn.URLPath("fam", "v1", "gather_indexed_atomic"), h.gatherIndexedAtomic)
	return mux
}

func (h *CISServer) createRegion(w http.ResponseWriter, r *http.Request) {
	var req cmn.CreateRegionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	region, err := h.coord.CreateRegion(req.Name, req.Size, req.Mode, req.UID, req.GID,
		req.Redundancy, req.MemoryType, req.InterleaveEnable, req.Permission)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmn.CreateRegionResponse{RegionID: region.RegionID})
}

func (h *CISServer) destroyRegion(w http.ResponseWriter, r *http.Request) {
	var req cmn.DestroyRegionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.DestroyRegion(req.RegionID, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) resizeRegion(w http.ResponseWriter, r *http.Request) {
	var req cmn.ResizeRegionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.ResizeRegion(req.RegionID, req.NBytes, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) changeRegionPermission(w http.ResponseWriter, r *http.Request) {
	var req cmn.ChangePermissionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.ChangeRegionPermission(req.RegionID, req.NewMode, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) changeDataItemPermission(w http.ResponseWriter, r *http.Request) {
	var req changeDataItemPermReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.ChangeDataItemPermission(req.RegionID, req.Name, req.NewMode, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) openRegion(w http.ResponseWriter, r *http.Request) {
	var req openRegionReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	region, entries, err := h.coord.OpenRegion(req.Name, req.UID, req.GID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, openRegionResp{Region: region, Entries: entries})
}

func (h *CISServer) closeRegion(w http.ResponseWriter, r *http.Request) {
	var req closeRegionReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.CloseRegion(req.RegionID, req.MemServers); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) allocate(w http.ResponseWriter, r *http.Request) {
	var req cmn.AllocateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.coord.Allocate(req.Name, req.RegionID, req.Size, req.Mode, req.UID, req.GID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmn.AllocateResponse{
		RegionID: item.RegionID, UsedMemsrvCnt: len(item.MemServerIDs), InterleaveSize: item.InterleaveSize,
		PermissionLevel: item.Permission, MemServerIDs: item.MemServerIDs, Offsets: item.Offsets,
		Keys: item.Keys, BaseAddresses: item.BaseAddresses,
	})
}

func (h *CISServer) deallocate(w http.ResponseWriter, r *http.Request) {
	var req cmn.DeallocateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.Deallocate(req.RegionID, req.Name, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) lookup(w http.ResponseWriter, r *http.Request) {
	var req cmn.LookupRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.coord.Lookup(req.RegionID, req.Name, req.UID, req.GID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *CISServer) lookupRegion(w http.ResponseWriter, r *http.Request) {
	var req lookupRegionReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	region, err := h.coord.LookupRegion(req.Name, req.UID, req.GID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, region)
}

func (h *CISServer) statInfo(w http.ResponseWriter, r *http.Request) {
	var req statInfoReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.coord.StatInfo(req.RegionID, req.ItemName, req.UID, req.GID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *CISServer) copy(w http.ResponseWriter, r *http.Request) {
	var req cmn.CopyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := h.coord.Copy(req.SrcRegionID, req.SrcItemName, req.SrcOffset, req.DestRegionID, req.DestItemName, req.DestOffset, req.Size, req.UID, req.GID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *CISServer) backup(w http.ResponseWriter, r *http.Request) {
	var req cmn.BackupRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := h.coord.Backup(req.RegionID, req.ItemName, req.BackupName, req.UID, req.GID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *CISServer) restore(w http.ResponseWriter, r *http.Request) {
	var req cmn.RestoreRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := h.coord.Restore(req.BackupName, req.DestRegionID, req.NewItemName, req.UID, req.GID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *CISServer) deleteBackup(w http.ResponseWriter, r *http.Request) {
	var req cmn.DeleteBackupRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := h.coord.DeleteBackup(req.BackupName, req.UID, req.GID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *CISServer) wait(w http.ResponseWriter, r *http.Request) {
	var tok cmn.WaitToken
	if err := readJSON(r, &tok); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.WaitFor(tok); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) getAtomic(w http.ResponseWriter, r *http.Request) {
	var req getAtomicReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.GetAtomic(req.RegionID, req.ItemName, req.Offset, req.Size, req.ClientAddr, req.SourceKey, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) putAtomic(w http.ResponseWriter, r *http.Request) {
	var req putAtomicReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.PutAtomic(req.RegionID, req.ItemName, req.Offset, req.Data, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) scatterStridedAtomic(w http.ResponseWriter, r *http.Request) {
	var req strideAtomicReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.ScatterStridedAtomic(req.RegionID, req.ItemName, req.ElemSize, req.First, req.Stride, req.Count, req.ClientAddr, req.SourceKey, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) gatherStridedAtomic(w http.ResponseWriter, r *http.Request) {
	var req strideAtomicReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.GatherStridedAtomic(req.RegionID, req.ItemName, req.ElemSize, req.First, req.Stride, req.Count, req.ClientAddr, req.SourceKey, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) scatterIndexedAtomic(w http.ResponseWriter, r *http.Request) {
	var req indexAtomicReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.ScatterIndexedAtomic(req.RegionID, req.ItemName, req.ElemSize, req.Index, req.ClientAddr, req.SourceKey, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) gatherIndexedAtomic(w http.ResponseWriter, r *http.Request) {
	var req indexAtomicReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.GatherIndexedAtomic(req.RegionID, req.ItemName, req.ElemSize, req.Index, req.ClientAddr, req.SourceKey, req.UID, req.GID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) acquireCASLock(w http.ResponseWriter, r *http.Request) {
	var req cmn.CASLockRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.AcquireCASLock(req.RegionID, req.Offset, req.MemserverID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) releaseCASLock(w http.ResponseWriter, r *http.Request) {
	var req cmn.CASLockRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.coord.ReleaseCASLock(req.RegionID, req.Offset, req.MemserverID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *CISServer) memServerInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.coord.GetMemServerInfo())
}
