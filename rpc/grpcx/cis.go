package grpcx

import (
	"context"

	"google.golang.org/grpc"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
)

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

type memServerInfoResp struct {
	Data []byte `json:"data"`
}

// getAtomicReq/putAtomicReq/strideAtomicReq/indexAtomicReq are the grpcx
// mirror of httpx's client-facing wire shapes for spec.md §6's atomic
// control-plane passthroughs.

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

// CISServer exposes one *cis.Coordinator as a gRPC service: the
// client-facing control plane of spec.md §6, over google.golang.org/grpc
// instead of rpc/httpx's net/http.
type CISServer struct {
	coord *cis.Coordinator
}

func NewCISServer(coord *cis.Coordinator) *CISServer { return &CISServer{coord: coord} }

func (h *CISServer) Register(s *grpc.Server) { s.RegisterService(&cisServiceDesc, h) }

var cisServiceDesc = grpc.ServiceDesc{
	ServiceName: "fam.CIS",
	HandlerType: (*CISServer)(nil),
	Methods: []grpc.MethodDesc{
		call("CreateRegion", func() interface{} { return &cmn.CreateRegionRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.CreateRegionRequest)
			region, err := srv.(*CISServer).coord.CreateRegion(r.Name, r.Size, r.Mode, r.UID, r.GID, r.Redundancy, r.MemoryType, r.InterleaveEnable, r.Permission)
			if err != nil {
				return nil, err
			}
			return &cmn.CreateRegionResponse{RegionID: region.RegionID}, nil
		}),
		call("DestroyRegion", func() interface{} { return &cmn.DestroyRegionRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.DestroyRegionRequest)
			return nil, srv.(*CISServer).coord.DestroyRegion(r.RegionID, r.UID, r.GID)
		}),
		call("ResizeRegion", func() interface{} { return &cmn.ResizeRegionRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.ResizeRegionRequest)
			return nil, srv.(*CISServer).coord.ResizeRegion(r.RegionID, r.NBytes, r.UID, r.GID)
		}),
		call("ChangeRegionPermission", func() interface{} { return &cmn.ChangePermissionRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.ChangePermissionRequest)
			return nil, srv.(*CISServer).coord.ChangeRegionPermission(r.RegionID, r.NewMode, r.UID, r.GID)
		}),
		call("ChangeDataItemPermission", func() interface{} { return &changeDataItemPermReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*changeDataItemPermReq)
			return nil, srv.(*CISServer).coord.ChangeDataItemPermission(r.RegionID, r.Name, r.NewMode, r.UID, r.GID)
		}),
		call("OpenRegion", func() interface{} { return &openRegionReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*openRegionReq)
			region, entries, err := srv.(*CISServer).coord.OpenRegion(r.Name, r.UID, r.GID)
			if err != nil {
				return nil, err
			}
			return &openRegionResp{Region: region, Entries: entries}, nil
		}),
		call("CloseRegion", func() interface{} { return &closeRegionReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*closeRegionReq)
			return nil, srv.(*CISServer).coord.CloseRegion(r.RegionID, r.MemServers)
		}),
		call("Allocate", func() interface{} { return &cmn.AllocateRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.AllocateRequest)
			item, err := srv.(*CISServer).coord.Allocate(r.Name, r.RegionID, r.Size, r.Mode, r.UID, r.GID)
			if err != nil {
				return nil, err
			}
			return &cmn.AllocateResponse{
				RegionID: item.RegionID, UsedMemsrvCnt: len(item.MemServerIDs), InterleaveSize: item.InterleaveSize,
				PermissionLevel: item.Permission, MemServerIDs: item.MemServerIDs, Offsets: item.Offsets,
				Keys: item.Keys, BaseAddresses: item.BaseAddresses,
			}, nil
		}),
		call("Deallocate", func() interface{} { return &cmn.DeallocateRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.DeallocateRequest)
			return nil, srv.(*CISServer).coord.Deallocate(r.RegionID, r.Name, r.UID, r.GID)
		}),
		call("Lookup", func() interface{} { return &cmn.LookupRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.LookupRequest)
			return srv.(*CISServer).coord.Lookup(r.RegionID, r.Name, r.UID, r.GID)
		}),
		call("LookupRegion", func() interface{} { return &lookupRegionReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*lookupRegionReq)
			return srv.(*CISServer).coord.LookupRegion(r.Name, r.UID, r.GID)
		}),
		call("StatInfo", func() interface{} { return &statInfoReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*statInfoReq)
			return srv.(*CISServer).coord.StatInfo(r.RegionID, r.ItemName, r.UID, r.GID)
		}),
		call("Copy", func() interface{} { return &cmn.CopyRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.CopyRequest)
			return srv.(*CISServer).coord.Copy(r.SrcRegionID, r.SrcItemName, r.SrcOffset, r.DestRegionID, r.DestItemName, r.DestOffset, r.Size, r.UID, r.GID)
		}),
		call("Backup", func() interface{} { return &cmn.BackupRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.BackupRequest)
			return srv.(*CISServer).coord.Backup(r.RegionID, r.ItemName, r.BackupName, r.UID, r.GID)
		}),
		call("Restore", func() interface{} { return &cmn.RestoreRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.RestoreRequest)
			return srv.(*CISServer).coord.Restore(r.BackupName, r.DestRegionID, r.NewItemName, r.UID, r.GID)
		}),
		call("DeleteBackup", func() interface{} { return &cmn.DeleteBackupRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.DeleteBackupRequest)
			return srv.(*CISServer).coord.DeleteBackup(r.BackupName, r.UID, r.GID)
		}),
		call("Wait", func() interface{} { return &cmn.WaitToken{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return nil, srv.(*CISServer).coord.WaitFor(*req.(*cmn.WaitToken))
		}),
		call("GetMemServerInfo", func() interface{} { return &cmn.WaitToken{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return &memServerInfoResp{Data: srv.(*CISServer).coord.GetMemServerInfo()}, nil
		}),
		call("AcquireCASLock", func() interface{} { return &cmn.CASLockRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.CASLockRequest)
			return nil, srv.(*CISServer).coord.AcquireCASLock(r.RegionID, r.Offset, r.MemserverID)
		}),
		call("ReleaseCASLock", func() interface{} { return &cmn.CASLockRequest{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*cmn.CASLockRequest)
			return nil, srv.(*CISServer).coord.ReleaseCASLock(r.RegionID, r.Offset, r.MemserverID)
		}),
		call("GetAtomic", func() interface{} { return &getAtomicReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*getAtomicReq)
			return nil, srv.(*CISServer).coord.GetAtomic(r.RegionID, r.ItemName, r.Offset, r.Size, r.ClientAddr, r.SourceKey, r.UID, r.GID)
		}),
		call("PutAtomic", func() interface{} { return &putAtomicReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*putAtomicReq)
			return nil, srv.(*CISServer).coord.PutAtomic(r.RegionID, r.ItemName, r.Offset, r.Data, r.UID, r.GID)
		}),
		call("ScatterStridedAtomic", func() interface{} { return &strideAtomicReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*strideAtomicReq)
			return nil, srv.(*CISServer).coord.ScatterStridedAtomic(r.RegionID, r.ItemName, r.ElemSize, r.First, r.Stride, r.Count, r.ClientAddr, r.SourceKey, r.UID, r.GID)
		}),
		call("GatherStridedAtomic", func() interface{} { return &strideAtomicReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*strideAtomicReq)
			return nil, srv.(*CISServer).coord.GatherStridedAtomic(r.RegionID, r.ItemName, r.ElemSize, r.First, r.Stride, r.Count, r.ClientAddr, r.SourceKey, r.UID, r.GID)
		}),
		call("ScatterIndexedAtomic", func() interface{} { return &indexAtomicReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*indexAtomicReq)
			return nil, srv.(*CISServer).coord.ScatterIndexedAtomic(r.RegionID, r.ItemName, r.ElemSize, r.Index, r.ClientAddr, r.SourceKey, r.UID, r.GID)
		}),
		call("GatherIndexedAtomic", func() interface{} { return &indexAtomicReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*indexAtomicReq)
			return nil, srv.(*CISServer).coord.GatherIndexedAtomic(r.RegionID, r.ItemName, r.ElemSize, r.Index, r.ClientAddr, r.SourceKey, r.UID, r.GID)
		}),
	},
	Metadata: "fam/cis.proto",
}
