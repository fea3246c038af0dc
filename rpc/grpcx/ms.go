package grpcx

import (
	"context"

	"google.golang.org/grpc"

	"github.com/openfam/fam/atl"
	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric"
	"github.com/openfam/fam/ms"
)

// MS-internal wire schemas, the grpcx mirror of rpc/httpx's (this
// package registers its own grpc.ServiceDesc rather than sharing Go
// types across transport packages, so the two bindings stay decoupled
// the way SPEC_FULL.md §6 describes them).

type createRegionReq struct {
	RegionID      uint64 `json:"region_id"`
	SizePerServer int64  `json:"size_per_server"`
}

type regionIDReq struct {
	RegionID uint64 `json:"region_id"`
}

type keyBaseResp struct {
	Key  fabric.Key         `json:"key"`
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

// enqueueAtomicReq is the grpcx mirror of httpx's schema for the six
// atomic control-plane passthroughs (spec.md §6).
type enqueueAtomicReq struct {
	RegionID   uint64     `json:"region_id"`
	Flags      atl.OpFlag `json:"flags"`
	Offset     int64      `json:"offset"`
	ClientAddr string     `json:"client_addr"`
	SourceKey  uint64     `json:"source_key"`
	Size       int64      `json:"size"`
	ElemSize   int64      `json:"elem_size"`
	Stride     int64      `json:"stride"`
	First      int64      `json:"first"`
	IndexCount int64      `json:"index_count"`
	Index      []int64    `json:"index,omitempty"`
	Buffer     []byte     `json:"buffer,omitempty"`
}

type backupNameReq struct {
	BackupName string `json:"backup_name"`
	NChunks    int    `json:"n_chunks"`
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

// MSServer adapts one *ms.Server to a grpc.ServiceDesc. Register wires
// it into an existing *grpc.Server (one per process, shared across
// MS/MDS/CIS services where a daemon hosts more than one).
type MSServer struct {
	srv *ms.Server
}

func NewMSServer(srv *ms.Server) *MSServer { return &MSServer{srv: srv} }

func (h *MSServer) Register(s *grpc.Server) { s.RegisterService(&msServiceDesc, h) }

var msServiceDesc = grpc.ServiceDesc{
	ServiceName: "fam.MS",
	HandlerType: (*MSServer)(nil),
	Methods: []grpc.MethodDesc{
		call("CreateRegion", func() interface{} { return &createRegionReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*createRegionReq)
			return nil, srv.(*MSServer).srv.CreateRegion(r.RegionID, r.SizePerServer)
		}),
		call("CreateRegionFailureCleanup", func() interface{} { return &regionIDReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*regionIDReq)
			return nil, srv.(*MSServer).srv.CreateRegionFailureCleanup(r.RegionID)
		}),
		call("RegisterRegionMemory", func() interface{} { return &regionIDReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*regionIDReq)
			key, base, err := srv.(*MSServer).srv.RegisterRegionMemory(r.RegionID)
			return &keyBaseResp{Key: key, Base: base}, err
		}),
		call("DestroyRegion", func() interface{} { return &regionIDReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*regionIDReq)
			st, err := srv.(*MSServer).srv.DestroyRegion(r.RegionID)
			status := cis.Released
			if st == ms.InUse {
				status = cis.InUse
			}
			return &destroyRegionResp{Status: status}, err
		}),
		call("Allocate", func() interface{} { return &allocateReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*allocateReq)
			off, err := srv.(*MSServer).srv.Allocate(r.RegionID, r.Size)
			return &allocateResp{Offset: off}, err
		}),
		call("Deallocate", func() interface{} { return &deallocateReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*deallocateReq)
			return nil, srv.(*MSServer).srv.Deallocate(r.RegionID, r.Offset, r.Size)
		}),
		call("RegisterDataItemMemory", func() interface{} { return &registerDataItemReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*registerDataItemReq)
			key, base, err := srv.(*MSServer).srv.RegisterDataItemMemory(r.RegionID, r.Offset, r.Size)
			return &keyBaseResp{Key: key, Base: base}, err
		}),
		call("OpenRegion", func() interface{} { return &regionIDReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*regionIDReq)
			return nil, srv.(*MSServer).srv.OpenRegion(r.RegionID)
		}),
		call("CloseRegion", func() interface{} { return &regionIDReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*regionIDReq)
			return nil, srv.(*MSServer).srv.CloseRegion(r.RegionID)
		}),
		call("Copy", func() interface{} { return &msCopyReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*msCopyReq)
			return nil, srv.(*MSServer).srv.Copy(r.DestRegionID, r.DestOffset, r.SrcAddr, r.SrcKey, r.SrcOffset, r.Size)
		}),
		call("AcquireCASLock", func() interface{} { return &casLockReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*casLockReq)
			srv.(*MSServer).srv.LockCAS(r.RegionID, r.Offset)
			return nil, nil
		}),
		call("ReleaseCASLock", func() interface{} { return &casLockReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*casLockReq)
			srv.(*MSServer).srv.UnlockCAS(r.RegionID, r.Offset)
			return nil, nil
		}),
		call("EnqueueAtomic", func() interface{} { return &enqueueAtomicReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*enqueueAtomicReq)
			d := &atl.Descriptor{
				Flags: r.Flags, RegionID: r.RegionID, Offset: r.Offset,
				ClientAddr: r.ClientAddr, SourceKey: r.SourceKey, Size: r.Size,
				ElemSize: r.ElemSize, Stride: r.Stride, First: r.First,
				IndexCount: r.IndexCount, Index: r.Index, Buffer: r.Buffer,
			}
			return nil, srv.(*MSServer).srv.EnqueueAtomic(r.RegionID, d)
		}),
		call("BackupExists", func() interface{} { return &backupNameReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*backupNameReq)
			ok, err := srv.(*MSServer).srv.BackupExists(r.BackupName)
			return &backupExistsResp{Exists: ok}, err
		}),
		call("BackupChunk", func() interface{} { return &backupChunkReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*backupChunkReq)
			return nil, srv.(*MSServer).srv.BackupChunk(r.RegionID, r.Offset, r.Size, r.BackupName, r.ChunkIdx, r.WriteMeta, r.Meta)
		}),
		call("ReadBackupMeta", func() interface{} { return &backupNameReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*backupNameReq)
			return srv.(*MSServer).srv.ReadBackupMeta(r.BackupName)
		}),
		call("RestoreChunk", func() interface{} { return &restoreChunkReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*restoreChunkReq)
			n, err := srv.(*MSServer).srv.RestoreChunk(r.BackupName, r.ChunkIdx, r.DestRegionID, r.DestOffset)
			return &restoreChunkResp{N: n}, err
		}),
		call("DeleteBackup", func() interface{} { return &backupNameReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*backupNameReq)
			return nil, srv.(*MSServer).srv.DeleteBackup(r.BackupName, r.NChunks)
		}),
	},
	Metadata: "fam/ms.proto",
}

// MSClient implements cis.MSClient against a remote MSServer over one
// shared *grpc.ClientConn.
type MSClient struct {
	cc      *grpc.ClientConn
	address string
}

func NewMSClient(cc *grpc.ClientConn, fabricAddress string) *MSClient {
	return &MSClient{cc: cc, address: fabricAddress}
}

func (c *MSClient) method(name string) string { return "/fam.MS/" + name }

func (c *MSClient) CreateRegion(regionID uint64, sizePerServer int64) error {
	return invoke(context.Background(), c.cc, c.method("CreateRegion"), &createRegionReq{RegionID: regionID, SizePerServer: sizePerServer}, nil)
}

func (c *MSClient) CreateRegionFailureCleanup(regionID uint64) error {
	return invoke(context.Background(), c.cc, c.method("CreateRegionFailureCleanup"), &regionIDReq{RegionID: regionID}, nil)
}

func (c *MSClient) RegisterRegionMemory(regionID uint64) (fabric.Key, fabric.BaseAddress, error) {
	var resp keyBaseResp
	err := invoke(context.Background(), c.cc, c.method("RegisterRegionMemory"), &regionIDReq{RegionID: regionID}, &resp)
	return resp.Key, resp.Base, err
}

func (c *MSClient) DestroyRegion(regionID uint64) (cis.DestroyStatus, error) {
	var resp destroyRegionResp
	err := invoke(context.Background(), c.cc, c.method("DestroyRegion"), &regionIDReq{RegionID: regionID}, &resp)
	return resp.Status, err
}

func (c *MSClient) Allocate(regionID uint64, size int64) (int64, error) {
	var resp allocateResp
	err := invoke(context.Background(), c.cc, c.method("Allocate"), &allocateReq{RegionID: regionID, Size: size}, &resp)
	return resp.Offset, err
}

func (c *MSClient) Deallocate(regionID uint64, offset, size int64) error {
	return invoke(context.Background(), c.cc, c.method("Deallocate"), &deallocateReq{RegionID: regionID, Offset: offset, Size: size}, nil)
}

func (c *MSClient) RegisterDataItemMemory(regionID uint64, offset, size int64) (fabric.Key, fabric.BaseAddress, error) {
	var resp keyBaseResp
	err := invoke(context.Background(), c.cc, c.method("RegisterDataItemMemory"), &registerDataItemReq{RegionID: regionID, Offset: offset, Size: size}, &resp)
	return resp.Key, resp.Base, err
}

func (c *MSClient) OpenRegion(regionID uint64) error {
	return invoke(context.Background(), c.cc, c.method("OpenRegion"), &regionIDReq{RegionID: regionID}, nil)
}

func (c *MSClient) CloseRegion(regionID uint64) error {
	return invoke(context.Background(), c.cc, c.method("CloseRegion"), &regionIDReq{RegionID: regionID}, nil)
}

func (c *MSClient) Address() string { return c.address }

func (c *MSClient) Copy(destRegionID uint64, destOffset int64, srcAddr string, srcKey fabric.Key, srcOffset, size int64) error {
	return invoke(context.Background(), c.cc, c.method("Copy"), &msCopyReq{
		DestRegionID: destRegionID, DestOffset: destOffset, SrcAddr: srcAddr, SrcKey: srcKey, SrcOffset: srcOffset, Size: size,
	}, nil)
}

func (c *MSClient) AcquireCASLock(regionID uint64, offset int64) error {
	return invoke(context.Background(), c.cc, c.method("AcquireCASLock"), &casLockReq{RegionID: regionID, Offset: offset}, nil)
}

func (c *MSClient) ReleaseCASLock(regionID uint64, offset int64) error {
	return invoke(context.Background(), c.cc, c.method("ReleaseCASLock"), &casLockReq{RegionID: regionID, Offset: offset}, nil)
}

func (c *MSClient) EnqueueAtomic(regionID uint64, d *atl.Descriptor) error {
	return invoke(context.Background(), c.cc, c.method("EnqueueAtomic"), &enqueueAtomicReq{
		RegionID: regionID, Flags: d.Flags, Offset: d.Offset,
		ClientAddr: d.ClientAddr, SourceKey: d.SourceKey, Size: d.Size,
		ElemSize: d.ElemSize, Stride: d.Stride, First: d.First,
		IndexCount: d.IndexCount, Index: d.Index, Buffer: d.Buffer,
	}, nil)
}

func (c *MSClient) BackupExists(backupName string) (bool, error) {
	var resp backupExistsResp
	err := invoke(context.Background(), c.cc, c.method("BackupExists"), &backupNameReq{BackupName: backupName}, &resp)
	return resp.Exists, err
}

func (c *MSClient) BackupChunk(regionID uint64, offset, size int64, backupName string, chunkIdx int, writeMeta bool, meta *cmn.BackupMeta) error {
	return invoke(context.Background(), c.cc, c.method("BackupChunk"), &backupChunkReq{
		RegionID: regionID, Offset: offset, Size: size, BackupName: backupName, ChunkIdx: chunkIdx, WriteMeta: writeMeta, Meta: meta,
	}, nil)
}

func (c *MSClient) ReadBackupMeta(backupName string) (*cmn.BackupMeta, error) {
	var meta cmn.BackupMeta
	err := invoke(context.Background(), c.cc, c.method("ReadBackupMeta"), &backupNameReq{BackupName: backupName}, &meta)
	return &meta, err
}

func (c *MSClient) RestoreChunk(backupName string, chunkIdx int, destRegionID uint64, destOffset int64) (int64, error) {
	var resp restoreChunkResp
	err := invoke(context.Background(), c.cc, c.method("RestoreChunk"), &restoreChunkReq{
		BackupName: backupName, ChunkIdx: chunkIdx, DestRegionID: destRegionID, DestOffset: destOffset,
	}, &resp)
	return resp.N, err
}

func (c *MSClient) DeleteBackup(backupName string, nChunks int) error {
	return invoke(context.Background(), c.cc, c.method("DeleteBackup"), &backupNameReq{BackupName: backupName, NChunks: nChunks}, nil)
}

var _ cis.MSClient = (*MSClient)(nil)
