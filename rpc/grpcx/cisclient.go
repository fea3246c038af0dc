package grpcx

import (
	"context"

	"google.golang.org/grpc"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
)

// CISClient implements cis.Interface against a remote CISServer over
// gRPC, the grpcx counterpart of rpc/httpx.CISClient.
type CISClient struct {
	cc *grpc.ClientConn
}

func NewCISClient(cc *grpc.ClientConn) *CISClient { return &CISClient{cc: cc} }

func (c *CISClient) method(name string) string { return "/fam.CIS/" + name }

func (c *CISClient) CreateRegion(name string, size int64, mode uint32, uid, gid uint32,
	redundancy cmn.RedundancyLevel, memType cmn.MemoryType, interleave bool, perm cmn.PermissionLevel) (*cmn.Region, error) {
	req := &cmn.CreateRegionRequest{
		Name: name, Size: size, Mode: mode, Redundancy: redundancy, MemoryType: memType,
		InterleaveEnable: interleave, Permission: perm, UID: uid, GID: gid,
	}
	var resp cmn.CreateRegionResponse
	if err := invoke(context.Background(), c.cc, c.method("CreateRegion"), req, &resp); err != nil {
		return nil, err
	}
	return c.LookupRegion(name, uid, gid)
}

func (c *CISClient) DestroyRegion(regionID uint64, uid, gid uint32) error {
	return invoke(context.Background(), c.cc, c.method("DestroyRegion"), &cmn.DestroyRegionRequest{RegionID: regionID, UID: uid, GID: gid}, nil)
}

func (c *CISClient) ResizeRegion(regionID uint64, nbytes int64, uid, gid uint32) error {
	return invoke(context.Background(), c.cc, c.method("ResizeRegion"), &cmn.ResizeRegionRequest{RegionID: regionID, NBytes: nbytes, UID: uid, GID: gid}, nil)
}

func (c *CISClient) ChangeRegionPermission(regionID uint64, newMode uint32, uid, gid uint32) error {
	req := &cmn.ChangePermissionRequest{RegionID: regionID, NewMode: newMode, UID: uid, GID: gid}
	return invoke(context.Background(), c.cc, c.method("ChangeRegionPermission"), req, nil)
}

func (c *CISClient) ChangeDataItemPermission(regionID uint64, name string, newMode uint32, uid, gid uint32) error {
	req := &changeDataItemPermReq{RegionID: regionID, Name: name, NewMode: newMode, UID: uid, GID: gid}
	return invoke(context.Background(), c.cc, c.method("ChangeDataItemPermission"), req, nil)
}

func (c *CISClient) OpenRegion(name string, uid, gid uint32) (*cmn.Region, []cis.RegionMemEntry, error) {
	var resp openRegionResp
	if err := invoke(context.Background(), c.cc, c.method("OpenRegion"), &openRegionReq{Name: name, UID: uid, GID: gid}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Region, resp.Entries, nil
}

func (c *CISClient) CloseRegion(regionID uint64, memservers []uint64) error {
	return invoke(context.Background(), c.cc, c.method("CloseRegion"), &closeRegionReq{RegionID: regionID, MemServers: memservers}, nil)
}

func (c *CISClient) Allocate(name string, regionID uint64, size int64, mode uint32, uid, gid uint32) (*cmn.DataItem, error) {
	req := &cmn.AllocateRequest{Name: name, RegionID: regionID, Size: size, Mode: mode, UID: uid, GID: gid}
	var resp cmn.AllocateResponse
	if err := invoke(context.Background(), c.cc, c.method("Allocate"), req, &resp); err != nil {
		return nil, err
	}
	return &cmn.DataItem{
		RegionID: resp.RegionID, Name: name, Offsets: resp.Offsets, Size: size,
		InterleaveSize: resp.InterleaveSize, UID: uid, GID: gid, Mode: mode,
		Permission: resp.PermissionLevel, MemServerIDs: resp.MemServerIDs,
		Keys: resp.Keys, BaseAddresses: resp.BaseAddresses,
	}, nil
}

func (c *CISClient) Deallocate(regionID uint64, name string, uid, gid uint32) error {
	req := &cmn.DeallocateRequest{RegionID: regionID, Name: name, UID: uid, GID: gid}
	return invoke(context.Background(), c.cc, c.method("Deallocate"), req, nil)
}

func (c *CISClient) Lookup(regionID uint64, itemName string, uid, gid uint32) (*cmn.DataItem, error) {
	req := &cmn.LookupRequest{Name: itemName, RegionID: regionID, UID: uid, GID: gid}
	var item cmn.DataItem
	err := invoke(context.Background(), c.cc, c.method("Lookup"), req, &item)
	return &item, err
}

func (c *CISClient) LookupRegion(name string, uid, gid uint32) (*cmn.Region, error) {
	var region cmn.Region
	err := invoke(context.Background(), c.cc, c.method("LookupRegion"), &lookupRegionReq{Name: name, UID: uid, GID: gid}, &region)
	return &region, err
}

func (c *CISClient) StatInfo(regionID uint64, itemName string, uid, gid uint32) (*cmn.DataItem, error) {
	req := &statInfoReq{RegionID: regionID, ItemName: itemName, UID: uid, GID: gid}
	var item cmn.DataItem
	err := invoke(context.Background(), c.cc, c.method("StatInfo"), req, &item)
	return &item, err
}

func (c *CISClient) Copy(srcRegionID uint64, srcItemName string, srcOffset int64, destRegionID uint64, destItemName string, destOffset int64, size int64, uid, gid uint32) (cmn.WaitToken, error) {
	req := &cmn.CopyRequest{
		SrcRegionID: srcRegionID, SrcItemName: srcItemName, SrcOffset: srcOffset,
		DestRegionID: destRegionID, DestItemName: destItemName, DestOffset: destOffset,
		Size: size, UID: uid, GID: gid,
	}
	var tok cmn.WaitToken
	err := invoke(context.Background(), c.cc, c.method("Copy"), req, &tok)
	return tok, err
}

func (c *CISClient) Backup(regionID uint64, itemName, backupName string, uid, gid uint32) (cmn.WaitToken, error) {
	req := &cmn.BackupRequest{RegionID: regionID, ItemName: itemName, BackupName: backupName, UID: uid, GID: gid}
	var tok cmn.WaitToken
	err := invoke(context.Background(), c.cc, c.method("Backup"), req, &tok)
	return tok, err
}

func (c *CISClient) Restore(backupName string, destRegionID uint64, newItemName string, uid, gid uint32) (cmn.WaitToken, error) {
	req := &cmn.RestoreRequest{BackupName: backupName, DestRegionID: destRegionID, NewItemName: newItemName, UID: uid, GID: gid}
	var tok cmn.WaitToken
	err := invoke(context.Background(), c.cc, c.method("Restore"), req, &tok)
	return tok, err
}

func (c *CISClient) DeleteBackup(backupName string, uid, gid uint32) (cmn.WaitToken, error) {
	req := &cmn.DeleteBackupRequest{BackupName: backupName, UID: uid, GID: gid}
	var tok cmn.WaitToken
	err := invoke(context.Background(), c.cc, c.method("DeleteBackup"), req, &tok)
	return tok, err
}

func (c *CISClient) WaitFor(tok cmn.WaitToken) error {
	return invoke(context.Background(), c.cc, c.method("Wait"), &tok, nil)
}

func (c *CISClient) GetAtomic(regionID uint64, itemName string, offset, size int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := &getAtomicReq{RegionID: regionID, ItemName: itemName, Offset: offset, Size: size, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return invoke(context.Background(), c.cc, c.method("GetAtomic"), req, nil)
}

func (c *CISClient) PutAtomic(regionID uint64, itemName string, offset int64, data []byte, uid, gid uint32) error {
	req := &putAtomicReq{RegionID: regionID, ItemName: itemName, Offset: offset, Data: data, UID: uid, GID: gid}
	return invoke(context.Background(), c.cc, c.method("PutAtomic"), req, nil)
}

func (c *CISClient) ScatterStridedAtomic(regionID uint64, itemName string, elemSize, first, stride int64, count int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := &strideAtomicReq{RegionID: regionID, ItemName: itemName, ElemSize: elemSize, First: first, Stride: stride, Count: count, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return invoke(context.Background(), c.cc, c.method("ScatterStridedAtomic"), req, nil)
}

func (c *CISClient) GatherStridedAtomic(regionID uint64, itemName string, elemSize, first, stride int64, count int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := &strideAtomicReq{RegionID: regionID, ItemName: itemName, ElemSize: elemSize, First: first, Stride: stride, Count: count, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return invoke(context.Background(), c.cc, c.method("GatherStridedAtomic"), req, nil)
}

func (c *CISClient) ScatterIndexedAtomic(regionID uint64, itemName string, elemSize int64, index []int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := &indexAtomicReq{RegionID: regionID, ItemName: itemName, ElemSize: elemSize, Index: index, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return invoke(context.Background(), c.cc, c.method("ScatterIndexedAtomic"), req, nil)
}

func (c *CISClient) GatherIndexedAtomic(regionID uint64, itemName string, elemSize int64, index []int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := &indexAtomicReq{RegionID: regionID, ItemName: itemName, ElemSize: elemSize, Index: index, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return invoke(context.Background(), c.cc, c.method("GatherIndexedAtomic"), req, nil)
}

func (c *CISClient) GetMemServerInfo() []byte {
	var resp memServerInfoResp
	if err := invoke(context.Background(), c.cc, c.method("GetMemServerInfo"), &cmn.WaitToken{}, &resp); err != nil {
		return nil
	}
	return resp.Data
}

func (c *CISClient) GetMemServerInfoSize() int { return len(c.GetMemServerInfo()) }

func (c *CISClient) AcquireCASLock(regionID uint64, offset int64, memserverID uint64) error {
	req := &cmn.CASLockRequest{RegionID: regionID, Offset: offset, MemserverID: memserverID}
	return invoke(context.Background(), c.cc, c.method("AcquireCASLock"), req, nil)
}

func (c *CISClient) ReleaseCASLock(regionID uint64, offset int64, memserverID uint64) error {
	req := &cmn.CASLockRequest{RegionID: regionID, Offset: offset, MemserverID: memserverID}
	return invoke(context.Background(), c.cc, c.method("ReleaseCASLock"), req, nil)
}

var _ cis.Interface = (*CISClient)(nil)
