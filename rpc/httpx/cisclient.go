package httpx

import (
	"io"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
)

// CISClient implements cis.Interface against a remote CISServer, for the
// client library running in a separate process from CIS
// (memsrv_interface_type = "rpc").
type CISClient struct {
	d *doer
}

func NewCISClient(baseURL string) *CISClient { return &CISClient{d: newDoer(baseURL)} }

func (c *CISClient) CreateRegion(name string, size int64, mode uint32, uid, gid uint32,
	redundancy cmn.RedundancyLevel, memType cmn.MemoryType, interleave bool, perm cmn.PermissionLevel) (*cmn.Region, error) {
	req := cmn.CreateRegionRequest{
		Name: name, Size: size, Mode: mode, Redundancy: redundancy, MemoryType: memType,
		InterleaveEnable: interleave, Permission: perm, UID: uid, GID: gid,
	}
	var resp cmn.CreateRegionResponse
	if err := c.d.call(cmn.URLPath("fam", "v1", "create_region"), req, &resp); err != nil {
		return nil, err
	}
	return c.LookupRegion(name, uid, gid)
}

func (c *CISClient) DestroyRegion(regionID uint64, uid, gid uint32) error {
	return c.d.call(cmn.URLPath("fam", "v1", "destroy_region"), cmn.DestroyRegionRequest{RegionID: regionID, UID: uid, GID: gid}, nil)
}

func (c *CISClient) ResizeRegion(regionID uint64, nbytes int64, uid, gid uint32) error {
	return c.d.call(cmn.URLPath("fam", "v1", "resize_region"), cmn.ResizeRegionRequest{RegionID: regionID, NBytes: nbytes, UID: uid, GID: gid}, nil)
}

func (c *CISClient) ChangeRegionPermission(regionID uint64, newMode uint32, uid, gid uint32) error {
	req := cmn.ChangePermissionRequest{RegionID: regionID, NewMode: newMode, UID: uid, GID: gid}
	return c.d.call(cmn.URLPath("fam", "v1", "change_region_permission"), req, nil)
}

func (c *CISClient) ChangeDataItemPermission(regionID uint64, name string, newMode uint32, uid, gid uint32) error {
	req := changeDataItemPermReq{RegionID: regionID, Name: name, NewMode: newMode, UID: uid, GID: gid}
	return c.d.call(cmn.URLPath("fam", "v1", "change_dataitem_permission"), req, nil)
}

func (c *CISClient) OpenRegion(name string, uid, gid uint32) (*cmn.Region, []cis.RegionMemEntry, error) {
	var resp openRegionResp
	if err := c.d.call(cmn.URLPath("fam", "v1", "open_region"), openRegionReq{Name: name, UID: uid, GID: gid}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Region, resp.Entries, nil
}

func (c *CISClient) CloseRegion(regionID uint64, memservers []uint64) error {
	return c.d.call(cmn.URLPath("fam", "v1", "close_region"), closeRegionReq{RegionID: regionID, MemServers: memservers}, nil)
}

func (c *CISClient) Allocate(name string, regionID uint64, size int64, mode uint32, uid, gid uint32) (*cmn.DataItem, error) {
	req := cmn.AllocateRequest{Name: name, RegionID: regionID, Size: size, Mode: mode, UID: uid, GID: gid}
	var resp cmn.AllocateResponse
	if err := c.d.call(cmn.URLPath("fam", "v1", "allocate"), req, &resp); err != nil {
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
	req := cmn.DeallocateRequest{RegionID: regionID, Name: name, UID: uid, GID: gid}
	return c.d.call(cmn.URLPath("fam", "v1", "deallocate"), req, nil)
}

func (c *CISClient) Lookup(regionID uint64, itemName string, uid, gid uint32) (*cmn.DataItem, error) {
	req := cmn.LookupRequest{Name: itemName, RegionID: regionID, UID: uid, GID: gid}
	var item cmn.DataItem
	err := c.d.call(cmn.URLPath("fam", "v1", "lookup"), req, &item)
	return &item, err
}

func (c *CISClient) LookupRegion(name string, uid, gid uint32) (*cmn.Region, error) {
	var region cmn.Region
	err := c.d.call(cmn.URLPath("fam", "v1", "lookup_region"), lookupRegionReq{Name: name, UID: uid, GID: gid}, &region)
	return &region, err
}

func (c *CISClient) StatInfo(regionID uint64, itemName string, uid, gid uint32) (*cmn.DataItem, error) {
	req := statInfoReq{RegionID: regionID, ItemName: itemName, UID: uid, GID: gid}
	var item cmn.DataItem
	err := c.d.call(cmn.URLPath("fam", "v1", "stat_info"), req, &item)
	return &item, err
}

func (c *CISClient) Copy(srcRegionID uint64, srcItemName string, srcOffset int64, destRegionID uint64, destItemName string, destOffset int64, size int64, uid, gid uint32) (cmn.WaitToken, error) {
	req := cmn.CopyRequest{
		SrcRegionID: srcRegionID, SrcItemName: srcItemName, SrcOffset: srcOffset,
		DestRegionID: destRegionID, DestItemName: destItemName, DestOffset: destOffset,
		Size: size, UID: uid, GID: gid,
	}
	var tok cmn.WaitToken
	err := c.d.call(cmn.URLPath("fam", "v1", "copy"), req, &tok)
	return tok, err
}

func (c *CISClient) Backup(regionID uint64, itemName, backupName string, uid, gid uint32) (cmn.WaitToken, error) {
	req := cmn.BackupRequest{RegionID: regionID, ItemName: itemName, BackupName: backupName, UID: uid, GID: gid}
	var tok cmn.WaitToken
	err := c.d.call(cmn.URLPath("fam", "v1", "backup"), req, &tok)
	return tok, err
}

func (c *CISClient) Restore(backupName string, destRegionID uint64, newItemName string, uid, gid uint32) (cmn.WaitToken, error) {
	req := cmn.RestoreRequest{BackupName: backupName, DestRegionID: destRegionID, NewItemName: newItemName, UID: uid, GID: gid}
	var tok cmn.WaitToken
	err := c.d.call(cmn.URLPath("fam", "v1", "restore"), req, &tok)
	return tok, err
}

func (c *CISClient) DeleteBackup(backupName string, uid, gid uint32) (cmn.WaitToken, error) {
	req := cmn.DeleteBackupRequest{BackupName: backupName, UID: uid, GID: gid}
	var tok cmn.WaitToken
	err := c.d.call(cmn.URLPath("fam", "v1", "delete_backup"), req, &tok)
	return tok, err
}

func (c *CISClient) WaitFor(tok cmn.WaitToken) error {
	return c.d.call(cmn.URLPath("fam", "v1", "wait"), tok, nil)
}

func (c *CISClient) GetAtomic(regionID uint64, itemName string, offset, size int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := getAtomicReq{RegionID: regionID, ItemName: itemName, Offset: offset, Size: size, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return c.d.call(cmn.URLPath("fam", "v1", "get_atomic"), req, nil)
}

func (c *CISClient) PutAtomic(regionID uint64, itemName string, offset int64, data []byte, uid, gid uint32) error {
	req := putAtomicReq{RegionID: regionID, ItemName: itemName, Offset: offset, Data: data, UID: uid, GID: gid}
	return c.d.call(cmn.URLPath("fam", "v1", "put_atomic"), req, nil)
}

func (c *CISClient) ScatterStridedAtomic(regionID uint64, itemName string, elemSize, first, stride int64, count int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := strideAtomicReq{RegionID: regionID, ItemName: itemName, ElemSize: elemSize, First: first, Stride: stride, Count: count, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return c.d.call(cmn.URLPath("fam", "v1", "scatter_strided_atomic"), req, nil)
}

func (c *CISClient) GatherStridedAtomic(regionID uint64, itemName string, elemSize, first, stride int64, count int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := strideAtomicReq{RegionID: regionID, ItemName: itemName, ElemSize: elemSize, First: first, Stride: stride, Count: count, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return c.d.call(cmn.URLPath("fam", "v1", "gather_strided_atomic"), req, nil)
}

func (c *CISClient) ScatterIndexedAtomic(regionID uint64, itemName string, elemSize int64, index []int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := indexAtomicReq{RegionID: regionID, ItemName: itemName, ElemSize: elemSize, Index: index, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return c.d.call(cmn.URLPath("fam", "v1", "scatter_indexed_atomic"), req, nil)
}

func (c *CISClient) GatherIndexedAtomic(regionID uint64, itemName string, elemSize int64, index []int64, clientAddr string, sourceKey uint64, uid, gid uint32) error {
	req := indexAtomicReq{RegionID: regionID, ItemName: itemName, ElemSize: elemSize, Index: index, ClientAddr: clientAddr, SourceKey: sourceKey, UID: uid, GID: gid}
	return c.d.call(cmn.URLPath("fam", "v1", "gather_indexed_atomic"), req, nil)
}

func (c *CISClient) GetMemServerInfo() []byte {
	resp, err := c.d.client.Get(c.d.base + cmn.URLPath("fam", "v1", "memserverinfo"))
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return b
}

func (c *CISClient) GetMemServerInfoSize() int { return len(c.GetMemServerInfo()) }

func (c *CISClient) AcquireCASLock(regionID uint64, offset int64, memserverID uint64) error {
	req := cmn.CASLockRequest{RegionID: regionID, Offset: offset, MemserverID: memserverID}
	return c.d.call(cmn.URLPath("fam", "v1", "acquire_cas_lock"), req, nil)
}

func (c *CISClient) ReleaseCASLock(regionID uint64, offset int64, memserverID uint64) error {
	req := cmn.CASLockRequest{RegionID: regionID, Offset: offset, MemserverID: memserverID}
	return c.d.call(cmn.URLPath("fam", "v1", "release_cas_lock"), req, nil)
}

var _ cis.Interface = (*CISClient)(nil)
