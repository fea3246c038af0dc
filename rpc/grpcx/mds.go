package grpcx

import (
	"context"

	"google.golang.org/grpc"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/mds"
)

type reserveRegionIDReq struct {
	Name string `json:"name"`
}

type reserveRegionIDResp struct {
	RegionID uint64 `json:"region_id"`
}

type abandonReservationReq struct {
	Name    string `json:"name"`
	ID      uint64 `json:"id"`
	Release bool   `json:"release"`
}

type getRegionByNameReq struct {
	Name string `json:"name"`
}

type destroyMDSRegionReq struct {
	ID      uint64 `json:"id"`
	Release bool   `json:"release"`
}

type getDataItemReq struct {
	RegionID uint64 `json:"region_id"`
	Name     string `json:"name"`
}

type removeDataItemReq struct {
	RegionID uint64 `json:"region_id"`
	Name     string `json:"name"`
}

// MDSServer exposes one *mds.Catalog as a gRPC service, for a standalone
// cmd/mdsd process (metadata_interface_type = "rpc", rpc_framework_type
// = "grpc").
type MDSServer struct {
	catalog *mds.Catalog
}

func NewMDSServer(catalog *mds.Catalog) *MDSServer { return &MDSServer{catalog: catalog} }

func (h *MDSServer) Register(s *grpc.Server) { s.RegisterService(&mdsServiceDesc, h) }

var mdsServiceDesc = grpc.ServiceDesc{
	ServiceName: "fam.MDS",
	HandlerType: (*MDSServer)(nil),
	Methods: []grpc.MethodDesc{
		call("ReserveRegionID", func() interface{} { return &reserveRegionIDReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*reserveRegionIDReq)
			id, err := srv.(*MDSServer).catalog.ReserveRegionID(r.Name)
			return &reserveRegionIDResp{RegionID: id}, err
		}),
		call("FinalizeRegion", func() interface{} { return &cmn.Region{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return nil, srv.(*MDSServer).catalog.FinalizeRegion(req.(*cmn.Region))
		}),
		call("AbandonReservation", func() interface{} { return &abandonReservationReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*abandonReservationReq)
			return nil, srv.(*MDSServer).catalog.AbandonReservation(r.Name, r.ID, r.Release)
		}),
		call("GetRegion", func() interface{} { return &regionIDReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*regionIDReq)
			return srv.(*MDSServer).catalog.GetRegion(r.RegionID)
		}),
		call("GetRegionByName", func() interface{} { return &getRegionByNameReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*getRegionByNameReq)
			return srv.(*MDSServer).catalog.GetRegionByName(r.Name)
		}),
		call("DestroyRegion", func() interface{} { return &destroyMDSRegionReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*destroyMDSRegionReq)
			return nil, srv.(*MDSServer).catalog.DestroyRegion(r.ID, r.Release)
		}),
		call("InsertDataItem", func() interface{} { return &cmn.DataItem{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			return nil, srv.(*MDSServer).catalog.InsertDataItem(req.(*cmn.DataItem))
		}),
		call("GetDataItem", func() interface{} { return &getDataItemReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*getDataItemReq)
			return srv.(*MDSServer).catalog.GetDataItem(r.RegionID, r.Name)
		}),
		call("RemoveDataItem", func() interface{} { return &removeDataItemReq{} }, func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
			r := req.(*removeDataItemReq)
			return nil, srv.(*MDSServer).catalog.RemoveDataItem(r.RegionID, r.Name)
		}),
	},
	Metadata: "fam/mds.proto",
}

// MDSClient implements cis.MDSClient against a remote MDSServer.
type MDSClient struct {
	cc *grpc.ClientConn
}

func NewMDSClient(cc *grpc.ClientConn) *MDSClient { return &MDSClient{cc: cc} }

func (c *MDSClient) method(name string) string { return "/fam.MDS/" + name }

func (c *MDSClient) ReserveRegionID(name string) (uint64, error) {
	var resp reserveRegionIDResp
	err := invoke(context.Background(), c.cc, c.method("ReserveRegionID"), &reserveRegionIDReq{Name: name}, &resp)
	return resp.RegionID, err
}

func (c *MDSClient) FinalizeRegion(r *cmn.Region) error {
	return invoke(context.Background(), c.cc, c.method("FinalizeRegion"), r, nil)
}

func (c *MDSClient) AbandonReservation(name string, id uint64, release bool) error {
	return invoke(context.Background(), c.cc, c.method("AbandonReservation"), &abandonReservationReq{Name: name, ID: id, Release: release}, nil)
}

func (c *MDSClient) GetRegion(id uint64) (*cmn.Region, error) {
	var region cmn.Region
	err := invoke(context.Background(), c.cc, c.method("GetRegion"), &regionIDReq{RegionID: id}, &region)
	return &region, err
}

func (c *MDSClient) GetRegionByName(name string) (*cmn.Region, error) {
	var region cmn.Region
	err := invoke(context.Background(), c.cc, c.method("GetRegionByName"), &getRegionByNameReq{Name: name}, &region)
	return &region, err
}

func (c *MDSClient) DestroyRegion(id uint64, release bool) error {
	return invoke(context.Background(), c.cc, c.method("DestroyRegion"), &destroyMDSRegionReq{ID: id, Release: release}, nil)
}

func (c *MDSClient) InsertDataItem(d *cmn.DataItem) error {
	return invoke(context.Background(), c.cc, c.method("InsertDataItem"), d, nil)
}

func (c *MDSClient) GetDataItem(regionID uint64, name string) (*cmn.DataItem, error) {
	var item cmn.DataItem
	err := invoke(context.Background(), c.cc, c.method("GetDataItem"), &getDataItemReq{RegionID: regionID, Name: name}, &item)
	return &item, err
}

func (c *MDSClient) RemoveDataItem(regionID uint64, name string) error {
	return invoke(context.Background(), c.cc, c.method("RemoveDataItem"), &removeDataItemReq{RegionID: regionID, Name: name}, nil)
}

var _ cis.MDSClient = (*MDSClient)(nil)
