package httpx

import (
	"net/http"

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

// MDSServer exposes one *mds.Catalog over HTTP, for a standalone cmd/mdsd
// process (metadata_interface_type = "rpc"). In a single-binary
// deployment, CIS embeds the *mds.Catalog directly and this server is
// unused.
type MDSServer struct {
	catalog *mds.Catalog
}

func NewMDSServer(catalog *mds.Catalog) *MDSServer { return &MDSServer{catalog: catalog} }

func (h *MDSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mds/reserve_region_id", h.reserveRegionID)
	mux.HandleFunc("/mds/finalize_region", h.finalizeRegion)
	mux.HandleFunc("/mds/abandon_reservation", h.abandonReservation)
	mux.HandleFunc("/mds/get_region", h.getRegion)
	mux.HandleFunc("/mds/get_region_by_name", h.getRegionByName)
	mux.HandleFunc("/mds/destroy_region", h.destroyRegion)
	mux.HandleFunc("/mds/insert_dataitem", h.insertDataItem)
	mux.HandleFunc("/mds/get_dataitem", h.getDataItem)
	mux.HandleFunc("/mds/remove_dataitem", h.removeDataItem)
	return mux
}

func (h *MDSServer) reserveRegionID(w http.ResponseWriter, r *http.Request) {
	var req reserveRegionIDReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.catalog.ReserveRegionID(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reserveRegionIDResp{RegionID: id})
}

func (h *MDSServer) finalizeRegion(w http.ResponseWriter, r *http.Request) {
	var region cmn.Region
	if err := readJSON(r, &region); err != nil {
		writeError(w, err)
		return
	}
	if err := h.catalog.FinalizeRegion(&region); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MDSServer) abandonReservation(w http.ResponseWriter, r *http.Request) {
	var req abandonReservationReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.catalog.AbandonReservation(req.Name, req.ID, req.Release); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MDSServer) getRegion(w http.ResponseWriter, r *http.Request) {
	var req regionIDReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	region, err := h.catalog.GetRegion(req.RegionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, region)
}

func (h *MDSServer) getRegionByName(w http.ResponseWriter, r *http.Request) {
	var req getRegionByNameReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	region, err := h.catalog.GetRegionByName(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, region)
}

func (h *MDSServer) destroyRegion(w http.ResponseWriter, r *http.Request) {
	var req destroyMDSRegionReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.catalog.DestroyRegion(req.ID, req.Release); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MDSServer) insertDataItem(w http.ResponseWriter, r *http.Request) {
	var item cmn.DataItem
	if err := readJSON(r, &item); err != nil {
		writeError(w, err)
		return
	}
	if err := h.catalog.InsertDataItem(&item); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *MDSServer) getDataItem(w http.ResponseWriter, r *http.Request) {
	var req getDataItemReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.catalog.GetDataItem(req.RegionID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *MDSServer) removeDataItem(w http.ResponseWriter, r *http.Request) {
	var req removeDataItemReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.catalog.RemoveDataItem(req.RegionID, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// MDSClient implements cis.MDSClient against a remote MDSServer.
type MDSClient struct {
	d *doer
}

func NewMDSClient(baseURL string) *MDSClient { return &MDSClient{d: newDoer(baseURL)} }

func (c *MDSClient) ReserveRegionID(name string) (uint64, error) {
	var resp reserveRegionIDResp
	err := c.d.call("/mds/reserve_region_id", reserveRegionIDReq{Name: name}, &resp)
	return resp.RegionID, err
}

func (c *MDSClient) FinalizeRegion(r *cmn.Region) error {
	return c.d.call("/mds/finalize_region", r, nil)
}

func (c *MDSClient) AbandonReservation(name string, id uint64, release bool) error {
	return c.d.call("/mds/abandon_reservation", abandonReservationReq{Name: name, ID: id, Release: release}, nil)
}

func (c *MDSClient) GetRegion(id uint64) (*cmn.Region, error) {
	var region cmn.Region
	err := c.d.call("/mds/get_region", regionIDReq{RegionID: id}, &region)
	return &region, err
}

func (c *MDSClient) GetRegionByName(name string) (*cmn.Region, error) {
	var region cmn.Region
	err := c.d.call("/mds/get_region_by_name", getRegionByNameReq{Name: name}, &region)
	return &region, err
}

func (c *MDSClient) DestroyRegion(id uint64, release bool) error {
	return c.d.call("/mds/destroy_region", destroyMDSRegionReq{ID: id, Release: release}, nil)
}

func (c *MDSClient) InsertDataItem(d *cmn.DataItem) error {
	return c.d.call("/mds/insert_dataitem", d, nil)
}

func (c *MDSClient) GetDataItem(regionID uint64, name string) (*cmn.DataItem, error) {
	var item cmn.DataItem
	err := c.d.call("/mds/get_dataitem", getDataItemReq{RegionID: regionID, Name: name}, &item)
	return &item, err
}

func (c *MDSClient) RemoveDataItem(regionID uint64, name string) error {
	return c.d.call("/mds/remove_dataitem", removeDataItemReq{RegionID: regionID, Name: name}, nil)
}

var _ cis.MDSClient = (*MDSClient)(nil)
