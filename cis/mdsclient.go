package cis

import "github.com/openfam/fam/cmn"

// MDSClient is everything CIS needs from the metadata service: the
// regions/data-items catalog, the region-id bitmap, and permission
// bookkeeping (spec.md §2 "MDS... a single process serves many MS").
// An in-process deployment satisfies it by embedding *mds.Catalog
// directly; a disaggregated deployment satisfies it over rpc/httpx or
// rpc/grpcx against a standalone cmd/mdsd, matching how MSClient
// abstracts the memory-server side of the same fan-out.
type MDSClient interface {
	ReserveRegionID(name string) (uint64, error)
	FinalizeRegion(r *cmn.Region) error
	AbandonReservation(name string, id uint64, release bool) error
	GetRegion(id uint64) (*cmn.Region, error)
	GetRegionByName(name string) (*cmn.Region, error)
	DestroyRegion(id uint64, release bool) error
	InsertDataItem(d *cmn.DataItem) error
	GetDataItem(regionID uint64, name string) (*cmn.DataItem, error)
	RemoveDataItem(regionID uint64, name string) error
}
