package cis_test

import (
	"testing"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric/memprovider"
	"github.com/openfam/fam/internal/tassert"
	"github.com/openfam/fam/mds"
	"github.com/openfam/fam/ms"
)

func newFixture(t *testing.T, n int) (*cis.Coordinator, cis.MSSet) {
	catalog, err := mds.Open(t.TempDir())
	tassert.CheckFatal(t, err)

	mss := make(cis.MSSet, n)
	for i := 0; i < n; i++ {
		srv, err := ms.NewServer(uint64(i), memprovider.New(), t.TempDir(), 1)
		tassert.CheckFatal(t, err)
		mss[uint64(i)] = ms.NewLocalClient(srv)
	}
	return cis.NewCoordinator(catalog, mss), mss
}

func TestCreateAndDestroyRegionLifecycle(t *testing.T) {
	coord, _ := newFixture(t, 3)

	r, err := coord.CreateRegion("region-a", 4<<20, 0o640, 100, 100, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermRegion)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(r.MemServerIDs) == 3, "expected region striped across 3 servers, got %d", len(r.MemServerIDs))

	tassert.CheckFatal(t, coord.DestroyRegion(r.RegionID, 100, 100))
}

func TestDestroyRegionRejectsWrongOwner(t *testing.T) {
	coord, _ := newFixture(t, 1)

	r, err := coord.CreateRegion("region-b", 1<<20, 0o600, 1, 1, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermRegion)
	tassert.CheckFatal(t, err)

	err = coord.DestroyRegion(r.RegionID, 2, 2)
	tassert.Fatalf(t, cmn.KindOf(err) == cmn.ErrNoPermission, "expected no-permission for a non-owning uid/gid, got %v", err)
}

func TestAllocateAndDeallocateDataItem(t *testing.T) {
	coord, _ := newFixture(t, 2)

	r, err := coord.CreateRegion("region-c", 4<<20, 0o640, 5, 5, cmn.RedundancyRAID1, cmn.MemoryVolatile, true, cmn.PermDataItem)
	tassert.CheckFatal(t, err)

	d, err := coord.Allocate("item-1", r.RegionID, 2*cmn.DefaultInterleaveSize, 0o640, 5, 5)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(d.Offsets) == 2, "expected a striped item split across 2 servers, got %d", len(d.Offsets))
	tassert.Fatalf(t, d.InterleaveSize == cmn.DefaultInterleaveSize, "expected interleave %d, got %d", cmn.DefaultInterleaveSize, d.InterleaveSize)

	tassert.CheckFatal(t, coord.Deallocate(r.RegionID, "item-1", 5, 5))
}

func TestAllocateUnstripedLandsOnOneServer(t *testing.T) {
	coord, _ := newFixture(t, 3)

	r, err := coord.CreateRegion("region-d", 4<<20, 0o640, 5, 5, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)

	d, err := coord.Allocate("solo", r.RegionID, 4096, 0o640, 5, 5)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(d.MemServerIDs) == 1, "an unstriped item must live whole on one server, got %d", len(d.MemServerIDs))
	tassert.Fatalf(t, d.InterleaveSize == 0, "an unstriped item must carry interleave 0, got %d", d.InterleaveSize)
}
