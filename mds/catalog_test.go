package mds_test

import (
	"testing"

	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/internal/tassert"
	"github.com/openfam/fam/mds"
)

func TestCreateDestroyRegionReleasesBit(t *testing.T) {
	cat, err := mds.Open(t.TempDir())
	tassert.CheckFatal(t, err)

	r := &cmn.Region{Name: "r1", UID: 1, GID: 1, Mode: 0o640, Size: 1 << 20, MemServerIDs: []uint64{0}}
	id, err := cat.CreateRegion(r)
	tassert.CheckFatal(t, err)

	got, err := cat.GetRegionByName("r1")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, got.RegionID == id, "expected region id %d, got %d", id, got.RegionID)

	tassert.CheckFatal(t, cat.DestroyRegion(id, true))

	_, err = cat.GetRegionByName("r1")
	tassert.Fatalf(t, cmn.KindOf(err) == cmn.ErrRegionNotFound, "expected region-not-found after destroy, got %v", err)

	r2 := &cmn.Region{Name: "r2", UID: 1, GID: 1, Mode: 0o640, Size: 1 << 20, MemServerIDs: []uint64{0}}
	id2, err := cat.CreateRegion(r2)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, id2 == id, "expected released bit %d to be reused, got %d", id, id2)
}

func TestDestroyRegionKeepsBitWhenNotReleased(t *testing.T) {
	cat, err := mds.Open(t.TempDir())
	tassert.CheckFatal(t, err)

	r := &cmn.Region{Name: "busy", UID: 1, GID: 1, Mode: 0o640, Size: 1 << 20, MemServerIDs: []uint64{0}}
	id, err := cat.CreateRegion(r)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, cat.DestroyRegion(id, false))

	r2 := &cmn.Region{Name: "next", UID: 1, GID: 1, Mode: 0o640, Size: 1 << 20, MemServerIDs: []uint64{0}}
	id2, err := cat.CreateRegion(r2)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, id2 != id, "expected a fresh bit when prior destroy left the region IN_USE, got reused id %d", id2)
}

func TestInsertAndLookupDataItem(t *testing.T) {
	cat, err := mds.Open(t.TempDir())
	tassert.CheckFatal(t, err)

	r := &cmn.Region{Name: "r", UID: 1, GID: 1, Mode: 0o640, Size: 1 << 20, MemServerIDs: []uint64{0}}
	regionID, err := cat.CreateRegion(r)
	tassert.CheckFatal(t, err)

	d := &cmn.DataItem{DataItemID: cmn.DataItemID(0, 0), RegionID: regionID, Name: "item", Size: 128, MemServerIDs: []uint64{0}}
	tassert.CheckFatal(t, cat.InsertDataItem(d))

	got, err := cat.GetDataItem(regionID, "item")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, got.Size == 128, "expected size 128, got %d", got.Size)

	tassert.CheckFatal(t, cat.RemoveDataItem(regionID, "item"))
	_, err = cat.GetDataItem(regionID, "item")
	tassert.Fatalf(t, cmn.KindOf(err) == cmn.ErrDataItemNotFound, "expected dataitem-not-found after removal")
}

func TestAnchorForIsDeterministicAndSpread(t *testing.T) {
	mdsSet := []uint64{0, 1, 2, 3}
	a1 := mds.AnchorFor("backup-1", mdsSet)
	a2 := mds.AnchorFor("backup-1", mdsSet)
	tassert.Fatalf(t, a1 == a2, "expected deterministic anchor selection, got %d then %d", a1, a2)

	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		seen[mds.AnchorFor(name(i), mdsSet)] = true
	}
	tassert.Fatalf(t, len(seen) > 1, "expected anchors to spread across the mds set, got only %v", seen)
}

func name(i int) string {
	b := []byte("backup-")
	for i > 0 {
		b = append(b, byte('0'+i%10))
		i /= 10
	}
	return string(b)
}
