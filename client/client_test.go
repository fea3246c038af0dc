package client_test

import (
	"testing"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/client"
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric"
	"github.com/openfam/fam/fabric/memprovider"
	"github.com/openfam/fam/internal/tassert"
	"github.com/openfam/fam/mds"
	"github.com/openfam/fam/ms"
)

// fixture wires n memory servers, a CIS coordinator over them, and one
// client.Client whose own loopback provider is Connect-ed to every
// server's provider, mirroring cis_test's newFixtureForSpec but adding
// the client-side leg of the loopback mesh.
func fixture(t *testing.T, n int) *client.Client {
	catalog, err := mds.Open(t.TempDir())
	tassert.CheckFatal(t, err)

	mss := make(cis.MSSet, n)
	servers := make([]*ms.Server, n)
	providers := make([]*memprovider.Provider, n)
	for i := 0; i < n; i++ {
		providers[i] = memprovider.New()
		srv, err := ms.NewServer(uint64(i), providers[i], t.TempDir(), 1)
		tassert.CheckFatal(t, err)
		servers[i] = srv
		mss[uint64(i)] = ms.NewLocalClient(srv)
	}
	for i := range servers {
		for j := range servers {
			providers[i].Connect(servers[j].Address(), providers[j])
		}
	}

	clientProvider := memprovider.New()
	for _, srv := range servers {
		clientProvider.Connect(srv.Address(), srv.Provider.(*memprovider.Provider))
	}

	coord := cis.NewCoordinator(catalog, mss)
	return client.New(coord, clientProvider, nil, 42, 42)
}

// TestPutGetRoundTrip covers spec.md §8 property 1: a write followed by
// a read at the same offset returns exactly what was written, across an
// item striped over multiple memory servers.
func TestPutGetRoundTrip(t *testing.T) {
	c := fixture(t, 3)

	region, err := c.CreateRegion("r1", 4<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, true, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("r1")
	tassert.CheckFatal(t, err)
	defer r.Close()

	item, err := r.Allocate("item-1", 12288, 0o640)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, item.Info().InterleaveSize > 0, "expected interleaving on a 3-server item, got %d", item.Info().InterleaveSize)

	want := make([]byte, 12288)
	for i := range want {
		want[i] = byte(i % 251)
	}
	tassert.CheckFatal(t, item.Put(0, want, fabric.IsBlocking))

	got := make([]byte, 12288)
	tassert.CheckFatal(t, item.Get(0, got, fabric.IsBlocking))
	for i := range want {
		tassert.Fatalf(t, got[i] == want[i], "byte %d mismatch: want %d got %d", i, want[i], got[i])
	}
	_ = region
}

// TestPutGetUnstripedSingleServer exercises the DATAITEM permission path
// (own fabric key per item, offsetBase zero) on a single-server region.
func TestPutGetUnstripedSingleServer(t *testing.T) {
	c := fixture(t, 1)

	_, err := c.CreateRegion("r2", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("r2")
	tassert.CheckFatal(t, err)
	defer r.Close()

	item, err := r.Allocate("item-2", 256, 0o640)
	tassert.CheckFatal(t, err)

	want := []byte("the quick brown fox jumps over the lazy dog....")
	tassert.CheckFatal(t, item.Put(0, want, fabric.IsBlocking))
	got := make([]byte, len(want))
	tassert.CheckFatal(t, item.Get(0, got, fabric.IsBlocking))
	tassert.Fatalf(t, string(got) == string(want), "round-trip mismatch: got %q", got)
}

// TestScatterGatherStride covers spec.md §4.2's strided scatter/gather.
func TestScatterGatherStride(t *testing.T) {
	c := fixture(t, 1)

	_, err := c.CreateRegion("r3", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("r3")
	tassert.CheckFatal(t, err)
	defer r.Close()

	item, err := r.Allocate("strided", 4096, 0o640)
	tassert.CheckFatal(t, err)

	const elemSize, count = 8, 10
	local := make([]byte, elemSize*count)
	for i := range local {
		local[i] = byte(i + 1)
	}
	tassert.CheckFatal(t, item.ScatterStride(local, elemSize, 0, 4, count, fabric.IsBlocking))

	back := make([]byte, elemSize*count)
	tassert.CheckFatal(t, item.GatherStride(back, elemSize, 0, 4, count, fabric.IsBlocking))
	for i := range local {
		tassert.Fatalf(t, back[i] == local[i], "strided round-trip mismatch at %d: want %d got %d", i, local[i], back[i])
	}
}

// TestScatterGatherIndex covers spec.md §4.2's indexed scatter/gather.
func TestScatterGatherIndex(t *testing.T) {
	c := fixture(t, 1)

	_, err := c.CreateRegion("r4", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("r4")
	tassert.CheckFatal(t, err)
	defer r.Close()

	item, err := r.Allocate("indexed", 4096, 0o640)
	tassert.CheckFatal(t, err)

	index := []int64{0, 5, 10, 20}
	const elemSize = 8
	local := make([]byte, elemSize*len(index))
	for i := range local {
		local[i] = byte(100 + i)
	}
	tassert.CheckFatal(t, item.ScatterIndex(local, elemSize, index, fabric.IsBlocking))

	back := make([]byte, elemSize*len(index))
	tassert.CheckFatal(t, item.GatherIndex(back, elemSize, index, fabric.IsBlocking))
	for i := range local {
		tassert.Fatalf(t, back[i] == local[i], "indexed round-trip mismatch at %d: want %d got %d", i, local[i], back[i])
	}
}

// TestFenceAndQuiet covers spec.md §8 property 7: Quiet blocks until
// every posted op has completed, and Fence does not itself error on an
// otherwise idle item.
func TestFenceAndQuiet(t *testing.T) {
	c := fixture(t, 1)

	_, err := c.CreateRegion("r5", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("r5")
	tassert.CheckFatal(t, err)
	defer r.Close()

	item, err := r.Allocate("fenced", 256, 0o640)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, item.Put(0, []byte("hello"), fabric.NonBlocking))
	tassert.CheckFatal(t, item.Fence())
	tassert.CheckFatal(t, item.Quiet())
}

// TestCopyAcrossRegions covers spec.md's copy(): a byte range written
// into one region's item is visible, byte-for-byte, after copy() into
// another region's item.
func TestCopyAcrossRegions(t *testing.T) {
	c := fixture(t, 2)

	_, err := c.CreateRegion("src", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	_, err = c.CreateRegion("dst", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)

	srcRegion, err := c.OpenRegion("src")
	tassert.CheckFatal(t, err)
	defer srcRegion.Close()
	dstRegion, err := c.OpenRegion("dst")
	tassert.CheckFatal(t, err)
	defer dstRegion.Close()

	srcItem, err := srcRegion.Allocate("src-item", 4096, 0o640)
	tassert.CheckFatal(t, err)
	dstTarget, err := dstRegion.Allocate("dst-item", 4096, 0o640)
	tassert.CheckFatal(t, err)

	want := make([]byte, 4096)
	for i := range want {
		want[i] = byte(i)
	}
	tassert.CheckFatal(t, srcItem.Put(0, want, fabric.IsBlocking))

	tok, err := srcItem.Copy(0, dstTarget, 0, 4096)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, c.WaitFor(tok))

	dstItem, err := dstRegion.Open("dst-item")
	tassert.CheckFatal(t, err)
	got := make([]byte, 4096)
	tassert.CheckFatal(t, dstItem.Get(0, got, fabric.IsBlocking))
	for i := range want {
		tassert.Fatalf(t, got[i] == want[i], "copy mismatch at %d: want %d got %d", i, want[i], got[i])
	}
}

// TestFenceOrdersOverlappingWrites covers spec.md §8 property 6 / S4: a
// non-blocking write, a fence, a second non-blocking write of the same
// range, then quiet; the read must observe the second write.
func TestFenceOrdersOverlappingWrites(t *testing.T) {
	c := fixture(t, 1)

	_, err := c.CreateRegion("r6", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("r6")
	tassert.CheckFatal(t, err)
	defer r.Close()

	item, err := r.Allocate("ordered", 256, 0o640)
	tassert.CheckFatal(t, err)

	a := make([]byte, 50)
	b := make([]byte, 50)
	for i := range a {
		a[i] = byte(i + 1)
		b[i] = byte(i + 101)
	}
	tassert.CheckFatal(t, item.Put(0, a, fabric.NonBlocking))
	tassert.CheckFatal(t, item.Fence())
	tassert.CheckFatal(t, item.Put(0, b, fabric.NonBlocking))
	tassert.CheckFatal(t, item.Quiet())

	got := make([]byte, 50)
	tassert.CheckFatal(t, item.Get(0, got, fabric.IsBlocking))
	for i := range b {
		tassert.Fatalf(t, got[i] == b[i], "byte %d: expected the post-fence write %d, got %d", i, b[i], got[i])
	}
}

// TestAtomicMinMaxAndCAS covers spec.md §8 properties 4 and 5 against a
// live item: min/max monotonicity (signed, so a negative operand must
// win a min against a positive value) and single-word compare-and-swap.
func TestAtomicMinMaxAndCAS(t *testing.T) {
	c := fixture(t, 1)

	_, err := c.CreateRegion("r7", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("r7")
	tassert.CheckFatal(t, err)
	defer r.Close()

	item, err := r.Allocate("atoms", 256, 0o640)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, item.Atomic(fabric.AtomicWrite, fabric.DtInt64, 40, 0))
	tassert.CheckFatal(t, item.Atomic(fabric.AtomicMin, fabric.DtInt64, uint64(int64(-3)), 0))
	v, err := item.FetchAtomic(fabric.AtomicSum, fabric.DtInt64, 0, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, int64(v) == -3, "min(40, -3): expected -3, got %d", int64(v))

	tassert.CheckFatal(t, item.Atomic(fabric.AtomicMax, fabric.DtInt64, 25, 0))
	v, err = item.FetchAtomic(fabric.AtomicSum, fabric.DtInt64, 0, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, int64(v) == 25, "max(-3, 25): expected 25, got %d", int64(v))

	prev, err := item.CompareSwap(fabric.DtUint64, 25, 77, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, prev == 25, "matching CAS: expected prior value 25, got %d", prev)

	prev, err = item.CompareSwap(fabric.DtUint64, 25, 99, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, prev == 77, "mismatching CAS: expected prior value 77, got %d", prev)

	v, err = item.FetchAtomic(fabric.AtomicSum, fabric.DtUint64, 0, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, v == 77, "mismatching CAS must leave the value unchanged, got %d", v)
}

// TestCompareAndSwap128 covers the emulated 128-bit CAS: the per-object
// lock is acquired through the coordinator, and compare failure leaves
// both words untouched.
func TestCompareAndSwap128(t *testing.T) {
	c := fixture(t, 1)

	_, err := c.CreateRegion("r8", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("r8")
	tassert.CheckFatal(t, err)
	defer r.Close()

	item, err := r.Allocate("wide", 256, 0o640)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, item.Atomic(fabric.AtomicWrite, fabric.DtUint64, 11, 0))
	tassert.CheckFatal(t, item.Atomic(fabric.AtomicWrite, fabric.DtUint64, 22, 8))

	lo, hi, err := item.CompareAndSwap128(0, 11, 22, 33, 44)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, lo == 11 && hi == 22, "matching CAS128: expected prior (11,22), got (%d,%d)", lo, hi)

	lo, hi, err = item.CompareAndSwap128(0, 11, 22, 55, 66)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, lo == 33 && hi == 44, "mismatching CAS128: expected prior (33,44), got (%d,%d)", lo, hi)

	v, err := item.FetchAtomic(fabric.AtomicSum, fabric.DtUint64, 0, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, v == 33, "mismatching CAS128 must leave the low word unchanged, got %d", v)
}

// TestCopyFanOutJoinsInReverse covers the S5 shape: several destination
// items copied from one source concurrently, wait tokens joined in
// reverse issue order, every destination byte-for-byte equal.
func TestCopyFanOutJoinsInReverse(t *testing.T) {
	c := fixture(t, 2)

	_, err := c.CreateRegion("fan", 4<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("fan")
	tassert.CheckFatal(t, err)
	defer r.Close()

	src, err := r.Allocate("fan-src", 8192, 0o640)
	tassert.CheckFatal(t, err)
	want := make([]byte, 8192)
	for i := range want {
		want[i] = byte(i * 13)
	}
	tassert.CheckFatal(t, src.Put(0, want, fabric.IsBlocking))

	const nDest = 4
	dests := make([]*client.Item, nDest)
	toks := make([]cmn.WaitToken, nDest)
	for i := 0; i < nDest; i++ {
		dests[i], err = r.Allocate(destName(i), 8192, 0o640)
		tassert.CheckFatal(t, err)
		toks[i], err = src.Copy(0, dests[i], 0, 8192)
		tassert.CheckFatal(t, err)
	}
	for i := nDest - 1; i >= 0; i-- {
		tassert.CheckFatal(t, c.WaitFor(toks[i]))
	}
	for i := 0; i < nDest; i++ {
		got := make([]byte, 8192)
		tassert.CheckFatal(t, dests[i].Get(0, got, fabric.IsBlocking))
		for j := range want {
			tassert.Fatalf(t, got[j] == want[j], "dest %d byte %d: want %d got %d", i, j, want[j], got[j])
		}
	}
}

func destName(i int) string { return "fan-dst-" + string(rune('a'+i)) }

// TestBackupRestoreRoundTrip covers spec.md's backup()/restore(): a
// backed-up item, once restored under a new name, carries the same
// bytes as the original.
func TestBackupRestoreRoundTrip(t *testing.T) {
	c := fixture(t, 2)

	_, err := c.CreateRegion("bkreg", 1<<20, 0o640, cmn.RedundancyRAID1, cmn.MemoryVolatile, false, cmn.PermDataItem)
	tassert.CheckFatal(t, err)
	r, err := c.OpenRegion("bkreg")
	tassert.CheckFatal(t, err)
	defer r.Close()

	item, err := r.Allocate("orig", 2048, 0o640)
	tassert.CheckFatal(t, err)
	want := make([]byte, 2048)
	for i := range want {
		want[i] = byte(7 * i)
	}
	tassert.CheckFatal(t, item.Put(0, want, fabric.IsBlocking))

	tok, err := item.Backup("snap-a")
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, c.WaitFor(tok))

	rtok, err := r.Restore("snap-a", "restored")
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, c.WaitFor(rtok))

	restored, err := r.Open("restored")
	tassert.CheckFatal(t, err)
	got := make([]byte, 2048)
	tassert.CheckFatal(t, restored.Get(0, got, fabric.IsBlocking))
	for i := range want {
		tassert.Fatalf(t, got[i] == want[i], "restore mismatch at %d: want %d got %d", i, want[i], got[i])
	}

	dtok, err := r.DeleteBackup("snap-a")
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, c.WaitFor(dtok))
}
