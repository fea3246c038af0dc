package fabric_test

import (
	"testing"

	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric"
	"github.com/openfam/fam/fabric/memprovider"
	"github.com/openfam/fam/internal/tassert"
)

func loopbackPair() (*fabric.Context, *fabric.Context, fabric.PeerAddr) {
	a := memprovider.New()
	b := memprovider.New()
	a.Connect("b", b)
	b.Connect("a", a)
	peer, _ := a.LookupPeer("b")
	return fabric.NewContext(a), fabric.NewContext(b), peer
}

func TestWriteReadRoundTrip(t *testing.T) {
	cA, cB, peer := loopbackPair()

	remoteBuf := make([]byte, 4096)
	key, base, err := cB.Provider.RegisterMemory(1, remoteBuf)
	tassert.CheckFatal(t, err)
	_ = base

	payload := []byte("fabric-attached-memory")
	tassert.CheckFatal(t, cA.Write(key, payload, 128, peer, fabric.IsBlocking))

	out := make([]byte, len(payload))
	tassert.CheckFatal(t, cA.Read(key, out, 128, peer, fabric.IsBlocking))

	tassert.Fatalf(t, string(out) == string(payload), "got %q want %q", out, payload)

	stats := cA.Stats()
	tassert.Errorf(t, stats.NumTx == 1, "expected 1 tx, got %d", stats.NumTx)
	tassert.Errorf(t, stats.NumRx == 1, "expected 1 rx, got %d", stats.NumRx)
}

func TestAtomicSumAndFetch(t *testing.T) {
	cA, cB, peer := loopbackPair()

	remoteBuf := make([]byte, 64)
	key, _, err := cB.Provider.RegisterMemory(1, remoteBuf)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, cA.Atomic(key, fabric.AtomicSum, fabric.DtUint64, 5, 0, peer))
	prev, err := cA.FetchAtomic(key, fabric.AtomicSum, fabric.DtUint64, 10, 0, peer)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, prev == 5, "expected fetched previous value 5, got %d", prev)

	final, err := cA.FetchAtomic(key, fabric.AtomicSum, fabric.DtUint64, 0, 0, peer)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, final == 15, "expected accumulated value 15, got %d", final)
}

func TestFenceAndQuiet(t *testing.T) {
	cA, cB, peer := loopbackPair()

	remoteBuf := make([]byte, 256)
	key, _, err := cB.Provider.RegisterMemory(1, remoteBuf)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, cA.Write(key, []byte("one"), 0, peer, fabric.NonBlocking))
	tassert.CheckFatal(t, cA.Write(key, []byte("two"), 8, peer, fabric.NonBlocking))
	tassert.CheckFatal(t, cA.Fence(key, peer))
	tassert.CheckFatal(t, cA.Quiet())

	stats := cA.Stats()
	tassert.Errorf(t, stats.NumTxFail == 0, "expected no tx failures, got %d", stats.NumTxFail)
}

func TestScatterGatherStrideInverse(t *testing.T) {
	cA, cB, peer := loopbackPair()

	remoteBuf := make([]byte, 10<<20)
	key, base, err := cB.Provider.RegisterMemory(1, remoteBuf)
	tassert.CheckFatal(t, err)

	values := []int32{15, 16, 17, 18, 19}
	local := make([]byte, 4*len(values))
	for i, v := range values {
		putI32(local[i*4:], v)
	}

	tassert.CheckFatal(t, cA.ScatterStride(local, key, uint64(base), peer, 4, 2, 4096, len(values), fabric.IsBlocking))

	out := make([]byte, len(local))
	tassert.CheckFatal(t, cA.GatherStride(out, key, uint64(base), peer, 4, 2, 4096, len(values), fabric.IsBlocking))

	for i := range values {
		got := getI32(out[i*4:])
		tassert.Errorf(t, got == values[i], "index %d: got %d want %d", i, got, values[i])
	}
}

func TestScatterGatherIndexInverse(t *testing.T) {
	cA, cB, peer := loopbackPair()

	remoteBuf := make([]byte, 10<<20)
	key, base, err := cB.Provider.RegisterMemory(1, remoteBuf)
	tassert.CheckFatal(t, err)

	index := []int64{2, 256, 1024, 2048, 4096, 32768, 524288, 1048576, 2097152, 2359296}
	values := make([]int32, len(index))
	for i := range values {
		values[i] = int32(15 + i)
	}
	local := make([]byte, 4*len(values))
	for i, v := range values {
		putI32(local[i*4:], v)
	}

	tassert.CheckFatal(t, cA.ScatterIndex(local, key, uint64(base), peer, 4, index, fabric.IsBlocking))

	out := make([]byte, len(local))
	tassert.CheckFatal(t, cA.GatherIndex(out, key, uint64(base), peer, 4, index, fabric.IsBlocking))

	for i := range values {
		got := getI32(out[i*4:])
		tassert.Errorf(t, got == values[i], "index %d: got %d want %d", i, got, values[i])
	}
}

// TestInvalidKeyTranslatesToFamError covers testable property 10: a post
// against a key the peer never registered must surface as a FamError of
// kind ErrLibfabric, not a bare *fabric.ProviderError, on every entry
// point that can reject at post time.
func TestInvalidKeyTranslatesToFamError(t *testing.T) {
	cA, _, peer := loopbackPair()

	badKey := fabric.Key(999999)

	err := cA.Write(badKey, []byte("x"), 0, peer, fabric.IsBlocking)
	tassert.Fatalf(t, err != nil, "expected an error writing to an unregistered key")
	tassert.Errorf(t, cmn.KindOf(err) == cmn.ErrLibfabric, "Write: expected ErrLibfabric, got %v (%v)", cmn.KindOf(err), err)

	err = cA.Read(badKey, make([]byte, 1), 0, peer, fabric.IsBlocking)
	tassert.Errorf(t, cmn.KindOf(err) == cmn.ErrLibfabric, "Read: expected ErrLibfabric, got %v (%v)", cmn.KindOf(err), err)

	err = cA.Atomic(badKey, fabric.AtomicSum, fabric.DtUint64, 1, 0, peer)
	tassert.Errorf(t, cmn.KindOf(err) == cmn.ErrLibfabric, "Atomic: expected ErrLibfabric, got %v (%v)", cmn.KindOf(err), err)

	_, err = cA.FetchAtomic(badKey, fabric.AtomicSum, fabric.DtUint64, 1, 0, peer)
	tassert.Errorf(t, cmn.KindOf(err) == cmn.ErrLibfabric, "FetchAtomic: expected ErrLibfabric, got %v (%v)", cmn.KindOf(err), err)
}

func putI32(b []byte, v int32) {
	u := uint32(v)
	b[0], b[1], b[2], b[3] = byte(u), byte(u>>8), byte(u>>16), byte(u>>24)
}

func getI32(b []byte) int32 {
	u := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return int32(u)
}
