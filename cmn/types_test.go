package cmn_test

import (
	"testing"

	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/internal/tassert"
)

func TestStripeMappingRoundRobin(t *testing.T) {
	const s, n = 4096, 3
	// walk two full rounds of stripes and check the §3 formula holds
	for b := int64(0); b < 2*s*n; b += 512 {
		idx, local := cmn.StripeMapping(b, s, n)
		block := b / s
		tassert.Errorf(t, idx == int(block%n), "offset %d: server index %d, want %d", b, idx, block%n)
		tassert.Errorf(t, local == (block/n)*s+b%s, "offset %d: local offset %d, want %d", b, local, (block/n)*s+b%s)
	}
}

func TestStripeMappingUnstriped(t *testing.T) {
	idx, local := cmn.StripeMapping(9999, 0, 4)
	tassert.Errorf(t, idx == 0 && local == 9999, "unstriped mapping must be identity on server 0, got (%d,%d)", idx, local)
}

func TestCopyDestLayoutAgreesWithStripeMapping(t *testing.T) {
	const s, n = 4096, 4
	for _, destOff := range []int64{0, 8, s, s + 1, 3 * s, 10*s + 77} {
		start, disp := cmn.CopyDestLayout(destOff, s, n)
		idx, _ := cmn.StripeMapping(destOff, s, n)
		tassert.Errorf(t, start == idx, "destOff %d: start server %d, StripeMapping says %d", destOff, start, idx)
		tassert.Errorf(t, disp == destOff%s, "destOff %d: displacement %d, want %d", destOff, disp, destOff%s)
	}
}

func TestPerServerShare(t *testing.T) {
	// striped: whole stripes, worst-case server load
	share := cmn.PerServerShare(5000, 4096, 2)
	tassert.Errorf(t, share == 4096, "5000B over 2 servers at S=4096: first server holds a full stripe, got share %d", share)

	share = cmn.PerServerShare(6*4096, 4096, 3)
	tassert.Errorf(t, share == 2*4096, "6 stripes over 3 servers: expected 2 stripes each, got %d", share)

	// unstriped: the whole item, floored and aligned
	share = cmn.PerServerShare(100, 0, 1)
	tassert.Errorf(t, share == cmn.MinObjSize, "tiny item must be floored to MIN_OBJ_SIZE, got %d", share)
}

func TestDataItemIDEncoding(t *testing.T) {
	id := cmn.DataItemID(3, 4096)
	tassert.Errorf(t, id>>48 == 3, "expected memserver id in the high 16 bits, got %d", id>>48)
	tassert.Errorf(t, id&cmn.RegionIDMask == 4096/cmn.MinObjSize, "expected offset/128 in the low bits, got %d", id&cmn.RegionIDMask)
}

func TestMemServerInfoRoundTrip(t *testing.T) {
	in := []cmn.MemServerInfo{
		{NodeID: 0, FabricAddr: []byte("127.0.0.1:8888")},
		{NodeID: 7, FabricAddr: []byte("10.0.0.2:9000")},
	}
	out, err := cmn.DecodeMemServerInfo(cmn.EncodeMemServerInfo(in))
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(out) == len(in), "expected %d entries, got %d", len(in), len(out))
	for i := range in {
		tassert.Errorf(t, out[i].NodeID == in[i].NodeID, "entry %d: node id %d, want %d", i, out[i].NodeID, in[i].NodeID)
		tassert.Errorf(t, string(out[i].FabricAddr) == string(in[i].FabricAddr), "entry %d: addr %q, want %q", i, out[i].FabricAddr, in[i].FabricAddr)
	}
}

func TestParseConfigDefaultsAndDuplicates(t *testing.T) {
	cfg, err := cmn.ParseConfig(nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, cfg.Provider == "sockets", "default provider: got %q", cfg.Provider)
	tassert.Errorf(t, cfg.RPCFrameworkType == cmn.RPCFrameworkGRPC, "default rpc framework: got %q", cfg.RPCFrameworkType)
	tassert.Errorf(t, len(cfg.MemsrvList) == 1 && cfg.MemsrvList[0].Port == 8787, "default memsrv_list: got %+v", cfg.MemsrvList)

	_, err = cmn.ParseConfig(map[string]string{"memsrv_list": "0:a:1,0:b:2"})
	tassert.Fatalf(t, cmn.KindOf(err) == cmn.ErrInvalidOption, "duplicate ids must be a hard error, got %v", err)

	_, err = cmn.ParseConfig(map[string]string{"memsrv_interface_type": "carrier-pigeon"})
	tassert.Fatalf(t, cmn.KindOf(err) == cmn.ErrInvalidOption, "bad interface type must be rejected, got %v", err)
}

func TestCheckAccessPOSIXTriples(t *testing.T) {
	const mode = uint32(0o640)
	tassert.Errorf(t, cmn.CheckAccess(mode, 10, 20, 10, 99, cmn.ModeRead|cmn.ModeWrite), "owner must get rw")
	tassert.Errorf(t, cmn.CheckAccess(mode, 10, 20, 11, 20, cmn.ModeRead), "group must get r")
	tassert.Errorf(t, !cmn.CheckAccess(mode, 10, 20, 11, 20, cmn.ModeWrite), "group must not get w")
	tassert.Errorf(t, !cmn.CheckAccess(mode, 10, 20, 11, 21, cmn.ModeRead), "other must get nothing under 0640")
}

func TestMultiPeerErrorPolicy(t *testing.T) {
	one := map[uint64]error{3: cmn.ErrRegionNoSpacef(3)}
	tassert.Fatalf(t, cmn.KindOf(cmn.MultiPeerError(one)) == cmn.ErrRegionNoSpace,
		"a single failing peer must re-raise its own kind")

	many := map[uint64]error{1: cmn.ErrRegionNoSpacef(1), 2: cmn.ErrOutOfRangef(0, 1)}
	tassert.Fatalf(t, cmn.KindOf(cmn.MultiPeerError(many)) == cmn.ErrResource,
		"two failing peers must collapse into FAM_ERR_RESOURCE")

	tassert.Fatalf(t, cmn.MultiPeerError(nil) == nil, "no failures must map to nil")
}
