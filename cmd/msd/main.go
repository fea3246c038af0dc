// Command msd runs one memory server: a slab of addressable memory, its
// local allocator, a fabric.Provider registering that memory with the
// network, and the ATL workers staging crash-resilient atomic writes
// (spec.md §4.3), all exposed over the control-plane RPC transport the
// operator selects (spec.md §6 rpc_framework_type).
package main

import (
	"flag"
	"net"
	"net/http"
	"os"

	"github.com/golang/glog"
	"google.golang.org/grpc"

	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric/tcpprovider"
	"github.com/openfam/fam/ms"
	"github.com/openfam/fam/rpc/grpcx"
	"github.com/openfam/fam/rpc/httpx"
)

var (
	id           = flag.Uint64("id", 0, "this memory server's node id, matched against memsrv_list in the cluster config")
	addr         = flag.String("addr", "127.0.0.1:8788", "address this memory server's control-plane RPC listens on")
	fabricAddr   = flag.String("fabric-addr", "127.0.0.1:8888", "address this memory server's fabric.Provider listens on for RDMA-style data-path traffic")
	atlDir       = flag.String("atl-dir", "./ms-data", "directory the ATL persists request descriptors and payloads to")
	numWorkers   = flag.Int("atl-workers", 4, "ATL worker count recorded on the server; the ATL runs one queue and worker per hosted region regardless of this value")
	rpcFramework = flag.String("rpc-framework-type", "grpc", "rpc framework binding: grpc or thallium (unimplemented, falls back to the net/http binding)")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := cmn.ParseConfig(map[string]string{"rpc_framework_type": *rpcFramework})
	if err != nil {
		glog.Errorf("msd: %v", err)
		os.Exit(1)
	}
	cmn.GCO.Put(cfg)

	if err := os.MkdirAll(*atlDir, 0o755); err != nil {
		glog.Errorf("msd: creating atl dir %s: %v", *atlDir, err)
		os.Exit(1)
	}

	provider, err := tcpprovider.New(*fabricAddr)
	if err != nil {
		glog.Errorf("msd: starting fabric provider on %s: %v", *fabricAddr, err)
		os.Exit(1)
	}

	srv, err := ms.NewServer(*id, provider, *atlDir, *numWorkers)
	if err != nil {
		glog.Errorf("msd: %v", err)
		os.Exit(1)
	}
	srv.RecoverAll()

	if cfg.RPCFrameworkType == cmn.RPCFrameworkThallium {
		glog.Infof("msd: rpc_framework_type=thallium has no Go binding; falling back to the net/http binding")
	}
	glog.Infof("msd: server %d ready, fabric on %s, control plane on %s over %s",
		*id, provider.Address(), *addr, cfg.RPCFrameworkType)

	if cfg.RPCFrameworkType == cmn.RPCFrameworkGRPC {
		serveGRPC(srv, *addr)
		return
	}
	serveHTTP(srv, *addr)
}

func serveHTTP(srv *ms.Server, addr string) {
	h := httpx.NewMSServer(srv)
	glog.Infof("msd: http serving on %s", addr)
	if err := http.ListenAndServe(addr, h.Handler()); err != nil {
		glog.Errorf("msd: serve: %v", err)
		os.Exit(1)
	}
}

func serveGRPC(srv *ms.Server, addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		glog.Errorf("msd: listening on %s: %v", addr, err)
		os.Exit(1)
	}
	s := grpc.NewServer()
	grpcx.NewMSServer(srv).Register(s)
	glog.Infof("msd: grpc serving on %s", lis.Addr())
	if err := s.Serve(lis); err != nil {
		glog.Errorf("msd: serve: %v", err)
		os.Exit(1)
	}
}
