// Command mdsd runs the metadata service: the regions/data-items
// catalog, the region-id bitmap, and the permission checks every CIS
// call consults, exposed over whichever RPC transport the operator
// selects (spec.md §6 rpc_framework_type).
package main

import (
	"flag"
	"net"
	"net/http"
	"os"

	"github.com/golang/glog"
	"google.golang.org/grpc"

	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/mds"
	"github.com/openfam/fam/rpc/grpcx"
	"github.com/openfam/fam/rpc/httpx"
)

var (
	addr         = flag.String("addr", "127.0.0.1:8787", "address this metadata service listens on")
	dataDir      = flag.String("data-dir", "./mds-data", "directory the catalog persists region/data-item/bitmap records to")
	rpcFramework = flag.String("rpc-framework-type", "grpc", "rpc framework binding: grpc or thallium (unimplemented, falls back to the net/http binding)")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := cmn.ParseConfig(map[string]string{"rpc_framework_type": *rpcFramework})
	if err != nil {
		glog.Errorf("mdsd: %v", err)
		os.Exit(1)
	}
	cmn.GCO.Put(cfg)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		glog.Errorf("mdsd: creating data dir %s: %v", *dataDir, err)
		os.Exit(1)
	}
	catalog, err := mds.Open(*dataDir)
	if err != nil {
		glog.Errorf("mdsd: opening catalog at %s: %v", *dataDir, err)
		os.Exit(1)
	}

	if cfg.RPCFrameworkType == cmn.RPCFrameworkThallium {
		glog.Infof("mdsd: rpc_framework_type=thallium has no Go binding; falling back to the net/http binding")
	}
	glog.Infof("mdsd: catalog opened at %s, serving on %s over %s", *dataDir, *addr, cfg.RPCFrameworkType)

	if cfg.RPCFrameworkType == cmn.RPCFrameworkGRPC {
		serveGRPC(catalog, *addr)
		return
	}
	serveHTTP(catalog, *addr)
}

func serveHTTP(catalog *mds.Catalog, addr string) {
	srv := httpx.NewMDSServer(catalog)
	glog.Infof("mdsd: http serving on %s", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		glog.Errorf("mdsd: serve: %v", err)
		os.Exit(1)
	}
}

func serveGRPC(catalog *mds.Catalog, addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		glog.Errorf("mdsd: listening on %s: %v", addr, err)
		os.Exit(1)
	}
	s := grpc.NewServer()
	grpcx.NewMDSServer(catalog).Register(s)
	glog.Infof("mdsd: grpc serving on %s", lis.Addr())
	if err := s.Serve(lis); err != nil {
		glog.Errorf("mdsd: serve: %v", err)
		os.Exit(1)
	}
}
