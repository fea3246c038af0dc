// Command cisd runs the Client Interface Service: the stateless
// coordinator that fans a client's region/data-item control-plane calls
// out across the metadata service and every participating memory
// server (spec.md §4.1), exposed to clients over the same RPC
// transport choice as mdsd/msd (spec.md §6 rpc_framework_type).
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfam/fam/cis"
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/rpc/grpcx"
	"github.com/openfam/fam/rpc/httpx"
)

var (
	addr         = flag.String("addr", "127.0.0.1:8786", "address this coordinator listens on for client requests")
	mdsAddr      = flag.String("mds-addr", "127.0.0.1:8787", "address of the metadata service this coordinator consults")
	memsrvList   = flag.String("memsrv-list", "0:127.0.0.1:8788", "comma-separated id:host:port control-plane addresses of every reachable memory server")
	memsrvFabric = flag.String("memsrv-fabric-list", "0:127.0.0.1:8888", "comma-separated id:host:port fabric addresses of every reachable memory server, in the same id order as -memsrv-list")
	rpcFramework = flag.String("rpc-framework-type", "grpc", "rpc framework binding: grpc or thallium (unimplemented, falls back to the net/http binding)")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := cmn.ParseConfig(map[string]string{
		"rpc_framework_type": *rpcFramework,
		"memsrv_list":        *memsrvList,
		"metadata_list":      "0:" + *mdsAddr,
	})
	if err != nil {
		glog.Errorf("cisd: %v", err)
		os.Exit(1)
	}
	cmn.GCO.Put(cfg)

	fabricAddrs, err := parseFabricList(*memsrvFabric)
	if err != nil {
		glog.Errorf("cisd: %v", err)
		os.Exit(1)
	}

	var coord *cis.Coordinator
	if cfg.RPCFrameworkType == cmn.RPCFrameworkGRPC {
		coord, err = dialGRPC(cfg, fabricAddrs)
	} else {
		coord, err = dialHTTP(cfg, fabricAddrs)
	}
	if err != nil {
		glog.Errorf("cisd: %v", err)
		os.Exit(1)
	}

	if cfg.RPCFrameworkType == cmn.RPCFrameworkThallium {
		glog.Infof("cisd: rpc_framework_type=thallium has no Go binding; falling back to the net/http binding")
	}
	glog.Infof("cisd: coordinating %d memory server(s) via mds at %s, serving clients on %s over %s",
		len(cfg.MemsrvList), *mdsAddr, *addr, cfg.RPCFrameworkType)

	if cfg.RPCFrameworkType == cmn.RPCFrameworkGRPC {
		serveGRPC(coord, *addr)
		return
	}
	serveHTTP(coord, *addr)
}

func parseFabricList(s string) (map[uint64]string, error) {
	out := make(map[uint64]string)
	for _, entry := range strings.Split(s, ",") {
		fields := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed -memsrv-fabric-list entry %q, want id:host:port", entry)
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed id in -memsrv-fabric-list entry %q: %w", entry, err)
		}
		out[id] = fields[1] + ":" + fields[2]
	}
	return out, nil
}

func dialHTTP(cfg *cmn.Config, fabricAddrs map[uint64]string) (*cis.Coordinator, error) {
	md := cfg.MetadataList[0]
	mdsClient := httpx.NewMDSClient(fmt.Sprintf("http://%s:%d", md.Host, md.Port))

	mss := make(cis.MSSet, len(cfg.MemsrvList))
	for _, node := range cfg.MemsrvList {
		fabricAddr, ok := fabricAddrs[node.ID]
		if !ok {
			return nil, fmt.Errorf("no -memsrv-fabric-list entry for memsrv id %d", node.ID)
		}
		mss[node.ID] = httpx.NewMSClient(fmt.Sprintf("http://%s:%d", node.Host, node.Port), fabricAddr)
	}
	return cis.NewCoordinator(mdsClient, mss), nil
}

func dialGRPC(cfg *cmn.Config, fabricAddrs map[uint64]string) (*cis.Coordinator, error) {
	md := cfg.MetadataList[0]
	mdsConn, err := grpc.Dial(fmt.Sprintf("%s:%d", md.Host, md.Port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing mds at %s:%d: %w", md.Host, md.Port, err)
	}
	mdsClient := grpcx.NewMDSClient(mdsConn)

	mss := make(cis.MSSet, len(cfg.MemsrvList))
	for _, node := range cfg.MemsrvList {
		fabricAddr, ok := fabricAddrs[node.ID]
		if !ok {
			return nil, fmt.Errorf("no -memsrv-fabric-list entry for memsrv id %d", node.ID)
		}
		conn, err := grpc.Dial(fmt.Sprintf("%s:%d", node.Host, node.Port), grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dialing memsrv %d at %s:%d: %w", node.ID, node.Host, node.Port, err)
		}
		mss[node.ID] = grpcx.NewMSClient(conn, fabricAddr)
	}
	return cis.NewCoordinator(mdsClient, mss), nil
}

func serveHTTP(coord *cis.Coordinator, addr string) {
	srv := httpx.NewCISServer(coord)
	glog.Infof("cisd: http serving on %s", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		glog.Errorf("cisd: serve: %v", err)
		os.Exit(1)
	}
}

func serveGRPC(coord *cis.Coordinator, addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		glog.Errorf("cisd: listening on %s: %v", addr, err)
		os.Exit(1)
	}
	s := grpc.NewServer()
	grpcx.NewCISServer(coord).Register(s)
	glog.Infof("cisd: grpc serving on %s", lis.Addr())
	if err := s.Serve(lis); err != nil {
		glog.Errorf("cisd: serve: %v", err)
		os.Exit(1)
	}
}
