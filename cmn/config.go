package cmn

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/atomic"
)

// InterfaceType selects how a client library reaches the memory server or
// metadata service: through CIS-mediated RPC, or directly.
type InterfaceType string

const (
	InterfaceRPC    InterfaceType = "rpc"
	InterfaceDirect InterfaceType = "direct"
)

// RPCFrameworkType selects the RPC binding the daemons use: grpc selects
// rpc/grpcx, any other value rpc/httpx.
type RPCFrameworkType string

const (
	RPCFrameworkGRPC     RPCFrameworkType = "grpc"
	RPCFrameworkThallium RPCFrameworkType = "thallium"
)

// NodeAddr is one entry of a "id:host:port" server list.
type NodeAddr struct {
	ID   uint64
	Host string
	Port int
}

func (n NodeAddr) String() string { return fmt.Sprintf("%d:%s:%d", n.ID, n.Host, n.Port) }

// Config is the fully-parsed form of the string-keyed option table from
// spec.md §6. Defaults match the spec exactly.
type Config struct {
	Provider              string
	MemsrvInterfaceType   InterfaceType
	MetadataInterfaceType InterfaceType
	RPCFrameworkType      RPCFrameworkType
	MemsrvList            []NodeAddr
	MetadataList          []NodeAddr
}

// DefaultOptions mirrors the recognized-option defaults table verbatim.
func DefaultOptions() map[string]string {
	return map[string]string{
		"provider":                "sockets",
		"memsrv_interface_type":   "rpc",
		"metadata_interface_type": "rpc",
		"rpc_framework_type":      "grpc",
		"memsrv_list":             "0:127.0.0.1:8787",
		"metadata_list":           "0:127.0.0.1:8787",
	}
}

// ParseConfig builds a Config from a string-keyed option table, applying
// defaults for anything absent and rejecting duplicate ids within a
// server list, per spec.md §6.
func ParseConfig(opts map[string]string) (*Config, error) {
	merged := DefaultOptions()
	for k, v := range opts {
		merged[k] = v
	}

	cfg := &Config{
		Provider:              merged["provider"],
		MemsrvInterfaceType:   InterfaceType(merged["memsrv_interface_type"]),
		MetadataInterfaceType: InterfaceType(merged["metadata_interface_type"]),
		RPCFrameworkType:      RPCFrameworkType(merged["rpc_framework_type"]),
	}
	if cfg.MemsrvInterfaceType != InterfaceRPC && cfg.MemsrvInterfaceType != InterfaceDirect {
		return nil, NewFamError(ErrInvalidOption, "memsrv_interface_type must be rpc or direct")
	}
	if cfg.MetadataInterfaceType != InterfaceRPC && cfg.MetadataInterfaceType != InterfaceDirect {
		return nil, NewFamError(ErrInvalidOption, "metadata_interface_type must be rpc or direct")
	}

	var err error
	if cfg.MemsrvList, err = parseNodeList(merged["memsrv_list"]); err != nil {
		return nil, err
	}
	if len(cfg.MemsrvList) == 0 {
		return nil, NewFamError(ErrMemservListEmpty, "memsrv_list is empty")
	}
	if cfg.MetadataList, err = parseNodeList(merged["metadata_list"]); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseNodeList(s string) ([]NodeAddr, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]NodeAddr, 0, len(parts))
	seen := make(map[uint64]bool, len(parts))
	for _, p := range parts {
		fields := strings.SplitN(strings.TrimSpace(p), ":", 3)
		if len(fields) != 3 {
			return nil, NewFamError(ErrInvalidOption, fmt.Sprintf("malformed node entry %q, want id:host:port", p))
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, NewFamError(ErrInvalidOption, fmt.Sprintf("malformed node id %q", fields[0]))
		}
		if seen[id] {
			return nil, NewFamError(ErrInvalidOption, fmt.Sprintf("duplicate node id %d in list %q", id, s))
		}
		seen[id] = true
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, NewFamError(ErrInvalidOption, fmt.Sprintf("malformed port %q", fields[2]))
		}
		out = append(out, NodeAddr{ID: id, Host: fields[1], Port: port})
	}
	return out, nil
}

// GlobalConfigOwner holds the process-wide Config behind an atomic.Value,
// following the same Get()/Clone()/Put() shape the teacher codebase's own
// GCO singleton exposes to every package (cmn.GCO.Get(), cmn.GCO.Clone()).
type GlobalConfigOwner struct {
	value atomic.Value
}

// GCO is the process-wide configuration owner. Every daemon's main()
// calls GCO.Put after parsing options; Get and Clone return what was
// stored. No other package in this module reads it back.
var GCO = &GlobalConfigOwner{}

func (o *GlobalConfigOwner) Get() *Config {
	c, _ := o.value.Load().(*Config)
	return c
}

func (o *GlobalConfigOwner) Put(c *Config) { o.value.Store(c) }

func (o *GlobalConfigOwner) Clone() Config {
	c := o.Get()
	if c == nil {
		return Config{}
	}
	return *c
}
