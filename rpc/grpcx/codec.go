// Package grpcx is the second RPC transport binding named by spec.md's
// rpc_framework_type config key ("grpc"): the same MS/MDS/CIS surfaces
// rpc/httpx exposes over net/http+jsoniter, here carried over
// google.golang.org/grpc's framing, flow control and connection
// management instead. No protoc toolchain runs in this tree, so the
// wire payloads are plain Go structs marshaled through jsoniter via a
// custom grpc.Codec rather than generated protobuf messages — a
// documented grpc-go extension point (encoding.RegisterCodec), not a
// homegrown substitute for the library.
package grpcx

import (
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/encoding"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonCodec registers under grpc-go's default codec name "proto" so
// every ClientConn/Server in this package carries JSON on the wire
// without either side needing a CallContentSubtype option.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)     { return jsonAPI.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return jsonAPI.Unmarshal(data, v) }
func (jsonCodec) Name() string                              { return "proto" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
