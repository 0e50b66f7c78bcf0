// Package rpcdriver implements uidriver.Backend as a gRPC client talking to
// an out-of-process automation helper, and a small reference server for
// local development. It deliberately uses a hand-rolled JSON codec instead
// of protoc-generated message types: the wire contract stays a single,
// inspectable JSON envelope while the connection itself still goes through
// grpc's full client machinery (keepalive, readiness waiting, status
// codes).
package rpcdriver

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Name is the codec name negotiated via the content-subtype call option.
const Name = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return Name }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
