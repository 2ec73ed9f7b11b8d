package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype advertised in the grpc+<name> wire
// content-type and the name callers pass via grpc.CallContentSubtype.
const codecName = "json"

// jsonCodec is a hand-registered encoding.Codec standing in for
// protoc-generated protobuf messages. This exercise cannot run protoc, so
// wire messages are plain JSON-tagged Go structs instead of .pb.go types;
// the transport, multiplexing, and streaming below are the real
// google.golang.org/grpc runtime, only the message codec differs from a
// production deployment.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
