// Package codec registers a JSON codec with grpc-go under the content
// subtype "json". The access node has no protoc/buf code generation
// pipeline available, so the AccessService, logic, and dbproxy message
// types (internal/wire) are plain Go structs rather than generated
// protobuf messages; this codec lets them travel over a real
// google.golang.org/grpc server and ClientConn unmodified. See
// DESIGN.md for the reasoning.
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype grpc negotiates for this codec: requests
// are sent as "application/grpc+json".
const Name = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return Name }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal into %T: %w", v, err)
	}
	return nil
}
