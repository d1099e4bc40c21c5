package capsvc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the codec name and gRPC content-subtype used by the service.
const Name = "capsvc"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals capsvc messages for gRPC.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, v)
	}
	return m.MarshalWire()
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnknownMessage, v)
	}
	return m.UnmarshalWire(data)
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return Name
}
