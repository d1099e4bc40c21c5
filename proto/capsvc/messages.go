package capsvc

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrUnknownMessage is returned by the codec for values that are not
// capsvc messages.
var ErrUnknownMessage = errors.New("capsvc: unknown message type")

// Message is implemented by every capsvc wire message.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire(b []byte) error
}

// NegotiateRequest field numbers.
const (
	reqCameraID   protowire.Number = 1
	reqFacing     protowire.Number = 2
	reqDescriptor protowire.Number = 3
	reqRegionID   protowire.Number = 4
	reqRegionSize protowire.Number = 5
	reqRegionData protowire.Number = 6
)

// NegotiateResponse field numbers.
const (
	respStatus     protowire.Number = 1
	respDescriptor protowire.Number = 2
	respReplaced   protowire.Number = 3
	respRegionSize protowire.Number = 4
	respRegionData protowire.Number = 5
)

// NegotiateRequest carries the wire descriptor and the shared region to the
// service.
type NegotiateRequest struct {
	CameraID   uint32
	Facing     uint32
	Descriptor []byte
	RegionID   string
	RegionSize uint64
	RegionData []byte
}

// NegotiateResponse is the service's answer.
//
// RegionSize is declared int32 on the wire. It is kept here as the raw
// decoded varint, so a negative size arrives sign-extended to 64 bits and
// must go through the sanitizing allocator before use.
type NegotiateResponse struct {
	Status     int32
	Descriptor []byte
	Replaced   bool
	RegionSize uint64
	RegionData []byte
}

// SetRegionSize stores size the way the int32 wire field encodes it.
func (m *NegotiateResponse) SetRegionSize(size int32) {
	m.RegionSize = uint64(int64(size))
}

// MarshalWire encodes the request.
func (m *NegotiateRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendVarint(b, reqCameraID, uint64(m.CameraID))
	b = appendVarint(b, reqFacing, uint64(m.Facing))
	b = appendBytes(b, reqDescriptor, m.Descriptor)
	if m.RegionID != "" {
		b = protowire.AppendTag(b, reqRegionID, protowire.BytesType)
		b = protowire.AppendString(b, m.RegionID)
	}
	b = appendVarint(b, reqRegionSize, m.RegionSize)
	b = appendBytes(b, reqRegionData, m.RegionData)
	return b, nil
}

// UnmarshalWire decodes the request, skipping unknown fields.
func (m *NegotiateRequest) UnmarshalWire(b []byte) error {
	*m = NegotiateRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == reqCameraID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.CameraID = uint32(v)
			return n, nil
		case num == reqFacing && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Facing = uint32(v)
			return n, nil
		case num == reqDescriptor && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.Descriptor = clone(v)
			return n, nil
		case num == reqRegionID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.RegionID = v
			return n, nil
		case num == reqRegionSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.RegionSize = v
			return n, nil
		case num == reqRegionData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.RegionData = clone(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// MarshalWire encodes the response.
func (m *NegotiateResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendVarint(b, respStatus, uint64(int64(m.Status)))
	b = appendBytes(b, respDescriptor, m.Descriptor)
	if m.Replaced {
		b = appendVarint(b, respReplaced, protowire.EncodeBool(true))
	}
	b = appendVarint(b, respRegionSize, m.RegionSize)
	b = appendBytes(b, respRegionData, m.RegionData)
	return b, nil
}

// UnmarshalWire decodes the response, skipping unknown fields.
func (m *NegotiateResponse) UnmarshalWire(b []byte) error {
	*m = NegotiateResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == respStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Status = int32(v)
			return n, nil
		case num == respDescriptor && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.Descriptor = clone(v)
			return n, nil
		case num == respReplaced && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Replaced = protowire.DecodeBool(v)
			return n, nil
		case num == respRegionSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.RegionSize = v
			return n, nil
		case num == respRegionData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.RegionData = clone(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("capsvc: %w", protowire.ParseError(n))
		}
		b = b[n:]

		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("capsvc: field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
