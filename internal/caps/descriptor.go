package caps

import (
	"encoding/binary"
	"errors"
)

// DescriptorSize is the fixed size of a transfer descriptor.
const DescriptorSize = 0x198

// Descriptor is the fixed-size block produced by Prepare and consumed by
// Finalize.
type Descriptor [DescriptorSize]byte

// Reset zeroes the descriptor.
func (d *Descriptor) Reset() {
	*d = Descriptor{}
}

// Transfer holds the two copies of the descriptor that exist during one
// acquisition. The local copy is the canonical one: it is prepared by the
// capability object and later finalized. The wire copy is the only one the
// remote service gets to see or mutate.
type Transfer struct {
	local Descriptor
	wire  Descriptor
}

// Local returns the canonical, locally prepared descriptor.
func (t *Transfer) Local() *Descriptor { return &t.local }

// Wire returns the descriptor handed to the remote service.
func (t *Transfer) Wire() *Descriptor { return &t.wire }

// Seal copies the prepared local descriptor into the wire copy.
func (t *Transfer) Seal() {
	t.wire = t.local
}

// Header layout used by capability implementations in this module.
//
//	0x00 magic   uint32
//	0x04 version uint16
//	0x06 flags   uint16
//	0x08 camera  uint32
//	0x0c facing  uint32
//	0x10 length  uint32  payload bytes following the header
const (
	DescriptorMagic   uint32 = 0x53504143 // "CAPS" little endian
	DescriptorVersion uint16 = 1
	HeaderSize               = 0x14
	MaxPayload               = DescriptorSize - HeaderSize
)

var (
	ErrBadMagic        = errors.New("descriptor: bad magic")
	ErrBadVersion      = errors.New("descriptor: unsupported version")
	ErrPayloadTooLarge = errors.New("descriptor: payload does not fit")
)

// Header is the decoded descriptor header.
type Header struct {
	Version uint16
	Flags   uint16
	Index   CameraIndex
	Length  uint32
}

// PutHeader writes h and payload into d.
func (d *Descriptor) PutHeader(h Header, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	le := binary.LittleEndian
	le.PutUint32(d[0x00:], DescriptorMagic)
	le.PutUint16(d[0x04:], h.Version)
	le.PutUint16(d[0x06:], h.Flags)
	le.PutUint32(d[0x08:], h.Index.ID)
	le.PutUint32(d[0x0c:], h.Index.Facing)
	le.PutUint32(d[0x10:], uint32(len(payload)))
	copy(d[HeaderSize:], payload)
	return nil
}

// ReadHeader decodes the header of d and returns it with its payload.
func (d *Descriptor) ReadHeader() (Header, []byte, error) {
	le := binary.LittleEndian
	if le.Uint32(d[0x00:]) != DescriptorMagic {
		return Header{}, nil, ErrBadMagic
	}
	h := Header{
		Version: le.Uint16(d[0x04:]),
		Flags:   le.Uint16(d[0x06:]),
		Index: CameraIndex{
			ID:     le.Uint32(d[0x08:]),
			Facing: le.Uint32(d[0x0c:]),
		},
		Length: le.Uint32(d[0x10:]),
	}
	if h.Version != DescriptorVersion {
		return h, nil, ErrBadVersion
	}
	if h.Length > MaxPayload {
		return h, nil, ErrPayloadTooLarge
	}
	return h, d[HeaderSize : HeaderSize+int(h.Length)], nil
}
