// Package wire implements the fixed-order frame codec specified in
// spec.md §6: servlet_id (u32) | seq (u32) | size (u32) | payload. Byte
// order is big-endian; this module is the embedder choosing concrete
// widths/order, held stable cluster-wide per spec.md §6.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed byte length of the frame header (excludes
// payload).
const HeaderSize = 4 + 4 + 4

// ErrShortBuffer is returned by Decode when buf does not yet contain a
// complete frame; callers should wait for more bytes to arrive.
var ErrShortBuffer = errors.New("wire: incomplete frame")

// ServletType extracts the high 16 bits of a servlet id (spec.md §3,
// §6: "top 16 bits of a 32-bit servlet-id encode the type").
func ServletType(servletID uint32) uint16 { return uint16(servletID >> 16) }

// ServletSubID extracts the low 16 opaque bits of a servlet id.
func ServletSubID(servletID uint32) uint16 { return uint16(servletID) }

// MakeServletID composes a servlet id from its type and sub-id.
func MakeServletID(typ, sub uint16) uint32 { return uint32(typ)<<16 | uint32(sub) }

// Header is the fixed-order frame preamble.
type Header struct {
	ServletID uint32
	Seq       uint32
	Size      uint32
}

// Encode appends the wire representation of (hdr, payload) to dst and
// returns the extended slice. len(payload) must equal hdr.Size.
func Encode(dst []byte, hdr Header, payload []byte) []byte {
	var b [HeaderSize]byte
	binary.BigEndian.PutUint32(b[0:4], hdr.ServletID)
	binary.BigEndian.PutUint32(b[4:8], hdr.Seq)
	binary.BigEndian.PutUint32(b[8:12], uint32(len(payload)))
	dst = append(dst, b[:]...)
	dst = append(dst, payload...)
	return dst
}

// Decode attempts to parse one frame from the front of buf. On
// success it returns the header, a sub-slice of buf holding the
// payload (valid only until buf is next mutated — callers that need
// it to outlive that must copy it, typically into a Context's scratch
// arena), the number of bytes consumed, and a nil error. If buf does
// not yet hold a complete frame, it returns ErrShortBuffer and callers
// must wait for more bytes (spec.md §4.H.5: "parse as many whole
// frames as the input buffer contains").
func Decode(buf []byte) (hdr Header, payload []byte, consumed int, err error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, 0, ErrShortBuffer
	}
	hdr.ServletID = binary.BigEndian.Uint32(buf[0:4])
	hdr.Seq = binary.BigEndian.Uint32(buf[4:8])
	hdr.Size = binary.BigEndian.Uint32(buf[8:12])
	total := HeaderSize + int(hdr.Size)
	if len(buf) < total {
		return Header{}, nil, 0, ErrShortBuffer
	}
	return hdr, buf[HeaderSize:total], total, nil
}

// ResponseCodeSize is the width of the rc field a response payload
// begins with (spec.md §6: "the payload begins with a response-code
// (rc) field that the core reads before invoking response parsing").
const ResponseCodeSize = 4

// DecodeResponseCode reads the rc prefix from a response payload and
// returns it alongside the remaining body bytes.
func DecodeResponseCode(payload []byte) (rc int32, body []byte, err error) {
	if len(payload) < ResponseCodeSize {
		return 0, nil, ErrShortBuffer
	}
	return int32(binary.BigEndian.Uint32(payload[0:4])), payload[ResponseCodeSize:], nil
}

// EncodeResponseCode prepends an rc field to a response body.
func EncodeResponseCode(rc int32, body []byte) []byte {
	out := make([]byte, ResponseCodeSize+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(rc))
	copy(out[ResponseCodeSize:], body)
	return out
}
