package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServletIDRoundTrip(t *testing.T) {
	id := MakeServletID(0x1234, 0x5678)
	assert.Equal(t, uint16(0x1234), ServletType(id))
	assert.Equal(t, uint16(0x5678), ServletSubID(id))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	hdr := Header{ServletID: MakeServletID(7, 1), Seq: 42, Size: 3}
	payload := []byte("abc")

	buf := Encode(nil, hdr, payload)
	require.Len(t, buf, HeaderSize+3)

	got, body, consumed, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, hdr, got)
	assert.Equal(t, payload, body)
	assert.Equal(t, len(buf), consumed)
}

func TestDecode_ShortHeaderWaitsForMore(t *testing.T) {
	_, _, _, err := Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecode_ShortPayloadWaitsForMore(t *testing.T) {
	hdr := Header{ServletID: 1, Seq: 1, Size: 10}
	buf := Encode(nil, hdr, make([]byte, 10))
	_, _, _, err := Decode(buf[:HeaderSize+4])
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecode_ParsesMultipleFramesFromOneBuffer(t *testing.T) {
	var buf []byte
	buf = Encode(buf, Header{ServletID: 1, Seq: 1, Size: 2}, []byte("hi"))
	buf = Encode(buf, Header{ServletID: 2, Seq: 2, Size: 3}, []byte("bye"))

	hdr1, body1, n1, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body1))

	hdr2, body2, n2, err := Decode(buf[n1:])
	require.NoError(t, err)
	assert.Equal(t, "bye", string(body2))

	assert.Equal(t, uint32(1), hdr1.Seq)
	assert.Equal(t, uint32(2), hdr2.Seq)
	assert.Equal(t, len(buf), n1+n2)
}

func TestResponseCode_RoundTrip(t *testing.T) {
	payload := EncodeResponseCode(-5, []byte("oops"))
	rc, body, err := DecodeResponseCode(payload)
	require.NoError(t, err)
	assert.Equal(t, int32(-5), rc)
	assert.Equal(t, "oops", string(body))
}

func TestDecodeResponseCode_ShortPayload(t *testing.T) {
	_, _, err := DecodeResponseCode([]byte{0, 1})
	assert.ErrorIs(t, err, ErrShortBuffer)
}
