package protocol

import (
	"bytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeMsgpack,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))

	got, gotBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, header.CodecType, got.CodecType)
	assert.Equal(t, header.MsgType, got.MsgType)
	assert.Equal(t, header.Seq, got.Seq)
	assert.Equal(t, uint32(len(body)), got.BodyLen, "BodyLen is taken from the body")
	assert.Equal(t, body, gotBody)
}

func TestDecodeInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{'m', 'r', 'p', Version, CodecTypeJSON, byte(MsgTypeRequest), 0, 0, 0x30, 0x39, 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{CodecType: CodecTypeJSON, MsgType: MsgTypeHeartbeat, Seq: 1}, nil))

	got, body, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeHeartbeat, got.MsgType)
	assert.Zero(t, got.BodyLen)
	assert.Empty(t, body)

	_, _, err = Decode(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestDecodeRejectsBadHeaders(t *testing.T) {
	frame := func(mod func([]byte)) *bytes.Buffer {
		b := []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeBinary, byte(MsgTypeRequest), 0, 0, 0, 1, 0, 0, 0, 0}
		mod(b)
		return bytes.NewBuffer(b)
	}

	cases := []struct {
		name string
		mod  func([]byte)
		want error
	}{
		{"version", func(b []byte) { b[3] = 0xff }, ErrBadVersion},
		{"codec", func(b []byte) { b[4] = 9 }, ErrBadCodec},
		{"msgType", func(b []byte) { b[5] = 9 }, ErrBadMsgType},
		{"bodyLen", func(b []byte) { b[10] = 0xff }, ErrBodyTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode(frame(tc.mod))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeResponse}, []byte("abcdef")))
	buf.Truncate(buf.Len() - 2)

	_, _, err := Decode(&buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{CodecType: CodecTypeBinary, MsgType: MsgTypeRequest, Seq: 999}, largeBody))

	_, got, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(largeBody, got))
}
