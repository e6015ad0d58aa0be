package codec

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec serializes with msgpack. It handles both envelopes and
// call arguments, and is more compact than JSON for []byte payloads,
// which JSON would base64 encode.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
