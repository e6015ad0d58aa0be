// Package codec serializes RPCMessage envelopes into frame bodies.
package codec

type CodecType byte

const (
	CodecTypeJSON    CodecType = 0
	CodecTypeBinary  CodecType = 1
	CodecTypeMsgpack CodecType = 2
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeMsgpack:
		return "msgpack"
	}
	return "unknown"
}

// ParseCodecType maps a config name to a codec type. Unknown names fall back to binary.
func ParseCodecType(name string) CodecType {
	switch name {
	case "json":
		return CodecTypeJSON
	case "msgpack":
		return CodecTypeMsgpack
	}
	return CodecTypeBinary
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary, 2=Msgpack
}

func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}
	case CodecTypeMsgpack:
		return &MsgpackCodec{}
	}
	return &BinaryCodec{}
}

// PayloadCodec returns the codec used for call arguments and replies carried
// inside an envelope of type t. The binary codec only frames envelopes, so
// it pairs with JSON payloads.
func PayloadCodec(t CodecType) Codec {
	if t == CodecTypeMsgpack {
		return &MsgpackCodec{}
	}
	return &JSONCodec{}
}
