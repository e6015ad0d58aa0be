package codec

import (
	"encoding/binary"
	"github.com/go-faster/errors"
	"slice-rpc/message"
	"unicode/utf8"
)

// ErrShortBuffer is returned when a binary body ends before its declared lengths.
var ErrShortBuffer = errors.New("binary codec: short buffer")

// BinaryCodec lays an RPCMessage out as
//
//	methodLen:u16 | method | status:u8 | payloadLen:u32 | payload | errLen:u16 | error
//
// It only encodes *message.RPCMessage.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errors.Errorf("binary codec: want *message.RPCMessage, got %T", v)
	}
	if len(msg.ServiceMethod) > 0xffff {
		return nil, errors.Errorf("binary codec: service method too long (%d bytes)", len(msg.ServiceMethod))
	}
	errText := truncate(msg.Error, 0xffff)

	buf := make([]byte, 0, 2+len(msg.ServiceMethod)+1+4+len(msg.Payload)+2+len(errText))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.ServiceMethod)))
	buf = append(buf, msg.ServiceMethod...)
	buf = append(buf, byte(msg.Status))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(errText)))
	buf = append(buf, errText...)
	return buf, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errors.Errorf("binary codec: want *message.RPCMessage, got %T", v)
	}

	offset := 0
	next := func(n int) ([]byte, error) {
		if n < 0 || len(data)-offset < n {
			return nil, errors.Wrapf(ErrShortBuffer, "need %d bytes at offset %d, have %d", n, offset, len(data)-offset)
		}
		b := data[offset : offset+n]
		offset += n
		return b, nil
	}

	b, err := next(2)
	if err != nil {
		return err
	}
	if b, err = next(int(binary.BigEndian.Uint16(b))); err != nil {
		return err
	}
	msg.ServiceMethod = string(b)

	if b, err = next(1); err != nil {
		return err
	}
	msg.Status = message.Status(b[0])
	if !msg.Status.Valid() {
		return errors.Errorf("binary codec: invalid status %d", b[0])
	}

	if b, err = next(4); err != nil {
		return err
	}
	if b, err = next(int(binary.BigEndian.Uint32(b))); err != nil {
		return err
	}
	msg.Payload = append([]byte(nil), b...)

	if b, err = next(2); err != nil {
		return err
	}
	if b, err = next(int(binary.BigEndian.Uint16(b))); err != nil {
		return err
	}
	msg.Error = string(b)

	if offset != len(data) {
		return errors.Errorf("binary codec: %d trailing bytes", len(data)-offset)
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
