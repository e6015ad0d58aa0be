package slicing

import (
	"bytes"
	"github.com/go-faster/errors"
	"github.com/vmihailenco/msgpack/v5"
	"slice-rpc/exception"
)

// encodeFields writes the fields declared at level t, in declaration order.
func encodeFields(enc *msgpack.Encoder, t *exception.Type, e *exception.Exception) error {
	for _, f := range t.Fields() {
		v, _ := e.Field(f.Name)
		var err error
		switch f.Kind {
		case exception.KindString:
			s, _ := v.(string)
			err = enc.EncodeString(s)
		case exception.KindInt:
			n, _ := v.(int64)
			err = enc.EncodeInt(n)
		case exception.KindBool:
			b, _ := v.(bool)
			err = enc.EncodeBool(b)
		case exception.KindFloat:
			x, _ := v.(float64)
			err = enc.EncodeFloat64(x)
		case exception.KindBytes:
			b, _ := v.([]byte)
			if b == nil {
				b = []byte{}
			}
			err = enc.EncodeBytes(b)
		default:
			err = errors.Errorf("unsupported kind %s", f.Kind)
		}
		if err != nil {
			return errors.Wrap(err, f.Name)
		}
	}
	return nil
}

// decodeFields reads the fields declared at level t into out.
func decodeFields(dec *msgpack.Decoder, t *exception.Type, out exception.Fields) error {
	for _, f := range t.Fields() {
		var (
			v   any
			err error
		)
		switch f.Kind {
		case exception.KindString:
			v, err = dec.DecodeString()
		case exception.KindInt:
			v, err = dec.DecodeInt64()
		case exception.KindBool:
			v, err = dec.DecodeBool()
		case exception.KindFloat:
			v, err = dec.DecodeFloat64()
		case exception.KindBytes:
			var b []byte
			b, err = dec.DecodeBytes()
			if b == nil {
				b = []byte{}
			}
			v = b
		default:
			err = errors.Errorf("unsupported kind %s", f.Kind)
		}
		if err != nil {
			return errors.Wrap(err, f.Name)
		}
		out[f.Name] = v
	}
	return nil
}

// readFields decodes the payload of the slice described by h as level t.
// A sized payload must be consumed exactly; an unsized one is read in place
// and the reader advanced past it.
func (r *reader) readFields(h sliceHeader, t *exception.Type, out exception.Fields) error {
	var src *bytes.Reader
	if h.sized() {
		src = bytes.NewReader(r.take(h))
	} else {
		src = bytes.NewReader(r.data[r.pos:])
	}
	before := src.Len()

	if err := decodeFields(msgpack.NewDecoder(src), t, out); err != nil {
		return corrupt("slice %d (%s): %v", h.index, h.typeID, err)
	}
	if h.sized() {
		if src.Len() != 0 {
			return corrupt("slice %d (%s): %d unread payload bytes", h.index, h.typeID, src.Len())
		}
		return nil
	}
	r.pos += before - src.Len()
	return nil
}
