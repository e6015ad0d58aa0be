package slicing

import (
	"bytes"
	"github.com/go-faster/errors"
	"github.com/vmihailenco/msgpack/v5"
	"slice-rpc/exception"
)

// Encoder turns exceptions into slices. It holds no mutable state and may be
// shared between goroutines.
type Encoder struct {
	format Format
}

// NewEncoder returns an encoder writing the given format.
func NewEncoder(format Format) *Encoder {
	return &Encoder{format: format}
}

// Encode writes e in the sliced format.
func Encode(e *exception.Exception) ([]byte, error) {
	return NewEncoder(FormatSliced).Encode(e)
}

// Encode writes one slice per level of e's type, most-derived first, each
// carrying that level's own fields; the root slice is flagged last.
//
// Slices e preserved from an earlier decode are written first, byte for
// byte, because this process cannot rebuild their fields. Preserved slices
// force the sliced format: without sizes nobody could skip them.
func (enc *Encoder) Encode(e *exception.Exception) ([]byte, error) {
	if e == nil {
		return nil, errors.New("encode: nil exception")
	}
	preserved := e.Preserved()

	var sized byte
	if enc.format == FormatSliced || len(preserved) > 0 {
		sized = flagHasSize
	}

	var (
		out []byte
		err error
	)
	for _, s := range preserved {
		if out, err = appendSlice(out, flagHasSize, s.TypeID, s.Payload); err != nil {
			return nil, errors.Wrap(err, "encode preserved slice")
		}
	}

	var payload bytes.Buffer
	pe := msgpack.NewEncoder(&payload)
	chain := e.Type().Chain()
	for i, t := range chain {
		payload.Reset()
		if err := encodeFields(pe, t, e); err != nil {
			return nil, errors.Wrapf(err, "encode %s", t.ID())
		}
		flags := sized
		if i == len(chain)-1 {
			flags |= flagIsLast
		}
		if out, err = appendSlice(out, flags, t.ID(), payload.Bytes()); err != nil {
			return nil, errors.Wrapf(err, "encode %s", t.ID())
		}
	}
	return out, nil
}
