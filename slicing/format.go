// Package slicing implements the wire encoding of exceptions.
//
// An exception travels as a sequence of slices, one per hierarchy level,
// most-derived first and root last:
//
//	┌───────┬────────────┬────────┬──────────┬───────────────┐
//	│ flags │ typeId len │ typeId │ size     │ payload ...   │
//	│ u8    │ u16 BE     │        │ u32 BE * │ msgpack fields│
//	└───────┴────────────┴────────┴──────────┴───────────────┘
//	* present only when flags has 0x10 (sliced format)
//
// The payload holds only the fields declared at that level, in declaration
// order. A receiver walks the slices until it finds a type it knows and
// reconstructs that type from the remaining slices. Skipping unknown slices
// needs their size, so the compact format (no sizes) can only be decoded by
// a receiver that knows the most-derived type.
package slicing

import (
	"encoding/binary"
	"github.com/go-faster/errors"
)

// Format selects how slices are framed.
type Format byte

const (
	// FormatSliced writes a size for every slice. Receivers can skip and
	// preserve slices they do not understand.
	FormatSliced Format = iota
	// FormatCompact omits sizes. Smaller, but cannot be sliced.
	FormatCompact
)

func (f Format) String() string {
	switch f {
	case FormatSliced:
		return "sliced"
	case FormatCompact:
		return "compact"
	}
	return "unknown"
}

const (
	flagHasSize byte = 0x10
	flagIsLast  byte = 0x20
	flagMask         = flagHasSize | flagIsLast

	maxTypeIDLen = 1<<16 - 1
)

// ErrCorruptWireData reports malformed slice framing. It is fatal to the
// call and must not be retried: the payload cannot be parsed.
var ErrCorruptWireData = errors.New("corrupt exception wire data")

func corrupt(format string, args ...any) error {
	return errors.Wrapf(ErrCorruptWireData, format, args...)
}

// sliceHeader is the framing of one slice, payload excluded.
type sliceHeader struct {
	index  int
	flags  byte
	typeID string
	size   int // -1 without flagHasSize
}

func (h sliceHeader) sized() bool { return h.flags&flagHasSize != 0 }
func (h sliceHeader) last() bool  { return h.flags&flagIsLast != 0 }

// reader walks an encoded exception.
type reader struct {
	data  []byte
	pos   int
	count int
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) header() (sliceHeader, error) {
	h := sliceHeader{index: r.count, size: -1}
	r.count++
	if r.remaining() < 3 {
		return h, corrupt("slice %d: truncated header at offset %d", h.index, r.pos)
	}
	h.flags = r.data[r.pos]
	if h.flags&^flagMask != 0 {
		return h, corrupt("slice %d: unknown flags %#x", h.index, h.flags)
	}
	idLen := int(binary.BigEndian.Uint16(r.data[r.pos+1 : r.pos+3]))
	r.pos += 3
	if idLen == 0 {
		return h, corrupt("slice %d: empty type id", h.index)
	}
	if r.remaining() < idLen {
		return h, corrupt("slice %d: truncated type id", h.index)
	}
	h.typeID = string(r.data[r.pos : r.pos+idLen])
	r.pos += idLen
	if h.sized() {
		if r.remaining() < 4 {
			return h, corrupt("slice %d (%s): truncated size", h.index, h.typeID)
		}
		h.size = int(binary.BigEndian.Uint32(r.data[r.pos : r.pos+4]))
		r.pos += 4
		if r.remaining() < h.size {
			return h, corrupt("slice %d (%s): payload of %d bytes, only %d left", h.index, h.typeID, h.size, r.remaining())
		}
	}
	return h, nil
}

// take consumes the payload of a sized slice.
func (r *reader) take(h sliceHeader) []byte {
	p := r.data[r.pos : r.pos+h.size]
	r.pos += h.size
	return p
}

// MostDerivedTypeID returns the type id of the first slice without decoding
// anything else.
func MostDerivedTypeID(data []byte) (string, error) {
	r := &reader{data: data}
	h, err := r.header()
	if err != nil {
		return "", err
	}
	return h.typeID, nil
}

func appendSlice(buf []byte, flags byte, typeID string, payload []byte) ([]byte, error) {
	if len(typeID) == 0 || len(typeID) > maxTypeIDLen {
		return nil, errors.Errorf("type id %q: length %d out of range", typeID, len(typeID))
	}
	buf = append(buf, flags)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(typeID)))
	buf = append(buf, typeID...)
	if flags&flagHasSize != 0 {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	}
	return append(buf, payload...), nil
}
