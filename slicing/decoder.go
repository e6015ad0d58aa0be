package slicing

import (
	"slice-rpc/exception"
)

// Decoder reconstructs exceptions against the set of types this process
// knows. Like the Hierarchy it wraps, it is safe for concurrent use.
type Decoder struct {
	known *exception.Hierarchy
}

// NewDecoder returns a decoder for the given knowledge set.
func NewDecoder(known *exception.Hierarchy) *Decoder {
	return &Decoder{known: known}
}

// Decode reconstructs the best locally representable exception.
//
// The first slice whose type is known decides the result: when it is the
// very first slice the exact type comes back, otherwise the exception is
// sliced to that ancestor. Unknown slices read before it are kept in the
// result when the type is preserving and dropped otherwise.
//
// The result does not remember the format it arrived in. Re-encoding it
// reproduces data byte for byte only with an Encoder of that same format;
// Encode always writes the sliced format.
//
// Errors:
//   - *exception.UnknownUserError when no slice type is known, or when an
//     unknown slice has no size (compact format) and cannot be skipped;
//   - ErrCorruptWireData for any framing problem.
func (d *Decoder) Decode(data []byte) (*exception.Exception, error) {
	r := &reader{data: data}
	var (
		unknown []exception.RawSlice
		firstID string
	)
	for {
		h, err := r.header()
		if err != nil {
			return nil, err
		}
		if firstID == "" {
			firstID = h.typeID
		}
		if t, err := d.known.Lookup(h.typeID); err == nil {
			return d.reconstruct(r, h, t, unknown)
		}
		if !h.sized() {
			return nil, exception.NewUnknownUserError(firstID, data)
		}
		unknown = append(unknown, exception.RawSlice{TypeID: h.typeID, Payload: r.take(h)})
		if h.last() {
			if r.remaining() != 0 {
				return nil, corrupt("%d trailing bytes after last slice", r.remaining())
			}
			return nil, exception.NewUnknownUserError(firstID, data)
		}
	}
}

// reconstruct reads the slices of t and of each of its ancestors. h is the
// already-read header of t's own slice.
func (d *Decoder) reconstruct(r *reader, h sliceHeader, t *exception.Type, unknown []exception.RawSlice) (*exception.Exception, error) {
	fields := make(exception.Fields)
	for i, level := range t.Chain() {
		if i > 0 {
			if h.last() {
				return nil, corrupt("slice %d (%s): flagged last before root %s", h.index, h.typeID, d.known.Root().ID())
			}
			var err error
			if h, err = r.header(); err != nil {
				return nil, err
			}
			if h.typeID != level.ID() {
				return nil, corrupt("slice %d: got %s, want %s", h.index, h.typeID, level.ID())
			}
		}
		if err := r.readFields(h, level, fields); err != nil {
			return nil, err
		}
	}
	if !h.last() {
		return nil, corrupt("slice %d (%s): root slice not flagged last", h.index, h.typeID)
	}
	if r.remaining() != 0 {
		return nil, corrupt("%d trailing bytes after last slice", r.remaining())
	}

	var preserved []exception.RawSlice
	if t.Preserving() {
		preserved = unknown
	}
	e, err := exception.NewPreserved(t, fields, preserved)
	if err != nil {
		return nil, corrupt("%s: %v", t.ID(), err)
	}
	return e, nil
}
