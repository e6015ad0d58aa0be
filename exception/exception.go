package exception

import (
	"bytes"
	"fmt"
	"github.com/go-faster/errors"
	"sort"
	"strings"
)

// Fields maps field names to values.
type Fields map[string]any

// RawSlice is a slice this process could not interpret, kept verbatim.
type RawSlice struct {
	TypeID  string
	Payload []byte
}

// Exception is an instance of a Type. It implements error so handlers can
// simply return it.
//
// Field values are normalized on construction: every integer becomes int64,
// every float float64. Names not declared along the type's chain are
// rejected, and declared fields that are absent take their zero value.
type Exception struct {
	typ       *Type
	fields    Fields
	preserved []RawSlice
}

// New creates an exception of type t.
func New(t *Type, fields Fields) (*Exception, error) {
	if t == nil {
		return nil, errors.New("exception: nil type")
	}
	e := &Exception{typ: t, fields: make(Fields)}
	for name, v := range fields {
		f, ok := t.field(name)
		if !ok {
			return nil, errors.Errorf("%s: no field %q", t.id, name)
		}
		nv, err := normalize(f.Kind, v)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", t.id, name)
		}
		e.fields[name] = nv
	}
	for _, level := range t.Chain() {
		for _, f := range level.fields {
			if _, ok := e.fields[f.Name]; !ok {
				e.fields[f.Name] = f.Kind.Zero()
			}
		}
	}
	return e, nil
}

// NewPreserved creates an exception that carries slices received from a peer
// and not understood here. The slices are emitted ahead of the exception's
// own slices when it is encoded again.
func NewPreserved(t *Type, fields Fields, preserved []RawSlice) (*Exception, error) {
	e, err := New(t, fields)
	if err != nil {
		return nil, err
	}
	if len(preserved) > 0 {
		e.preserved = make([]RawSlice, len(preserved))
		for i, s := range preserved {
			e.preserved[i] = RawSlice{TypeID: s.TypeID, Payload: bytes.Clone(s.Payload)}
		}
	}
	return e, nil
}

func normalize(kind FieldKind, v any) (any, error) {
	switch kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindFloat:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case KindBytes:
		if b, ok := v.([]byte); ok {
			return bytes.Clone(b), nil
		}
	}
	return nil, errors.Errorf("value %v (%T) is not a %s", v, v, kind)
}

// Type returns the type the exception was constructed or reconstructed as.
func (e *Exception) Type() *Type { return e.typ }

// TypeID returns the id of Type.
func (e *Exception) TypeID() string { return e.typ.id }

// InstanceOf reports whether the exception would be caught as id.
func (e *Exception) InstanceOf(id string) bool { return e.typ.Is(id) }

// Field returns the value of name.
func (e *Exception) Field(name string) (any, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// String returns a string field, or "" when absent or of another kind.
func (e *Exception) String(name string) string {
	s, _ := e.fields[name].(string)
	return s
}

// Fields returns a copy of all field values.
func (e *Exception) Fields() Fields {
	out := make(Fields, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// Preserved returns the retained slices, most-derived first.
func (e *Exception) Preserved() []RawSlice {
	out := make([]RawSlice, len(e.preserved))
	copy(out, e.preserved)
	return out
}

func (e *Exception) Error() string {
	names := make([]string, 0, len(e.fields))
	for name := range e.fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(e.typ.id)
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", name, e.fields[name])
	}
	b.WriteByte('}')
	if len(e.preserved) > 0 {
		fmt.Fprintf(&b, " (+%d preserved slices)", len(e.preserved))
	}
	return b.String()
}
