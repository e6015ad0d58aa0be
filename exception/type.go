// Package exception models typed, multi-level RPC exceptions.
//
// A Hierarchy is a single-rooted tree of exception Types loaded once from a
// schema. Each Type declares its own fields; an Exception value of a Type
// carries the fields of every level from the Type up to the root:
//
//	::Test::Base            { b }
//	  └─ ::Test::KnownIntermediate   { ki }
//	       └─ ::Test::KnownMostDerived  { kmd }
//
// Peers rarely share the same Hierarchy. A receiver that does not know the
// most-derived type of an exception reconstructs the nearest ancestor it does
// know (see package slicing); a Type declared with Preserve keeps the slices
// it could not understand so they can be forwarded byte-for-byte.
package exception

import (
	"fmt"
	"strings"
)

// FieldKind is the semantic type of a field.
type FieldKind byte

const (
	KindString FieldKind = iota
	KindInt              // int64
	KindBool
	KindFloat // float64
	KindBytes
)

var kindNames = map[FieldKind]string{
	KindString: "string",
	KindInt:    "int",
	KindBool:   "bool",
	KindFloat:  "float",
	KindBytes:  "bytes",
}

func (k FieldKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FieldKind(%d)", byte(k))
}

// ParseFieldKind maps a schema type name onto a FieldKind.
func ParseFieldKind(name string) (FieldKind, error) {
	for k, n := range kindNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", name)
}

// Zero returns the zero value of the kind in its normalized Go representation.
func (k FieldKind) Zero() any {
	switch k {
	case KindInt:
		return int64(0)
	case KindBool:
		return false
	case KindFloat:
		return float64(0)
	case KindBytes:
		return []byte{}
	default:
		return ""
	}
}

// Field is one declared field of a Type.
type Field struct {
	Name string
	Kind FieldKind
}

// Type is a node of the Hierarchy. Types are immutable once the Hierarchy
// that owns them is built.
type Type struct {
	id       string
	parent   *Type
	fields   []Field
	preserve bool
	depth    int // root is 0
}

// ID returns the globally unique type identifier, e.g. "::Test::Base".
func (t *Type) ID() string { return t.id }

// Parent returns the direct ancestor, or nil for the root.
func (t *Type) Parent() *Type { return t.parent }

// Fields returns the fields declared at this level only.
func (t *Type) Fields() []Field {
	out := make([]Field, len(t.fields))
	copy(out, t.fields)
	return out
}

// Depth returns the number of ancestors between t and the root.
func (t *Type) Depth() int { return t.depth }

// Preserving reports whether slices this process cannot interpret are kept
// when an exception is reconstructed as t. The flag is inherited: a type
// preserves when it or any of its ancestors was declared with Preserve.
func (t *Type) Preserving() bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur.preserve {
			return true
		}
	}
	return false
}

// Chain returns t and its ancestors, most-derived first, root last.
func (t *Type) Chain() []*Type {
	chain := make([]*Type, 0, t.depth+1)
	for cur := t; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	return chain
}

// Is reports whether t is id or derives from it.
func (t *Type) Is(id string) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur.id == id {
			return true
		}
	}
	return false
}

// field looks a name up along the whole chain.
func (t *Type) field(name string) (Field, bool) {
	for cur := t; cur != nil; cur = cur.parent {
		for _, f := range cur.fields {
			if f.Name == name {
				return f, true
			}
		}
	}
	return Field{}, false
}

func (t *Type) String() string { return t.id }
