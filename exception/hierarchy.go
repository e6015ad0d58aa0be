package exception

import (
	"github.com/go-faster/errors"
	"github.com/hashicorp/go-multierror"
	"sort"
)

// Hierarchy is the set of exception types a process understands.
// It is read-only after construction and may be shared by any number of
// goroutines without locking.
type Hierarchy struct {
	types map[string]*Type
	root  *Type
}

// NewHierarchy validates the definitions and links them into a tree.
// Every problem found is reported, not just the first one.
func NewHierarchy(defs []Definition) (*Hierarchy, error) {
	var result *multierror.Error

	byID := make(map[string]Definition, len(defs))
	for i, d := range defs {
		if d.ID == "" {
			result = multierror.Append(result, errors.Errorf("definition %d: empty type id", i))
			continue
		}
		if _, dup := byID[d.ID]; dup {
			result = multierror.Append(result, errors.Errorf("%s: duplicate type id", d.ID))
			continue
		}
		byID[d.ID] = d
	}

	var roots []string
	for id, d := range byID {
		switch {
		case d.Parent == "":
			roots = append(roots, id)
		case d.Parent == id:
			result = multierror.Append(result, errors.Errorf("%s: type is its own parent", id))
		default:
			if _, ok := byID[d.Parent]; !ok {
				result = multierror.Append(result, errors.Errorf("%s: unknown parent %s", id, d.Parent))
			}
		}
	}
	sort.Strings(roots)
	switch len(roots) {
	case 0:
		result = multierror.Append(result, errors.New("schema has no root type"))
	case 1:
	default:
		result = multierror.Append(result, errors.Errorf("schema has %d root types %v, want exactly one", len(roots), roots))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	h := &Hierarchy{types: make(map[string]*Type, len(byID))}
	visiting := make(map[string]bool)

	var build func(id string) (*Type, error)
	build = func(id string) (*Type, error) {
		if t, ok := h.types[id]; ok {
			return t, nil
		}
		if visiting[id] {
			return nil, errors.Errorf("%s: inheritance cycle", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		d := byID[id]
		t := &Type{id: id, preserve: d.Preserve}
		if d.Parent != "" {
			parent, err := build(d.Parent)
			if err != nil {
				return nil, err
			}
			t.parent = parent
			t.depth = parent.depth + 1
		}
		for _, fd := range d.Fields {
			kind, err := ParseFieldKind(fd.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", id, fd.Name)
			}
			if fd.Name == "" {
				return nil, errors.Errorf("%s: field with empty name", id)
			}
			if _, taken := t.field(fd.Name); taken {
				return nil, errors.Errorf("%s.%s: field name already declared along the ancestor chain", id, fd.Name)
			}
			t.fields = append(t.fields, Field{Name: fd.Name, Kind: kind})
		}
		h.types[id] = t
		return t, nil
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := build(id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	h.root = h.types[roots[0]]
	return h, nil
}

// Root returns the common ancestor every peer understands.
func (h *Hierarchy) Root() *Type { return h.root }

// Len returns the number of known types.
func (h *Hierarchy) Len() int { return len(h.types) }

// Knows reports whether id is part of this hierarchy.
func (h *Hierarchy) Knows(id string) bool {
	_, ok := h.types[id]
	return ok
}

// Lookup returns the type registered under id. A miss is reported as
// *UnknownTypeError, which decoders treat as the trigger for slicing.
func (h *Hierarchy) Lookup(id string) (*Type, error) {
	if t, ok := h.types[id]; ok {
		return t, nil
	}
	return nil, &UnknownTypeError{TypeID: id}
}

// IsAncestor reports whether ancestor is a strict ancestor of descendant.
func (h *Hierarchy) IsAncestor(ancestor, descendant string) (bool, error) {
	a, err := h.Lookup(ancestor)
	if err != nil {
		return false, err
	}
	d, err := h.Lookup(descendant)
	if err != nil {
		return false, err
	}
	for cur := d.parent; cur != nil; cur = cur.parent {
		if cur == a {
			return true, nil
		}
	}
	return false, nil
}

// IDs returns every known type id in sorted order.
func (h *Hierarchy) IDs() []string {
	ids := make([]string, 0, len(h.types))
	for id := range h.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subset returns the knowledge set made of ids, their ancestors and the root.
// It shares the immutable Type values of h.
func (h *Hierarchy) Subset(ids ...string) (*Hierarchy, error) {
	sub := &Hierarchy{types: map[string]*Type{h.root.id: h.root}, root: h.root}
	for _, id := range ids {
		t, err := h.Lookup(id)
		if err != nil {
			return nil, err
		}
		for cur := t; cur != nil; cur = cur.parent {
			sub.types[cur.id] = cur
		}
	}
	return sub, nil
}

// New creates an exception of type id. See Exception for the field rules.
func (h *Hierarchy) New(id string, fields Fields) (*Exception, error) {
	t, err := h.Lookup(id)
	if err != nil {
		return nil, err
	}
	return New(t, fields)
}

// MustNew is like New but panics on error. It is meant for handlers raising
// exceptions of types fixed at compile time.
func (h *Hierarchy) MustNew(id string, fields Fields) *Exception {
	e, err := h.New(id, fields)
	if err != nil {
		panic(err)
	}
	return e
}
