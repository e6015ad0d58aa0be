package exception

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

const testSchema = `
types:
  - id: "::Test::Base"
    fields:
      - {name: b, type: string}
  - id: "::Test::KnownDerived"
    parent: "::Test::Base"
    fields:
      - {name: kd, type: string}
  - id: "::Test::KnownIntermediate"
    parent: "::Test::Base"
    fields:
      - {name: ki, type: string}
  - id: "::Test::KnownMostDerived"
    parent: "::Test::KnownIntermediate"
    fields:
      - {name: kmd, type: string}
  - id: "::Test::KnownPreserved"
    parent: "::Test::Base"
    preserve: true
    fields:
      - {name: kp, type: string}
  - id: "::Test::KnownPreservedDerived"
    parent: "::Test::KnownPreserved"
    fields:
      - {name: kpd, type: string}
      - {name: count, type: int}
      - {name: ok, type: bool}
      - {name: ratio, type: float}
      - {name: blob, type: bytes}
`

func testHierarchy(t *testing.T) *Hierarchy {
	t.Helper()
	h, err := ParseSchema([]byte(testSchema))
	require.NoError(t, err)
	return h
}

func TestParseSchema(t *testing.T) {
	h := testHierarchy(t)

	assert.Equal(t, 6, h.Len())
	assert.Equal(t, "::Test::Base", h.Root().ID())
	assert.Nil(t, h.Root().Parent())

	kmd, err := h.Lookup("::Test::KnownMostDerived")
	require.NoError(t, err)
	assert.Equal(t, 2, kmd.Depth())
	assert.Equal(t, []Field{{Name: "kmd", Kind: KindString}}, kmd.Fields())

	var ids []string
	for _, level := range kmd.Chain() {
		ids = append(ids, level.ID())
	}
	assert.Equal(t, []string{"::Test::KnownMostDerived", "::Test::KnownIntermediate", "::Test::Base"}, ids)
}

func TestLookupUnknown(t *testing.T) {
	h := testHierarchy(t)

	_, err := h.Lookup("::Test::UnknownDerived")
	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "::Test::UnknownDerived", unknown.TypeID)
	assert.False(t, h.Knows("::Test::UnknownDerived"))
}

func TestIsAncestor(t *testing.T) {
	h := testHierarchy(t)

	cases := []struct {
		ancestor, descendant string
		want                 bool
	}{
		{"::Test::Base", "::Test::KnownMostDerived", true},
		{"::Test::KnownIntermediate", "::Test::KnownMostDerived", true},
		{"::Test::KnownDerived", "::Test::KnownMostDerived", false},
		{"::Test::KnownMostDerived", "::Test::KnownMostDerived", false},
		{"::Test::KnownMostDerived", "::Test::Base", false},
	}
	for _, tc := range cases {
		got, err := h.IsAncestor(tc.ancestor, tc.descendant)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s <- %s", tc.ancestor, tc.descendant)
	}

	_, err := h.IsAncestor("::Test::Nope", "::Test::Base")
	assert.Error(t, err)
}

func TestPreservingIsInherited(t *testing.T) {
	h := testHierarchy(t)

	for id, want := range map[string]bool{
		"::Test::Base":                  false,
		"::Test::KnownMostDerived":      false,
		"::Test::KnownPreserved":        true,
		"::Test::KnownPreservedDerived": true,
	} {
		typ, err := h.Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, want, typ.Preserving(), id)
	}
}

func TestSubsetIsAncestorClosed(t *testing.T) {
	h := testHierarchy(t)

	k, err := h.Subset("::Test::KnownMostDerived")
	require.NoError(t, err)
	assert.Equal(t, []string{"::Test::Base", "::Test::KnownIntermediate", "::Test::KnownMostDerived"}, k.IDs())
	assert.Same(t, h.Root(), k.Root())

	root, err := h.Subset()
	require.NoError(t, err)
	assert.Equal(t, []string{"::Test::Base"}, root.IDs())

	_, err = h.Subset("::Test::Nope")
	assert.Error(t, err)
}

func TestNewHierarchyReportsAllProblems(t *testing.T) {
	_, err := NewHierarchy([]Definition{
		{ID: "A"},
		{ID: "B"},
		{ID: "A"},
		{ID: "C", Parent: "Missing"},
		{ID: "D", Parent: "D"},
	})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "duplicate type id")
	assert.Contains(t, msg, "unknown parent Missing")
	assert.Contains(t, msg, "its own parent")
	assert.Contains(t, msg, "2 root types")
}

func TestNewHierarchyRejectsCycle(t *testing.T) {
	_, err := NewHierarchy([]Definition{
		{ID: "Root"},
		{ID: "X", Parent: "Y"},
		{ID: "Y", Parent: "X"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inheritance cycle")
}

func TestNewHierarchyRejectsShadowedField(t *testing.T) {
	_, err := NewHierarchy([]Definition{
		{ID: "Root", Fields: []FieldDefinition{{Name: "b", Type: "string"}}},
		{ID: "Child", Parent: "Root", Fields: []FieldDefinition{{Name: "b", Type: "int"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already declared")

	_, err = NewHierarchy([]Definition{
		{ID: "Root", Fields: []FieldDefinition{{Name: "b", Type: "decimal"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field type")
}

func TestLoadSchemaFile(t *testing.T) {
	_, err := LoadSchemaFile("testdata/does-not-exist.yaml")
	require.Error(t, err)

	h, err := LoadSchema(strings.NewReader(testSchema))
	require.NoError(t, err)
	assert.True(t, h.Knows("::Test::KnownPreservedDerived"))
}

func TestParseSchemasMerges(t *testing.T) {
	private := []byte(`
types:
  - id: "::Test::ServerPrivateException"
    parent: "::Test::Base"
`)
	h, err := ParseSchemas([]byte(testSchema), private)
	require.NoError(t, err)
	assert.Equal(t, 7, h.Len())
	assert.True(t, h.Knows("::Test::ServerPrivateException"))

	_, err = ParseSchemas([]byte(testSchema), []byte(testSchema))
	assert.ErrorContains(t, err, "duplicate type id")
}
