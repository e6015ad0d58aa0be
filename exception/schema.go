package exception

import (
	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
	"io"
	"os"
)

// Definition declares one exception type in a schema document.
type Definition struct {
	ID       string            `yaml:"id"`
	Parent   string            `yaml:"parent,omitempty"`
	Preserve bool              `yaml:"preserve,omitempty"`
	Fields   []FieldDefinition `yaml:"fields,omitempty"`
}

// FieldDefinition declares a field; Type is one of string, int, bool, float, bytes.
type FieldDefinition struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Schema is the on-disk document:
//
//	types:
//	  - id: "::Test::Base"
//	    fields:
//	      - {name: b, type: string}
//	  - id: "::Test::KnownPreserved"
//	    parent: "::Test::Base"
//	    preserve: true
//	    fields:
//	      - {name: kp, type: string}
type Schema struct {
	Types []Definition `yaml:"types"`
}

// ParseSchema decodes a YAML schema and builds its Hierarchy.
func ParseSchema(data []byte) (*Hierarchy, error) {
	return ParseSchemas(data)
}

// ParseSchemas builds one Hierarchy from several documents, typically a
// schema shared by all peers followed by types private to this process.
func ParseSchemas(docs ...[]byte) (*Hierarchy, error) {
	var defs []Definition
	for i, data := range docs {
		var s Schema
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, errors.Wrapf(err, "decode schema %d", i)
		}
		defs = append(defs, s.Types...)
	}
	return NewHierarchy(defs)
}

// LoadSchema reads a YAML schema from r.
func LoadSchema(r io.Reader) (*Hierarchy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read schema")
	}
	return ParseSchema(data)
}

// LoadSchemaFile reads a YAML schema from path.
func LoadSchemaFile(path string) (*Hierarchy, error) {
	return LoadSchemaFiles(path)
}

// LoadSchemaFiles merges the schemas at paths, as ParseSchemas does.
func LoadSchemaFiles(paths ...string) (*Hierarchy, error) {
	docs := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read schema")
		}
		docs = append(docs, data)
	}
	h, err := ParseSchemas(docs...)
	if err != nil {
		return nil, errors.Wrapf(err, "schema %v", paths)
	}
	return h, nil
}
