package index

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var defaultSchemaYAML []byte

type SchemaField struct {
	Id             string `yaml:"id" json:"id"`
	Label          string `yaml:"label" json:"label"`
	Required       bool   `yaml:"required" json:"required"`
	Type           string `yaml:"type" json:"type"`
	ReferencesType string `yaml:"referencesType,omitempty" json:"referencesType,omitempty"`
}

type RecordKind struct {
	Name   string        `yaml:"name" json:"name"`
	Label  string        `yaml:"label" json:"label"`
	Fields []SchemaField `yaml:"fields" json:"fields"`
}

// Schema is the repository's config.json. The gateway stores and serves
// it but never validates objects against it.
type Schema struct {
	Version string       `yaml:"version" json:"version"`
	Types   []RecordKind `yaml:"types" json:"types"`
}

// DefaultSchema returns a fresh copy of the built-in schema
func DefaultSchema() (*Schema, error) {
	var schema Schema
	if err := yaml.Unmarshal(defaultSchemaYAML, &schema); err != nil {
		return nil, fmt.Errorf("decode default schema: %w", err)
	}
	return &schema, nil
}

func (s *Schema) Kind(name string) (*RecordKind, bool) {
	for i := range s.Types {
		if s.Types[i].Name == name {
			return &s.Types[i], true
		}
	}
	return nil, false
}
