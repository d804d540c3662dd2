// Package catalog declares the stepline document types and the hooks that
// build or adjust them.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"stepline/internal/schema"
)

//go:embed types.yml
var typesYAML []byte

// Type names registered by the catalog.
const (
	Permissions     = "permissions"
	Ranks           = "ranks"
	Users           = "users"
	Comments        = "comments"
	Tasks           = "tasks"
	Waive           = "waive"
	Modules         = "modules"
	Projects        = "projects"
	TaskTemplates   = "taskTemplates"
	ModuleTemplates = "moduleTemplates"
)

type typeDef struct {
	Name            string            `yaml:"name"`
	Collection      string            `yaml:"collection"`
	CreateTimestamp bool              `yaml:"createTimestamp"`
	UpdateTimestamp bool              `yaml:"updateTimestamp"`
	Fields          []schema.FieldDef `yaml:"fields"`
}

type catalogFile struct {
	Types []typeDef `yaml:"types"`
}

// Load builds and resolves the registry of built-in types.
func Load() (*schema.Registry, error) {
	return Parse(typesYAML)
}

// Parse builds a resolved registry from a YAML type catalog.
func Parse(data []byte) (*schema.Registry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode type catalog: %w", err)
	}
	reg := schema.NewRegistry()
	for _, t := range f.Types {
		s, err := schema.Build(t.Name, t.Fields, schema.Options{
			Collection:      t.Collection,
			CreateTimestamp: t.CreateTimestamp,
			UpdateTimestamp: t.UpdateTimestamp,
		})
		if err != nil {
			return nil, err
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	if err := reg.ResolveDependencies(); err != nil {
		return nil, err
	}
	return reg, nil
}
