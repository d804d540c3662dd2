// Package schema describes document types: their ordered fields, how each
// field is shaped and which other types it references.
package schema

import (
	"fmt"

	"stepline/internal/errs"
)

const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Field is one resolved field descriptor.
type Field struct {
	Name               string
	Kind               Kind
	Optional           bool
	Default            any
	Hidden             bool
	Dummy              bool
	PreserveWhitespace bool
	HideGetAll         bool
	HideGetID          bool
	HideGetRef         bool
	// Managed fields are stamped by the normalizer, never supplied by callers.
	Managed bool
}

// HasDefault reports whether the field declares a default value.
func (f *Field) HasDefault() bool { return f.Default != nil }

// Options carries per-type settings. An empty Collection marks an
// embedded-data type that is never stored on its own.
type Options struct {
	Collection      string
	CreateTimestamp bool
	UpdateTimestamp bool
}

// Schema is an immutable document type description.
type Schema struct {
	Name            string
	Collection      string
	CreateTimestamp bool
	UpdateTimestamp bool

	fields   []*Field
	byName   map[string]*Field
	foreign  []*Field
	embedded []*Field
	parent   *Field
}

// Build validates defs and returns the schema. Errors are configuration
// errors and should stop the process.
func Build(name string, defs []FieldDef, opts Options) (*Schema, error) {
	const op = "schema.build"
	if name == "" {
		return nil, errs.Internal(op, errs.SchemaMisconfigured, "type name required")
	}
	if opts.Collection != "" && !collectionRe.MatchString(opts.Collection) {
		return nil, errs.Internal(op, errs.SchemaMisconfigured, "%s: invalid collection %q", name, opts.Collection)
	}
	s := &Schema{
		Name:            name,
		Collection:      opts.Collection,
		CreateTimestamp: opts.CreateTimestamp,
		UpdateTimestamp: opts.UpdateTimestamp,
		byName:          map[string]*Field{},
	}
	for _, def := range defs {
		f, err := def.field()
		if err != nil {
			return nil, errs.Internal(op, errs.SchemaMisconfigured, "%s.%s: %v", name, def.Name, err)
		}
		if err := s.add(f); err != nil {
			return nil, err
		}
	}
	if opts.CreateTimestamp {
		if err := s.add(managedTimestamp(FieldCreatedAt)); err != nil {
			return nil, err
		}
	}
	if opts.UpdateTimestamp {
		if err := s.add(managedTimestamp(FieldUpdatedAt)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func managedTimestamp(name string) *Field {
	return &Field{Name: name, Kind: Primitive{Type: String}, Optional: true, Managed: true}
}

func (s *Schema) add(f *Field) error {
	const op = "schema.build"
	if f.Name == FieldID {
		return errs.Internal(op, errs.SchemaMisconfigured, "%s: field name %q is reserved", s.Name, FieldID)
	}
	if _, dup := s.byName[f.Name]; dup {
		return errs.Internal(op, errs.SchemaMisconfigured, "%s: duplicate field %q", s.Name, f.Name)
	}
	switch k := f.Kind.(type) {
	case Primitive:
	case Parent:
		if s.parent != nil {
			return errs.Internal(op, errs.SchemaMisconfigured, "%s: more than one parent field (%s, %s)", s.Name, s.parent.Name, f.Name)
		}
		s.parent = f
	case Embedded:
		s.embedded = append(s.embedded, f)
	case ForeignKey:
		s.foreign = append(s.foreign, f)
	case Array, Step:
		if _, ok := elemOf(k).(Embedded); ok {
			s.embedded = append(s.embedded, f)
		} else {
			s.foreign = append(s.foreign, f)
		}
	default:
		return errs.Internal(op, errs.SchemaMisconfigured, "%s.%s: unknown kind %T", s.Name, f.Name, f.Kind)
	}
	s.fields = append(s.fields, f)
	s.byName[f.Name] = f
	return nil
}

func elemOf(k Kind) Kind {
	switch v := k.(type) {
	case Array:
		return v.Elem
	case Step:
		return v.Elem
	default:
		return k
	}
}

// Referable reports whether documents of this type are stored on their own.
func (s *Schema) Referable() bool { return s.Collection != "" }

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []*Field { return s.fields }

// Field returns the named field or nil.
func (s *Schema) Field(name string) *Field { return s.byName[name] }

// ForeignFields returns fields referencing referable types.
func (s *Schema) ForeignFields() []*Field { return s.foreign }

// EmbeddedFields returns fields inlining embedded-data types.
func (s *Schema) EmbeddedFields() []*Field { return s.embedded }

// ParentField returns the parent field, or nil.
func (s *Schema) ParentField() *Field { return s.parent }

func (s *Schema) String() string {
	if s.Referable() {
		return fmt.Sprintf("%s(%s)", s.Name, s.Collection)
	}
	return s.Name
}
