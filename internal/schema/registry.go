package schema

import (
	"sort"

	"stepline/internal/errs"
)

// Registry holds every document type of a process. Types are registered
// first, then ResolveDependencies binds the names they reference.
type Registry struct {
	byName       map[string]*Schema
	byCollection map[string]*Schema
	order        []*Schema
	resolved     bool
}

func NewRegistry() *Registry {
	return &Registry{
		byName:       map[string]*Schema{},
		byCollection: map[string]*Schema{},
	}
}

func (r *Registry) Register(s *Schema) error {
	const op = "registry.register"
	if r.resolved {
		return errs.Internal(op, errs.SchemaMisconfigured, "registry already resolved, cannot add %s", s.Name)
	}
	if _, dup := r.byName[s.Name]; dup {
		return errs.Internal(op, errs.SchemaMisconfigured, "duplicate type %s", s.Name)
	}
	if s.Referable() {
		if other, dup := r.byCollection[s.Collection]; dup {
			return errs.Internal(op, errs.SchemaMisconfigured, "collection %s used by %s and %s", s.Collection, other.Name, s.Name)
		}
		r.byCollection[s.Collection] = s
	}
	r.byName[s.Name] = s
	r.order = append(r.order, s)
	return nil
}

// ResolveDependencies replaces every referenced type name with its schema
// and checks that references point at the right sort of type.
func (r *Registry) ResolveDependencies() error {
	const op = "registry.resolve"
	for _, s := range r.order {
		for _, f := range s.fields {
			if err := r.resolveKind(s, f, f.Kind); err != nil {
				return err
			}
		}
	}
	for _, s := range r.order {
		p := s.ParentField()
		if p == nil {
			continue
		}
		k := p.Kind.(Parent)
		back := k.Target.Schema().Field(k.BackReference)
		if back == nil {
			return errs.Internal(op, errs.SchemaMisconfigured, "%s.%s: back reference %s.%s does not exist", s.Name, p.Name, k.Target.Name, k.BackReference)
		}
		if t := Target(back.Kind); t != s {
			return errs.Internal(op, errs.SchemaMisconfigured, "%s.%s: back reference %s.%s does not list %s", s.Name, p.Name, k.Target.Name, k.BackReference, s.Name)
		}
	}
	r.resolved = true
	return nil
}

func (r *Registry) resolveKind(s *Schema, f *Field, k Kind) error {
	const op = "registry.resolve"
	bind := func(ref *Ref, wantReferable bool) error {
		target, ok := r.byName[ref.Name]
		if !ok {
			return errs.Internal(op, errs.SchemaMisconfigured, "%s.%s: unknown type %s", s.Name, f.Name, ref.Name)
		}
		if target.Referable() != wantReferable {
			if wantReferable {
				return errs.Internal(op, errs.SchemaMisconfigured, "%s.%s: %s is embedded data and cannot be referenced", s.Name, f.Name, ref.Name)
			}
			return errs.Internal(op, errs.SchemaMisconfigured, "%s.%s: %s is stored on its own and cannot be embedded", s.Name, f.Name, ref.Name)
		}
		ref.schema = target
		return nil
	}
	switch v := k.(type) {
	case Primitive:
		return nil
	case Parent:
		return bind(v.Target, true)
	case Embedded:
		return bind(v.Target, false)
	case ForeignKey:
		return bind(v.Target, true)
	case Array:
		return r.resolveKind(s, f, v.Elem)
	case Step:
		return r.resolveKind(s, f, v.Elem)
	default:
		return errs.Internal(op, errs.SchemaMisconfigured, "%s.%s: unknown kind %T", s.Name, f.Name, k)
	}
}

// Resolved reports whether ResolveDependencies has completed.
func (r *Registry) Resolved() bool { return r.resolved }

func (r *Registry) Lookup(name string) (*Schema, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// ByCollection returns the referable type stored in collection.
func (r *Registry) ByCollection(collection string) (*Schema, bool) {
	s, ok := r.byCollection[collection]
	return s, ok
}

// ForID returns the type owning id.
func (r *Registry) ForID(id string) (*Schema, bool) {
	collection, _, ok := SplitID(id)
	if !ok {
		return nil, false
	}
	return r.ByCollection(collection)
}

// Schemas returns all types sorted by name.
func (r *Registry) Schemas() []*Schema {
	out := append([]*Schema(nil), r.order...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
