package schema

// PrimitiveType is the runtime type a primitive field must carry.
type PrimitiveType string

const (
	String  PrimitiveType = "string"
	Number  PrimitiveType = "number"
	Boolean PrimitiveType = "boolean"
)

// Kind is the closed set of field shapes. The concrete kinds are Primitive,
// Parent, Embedded, ForeignKey, Array and Step; code that dispatches on a
// Kind must handle all of them.
type Kind interface {
	isKind()
	String() string
}

type Primitive struct {
	Type PrimitiveType
}

// Parent points at the owning document. BackReference names the field on
// the parent type that lists this document.
type Parent struct {
	Target        *Ref
	BackReference string
}

// Embedded inlines a document of a non-referable type. AcceptNew allows
// building the document from a plain string.
type Embedded struct {
	Target    *Ref
	AcceptNew bool
}

// ForeignKey references an independently stored document.
type ForeignKey struct {
	Target    *Ref
	AcceptNew bool
	Freeable  bool
}

// Array holds any number of Elem values. Elem is a ForeignKey or an Embedded.
type Array struct {
	Elem Kind
}

// Step holds Elem values grouped into ordered steps.
type Step struct {
	Elem Kind
}

func (Primitive) isKind()  {}
func (Parent) isKind()     {}
func (Embedded) isKind()   {}
func (ForeignKey) isKind() {}
func (Array) isKind()      {}
func (Step) isKind()       {}

func (p Primitive) String() string  { return string(p.Type) }
func (p Parent) String() string     { return "parent(" + p.Target.Name + ")" }
func (e Embedded) String() string   { return "data(" + e.Target.Name + ")" }
func (f ForeignKey) String() string { return "fkey(" + f.Target.Name + ")" }
func (a Array) String() string      { return "array(" + a.Elem.String() + ")" }
func (s Step) String() string       { return "step(" + s.Elem.String() + ")" }

// Ref names another schema. The handle is filled in by
// Registry.ResolveDependencies.
type Ref struct {
	Name   string
	schema *Schema
}

// Schema returns the resolved target, or nil before resolution.
func (r *Ref) Schema() *Schema { return r.schema }

// Target returns the schema referenced by k, looking through arrays and
// steps. It returns nil for primitives.
func Target(k Kind) *Schema {
	switch v := k.(type) {
	case Parent:
		return v.Target.Schema()
	case Embedded:
		return v.Target.Schema()
	case ForeignKey:
		return v.Target.Schema()
	case Array:
		return Target(v.Elem)
	case Step:
		return Target(v.Elem)
	default:
		return nil
	}
}
