package document

import (
	"github.com/mohae/deepcopy"

	"stepline/internal/domain"
	"stepline/internal/errs"
	"stepline/internal/logger"
	"stepline/internal/schema"
	"stepline/internal/stepper"
	"stepline/internal/store"
)

// View selects which visibility flags apply during hydration.
type View int

const (
	// ViewDetail presents a single document fetched by id.
	ViewDetail View = iota
	// ViewList presents documents in a listing.
	ViewList
	// ViewReference presents documents embedded in another response.
	ViewReference
)

func (v View) hides(f *schema.Field) bool {
	switch v {
	case ViewList:
		return f.HideGetAll
	case ViewReference:
		return f.HideGetRef
	default:
		return f.HideGetID
	}
}

// Hydrator converts stored documents into their presented form. It only
// works on what it is given and never reads the store.
type Hydrator struct {
	Log logger.Logger
}

// Hydrate presents doc in the detail view.
func (h Hydrator) Hydrate(actor domain.Actor, s *schema.Schema, doc store.Document) (store.Document, error) {
	return h.HydrateView(actor, s, doc, ViewDetail)
}

// HydrateView returns a copy of doc with ids replaced by keys, defaults
// filled in and fields hidden for view removed.
func (h Hydrator) HydrateView(actor domain.Actor, s *schema.Schema, doc store.Document, view View) (store.Document, error) {
	out := store.Document{}
	if id := store.IDOf(doc); id != "" && s.Referable() {
		out[schema.FieldID] = schema.KeyOf(id)
	}
	for _, f := range s.Fields() {
		if f.Dummy || view.hides(f) {
			continue
		}
		v, ok := doc[f.Name]
		if !ok || v == nil {
			if f.HasDefault() {
				out[f.Name] = deepcopy.Copy(f.Default)
			} else if !f.HideGetAll && h.Log != nil {
				h.Log.Debug("field missing on stored document", "type", s.Name, "field", f.Name, "id", store.IDOf(doc))
			}
			continue
		}
		hv, err := h.value(actor, s, f, f.Kind, v, view)
		if err != nil {
			return nil, err
		}
		out[f.Name] = hv
	}
	return out, nil
}

func (h Hydrator) value(actor domain.Actor, s *schema.Schema, f *schema.Field, k schema.Kind, v any, view View) (any, error) {
	op := "hydrate " + s.Name + "." + f.Name
	switch kind := k.(type) {
	case schema.Primitive:
		return deepcopy.Copy(v), nil
	case schema.Parent:
		str, ok := v.(string)
		if !ok {
			return nil, errs.Internal(op, errs.TypeMismatch, "stored parent is %T", v)
		}
		return schema.KeyOf(str), nil
	case schema.ForeignKey:
		switch val := v.(type) {
		case string:
			return schema.KeyOf(val), nil
		case map[string]any:
			return deepcopy.Copy(val), nil
		default:
			return nil, errs.Internal(op, errs.InvalidForeignObject, "stored reference is %T", v)
		}
	case schema.Embedded:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, errs.Internal(op, errs.InvalidForeignObject, "stored embedded value is %T", v)
		}
		return h.HydrateView(actor, kind.Target.Schema(), obj, view)
	case schema.Array:
		items, ok := v.([]any)
		if !ok {
			return nil, errs.Internal(op, errs.TypeMismatch, "stored array is %T", v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			hv, err := h.value(actor, s, f, kind.Elem, item, view)
			if err != nil {
				return nil, err
			}
			out[i] = hv
		}
		return out, nil
	case schema.Step:
		steps, err := stepper.Repair(v)
		if err != nil {
			return nil, err
		}
		out := make(stepper.Stepper[any], len(steps))
		for i, items := range steps {
			out[i] = make([]any, len(items))
			for j, item := range items {
				hv, err := h.value(actor, s, f, kind.Elem, item, view)
				if err != nil {
					return nil, err
				}
				out[i][j] = hv
			}
		}
		return out.Value(), nil
	default:
		return nil, errs.Internal(op, errs.SchemaMisconfigured, "unhandled kind %T", k)
	}
}
