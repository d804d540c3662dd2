// Package document turns inbound documents into store-ready batches and
// stored documents back into their presented form.
package document

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mohae/deepcopy"

	"stepline/internal/domain"
	"stepline/internal/errs"
	"stepline/internal/logger"
	"stepline/internal/schema"
	"stepline/internal/stepper"
	"stepline/internal/store"
)

// Builder creates a document of its type from a plain string, such as a
// comment body or a template key. Builders for referable types must set a
// valid id on the returned document.
type Builder func(ctx context.Context, actor domain.Actor, files domain.Files, value, parentID string) (store.Document, error)

// Modifier adjusts an inbound document before its fields are checked.
type Modifier func(ctx context.Context, actor domain.Actor, files domain.Files, doc store.Document, exists bool) error

// Normalizer validates inbound documents against their schema, resolves
// nested references and queues every resulting write into a Batch.
type Normalizer struct {
	Store     store.Store
	Registry  *schema.Registry
	Builders  map[string]Builder
	Modifiers map[string]Modifier
	// Dev drops unknown fields from already stored documents instead of
	// failing.
	Dev bool
	Log logger.Logger
	Now func() time.Time
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func (n *Normalizer) log() logger.Logger {
	if n.Log == nil {
		return logger.Nop()
	}
	return n.Log
}

// call holds the state shared by the fields of one document.
type call struct {
	actor   domain.Actor
	files   domain.Files
	batch   *Batch
	fetched store.Document
	fetchOK bool
}

// Normalize validates doc against s in place and appends it to batch.
// alreadyExists selects update semantics; parentID is the id of the
// enclosing document and is handed to children that lack a parent.
func (n *Normalizer) Normalize(ctx context.Context, actor domain.Actor, files domain.Files, s *schema.Schema, doc store.Document, alreadyExists bool, batch *Batch, parentID string) (store.Document, error) {
	op := "normalize " + s.Name
	if n.Registry == nil || !n.Registry.Resolved() {
		return nil, errs.Internal(op, errs.SchemaMisconfigured, "registry is not resolved")
	}
	if doc == nil {
		return nil, errs.Validation(op, errs.InvalidForeignObject, "document required")
	}
	if m := n.Modifiers[s.Name]; m != nil {
		if err := m(ctx, actor, files, doc, alreadyExists); err != nil {
			return nil, err
		}
	}

	stamp := n.now().UTC().Format(time.RFC3339)
	for _, f := range s.Fields() {
		if f.Managed {
			delete(doc, f.Name)
		}
	}
	if s.CreateTimestamp && !alreadyExists {
		doc[schema.FieldCreatedAt] = stamp
	}
	if s.UpdateTimestamp {
		doc[schema.FieldUpdatedAt] = stamp
	}

	if err := n.checkUnknown(s, doc, alreadyExists); err != nil {
		return nil, err
	}

	id := store.IDOf(doc)
	if !s.Referable() {
		delete(doc, schema.FieldID)
	}
	par := parentID
	if id != "" {
		par = id
	}

	c := &call{actor: actor, files: files, batch: batch}
	for _, f := range s.Fields() {
		if f.Managed {
			continue
		}
		if f.Dummy {
			delete(doc, f.Name)
			continue
		}
		resolve, err := n.prepare(ctx, c, s, f, doc, alreadyExists, id)
		if err != nil {
			return nil, err
		}
		if !resolve {
			continue
		}
		v, err := n.resolveField(ctx, c, f, doc[f.Name], par)
		if err != nil {
			return nil, err
		}
		doc[f.Name] = v
	}

	batch.Add(s, doc, alreadyExists)
	return doc, nil
}

func (n *Normalizer) checkUnknown(s *schema.Schema, doc store.Document, exists bool) error {
	var unknown []string
	for k := range doc {
		if k == schema.FieldID || s.Field(k) != nil {
			continue
		}
		unknown = append(unknown, k)
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	if n.Dev && exists {
		for _, k := range unknown {
			n.log().Warn("dropping unexpected field", "type", s.Name, "field", k)
			delete(doc, k)
		}
		return nil
	}
	return errs.Validation("normalize "+s.Name, errs.UnexpectedField, "unexpected fields %s", strings.Join(unknown, ", "))
}

// prepare applies presence rules to one field. It reports whether the
// value still needs type checking and reference resolution.
func (n *Normalizer) prepare(ctx context.Context, c *call, s *schema.Schema, f *schema.Field, doc store.Document, exists bool, id string) (bool, error) {
	op := "normalize " + s.Name
	if v, present := doc[f.Name]; present {
		switch {
		case f.Hidden && exists:
			n.log().Warn("ignoring override of hidden field", "type", s.Name, "field", f.Name, "id", id)
			delete(doc, f.Name)
			return false, nil
		case isEmpty(v):
			delete(doc, f.Name)
		default:
			if _, isStep := f.Kind.(schema.Step); isStep {
				repaired, err := stepper.Repair(v)
				if err != nil {
					return false, err
				}
				doc[f.Name] = repaired.Value()
			} else if str, ok := v.(string); ok && !f.PreserveWhitespace {
				doc[f.Name] = strings.TrimSpace(str)
			}
			return true, nil
		}
	}

	switch {
	case f.HasDefault():
		doc[f.Name] = deepcopy.Copy(f.Default)
		return true, nil
	case f.Optional:
		return false, nil
	case exists:
		if !c.fetchOK {
			if n.Store == nil {
				return false, errs.Internal(op, errs.NotStoreBacked, "%s is missing on a stored document but no store is configured", f.Name)
			}
			fetched, err := n.Store.Get(ctx, id)
			if err != nil {
				n.log().Warn("could not fetch stored document for missing field", "type", s.Name, "field", f.Name, "id", id, "err", err)
				return false, nil
			}
			c.fetched, c.fetchOK = fetched, true
		}
		if v, ok := c.fetched[f.Name]; ok {
			doc[f.Name] = v
		}
		return false, nil
	default:
		return false, errs.Validation(op, errs.MissingRequiredField, "%s is required", f.Name)
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func (n *Normalizer) resolveField(ctx context.Context, c *call, f *schema.Field, v any, par string) (any, error) {
	op := "normalize field " + f.Name
	switch k := f.Kind.(type) {
	case schema.Primitive:
		return checkPrimitive(op, k.Type, v)
	case schema.Parent:
		str, ok := v.(string)
		if !ok {
			return nil, errs.Validation(op, errs.TypeMismatch, "parent must be a key or id, got %T", v)
		}
		id, ok := k.Target.Schema().AsID(str)
		if !ok {
			return nil, errs.Validation(op, errs.InvalidKeyValue, "%q is not a %s key", str, k.Target.Name)
		}
		return id, nil
	case schema.Embedded, schema.ForeignKey:
		return n.reference(ctx, c, k, v, par)
	case schema.Array:
		items, ok := v.([]any)
		if !ok {
			items = []any{v}
		}
		resolved, err := stepper.MapItems(ctx, items, func(ctx context.Context, item any) (any, error) {
			return n.reference(ctx, c, k.Elem, item, par)
		})
		if err != nil {
			return nil, err
		}
		return resolved, nil
	case schema.Step:
		steps, err := stepper.Repair(v)
		if err != nil {
			return nil, err
		}
		resolved, err := stepper.Map(ctx, steps, func(ctx context.Context, item any) (any, error) {
			return n.reference(ctx, c, k.Elem, item, par)
		})
		if err != nil {
			return nil, err
		}
		return resolved.Value(), nil
	default:
		return nil, errs.Internal(op, errs.SchemaMisconfigured, "unhandled kind %T", f.Kind)
	}
}

func checkPrimitive(op string, t schema.PrimitiveType, v any) (any, error) {
	switch t {
	case schema.String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.Number:
		if f, ok := toNumber(v); ok {
			return f, nil
		}
	default:
		return nil, errs.Internal(op, errs.SchemaMisconfigured, "unknown primitive %q", t)
	}
	return nil, errs.Validation(op, errs.TypeMismatch, "expected %s, got %T", t, v)
}

func toNumber(v any) (float64, bool) {
	f, ok := rawNumber(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func rawNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32:
		return rv.Float(), true
	}
	return 0, false
}
