package document

import (
	"context"

	"stepline/internal/errs"
	"stepline/internal/schema"
	"stepline/internal/store"
)

// reference resolves one foreign or embedded value. Foreign values resolve
// to the referenced id, embedded values to the normalized object.
func (n *Normalizer) reference(ctx context.Context, c *call, k schema.Kind, v any, par string) (any, error) {
	var (
		target    *schema.Schema
		acceptNew bool
	)
	switch ref := k.(type) {
	case schema.ForeignKey:
		target, acceptNew = ref.Target.Schema(), ref.AcceptNew
	case schema.Embedded:
		target, acceptNew = ref.Target.Schema(), ref.AcceptNew
	default:
		return nil, errs.Internal("normalize reference", errs.SchemaMisconfigured, "cannot reference through %T", k)
	}
	if target == nil {
		return nil, errs.Internal("normalize reference", errs.SchemaMisconfigured, "%s is not resolved", k)
	}
	op := "normalize reference " + target.Name

	switch val := v.(type) {
	case string:
		return n.referenceString(ctx, c, target, acceptNew, val, par)
	case map[string]any:
		return n.referenceObject(ctx, c, target, acceptNew, val, par)
	default:
		return nil, errs.Validation(op, errs.InvalidForeignObject, "expected a %s key or object, got %T", target.Name, v)
	}
}

func (n *Normalizer) referenceString(ctx context.Context, c *call, target *schema.Schema, acceptNew bool, v, par string) (any, error) {
	op := "normalize reference " + target.Name
	if target.Referable() {
		if id, ok := target.AsID(v); ok {
			st, err := n.store(op)
			if err != nil {
				return nil, err
			}
			exists, err := st.Exists(ctx, id)
			if err != nil {
				return nil, err
			}
			if exists {
				return id, nil
			}
			n.log().Warn("reference looks like a key but does not exist", "type", target.Name, "value", v)
		}
	}

	build := n.Builders[target.Name]
	if !acceptNew || build == nil {
		return nil, errs.Validation(op, errs.InvalidKeyValue, "%q is not a valid %s reference", v, target.Name)
	}
	built, err := build(ctx, c.actor, c.files, v, par)
	if err != nil {
		return nil, err
	}
	id := store.IDOf(built)
	if target.Referable() {
		if _, ok := target.AsID(id); !ok || !schema.IsID(id) {
			return nil, errs.Internal(op, errs.SchemaMisconfigured, "builder for %s returned a document without an id", target.Name)
		}
	}
	parent := par
	if id != "" {
		parent = id
	}
	normalized, err := n.Normalize(ctx, c.actor, c.files, target, built, false, c.batch, parent)
	if err != nil {
		return nil, err
	}
	if target.Referable() {
		return id, nil
	}
	return normalized, nil
}

func (n *Normalizer) referenceObject(ctx context.Context, c *call, target *schema.Schema, acceptNew bool, obj map[string]any, par string) (any, error) {
	op := "normalize reference " + target.Name
	if pf := target.ParentField(); pf != nil && isEmpty(obj[pf.Name]) && par != "" {
		obj[pf.Name] = par
	}
	if !target.Referable() {
		return n.Normalize(ctx, c.actor, c.files, target, obj, false, c.batch, par)
	}

	st, err := n.store(op)
	if err != nil {
		return nil, err
	}
	exists := false
	var id string
	if raw, ok := obj[schema.FieldID]; ok && !isEmpty(raw) {
		str, isString := raw.(string)
		if !isString {
			return nil, errs.Validation(op, errs.InvalidKeyValue, "id must be a string, got %T", raw)
		}
		if asID, ok := target.AsID(str); ok {
			id = asID
			if exists, err = st.Exists(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	if !exists {
		if !acceptNew {
			return nil, errs.Validation(op, errs.NewDocumentUnauthorized, "new %s documents are not accepted here", target.Name)
		}
		id = st.GenerateID(target.Collection)
	}
	obj[schema.FieldID] = id
	if _, err := n.Normalize(ctx, c.actor, c.files, target, obj, exists, c.batch, id); err != nil {
		return nil, err
	}
	return id, nil
}

func (n *Normalizer) store(op string) (store.Store, error) {
	if n.Store == nil {
		return nil, errs.Internal(op, errs.NotStoreBacked, "no store configured")
	}
	return n.Store, nil
}
