package document

import (
	"context"

	"stepline/internal/domain"
	"stepline/internal/errs"
	"stepline/internal/schema"
	"stepline/internal/store"
)

// AfterCreate runs after a created document has been committed.
type AfterCreate func(ctx context.Context, actor domain.Actor, s *schema.Schema, doc store.Document) error

// Service wraps normalization, batch commit and hydration into document
// level operations.
type Service struct {
	Normalizer  *Normalizer
	Hydrator    Hydrator
	Store       store.Store
	Registry    *schema.Registry
	AfterCreate AfterCreate
}

// Schema returns the referable type named by name or by its collection.
func (svc *Service) Schema(name string) (*schema.Schema, error) {
	s, ok := svc.Registry.Lookup(name)
	if !ok {
		s, ok = svc.Registry.ByCollection(name)
	}
	if !ok || !s.Referable() {
		return nil, errs.Validation("document type", errs.UnknownType, "unknown document type %q", name)
	}
	return s, nil
}

func (svc *Service) id(s *schema.Schema, keyOrID string) (string, error) {
	id, ok := s.AsID(keyOrID)
	if !ok {
		return "", errs.Validation("document id", errs.InvalidKeyValue, "%q is not a %s key", keyOrID, s.Name)
	}
	return id, nil
}

// Create normalizes doc as a new document of typeName, commits it with every
// nested write, and returns the stored form.
func (svc *Service) Create(ctx context.Context, actor domain.Actor, files domain.Files, typeName string, doc store.Document) (store.Document, error) {
	s, err := svc.Schema(typeName)
	if err != nil {
		return nil, err
	}
	var id string
	if raw, ok := doc[schema.FieldID].(string); ok && raw != "" {
		if id, err = svc.id(s, raw); err != nil {
			return nil, err
		}
		exists, err := svc.Store.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errs.Validation("create "+s.Name, errs.DuplicateDocument, "%s already exists", id)
		}
	} else {
		id = svc.Store.GenerateID(s.Collection)
	}
	doc[schema.FieldID] = id

	batch := NewBatch()
	normalized, err := svc.Normalizer.Normalize(ctx, actor, files, s, doc, false, batch, id)
	if err != nil {
		return nil, err
	}
	if err := batch.Commit(ctx, svc.Store); err != nil {
		return nil, err
	}
	if svc.AfterCreate != nil {
		if err := svc.AfterCreate(ctx, actor, s, normalized); err != nil {
			return nil, err
		}
	}
	return normalized, nil
}

// Update applies patch on top of the stored document and normalizes the
// result as an existing document. Hidden and managed fields keep their
// stored values.
func (svc *Service) Update(ctx context.Context, actor domain.Actor, files domain.Files, typeName, keyOrID string, patch store.Document) (store.Document, error) {
	s, err := svc.Schema(typeName)
	if err != nil {
		return nil, err
	}
	id, err := svc.id(s, keyOrID)
	if err != nil {
		return nil, err
	}
	stored, err := svc.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := store.Document{}
	for k, v := range stored {
		if f := s.Field(k); f != nil && (f.Hidden || f.Managed || f.Dummy) {
			continue
		}
		doc[k] = v
	}
	for k, v := range patch {
		doc[k] = v
	}
	doc[schema.FieldID] = id

	batch := NewBatch()
	normalized, err := svc.Normalizer.Normalize(ctx, actor, files, s, doc, true, batch, id)
	if err != nil {
		return nil, err
	}
	if err := batch.Commit(ctx, svc.Store); err != nil {
		return nil, err
	}
	return normalized, nil
}

// Get fetches and hydrates one document.
func (svc *Service) Get(ctx context.Context, actor domain.Actor, typeName, keyOrID string) (store.Document, error) {
	s, err := svc.Schema(typeName)
	if err != nil {
		return nil, err
	}
	id, err := svc.id(s, keyOrID)
	if err != nil {
		return nil, err
	}
	doc, err := svc.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return svc.Hydrator.Hydrate(actor, s, doc)
}

// List fetches and hydrates every document of typeName.
func (svc *Service) List(ctx context.Context, actor domain.Actor, typeName string) ([]store.Document, error) {
	s, err := svc.Schema(typeName)
	if err != nil {
		return nil, err
	}
	lister, ok := svc.Store.(store.Lister)
	if !ok {
		return nil, errs.Internal("list "+s.Name, errs.NotStoreBacked, "store cannot list collections")
	}
	docs, err := lister.List(ctx, s.Collection)
	if err != nil {
		return nil, err
	}
	out := make([]store.Document, 0, len(docs))
	for _, doc := range docs {
		h, err := svc.Hydrator.HydrateView(actor, s, doc, ViewList)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
