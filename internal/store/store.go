// Package store defines the persistence contract consumed by the normalizer
// and the workflow engine.
package store

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"

	"stepline/internal/schema"
)

var ErrNotFound = errors.New("not found")

// Document is a stored or inbound document. Stored documents carry their id
// under "id".
type Document = map[string]any

type UpdateOptions struct {
	// MergeObjects deep merges nested objects instead of replacing them.
	MergeObjects bool
}

// Store is the narrow persistence interface. Implementations must make
// RunInTx atomic: either every write inside fn lands or none does.
type Store interface {
	Get(ctx context.Context, id string) (Document, error)
	Exists(ctx context.Context, id string) (bool, error)
	GenerateID(collection string) string
	Save(ctx context.Context, doc Document) error
	// Update patches the top-level fields of doc onto the stored document.
	Update(ctx context.Context, doc Document, opts UpdateOptions) error
	GetField(ctx context.Context, id, field string) (any, error)
	// AssertManyFieldEquals returns the ids whose field is not one of allowed.
	// Ids that do not exist are reported as violating.
	AssertManyFieldEquals(ctx context.Context, ids []string, field string, allowed []any) ([]string, error)
	UpdateManyField(ctx context.Context, ids []string, field string, value any) error
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Lister is implemented by stores able to enumerate a collection.
type Lister interface {
	List(ctx context.Context, collection string) ([]Document, error)
}

// NewKey returns a random URL safe document key.
func NewKey() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// NewID returns a fresh id in collection.
func NewID(collection string) string {
	return schema.JoinID(collection, NewKey())
}

// IDOf returns the id carried by doc, or "".
func IDOf(doc Document) string {
	id, _ := doc[schema.FieldID].(string)
	return id
}
