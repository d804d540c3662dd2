// Package repo is the SQLite implementation of store.Store. Documents live
// in one table keyed by id with their fields as a JSON body.
package repo

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"

	"stepline/internal/schema"
	"stepline/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB  *sql.DB
	Now func() time.Time

	tx *sql.Tx
}

var _ store.Store = Repo{}
var _ store.Lister = Repo{}

func New(db *sql.DB) Repo {
	return Repo{DB: db, Now: time.Now}
}

func (r Repo) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

// timestampLayout is fixed width so stored timestamps sort as strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (r Repo) now() string {
	if r.Now == nil {
		return time.Now().UTC().Format(timestampLayout)
	}
	return r.Now().UTC().Format(timestampLayout)
}

// RunInTx runs fn against a transaction bound copy of r. Nested calls reuse
// the outer transaction.
func (r Repo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	bound := r
	bound.tx = tx
	if err := fn(ctx, bound); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GenerateID(collection string) string {
	return store.NewID(collection)
}

func (r Repo) Get(ctx context.Context, id string) (store.Document, error) {
	var body string
	err := r.q().QueryRowContext(ctx, `SELECT body FROM documents WHERE id=?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeBody(id, body)
}

func decodeBody(id, body string) (store.Document, error) {
	doc := store.Document{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	doc[schema.FieldID] = id
	return doc, nil
}

func (r Repo) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.q().QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id=?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func encodeBody(doc store.Document) (id, collection, body string, err error) {
	id = store.IDOf(doc)
	collection, _, ok := schema.SplitID(id)
	if !ok {
		return "", "", "", fmt.Errorf("document id %q is not a collection qualified id", id)
	}
	fields := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != schema.FieldID {
			fields[k] = v
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", "", "", fmt.Errorf("encode document %s: %w", id, err)
	}
	return id, collection, string(data), nil
}

func (r Repo) Save(ctx context.Context, doc store.Document) error {
	id, collection, body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	now := r.now()
	_, err = r.q().ExecContext(ctx, `INSERT INTO documents(id,collection,body,created_at,updated_at) VALUES (?,?,?,?,?)`,
		id, collection, body, now, now)
	if err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}

// Update patches the stored document with the fields of doc. Nested objects
// are replaced unless opts.MergeObjects asks for a deep merge.
func (r Repo) Update(ctx context.Context, doc store.Document, opts store.UpdateOptions) error {
	id := store.IDOf(doc)
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if opts.MergeObjects {
		if err := mergo.Merge(&current, doc, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
			return fmt.Errorf("merge %s: %w", id, err)
		}
	} else {
		for k, v := range doc {
			current[k] = v
		}
	}
	_, _, body, err := encodeBody(current)
	if err != nil {
		return err
	}
	res, err := r.q().ExecContext(ctx, `UPDATE documents SET body=?, updated_at=? WHERE id=?`, body, r.now(), id)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func fieldPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

// GetField reads one field without decoding the whole body. A missing field
// yields nil.
func (r Repo) GetField(ctx context.Context, id, field string) (any, error) {
	var raw sql.NullString
	err := r.q().QueryRowContext(ctx, `SELECT body -> ? FROM documents WHERE id=?`, fieldPath(field), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

func decodeValue(raw sql.NullString) (any, error) {
	if !raw.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []string, lead ...any) []any {
	args := make([]any, 0, len(lead)+len(ids))
	args = append(args, lead...)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

func (r Repo) AssertManyFieldEquals(ctx context.Context, ids []string, field string, allowed []any) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	allowedJSON := make([][]byte, 0, len(allowed))
	for _, a := range allowed {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		allowedJSON = append(allowedJSON, b)
	}

	rows, err := r.q().QueryContext(ctx,
		`SELECT id, body -> ? FROM documents WHERE id IN (`+placeholders(len(ids))+`)`,
		idArgs(ids, fieldPath(field))...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := map[string]sql.NullString{}
	for rows.Next() {
		var id string
		var raw sql.NullString
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		values[id] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var violating []string
	for _, id := range ids {
		raw, ok := values[id]
		if !ok || !matchesAny(raw, allowedJSON) {
			violating = append(violating, id)
		}
	}
	return violating, nil
}

func matchesAny(raw sql.NullString, allowed [][]byte) bool {
	v, err := decodeValue(raw)
	if err != nil {
		return false
	}
	got, err := json.Marshal(v)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if bytes.Equal(got, a) {
			return true
		}
	}
	return false
}

func (r Repo) UpdateManyField(ctx context.Context, ids []string, field string, value any) error {
	if len(ids) == 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx,
		`UPDATE documents SET body = json_set(body, ?, json(?)), updated_at=? WHERE id IN (`+placeholders(len(ids))+`)`,
		idArgs(ids, fieldPath(field), string(data), r.now())...)
	if err != nil {
		return fmt.Errorf("update %s on %d documents: %w", field, len(ids), err)
	}
	return nil
}

// List returns the documents of a collection in creation order.
func (r Repo) List(ctx context.Context, collection string) ([]store.Document, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT id, body FROM documents WHERE collection=? ORDER BY created_at, id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []store.Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		doc, err := decodeBody(id, body)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, rows.Err()
}
