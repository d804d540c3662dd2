package document

import (
	"context"
	"sync"

	"stepline/internal/errs"
	"stepline/internal/schema"
	"stepline/internal/store"
)

// Write is one pending document write.
type Write struct {
	Doc    store.Document
	Exists bool
}

// Batch accumulates the writes of one normalization call. Nothing reaches
// the store until Commit, which applies every write in one transaction.
// A Batch belongs to a single top-level call.
type Batch struct {
	mu        sync.Mutex
	order     []*schema.Schema
	writes    map[*schema.Schema][]Write
	committed bool
}

func NewBatch() *Batch {
	return &Batch{writes: map[*schema.Schema][]Write{}}
}

// Add appends doc under s. Safe for concurrent use.
func (b *Batch) Add(s *schema.Schema, doc store.Document, exists bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, seen := b.writes[s]; !seen {
		b.order = append(b.order, s)
	}
	b.writes[s] = append(b.writes[s], Write{Doc: doc, Exists: exists})
}

// Docs returns the documents queued under s in insertion order.
func (b *Batch) Docs(s *schema.Schema) []store.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]store.Document, 0, len(b.writes[s]))
	for _, w := range b.writes[s] {
		out = append(out, w.Doc)
	}
	return out
}

// Len counts queued documents of every schema.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ws := range b.writes {
		n += len(ws)
	}
	return n
}

// Commit saves new documents and replaces existing ones. Embedded-data
// documents are skipped; they are stored inside their owner.
func (b *Batch) Commit(ctx context.Context, st store.Store) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		return errs.Internal("batch.commit", errs.BatchCommitted, "batch already committed")
	}
	err := st.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		for _, s := range b.order {
			if !s.Referable() {
				continue
			}
			for _, w := range b.writes[s] {
				if w.Exists {
					if err := tx.Update(ctx, w.Doc, store.UpdateOptions{}); err != nil {
						return err
					}
					continue
				}
				if err := tx.Save(ctx, w.Doc); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.committed = true
	return nil
}
