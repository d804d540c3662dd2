// Package events reports workflow transitions. Transitions are not
// persisted; recorders forward them to logs or keep them in memory.
package events

import (
	"context"
	"sort"
	"sync"

	"stepline/internal/domain"
	"stepline/internal/logger"
)

// Recorder receives every transition the engine applies.
type Recorder interface {
	Record(ctx context.Context, evt domain.Event)
}

// LogRecorder writes transitions to a structured logger.
type LogRecorder struct {
	Log logger.Logger
}

func (w LogRecorder) Record(ctx context.Context, evt domain.Event) {
	log := w.Log
	if log == nil {
		log = logger.FromContext(ctx)
	}
	keyvals := []any{
		"type", evt.Type,
		"kind", evt.EntityKind,
		"id", evt.EntityID,
	}
	if evt.ActorID != "" {
		keyvals = append(keyvals, "actor", evt.ActorID)
	}
	keys := make([]string, 0, len(evt.Payload))
	for k := range evt.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		keyvals = append(keyvals, k, evt.Payload[k])
	}
	log.Info("workflow transition", keyvals...)
}

// Memory keeps transitions in order. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *Memory) Record(_ context.Context, evt domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

// Events returns a copy of the recorded transitions.
func (m *Memory) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events...)
}

// Types lists the recorded event types in order.
func (m *Memory) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// Multi fans a transition out to several recorders.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, evt domain.Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, evt)
		}
	}
}
