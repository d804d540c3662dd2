package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"stepline/internal/domain"
	"stepline/internal/events"
	"stepline/internal/logger"
)

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewLogger(&logger.Config{Level: logger.InfoLevel, Output: &buf, JSON: true})
	rec := events.LogRecorder{Log: log}

	rec.Record(context.Background(), domain.Event{
		Type:       "module.step",
		EntityKind: domain.CollectionModules,
		EntityID:   "modules/m1",
		ActorID:    "users/u1",
		Payload:    map[string]any{"step": 2},
	})

	out := buf.String()
	assert.Contains(t, out, `"msg":"workflow transition"`)
	assert.Contains(t, out, `"type":"module.step"`)
	assert.Contains(t, out, `"id":"modules/m1"`)
	assert.Contains(t, out, `"actor":"users/u1"`)
	assert.Contains(t, out, `"step":2`)
}

func TestMemoryAndMulti(t *testing.T) {
	a, b := &events.Memory{}, &events.Memory{}
	rec := events.Multi{a, nil, b}
	rec.Record(context.Background(), domain.Event{Type: "project.start"})
	rec.Record(context.Background(), domain.Event{Type: "project.complete"})

	assert.Equal(t, []string{"project.start", "project.complete"}, a.Types())
	assert.Equal(t, a.Events(), b.Events())
}
