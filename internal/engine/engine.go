// Package engine drives projects, modules and tasks through their lifecycle
// by walking the steppers that order their children.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stepline/internal/domain"
	"stepline/internal/errs"
	"stepline/internal/events"
	"stepline/internal/logger"
	"stepline/internal/schema"
	"stepline/internal/stepper"
	"stepline/internal/store"
)

type Engine struct {
	Store  store.Store
	Events events.Recorder
	Log    logger.Logger
	Now    func() time.Time
}

func New(st store.Store, log logger.Logger) Engine {
	return Engine{
		Store:  st,
		Events: events.LogRecorder{Log: log},
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logger.Logger {
	if e.Log == nil {
		return logger.Nop()
	}
	return e.Log
}

// run is the state of one top-level operation. Every read and write goes
// through tx; events are released once tx commits.
type run struct {
	e      Engine
	tx     store.Store
	actor  domain.Actor
	events []domain.Event
}

func (e Engine) transact(ctx context.Context, actor domain.Actor, fn func(ctx context.Context, r *run) error) error {
	var r *run
	err := e.Store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		r = &run{e: e, tx: tx, actor: actor}
		return fn(ctx, r)
	})
	if err != nil {
		return err
	}
	if e.Events != nil {
		for _, evt := range r.events {
			e.Events.Record(ctx, evt)
		}
	}
	return nil
}

func (r *run) emit(ent *entity, action string, payload map[string]any) {
	r.events = append(r.events, domain.Event{
		Type:       singular(ent.kind) + "." + action,
		EntityKind: ent.kind,
		EntityID:   ent.id,
		ActorID:    r.actor.ID,
		Payload:    payload,
	})
}

func singular(kind string) string {
	switch kind {
	case domain.CollectionProjects:
		return "project"
	case domain.CollectionModules:
		return "module"
	default:
		return "task"
	}
}

// entity is a loaded project, module or task.
type entity struct {
	doc         store.Document
	id          string
	kind        string
	status      domain.Status
	currentStep int
	steps       stepper.Stepper[string]
}

// childField names the stepper field holding the children of kind.
func childField(kind string) string {
	switch kind {
	case domain.CollectionProjects:
		return domain.FieldModules
	case domain.CollectionModules:
		return domain.FieldTasks
	}
	return ""
}

// parentField names the field pointing at the owner of kind.
func parentField(kind string) string {
	switch kind {
	case domain.CollectionModules:
		return domain.FieldProject
	case domain.CollectionTasks:
		return domain.FieldModule
	}
	return ""
}

func (ent *entity) hasSteps() bool { return childField(ent.kind) != "" }

func (ent *entity) parentID() string {
	f := parentField(ent.kind)
	if f == "" {
		return ""
	}
	id, _ := ent.doc[f].(string)
	return id
}

func (ent *entity) state() domain.WorkflowState {
	title, _ := ent.doc["title"].(string)
	suspense, _ := ent.doc[domain.FieldSuspense].(string)
	ttc, _ := number(ent.doc[domain.FieldTTC])
	pct, _ := number(ent.doc[domain.FieldPercentComplete])
	return domain.WorkflowState{
		ID:              schema.KeyOf(ent.id),
		Kind:            ent.kind,
		Title:           title,
		Status:          ent.status,
		CurrentStep:     ent.currentStep,
		TTC:             ttc,
		Suspense:        suspense,
		PercentComplete: pct,
	}
}

func kindOf(op, id string) (string, error) {
	collection, _, ok := schema.SplitID(id)
	if !ok {
		return "", errs.Validation(op, errs.InvalidKeyValue, "%q is not a document id", id)
	}
	switch collection {
	case domain.CollectionProjects, domain.CollectionModules, domain.CollectionTasks:
		return collection, nil
	}
	return "", errs.Validation(op, errs.UnknownType, "%s documents have no workflow", collection)
}

func (r *run) load(ctx context.Context, id string) (*entity, error) {
	kind, err := kindOf("load workflow", id)
	if err != nil {
		return nil, err
	}
	doc, err := r.tx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	status, _ := doc[domain.FieldStatus].(string)
	ent := &entity{doc: doc, id: id, kind: kind, status: domain.Status(status)}
	if step, ok := number(doc[domain.FieldCurrentStep]); ok {
		ent.currentStep = int(step)
	}
	if f := childField(kind); f != "" {
		steps, err := stepper.Strings(doc[f])
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", kind, id, err)
		}
		ent.steps = steps
	}
	return ent, nil
}

// save persists the workflow fields of ent. Percent complete is recomputed
// for entities with children.
func (r *run) save(ctx context.Context, ent *entity) error {
	patch := store.Document{
		schema.FieldID:     ent.id,
		domain.FieldStatus: string(ent.status),
	}
	if ent.hasSteps() {
		pct, err := r.percent(ctx, ent)
		if err != nil {
			return err
		}
		patch[domain.FieldCurrentStep] = ent.currentStep
		patch[domain.FieldPercentComplete] = pct
	}
	if err := r.tx.Update(ctx, patch, store.UpdateOptions{}); err != nil {
		return fmt.Errorf("save %s: %w", ent.id, err)
	}
	for k, v := range patch {
		ent.doc[k] = v
	}
	return nil
}

// percent is the share of immediate children in a terminal status. Without
// children it is 100 for a terminal entity and 0 otherwise.
func (r *run) percent(ctx context.Context, ent *entity) (float64, error) {
	children := stepper.Compress(ent.steps)
	if len(children) == 0 {
		if ent.status.Terminal() {
			return 100, nil
		}
		return 0, nil
	}
	pending, err := r.tx.AssertManyFieldEquals(ctx, children, domain.FieldStatus, domain.TerminalStatuses())
	if err != nil {
		return 0, err
	}
	return 100 * float64(len(children)-len(pending)) / float64(len(children)), nil
}

func (r *run) pending(ctx context.Context, ids []string) ([]string, error) {
	return r.tx.AssertManyFieldEquals(ctx, ids, domain.FieldStatus, domain.TerminalStatuses())
}

// descendants lists the modules and tasks below ent.
func (r *run) descendants(ctx context.Context, ent *entity) (modules, tasks []string, err error) {
	switch ent.kind {
	case domain.CollectionModules:
		return nil, stepper.Compress(ent.steps), nil
	case domain.CollectionProjects:
		modules = stepper.Compress(ent.steps)
		for _, m := range modules {
			raw, err := r.tx.GetField(ctx, m, domain.FieldTasks)
			if errors.Is(err, store.ErrNotFound) {
				r.e.log().Warn("module listed by project does not exist", "project", ent.id, "module", m)
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			steps, err := stepper.Strings(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("module %s: %w", m, err)
			}
			tasks = append(tasks, stepper.Compress(steps)...)
		}
	}
	return modules, tasks, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
