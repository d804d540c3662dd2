package engine

import (
	"context"
	"errors"
	"slices"
	"time"

	"stepline/internal/domain"
	"stepline/internal/errs"
	"stepline/internal/schema"
	"stepline/internal/stepper"
	"stepline/internal/store"
)

const (
	fieldUsers      = "users"
	fieldRank       = "rank"
	fieldAutoAssign = "auto_assign"
	day             = 24 * time.Hour
)

// Reschedule recomputes ttc and suspense of a project or module and of
// everything below it. A step lasts as long as its slowest child and each
// child is due its own ttc after its step starts.
func (e Engine) Reschedule(ctx context.Context, actor domain.Actor, id string) (domain.WorkflowState, error) {
	var state domain.WorkflowState
	err := e.transact(ctx, actor, func(ctx context.Context, r *run) error {
		ent, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if !ent.hasSteps() {
			return errs.Validation("reschedule", errs.InvalidKeyValue, "%s is scheduled through its module", id).WithIDs(id)
		}
		if err := r.reschedule(ctx, ent); err != nil {
			return err
		}
		state = ent.state()
		r.emit(ent, "reschedule", map[string]any{"ttc": state.TTC, "suspense": state.Suspense})
		return nil
	})
	return state, err
}

func (r *run) reschedule(ctx context.Context, ent *entity) error {
	switch ent.kind {
	case domain.CollectionProjects:
		start, err := startOf(ent.doc)
		if err != nil {
			return err
		}
		assign, err := r.assignments(ctx, ent.doc)
		if err != nil {
			return err
		}
		elapsed, err := r.fold(ctx, ent, start, func(ctx context.Context, id string, stepStart time.Time) (float64, error) {
			m, err := r.load(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				r.e.log().Warn("module listed by project does not exist", "project", ent.id, "module", id)
				return 0, nil
			}
			if err != nil {
				return 0, err
			}
			return r.scheduleModule(ctx, m, stepStart, ent.id, assign)
		})
		if err != nil {
			return err
		}
		_, err = r.setSchedule(ctx, ent, start, elapsed)
		return err
	case domain.CollectionModules:
		start, err := r.moduleStart(ctx, ent)
		if err != nil {
			return err
		}
		_, err = r.scheduleModule(ctx, ent, start, ent.parentID(), nil)
		return err
	}
	return nil
}

// fold walks the steps of ent in order and returns the summed step
// durations. child schedules one child starting at its step start and
// returns the child's ttc.
func (r *run) fold(ctx context.Context, ent *entity, start time.Time, child func(ctx context.Context, id string, stepStart time.Time) (float64, error)) (float64, error) {
	var elapsed float64
	err := stepper.ForEachInOrder(ctx, ent.steps, func(ctx context.Context, _ int, items []string) error {
		stepStart := addDays(start, elapsed)
		var longest float64
		for _, id := range items {
			ttc, err := child(ctx, id, stepStart)
			if err != nil {
				return err
			}
			longest = max(longest, ttc)
		}
		elapsed += longest
		return nil
	})
	return elapsed, err
}

func (r *run) scheduleModule(ctx context.Context, m *entity, start time.Time, projectID string, assign map[string][]string) (float64, error) {
	elapsed, err := r.fold(ctx, m, start, func(ctx context.Context, id string, stepStart time.Time) (float64, error) {
		task, err := r.tx.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			r.e.log().Warn("task listed by module does not exist", "module", m.id, "task", id)
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		ttc, _ := number(task[domain.FieldTTC])
		patch := store.Document{
			schema.FieldID:       id,
			domain.FieldSuspense: formatDate(addDays(stepStart, ttc)),
		}
		if projectID != "" {
			patch[domain.FieldProject] = projectID
		}
		if rank, _ := task[fieldRank].(string); rank != "" && len(assign[rank]) > 0 {
			patch[fieldUsers] = mergeUsers(task[fieldUsers], assign[rank])
		}
		return ttc, r.tx.Update(ctx, patch, store.UpdateOptions{})
	})
	if err != nil {
		return 0, err
	}
	return r.setSchedule(ctx, m, start, elapsed)
}

// setSchedule stores ttc and suspense on ent. Entities without children
// keep their declared ttc.
func (r *run) setSchedule(ctx context.Context, ent *entity, start time.Time, derived float64) (float64, error) {
	ttc := derived
	if len(stepper.Compress(ent.steps)) == 0 {
		ttc, _ = number(ent.doc[domain.FieldTTC])
	}
	patch := store.Document{
		schema.FieldID:       ent.id,
		domain.FieldTTC:      ttc,
		domain.FieldSuspense: formatDate(addDays(start, ttc)),
	}
	if err := r.tx.Update(ctx, patch, store.UpdateOptions{}); err != nil {
		return 0, err
	}
	for k, v := range patch {
		ent.doc[k] = v
	}
	return ttc, nil
}

// moduleStart is the start of the step holding m in its project, or now
// for modules outside any project.
func (r *run) moduleStart(ctx context.Context, m *entity) (time.Time, error) {
	projectID := m.parentID()
	if projectID == "" {
		return r.e.now(), nil
	}
	p, err := r.load(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return r.e.now(), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	start, err := startOf(p.doc)
	if err != nil {
		return time.Time{}, err
	}
	var elapsed float64
	for _, items := range p.steps {
		if slices.Contains(items, m.id) {
			break
		}
		var longest float64
		for _, id := range items {
			v, err := r.tx.GetField(ctx, id, domain.FieldTTC)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return time.Time{}, err
			}
			ttc, _ := number(v)
			longest = max(longest, ttc)
		}
		elapsed += longest
	}
	return addDays(start, elapsed), nil
}

// assignments maps rank ids to the project users holding them when the
// project assigns users automatically.
func (r *run) assignments(ctx context.Context, project store.Document) (map[string][]string, error) {
	if auto, _ := project[fieldAutoAssign].(bool); !auto {
		return nil, nil
	}
	users, _ := project[fieldUsers].([]any)
	out := map[string][]string{}
	for _, u := range users {
		uid, ok := u.(string)
		if !ok {
			continue
		}
		v, err := r.tx.GetField(ctx, uid, fieldRank)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rank, ok := v.(string); ok && rank != "" {
			out[rank] = append(out[rank], uid)
		}
	}
	return out, nil
}

func mergeUsers(existing any, add []string) []any {
	var out []any
	seen := map[string]bool{}
	items, _ := existing.([]any)
	for _, v := range items {
		if s, ok := v.(string); ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func startOf(doc store.Document) (time.Time, error) {
	const op = "schedule"
	raw, ok := doc[domain.FieldStart].(string)
	if !ok || raw == "" {
		return time.Time{}, errs.Validation(op, errs.MissingRequiredField, "%s has no start date", store.IDOf(doc))
	}
	if t, ok := domain.ParseStart(raw); ok {
		return t, nil
	}
	return time.Time{}, errs.Validation(op, errs.TypeMismatch, "start %q of %s is not a date", raw, store.IDOf(doc))
}

func addDays(t time.Time, days float64) time.Time {
	return t.Add(time.Duration(days * float64(day)))
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
