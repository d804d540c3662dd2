package engine

import (
	"context"
	"errors"
	"fmt"

	"stepline/internal/domain"
	"stepline/internal/errs"
	"stepline/internal/stepper"
	"stepline/internal/store"
)

// Start moves an AWAITING entity to IN_PROGRESS and starts the children of
// its first step. Projects and modules are rescheduled first.
func (e Engine) Start(ctx context.Context, actor domain.Actor, id string) (domain.WorkflowState, error) {
	var state domain.WorkflowState
	err := e.transact(ctx, actor, func(ctx context.Context, r *run) error {
		ent, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if ent.status != domain.StatusAwaiting {
			return errs.State("start", errs.InvalidState, "%s is %s, not %s", id, ent.status, domain.StatusAwaiting).WithIDs(id)
		}
		if ent.hasSteps() {
			if err := r.reschedule(ctx, ent); err != nil {
				return err
			}
		}
		if err := r.start(ctx, ent); err != nil {
			return err
		}
		state = ent.state()
		return nil
	})
	return state, err
}

// AutomaticAdvance moves an entity past its current step once every child
// of that step is COMPLETED or WAIVED. It is a no-op otherwise, so it can be
// called after every child change. When a module finishes, its project is
// advanced too.
func (e Engine) AutomaticAdvance(ctx context.Context, actor domain.Actor, id string) (domain.WorkflowState, error) {
	var state domain.WorkflowState
	err := e.transact(ctx, actor, func(ctx context.Context, r *run) error {
		ent, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if !ent.hasSteps() {
			return errs.Validation("advance", errs.InvalidState, "%s has no steps to advance", id).WithIDs(id)
		}
		changed, err := r.advance(ctx, ent)
		if err != nil {
			return err
		}
		if changed {
			if err := r.propagate(ctx, ent); err != nil {
				return err
			}
		}
		state = ent.state()
		return nil
	})
	return state, err
}

// CompleteOptions controls Complete.
type CompleteOptions struct {
	// Force marks every descendant COMPLETED instead of requiring it.
	Force bool
}

// Complete marks an entity COMPLETED. Without Force every module and task
// below it must already be terminal.
func (e Engine) Complete(ctx context.Context, actor domain.Actor, id string, opts CompleteOptions) (domain.WorkflowState, error) {
	var state domain.WorkflowState
	err := e.transact(ctx, actor, func(ctx context.Context, r *run) error {
		ent, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if err := r.complete(ctx, ent, domain.StatusCompleted, opts.Force); err != nil {
			return err
		}
		if err := r.propagate(ctx, ent); err != nil {
			return err
		}
		state = ent.state()
		return nil
	})
	return state, err
}

// CompleteTask closes a task as COMPLETED or WAIVED and advances its module
// and, when the module finishes, its project.
func (e Engine) CompleteTask(ctx context.Context, actor domain.Actor, id string, status domain.Status) (domain.WorkflowState, error) {
	const op = "complete task"
	if !status.Terminal() {
		return domain.WorkflowState{}, errs.Validation(op, errs.InvalidState, "tasks close as %s or %s, not %q", domain.StatusCompleted, domain.StatusWaived, status)
	}
	var state domain.WorkflowState
	err := e.transact(ctx, actor, func(ctx context.Context, r *run) error {
		ent, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if ent.kind != domain.CollectionTasks {
			return errs.Validation(op, errs.InvalidKeyValue, "%s is not a task", id).WithIDs(id)
		}
		if err := r.complete(ctx, ent, status, false); err != nil {
			return err
		}
		if err := r.propagate(ctx, ent); err != nil {
			return err
		}
		state = ent.state()
		return nil
	})
	return state, err
}

// Restart returns an entity and everything below it to AWAITING, then
// starts it again from its first step.
func (e Engine) Restart(ctx context.Context, actor domain.Actor, id string) (domain.WorkflowState, error) {
	var state domain.WorkflowState
	err := e.transact(ctx, actor, func(ctx context.Context, r *run) error {
		ent, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		modules, tasks, err := r.descendants(ctx, ent)
		if err != nil {
			return err
		}
		if err := r.tx.UpdateManyField(ctx, tasks, domain.FieldStatus, string(domain.StatusAwaiting)); err != nil {
			return err
		}
		resets := []struct {
			field string
			value any
		}{
			{domain.FieldStatus, string(domain.StatusAwaiting)},
			{domain.FieldCurrentStep, 0},
			{domain.FieldPercentComplete, 0},
		}
		for _, reset := range resets {
			if err := r.tx.UpdateManyField(ctx, modules, reset.field, reset.value); err != nil {
				return err
			}
		}
		ent.status = domain.StatusAwaiting
		ent.currentStep = -1
		r.emit(ent, "restart", map[string]any{"modules": len(modules), "tasks": len(tasks)})
		if ent.hasSteps() {
			if err := r.reschedule(ctx, ent); err != nil {
				return err
			}
		}
		if err := r.start(ctx, ent); err != nil {
			return err
		}
		state = ent.state()
		return nil
	})
	return state, err
}

// Archive sets ARCHIVED from any status. Children are left untouched.
func (e Engine) Archive(ctx context.Context, actor domain.Actor, id string) (domain.WorkflowState, error) {
	var state domain.WorkflowState
	err := e.transact(ctx, actor, func(ctx context.Context, r *run) error {
		ent, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		from := ent.status
		ent.status = domain.StatusArchived
		if err := r.save(ctx, ent); err != nil {
			return err
		}
		r.emit(ent, "archive", map[string]any{"from": string(from)})
		state = ent.state()
		return nil
	})
	return state, err
}

// State reads the workflow view of id.
func (e Engine) State(ctx context.Context, id string) (domain.WorkflowState, error) {
	r := &run{e: e, tx: e.Store}
	ent, err := r.load(ctx, id)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	return ent.state(), nil
}

// start sets ent IN_PROGRESS and enters its first step.
func (r *run) start(ctx context.Context, ent *entity) error {
	ent.status = domain.StatusInProgress
	r.emit(ent, "start", nil)
	if !ent.hasSteps() {
		return r.save(ctx, ent)
	}
	return r.enter(ctx, ent, 0)
}

// startChild starts a child reached through a cascade. Children that are
// not AWAITING are left as they are.
func (r *run) startChild(ctx context.Context, id string) error {
	child, err := r.load(ctx, id)
	if err != nil {
		return fmt.Errorf("start child %s: %w", id, err)
	}
	if child.status != domain.StatusAwaiting {
		r.e.log().Debug("child already started", "id", id, "status", child.status)
		return nil
	}
	return r.start(ctx, child)
}

// enter moves ent into step i and starts its children. A step whose
// children are all terminal is passed through at once; running out of
// steps completes ent.
func (r *run) enter(ctx context.Context, ent *entity, i int) error {
	for {
		items, ok := stepper.GetStep(ent.steps, i)
		if !ok {
			ent.status = domain.StatusCompleted
			ent.currentStep = -1
			r.emit(ent, "complete", nil)
			break
		}
		ent.currentStep = i
		for _, id := range items {
			if err := r.startChild(ctx, id); err != nil {
				return err
			}
		}
		pending, err := r.pending(ctx, items)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			r.emit(ent, "step", map[string]any{"step": i})
			break
		}
		i++
	}
	return r.save(ctx, ent)
}

// advance reports whether ent changed.
func (r *run) advance(ctx context.Context, ent *entity) (bool, error) {
	switch ent.status {
	case domain.StatusAwaiting:
		if err := r.start(ctx, ent); err != nil {
			return false, err
		}
		return true, nil
	case domain.StatusInProgress:
	default:
		r.e.log().Debug("not advancing", "id", ent.id, "status", ent.status)
		return false, nil
	}

	items, ok := stepper.GetStep(ent.steps, ent.currentStep)
	if !ok {
		return false, errs.Internal("advance", errs.InvalidState, "%s is %s at step %d which does not exist", ent.id, ent.status, ent.currentStep).WithIDs(ent.id)
	}
	pending, err := r.pending(ctx, items)
	if err != nil {
		return false, err
	}
	if len(pending) > 0 {
		r.e.log().Debug("step still open", "id", ent.id, "step", ent.currentStep, "pending", pending)
		return false, r.refresh(ctx, ent)
	}
	if err := r.enter(ctx, ent, ent.currentStep+1); err != nil {
		return false, err
	}
	return true, nil
}

// refresh saves ent when its stored percent complete is stale.
func (r *run) refresh(ctx context.Context, ent *entity) error {
	pct, err := r.percent(ctx, ent)
	if err != nil {
		return err
	}
	if stored, ok := number(ent.doc[domain.FieldPercentComplete]); ok && stored == pct {
		return nil
	}
	return r.save(ctx, ent)
}

// complete closes ent with status. Entities with children require every
// descendant to be terminal unless force is set, in which case descendants
// are completed in bulk.
func (r *run) complete(ctx context.Context, ent *entity, status domain.Status, force bool) error {
	if ent.status == domain.StatusArchived {
		return errs.State("complete", errs.InvalidState, "%s is archived", ent.id).WithIDs(ent.id)
	}
	modules, tasks, err := r.descendants(ctx, ent)
	if err != nil {
		return err
	}
	if force {
		updates := []struct {
			ids   []string
			field string
			value any
		}{
			{modules, domain.FieldStatus, string(domain.StatusCompleted)},
			{modules, domain.FieldCurrentStep, -1},
			{modules, domain.FieldPercentComplete, 100},
			{tasks, domain.FieldStatus, string(domain.StatusCompleted)},
		}
		for _, u := range updates {
			if err := r.tx.UpdateManyField(ctx, u.ids, u.field, u.value); err != nil {
				return err
			}
		}
	} else {
		var incomplete []string
		for _, ids := range [][]string{modules, tasks} {
			pending, err := r.pending(ctx, ids)
			if err != nil {
				return err
			}
			incomplete = append(incomplete, pending...)
		}
		if len(incomplete) > 0 {
			return errs.State("complete", errs.IncompleteDescendant, "%s has %d incomplete descendants", ent.id, len(incomplete)).WithIDs(incomplete...)
		}
	}
	ent.status = status
	if ent.hasSteps() {
		ent.currentStep = -1
	}
	if err := r.save(ctx, ent); err != nil {
		return err
	}
	r.emit(ent, "complete", map[string]any{"status": string(status), "force": force})
	return nil
}

// propagate advances the owner of a finished entity, climbing as long as
// owners finish in turn.
func (r *run) propagate(ctx context.Context, ent *entity) error {
	for ent.status.Terminal() {
		parentID := ent.parentID()
		if parentID == "" {
			return nil
		}
		parent, err := r.load(ctx, parentID)
		if errors.Is(err, store.ErrNotFound) {
			r.e.log().Warn("owner missing, not advancing", "id", ent.id, "owner", parentID)
			return nil
		}
		if err != nil {
			return err
		}
		changed, err := r.advance(ctx, parent)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		ent = parent
	}
	return nil
}
