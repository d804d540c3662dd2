package catalog

import (
	"context"
	"errors"

	"stepline/internal/document"
	"stepline/internal/domain"
	"stepline/internal/errs"
	"stepline/internal/schema"
	"stepline/internal/stepper"
	"stepline/internal/store"
)

// Builders returns the string builders of the built-in types.
func Builders(st store.Store) map[string]document.Builder {
	return map[string]document.Builder{
		Comments: buildComment(st),
		Modules:  buildModuleFromTemplate(st),
	}
}

// Modifiers returns the pre-normalization hooks of the built-in types.
func Modifiers() map[string]document.Modifier {
	return map[string]document.Modifier{
		Waive: func(_ context.Context, actor domain.Actor, _ domain.Files, doc store.Document, _ bool) error {
			if _, ok := doc["author"]; !ok && actor.ID != "" {
				doc["author"] = actor.ID
			}
			return nil
		},
		TaskTemplates: func(_ context.Context, _ domain.Actor, _ domain.Files, doc store.Document, _ bool) error {
			delete(doc, schema.FieldID)
			return nil
		},
		Modules: func(_ context.Context, _ domain.Actor, _ domain.Files, doc store.Document, _ bool) error {
			delete(doc, "waive_module")
			return nil
		},
		Projects: checkProjectStart,
	}
}

// checkProjectStart rejects a start date scheduling could not read, so a bad
// project never reaches the store.
func checkProjectStart(_ context.Context, _ domain.Actor, _ domain.Files, doc store.Document, _ bool) error {
	raw, ok := doc[domain.FieldStart].(string)
	if !ok || raw == "" {
		return nil
	}
	if _, ok := domain.ParseStart(raw); !ok {
		return errs.Validation("normalize "+Projects, errs.TypeMismatch, "start %q of %s is not a date", raw, store.IDOf(doc))
	}
	return nil
}

func buildComment(st store.Store) document.Builder {
	return func(_ context.Context, actor domain.Actor, _ domain.Files, value, _ string) (store.Document, error) {
		return store.Document{
			schema.FieldID: st.GenerateID(Comments),
			"content":      value,
			"author":       actor.ID,
		}, nil
	}
}

// buildModuleFromTemplate instantiates a module from a module template key.
// Every task template becomes a new task of the module.
func buildModuleFromTemplate(st store.Store) document.Builder {
	return func(ctx context.Context, _ domain.Actor, _ domain.Files, value, parentID string) (store.Document, error) {
		const op = "build module from template"
		tmplID := value
		if !schema.IsID(tmplID) {
			if !schema.IsKey(tmplID) {
				return nil, errs.Validation(op, errs.InvalidKeyValue, "%q is not a module template key", value)
			}
			tmplID = schema.JoinID(ModuleTemplates, value)
		}
		if collection, _, _ := schema.SplitID(tmplID); collection != ModuleTemplates {
			return nil, errs.Validation(op, errs.InvalidKeyValue, "%q is not a module template key", value)
		}
		tmpl, err := st.Get(ctx, tmplID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.Validation(op, errs.InvalidKeyValue, "module template %s does not exist", value)
		}
		if err != nil {
			return nil, err
		}

		steps, err := stepper.Repair(tmpl["tasks"])
		if err != nil {
			return nil, err
		}
		tasks := make(stepper.Stepper[any], len(steps))
		for i, step := range steps {
			tasks[i] = make([]any, 0, len(step))
			for _, raw := range step {
				t, ok := raw.(map[string]any)
				if !ok {
					return nil, errs.Internal(op, errs.InvalidForeignObject, "template %s holds a %T task", tmplID, raw)
				}
				task := map[string]any{
					"title":  t["title"],
					"status": t["status"],
					"users":  []any{},
					"type":   t["type"],
					"ttc":    t["ttc"],
				}
				if rank, ok := t["rank"].(string); ok && rank != "" {
					task["rank"] = schema.KeyOf(rank)
				}
				tasks[i] = append(tasks[i], task)
			}
		}

		module := store.Document{
			schema.FieldID:          st.GenerateID(Modules),
			"title":                 tmpl["title"],
			"tasks":                 tasks.Value(),
			"comments":              []any{},
			"status":                string(domain.StatusAwaiting),
			"ttc":                   tmpl["ttc"],
			domain.FieldCurrentStep: 0,
		}
		if collection, _, ok := schema.SplitID(parentID); ok && collection == Projects {
			module[domain.FieldProject] = parentID
		}
		return module, nil
	}
}
