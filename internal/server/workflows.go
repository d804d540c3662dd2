package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"stepline/internal/domain"
	"stepline/internal/engine"
)

type transition func(ctx context.Context, actor domain.Actor, id string) (domain.WorkflowState, error)

func registerWorkflows(api huma.API, wf Workflows) {
	actions := []struct {
		name    string
		summary string
		fn      transition
	}{
		{"start", "Start a project, module or task", wf.Start},
		{"advance", "Advance past completed steps", wf.AutomaticAdvance},
		{"restart", "Reset descendants and start again", wf.Restart},
		{"archive", "Archive an entity", wf.Archive},
		{"reschedule", "Recompute time to complete and suspense dates", wf.Reschedule},
	}
	for _, a := range actions {
		fn := a.fn
		huma.Register(api, huma.Operation{
			OperationID: "workflows-" + a.name,
			Method:      http.MethodPost,
			Path:        "/workflows/{kind}/{key}/" + a.name,
			Summary:     a.summary,
		}, func(ctx context.Context, input *workflowPath) (*workflowOutput, error) {
			actor, apiErr := actorFromContext(ctx)
			if apiErr != nil {
				return nil, apiErr
			}
			state, err := fn(ctx, actor, input.Kind+"/"+input.Key)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			return &workflowOutput{Body: state}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "workflows-complete",
		Method:      http.MethodPost,
		Path:        "/workflows/{kind}/{key}/complete",
		Summary:     "Complete an entity",
	}, func(ctx context.Context, input *completeRequest) (*workflowOutput, error) {
		actor, apiErr := actorFromContext(ctx)
		if apiErr != nil {
			return nil, apiErr
		}
		state, err := wf.Complete(ctx, actor, input.Kind+"/"+input.Key, engine.CompleteOptions{Force: input.Force})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &workflowOutput{Body: state}, nil
	})
}

func registerTasks(api huma.API, wf Workflows) {
	huma.Register(api, huma.Operation{
		OperationID: "tasks-complete",
		Method:      http.MethodPost,
		Path:        "/tasks/{key}/complete",
		Summary:     "Mark a task completed or waived",
	}, func(ctx context.Context, input *completeTaskInput) (*workflowOutput, error) {
		actor, apiErr := actorFromContext(ctx)
		if apiErr != nil {
			return nil, apiErr
		}
		state, err := wf.CompleteTask(ctx, actor, domain.CollectionTasks+"/"+input.Key, input.Body.Status)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &workflowOutput{Body: state}, nil
	})
}
