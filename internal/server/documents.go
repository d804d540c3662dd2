package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"stepline/internal/schema"
	"stepline/internal/store"
)

func registerDocuments(api huma.API, docs Documents) {
	huma.Register(api, huma.Operation{
		OperationID:   "documents-create",
		Method:        http.MethodPost,
		Path:          "/documents/{type}",
		Summary:       "Create a document and its nested documents",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *writeDocumentRequest) (*documentOutput, error) {
		actor, apiErr := actorFromContext(ctx)
		if apiErr != nil {
			return nil, apiErr
		}
		body := store.Document(input.Body)
		if body == nil {
			body = store.Document{}
		}
		created, err := docs.Create(ctx, actor, nil, input.Type, body)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		// Reload so the response carries post-create scheduling.
		out, err := docs.Get(ctx, actor, input.Type, store.IDOf(created))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &documentOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "documents-update",
		Method:      http.MethodPut,
		Path:        "/documents/{type}/{key}",
		Summary:     "Update a document",
	}, func(ctx context.Context, input *updateDocumentRequest) (*documentOutput, error) {
		actor, apiErr := actorFromContext(ctx)
		if apiErr != nil {
			return nil, apiErr
		}
		patch := store.Document(input.Body)
		delete(patch, schema.FieldID)
		if _, err := docs.Update(ctx, actor, nil, input.Type, input.Key, patch); err != nil {
			return nil, handleError(ctx, err)
		}
		out, err := docs.Get(ctx, actor, input.Type, input.Key)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &documentOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "documents-get",
		Method:      http.MethodGet,
		Path:        "/documents/{type}/{key}",
		Summary:     "Get a hydrated document",
	}, func(ctx context.Context, input *documentPath) (*documentOutput, error) {
		actor, apiErr := actorFromContext(ctx)
		if apiErr != nil {
			return nil, apiErr
		}
		out, err := docs.Get(ctx, actor, input.Type, input.Key)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &documentOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "documents-list",
		Method:      http.MethodGet,
		Path:        "/documents/{type}",
		Summary:     "List documents of a type",
	}, func(ctx context.Context, input *typePath) (*documentListOutput, error) {
		actor, apiErr := actorFromContext(ctx)
		if apiErr != nil {
			return nil, apiErr
		}
		items, err := docs.List(ctx, actor, input.Type)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []store.Document{}
		}
		return &documentListOutput{Body: DocumentListResponse{Items: items}}, nil
	})
}
