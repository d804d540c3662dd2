package server

import (
	"stepline/internal/domain"
	"stepline/internal/store"
)

// Request payloads

type typePath struct {
	Type string `path:"type" doc:"Document type name or collection"`
}

type documentPath struct {
	Type string `path:"type" doc:"Document type name or collection"`
	Key  string `path:"key" doc:"Document key or full id"`
}

type writeDocumentRequest struct {
	Type string         `path:"type" doc:"Document type name or collection"`
	Body map[string]any `json:"body"`
}

type updateDocumentRequest struct {
	Type string         `path:"type" doc:"Document type name or collection"`
	Key  string         `path:"key" doc:"Document key or full id"`
	Body map[string]any `json:"body"`
}

type workflowPath struct {
	Kind string `path:"kind" enum:"projects,modules,tasks"`
	Key  string `path:"key"`
}

type completeRequest struct {
	Kind  string `path:"kind" enum:"projects,modules,tasks"`
	Key   string `path:"key"`
	Force bool   `query:"force" doc:"Complete every module and task below the entity"`
}

type CompleteTaskRequest struct {
	Status domain.Status `json:"status" enum:"COMPLETED,WAIVED"`
}

type completeTaskInput struct {
	Key  string `path:"key"`
	Body CompleteTaskRequest
}

// Responses

type documentOutput struct {
	Body store.Document `json:"body"`
}

type documentListOutput struct {
	Body DocumentListResponse `json:"body"`
}

type DocumentListResponse struct {
	Items []store.Document `json:"items"`
}

type workflowOutput struct {
	Body domain.WorkflowState `json:"body"`
}
