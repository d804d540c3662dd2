package steplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Stepline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Document is a stored document as returned by the API.
type Document map[string]any

// ID returns the document id.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// WorkflowState is the workflow view of a project, module or task.
type WorkflowState struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind"`
	Title           string  `json:"title,omitempty"`
	Status          string  `json:"status"`
	CurrentStep     int     `json:"current_step"`
	TTC             float64 `json:"ttc"`
	Suspense        string  `json:"suspense,omitempty"`
	PercentComplete float64 `json:"percent_complete"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Body       string         `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IDs lists the offending document ids reported with the error.
func (e *APIError) IDs() []string {
	raw, _ := e.Details["ids"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// CreateDocument creates a document of docType with its nested documents.
func (c *Client) CreateDocument(ctx context.Context, docType string, doc Document) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodPost, "documents/"+url.PathEscape(docType), doc, &resp)
	return resp, err
}

// UpdateDocument patches the fields of an existing document.
func (c *Client) UpdateDocument(ctx context.Context, docType, key string, patch Document) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodPut, c.documentPath(docType, key), patch, &resp)
	return resp, err
}

// GetDocument returns a hydrated document.
func (c *Client) GetDocument(ctx context.Context, docType, key string) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodGet, c.documentPath(docType, key), nil, &resp)
	return resp, err
}

// ListDocuments returns every document of docType.
func (c *Client) ListDocuments(ctx context.Context, docType string) ([]Document, error) {
	var resp struct {
		Items []Document `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "documents/"+url.PathEscape(docType), nil, &resp)
	return resp.Items, err
}

// Start starts an AWAITING project, module or task. kind is the collection
// name: projects, modules or tasks.
func (c *Client) Start(ctx context.Context, kind, key string) (WorkflowState, error) {
	return c.transition(ctx, kind, key, "start")
}

// Advance moves an entity past its finished steps.
func (c *Client) Advance(ctx context.Context, kind, key string) (WorkflowState, error) {
	return c.transition(ctx, kind, key, "advance")
}

// Complete completes an entity. With force every descendant is completed too.
func (c *Client) Complete(ctx context.Context, kind, key string, force bool) (WorkflowState, error) {
	action := "complete"
	if force {
		action += "?force=true"
	}
	return c.transition(ctx, kind, key, action)
}

// Restart resets an entity's descendants and starts it again.
func (c *Client) Restart(ctx context.Context, kind, key string) (WorkflowState, error) {
	return c.transition(ctx, kind, key, "restart")
}

// Archive archives an entity.
func (c *Client) Archive(ctx context.Context, kind, key string) (WorkflowState, error) {
	return c.transition(ctx, kind, key, "archive")
}

// Reschedule recomputes time to complete and suspense dates.
func (c *Client) Reschedule(ctx context.Context, kind, key string) (WorkflowState, error) {
	return c.transition(ctx, kind, key, "reschedule")
}

// CompleteTask marks a task COMPLETED or WAIVED.
func (c *Client) CompleteTask(ctx context.Context, key, status string) (WorkflowState, error) {
	var resp WorkflowState
	endpoint := fmt.Sprintf("tasks/%s/complete", url.PathEscape(key))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, kind, key, action string) (WorkflowState, error) {
	var resp WorkflowState
	endpoint := fmt.Sprintf("workflows/%s/%s/%s", url.PathEscape(kind), url.PathEscape(key), action)
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error *APIError `json:"error"`
		}
		env.Error = apiErr
		_ = json.Unmarshal(b, &env)
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) documentPath(docType, key string) string {
	return fmt.Sprintf("documents/%s/%s", url.PathEscape(docType), url.PathEscape(key))
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
