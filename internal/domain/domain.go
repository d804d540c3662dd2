package domain

import "time"

type Status string

const (
	StatusAwaiting   Status = "AWAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusWaived     Status = "WAIVED"
	StatusArchived   Status = "ARCHIVED"
)

// Terminal reports whether s ends an entity's participation in its step.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusWaived
}

func (s Status) Valid() bool {
	switch s {
	case StatusAwaiting, StatusInProgress, StatusCompleted, StatusWaived, StatusArchived:
		return true
	}
	return false
}

// TerminalStatuses lists the statuses that let a step advance.
func TerminalStatuses() []any {
	return []any{string(StatusCompleted), string(StatusWaived)}
}

type TaskType string

const (
	TaskDocumentUpload       TaskType = "DOCUMENT_UPLOAD"
	TaskDocumentReview       TaskType = "DOCUMENT_REVIEW"
	TaskModuleWaiver         TaskType = "MODULE_WAIVER"
	TaskModuleWaiverApproval TaskType = "MODULE_WAIVER_APPROVAL"
)

// Workflow document fields shared by projects, modules and tasks.
const (
	FieldStatus          = "status"
	FieldCurrentStep     = "currentStep"
	FieldTTC             = "ttc"
	FieldSuspense        = "suspense"
	FieldPercentComplete = "percentComplete"
	FieldStart           = "start"
	FieldModules         = "modules"
	FieldTasks           = "tasks"
	FieldProject         = "project"
	FieldModule          = "module"
)

// Collections holding workflow entities.
const (
	CollectionProjects = "projects"
	CollectionModules  = "modules"
	CollectionTasks    = "tasks"
)

// ParseStart parses a project start date. RFC3339 timestamps and plain
// dates are accepted.
func ParseStart(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Actor is the authenticated caller on whose behalf documents change.
type Actor struct {
	ID string `json:"id"`
}

// Files carries inbound uploads keyed by field name. Storage of the bytes
// happens outside this module.
type Files map[string][]string

// WorkflowState is the workflow view of a project, module or task.
type WorkflowState struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind" enum:"projects,modules,tasks"`
	Title           string  `json:"title,omitempty"`
	Status          Status  `json:"status" enum:"AWAITING,IN_PROGRESS,COMPLETED,WAIVED,ARCHIVED"`
	CurrentStep     int     `json:"current_step"`
	TTC             float64 `json:"ttc"`
	Suspense        string  `json:"suspense,omitempty" format:"date-time"`
	PercentComplete float64 `json:"percent_complete"`
}

// Event records one workflow transition.
type Event struct {
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}
