package models

import (
	"sort"
	"time"
)

// StepType distinguishes the entry trigger from subsequent actions.
type StepType string

const (
	StepTypeTrigger StepType = "trigger"
	StepTypeAction  StepType = "action"
)

// StepStatus reflects whether a step's required configuration is present.
type StepStatus string

const (
	StepStatusIncomplete StepStatus = "incomplete"
	StepStatusCompleted  StepStatus = "completed"
)

// Step is a single configured unit of work within a flow.
// Positions are 1-based and contiguous within a flow; the trigger is always at position 1.
type Step struct {
	ID           string         `json:"id"`
	FlowID       string         `json:"flow_id"`
	Type         StepType       `json:"type"                    validate:"required,oneof=trigger action"`
	AppKey       string         `json:"app_key,omitempty"`
	Key          string         `json:"key,omitempty"`
	ConnectionID *string        `json:"connection_id,omitempty"`
	Position     int            `json:"position"                validate:"min=1"`
	Parameters   map[string]any `json:"parameters"`
	Status       StepStatus     `json:"status"`
	WebhookPath  *string        `json:"webhook_path,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsTrigger reports whether the step is the flow's trigger.
func (s *Step) IsTrigger() bool {
	return s.Type == StepTypeTrigger
}

// IsAction reports whether the step is an action.
func (s *Step) IsAction() bool {
	return s.Type == StepTypeAction
}

// ComputeWebhookPath returns the inbound webhook path for a trigger step of the given flow.
// Synchronous webhooks answer with the flow's output and live under a /sync suffix.
func ComputeWebhookPath(flowID string, synchronous bool) string {
	path := "/webhooks/flows/" + flowID
	if synchronous {
		path += "/sync"
	}

	return path
}

// SortStepsByPosition orders steps ascending by position in place.
func SortStepsByPosition(steps []*Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Position < steps[j].Position
	})
}

// PositionsContiguous reports whether the steps' positions are exactly 1..N.
func PositionsContiguous(steps []*Step) bool {
	seen := make(map[int]bool, len(steps))

	for _, step := range steps {
		if step.Position < 1 || step.Position > len(steps) || seen[step.Position] {
			return false
		}

		seen[step.Position] = true
	}

	return true
}
