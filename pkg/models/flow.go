// Package models defines the core domain models for linear step-based flow automation.
package models

import "time"

// FlowStatus is the derived lifecycle view of a flow. It is computed on every read
// from the persisted Active flag and the owner's permission to run flows.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"     // Active is false
	FlowStatusPublished FlowStatus = "published" // Active and the owner may run flows
	FlowStatusPaused    FlowStatus = "paused"    // Active but the owner may not run flows
)

// Flow is a user-defined automation: one trigger step followed by ordered action steps.
type Flow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"                   validate:"required,min=1"`
	OwnerID     string     `json:"owner_id"               validate:"required"`
	Active      bool       `json:"active"`
	Status      FlowStatus `json:"status,omitempty"`
	Steps       []*Step    `json:"steps"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// ComputeStatus derives the status from the active flag and whether the owner
// is currently allowed to run flows.
func ComputeStatus(active, ownerAllowed bool) FlowStatus {
	switch {
	case !active:
		return FlowStatusDraft
	case ownerAllowed:
		return FlowStatusPublished
	default:
		return FlowStatusPaused
	}
}

// TriggerStep returns the unique trigger step of the flow, or nil.
func (f *Flow) TriggerStep() *Step {
	for _, step := range f.Steps {
		if step.IsTrigger() {
			return step
		}
	}

	return nil
}

// StepByID returns the step with the given identifier, or nil.
func (f *Flow) StepByID(id string) *Step {
	for _, step := range f.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// HasIncompleteStep reports whether any step still misses required configuration.
func (f *Flow) HasIncompleteStep() bool {
	for _, step := range f.Steps {
		if step.Status == StepStatusIncomplete {
			return true
		}
	}

	return false
}

// HasFewerThanTwoSteps reports whether the flow lacks a trigger and an action.
func (f *Flow) HasFewerThanTwoSteps() bool {
	return len(f.Steps) < 2
}
