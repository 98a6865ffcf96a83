package models

import "time"

// ExecutionStepStatus is the outcome of running one step inside an execution.
type ExecutionStepStatus string

const (
	ExecutionStepStatusSuccess ExecutionStepStatus = "success"
	ExecutionStepStatusFailure ExecutionStepStatus = "failure"
)

// Execution is one run of a flow's full step chain.
// InternalID is the trigger-side token used to skip items that were already processed.
type Execution struct {
	ID             string           `json:"id"`
	FlowID         string           `json:"flow_id"`
	InternalID     string           `json:"internal_id"`
	TestRun        bool             `json:"test_run"`
	ExecutionSteps []*ExecutionStep `json:"execution_steps,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ExecutionStep is the recorded input and output of one step within one execution.
type ExecutionStep struct {
	ID           string              `json:"id"`
	ExecutionID  string              `json:"execution_id"`
	StepID       string              `json:"step_id"`
	Status       ExecutionStepStatus `json:"status"`
	DataIn       map[string]any      `json:"data_in,omitempty"`
	DataOut      map[string]any      `json:"data_out,omitempty"`
	ErrorDetails map[string]any      `json:"error_details,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// IsFailed reports whether the step run failed.
func (e *ExecutionStep) IsFailed() bool {
	return e.Status == ExecutionStepStatusFailure
}

// Failed reports whether any of the execution's steps failed.
func (e *Execution) Failed() bool {
	for _, step := range e.ExecutionSteps {
		if step.IsFailed() {
			return true
		}
	}

	return false
}
