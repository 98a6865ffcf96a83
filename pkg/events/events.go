// Package events defines event types and structures for flow lifecycle notifications.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the topic every stepflow event is published on.
const Topic = "stepflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Flow lifecycle events.
	FlowPublishedEvent   EventType = "flow.published"
	FlowUnpublishedEvent EventType = "flow.unpublished"
	FlowDeletedEvent     EventType = "flow.deleted"

	// FlowTriggeredEvent carries an inbound webhook payload to the worker.
	FlowTriggeredEvent EventType = "flow.triggered"

	// Execution events.
	ExecutionFinishedEvent EventType = "execution.finished"
	ExecutionFailedEvent   EventType = "execution.failed"
)

var (
	ErrMissingFlowID      = errors.New("flow_id is required")
	ErrMissingExecutionID = errors.New("execution_id is required")
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	FlowID    string         `json:"flow_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, flowID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flowID,
		Metadata:  make(map[string]any),
	}
}

func (b BaseEvent) validate() error {
	if b.FlowID == "" {
		return ErrMissingFlowID
	}

	return nil
}

// FlowPublished is published once a flow became active and its trigger side effects ran.
type FlowPublished struct {
	BaseEvent

	OwnerID     string    `json:"owner_id"`
	TriggerApp  string    `json:"trigger_app"`
	TriggerKey  string    `json:"trigger_key"`
	TriggerKind string    `json:"trigger_kind"`
	PublishedAt time.Time `json:"published_at"`
}

func (e FlowPublished) GetType() EventType {
	return FlowPublishedEvent
}

func NewFlowPublished(flowID, ownerID, triggerApp, triggerKey, triggerKind string) *FlowPublished {
	return &FlowPublished{
		BaseEvent:   NewBaseEvent(FlowPublishedEvent, flowID),
		OwnerID:     ownerID,
		TriggerApp:  triggerApp,
		TriggerKey:  triggerKey,
		TriggerKind: triggerKind,
		PublishedAt: time.Now().UTC(),
	}
}

func (e *FlowPublished) Validate() error {
	return e.validate()
}

type FlowUnpublished struct {
	BaseEvent

	OwnerID string `json:"owner_id"`
}

func (e FlowUnpublished) GetType() EventType {
	return FlowUnpublishedEvent
}

func NewFlowUnpublished(flowID, ownerID string) *FlowUnpublished {
	return &FlowUnpublished{
		BaseEvent: NewBaseEvent(FlowUnpublishedEvent, flowID),
		OwnerID:   ownerID,
	}
}

func (e *FlowUnpublished) Validate() error {
	return e.validate()
}

type FlowDeleted struct {
	BaseEvent

	OwnerID string `json:"owner_id"`
}

func (e FlowDeleted) GetType() EventType {
	return FlowDeletedEvent
}

func NewFlowDeleted(flowID, ownerID string) *FlowDeleted {
	return &FlowDeleted{
		BaseEvent: NewBaseEvent(FlowDeletedEvent, flowID),
		OwnerID:   ownerID,
	}
}

func (e *FlowDeleted) Validate() error {
	return e.validate()
}

// FlowTriggered carries one trigger item to the worker that runs the flow.
type FlowTriggered struct {
	BaseEvent

	StepID     string         `json:"step_id"`
	InternalID string         `json:"internal_id"`
	Data       map[string]any `json:"data,omitempty"`
	TestRun    bool           `json:"test_run,omitempty"`
}

func (e FlowTriggered) GetType() EventType {
	return FlowTriggeredEvent
}

func NewFlowTriggered(flowID, stepID, internalID string, data map[string]any) *FlowTriggered {
	return &FlowTriggered{
		BaseEvent:  NewBaseEvent(FlowTriggeredEvent, flowID),
		StepID:     stepID,
		InternalID: internalID,
		Data:       data,
	}
}

func (e *FlowTriggered) Validate() error {
	return e.validate()
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID   string         `json:"execution_id"`
	StepsExecuted int            `json:"steps_executed"`
	Result        map[string]any `json:"result,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

func NewExecutionFinished(flowID, executionID string, stepsExecuted int, result map[string]any, duration time.Duration) *ExecutionFinished {
	return &ExecutionFinished{
		BaseEvent:     NewBaseEvent(ExecutionFinishedEvent, flowID),
		ExecutionID:   executionID,
		StepsExecuted: stepsExecuted,
		Result:        result,
		Duration:      duration,
	}
}

func (e *ExecutionFinished) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}

	if e.ExecutionID == "" {
		return ErrMissingExecutionID
	}

	return nil
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	StepID      string        `json:"step_id"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

func NewExecutionFailed(flowID, executionID, stepID, message string, duration time.Duration) *ExecutionFailed {
	return &ExecutionFailed{
		BaseEvent:   NewBaseEvent(ExecutionFailedEvent, flowID),
		ExecutionID: executionID,
		StepID:      stepID,
		Error:       message,
		Duration:    duration,
	}
}

func (e *ExecutionFailed) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}

	if e.ExecutionID == "" {
		return ErrMissingExecutionID
	}

	return nil
}

// New returns an empty event value for the type, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case FlowPublishedEvent:
		return &FlowPublished{}, true
	case FlowUnpublishedEvent:
		return &FlowUnpublished{}, true
	case FlowDeletedEvent:
		return &FlowDeleted{}, true
	case FlowTriggeredEvent:
		return &FlowTriggered{}, true
	case ExecutionFinishedEvent:
		return &ExecutionFinished{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	default:
		return nil, false
	}
}
