// Package web provides the HTTP API for flows and steps and the webhook receiver.
package web

import (
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// UserIDHeader identifies the caller. Authentication happens upstream of this API.
const UserIDHeader = "X-User-ID"

// CreateFlowRequest is the body for creating a flow. The name is optional.
type CreateFlowRequest struct {
	Name string `json:"name" validate:"omitempty,max=255"`
}

// RenameFlowRequest is the body for renaming a flow.
type RenameFlowRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

// UpdateStatusRequest is the body for publishing or unpublishing a flow.
type UpdateStatusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// CreateStepRequest is the body for inserting an action step after an existing step.
type CreateStepRequest struct {
	PreviousStepID string `json:"previous_step_id" validate:"required"`
}

// UpdateStepRequest is the body for configuring a step.
type UpdateStepRequest struct {
	AppKey       string         `json:"app_key"`
	Key          string         `json:"key"           validate:"required_with=AppKey"`
	ConnectionID *string        `json:"connection_id"`
	Parameters   map[string]any `json:"parameters"`
}

// AdapterResponse describes a trigger or action of an app.
type AdapterResponse struct {
	Key    string         `json:"key"`
	Name   string         `json:"name"`
	Kind   string         `json:"kind,omitempty"`
	Fields []models.Field `json:"fields"`
}

// AppResponse describes an installed app.
type AppResponse struct {
	Key      string            `json:"key"`
	Name     string            `json:"name"`
	Triggers []AdapterResponse `json:"triggers"`
	Actions  []AdapterResponse `json:"actions"`
}

// TransformAppResponse lists an app with its triggers and actions.
func TransformAppResponse(app protocol.App) AppResponse {
	response := AppResponse{
		Key:      app.Key(),
		Name:     app.Name(),
		Triggers: []AdapterResponse{},
		Actions:  []AdapterResponse{},
	}

	for _, trigger := range app.Triggers() {
		response.Triggers = append(response.Triggers, AdapterResponse{
			Key:    trigger.Key(),
			Name:   trigger.Name(),
			Kind:   string(trigger.Kind()),
			Fields: fieldsOrEmpty(trigger.Fields()),
		})
	}

	for _, action := range app.Actions() {
		response.Actions = append(response.Actions, AdapterResponse{
			Key:    action.Key(),
			Name:   action.Name(),
			Fields: fieldsOrEmpty(action.Fields()),
		})
	}

	return response
}

func fieldsOrEmpty(fields []models.Field) []models.Field {
	if fields == nil {
		return []models.Field{}
	}

	return fields
}
