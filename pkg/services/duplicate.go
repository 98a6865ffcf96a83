package services

import (
	"context"
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/template"
)

// Duplicate copies a flow and its steps for targetUserID. The copy is always inactive.
//
// Steps are copied in position order and every {{step.<old id>. reference to an already
// copied step is rewritten to the new id. A step may only reference earlier steps, so one
// pass is enough.
func (f *Flow) Duplicate(ctx context.Context, flowID, targetUserID string) (*models.Flow, error) {
	source, err := f.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	now := f.now()
	duplicated := &models.Flow{
		ID:        newID(),
		Name:      "Copy of " + source.Name,
		OwnerID:   targetUserID,
		Active:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := validateFlow(duplicated); err != nil {
		return nil, err
	}

	err = f.persistence.Atomic(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if err := repos.FlowRepository().Save(ctx, duplicated); err != nil {
			return err
		}

		newStepIDs := make(map[string]string, len(source.Steps))

		for _, step := range source.Steps {
			copied := &models.Step{
				ID:           newID(),
				FlowID:       duplicated.ID,
				Type:         step.Type,
				AppKey:       step.AppKey,
				Key:          step.Key,
				ConnectionID: step.ConnectionID,
				Position:     step.Position,
				Parameters:   template.RewriteStepReferences(step.Parameters, newStepIDs),
				CreatedAt:    now,
				UpdatedAt:    now,
			}

			copied.Status = f.stepStatus(copied)

			if copied.IsTrigger() {
				copied.WebhookPath = f.webhookPath(duplicated.ID, copied)
			}

			if err := repos.StepRepository().Save(ctx, copied); err != nil {
				return err
			}

			newStepIDs[step.ID] = copied.ID
			duplicated.Steps = append(duplicated.Steps, copied)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate flow %s: %w", flowID, err)
	}

	models.SortStepsByPosition(duplicated.Steps)

	f.logger.InfoContext(ctx, "Flow duplicated", "flow_id", flowID, "duplicate_id", duplicated.ID, "owner_id", targetUserID)

	if err := f.populateStatus(ctx, duplicated); err != nil {
		return nil, err
	}

	return duplicated, nil
}
