package handler

import (
	"time"

	"smartop/internal/workflow/models"
)

// ItemRequest is one checklist line as submitted by the client.
type ItemRequest struct {
	Label     string `json:"label"`
	Completed bool   `json:"completed"`
}

func toItems(reqs []ItemRequest) []models.ControlItem {
	if len(reqs) == 0 {
		return nil
	}
	items := make([]models.ControlItem, 0, len(reqs))
	for _, r := range reqs {
		items = append(items, models.ControlItem{Label: r.Label, Completed: r.Completed})
	}
	return items
}

// CreateEntityRequest registers a new control list or work session.
type CreateEntityRequest struct {
	NaturalKey string `json:"natural_key"`
	// OwnerID lets managers create on an operator's behalf.
	OwnerID string `json:"owner_id,omitempty"`
	// TenantID is required for admins, who act outside any tenant.
	TenantID    string        `json:"tenant_id,omitempty"`
	Items       []ItemRequest `json:"items,omitempty"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
}

// TransitionRequest asks for a status change.
type TransitionRequest struct {
	Status      string        `json:"status"`
	ReviewNotes string        `json:"review_notes,omitempty"`
	Items       []ItemRequest `json:"items,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
}

var knownStatuses = map[models.Status]bool{
	models.StatusPending:    true,
	models.StatusInProgress: true,
	models.StatusCompleted:  true,
	models.StatusApproved:   true,
	models.StatusRejected:   true,
	models.StatusExpired:    true,
}
