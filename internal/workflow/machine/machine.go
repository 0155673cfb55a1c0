// Package machine implements the workflow state machine shared by control
// lists and work sessions. One engine, two edge sets; the entity kind selects
// the parameterization.
package machine

import (
	"strconv"
	"strings"
	"time"

	"smartop/internal/identity"
	"smartop/internal/policy"
	"smartop/internal/workflow/models"
	dErrors "smartop/pkg/domain-errors"
)

// Payload carries the client-supplied inputs a transition may use. Derived
// fields are always recomputed; nothing here is trusted as-is.
type Payload struct {
	// ReviewNotes is required (non-empty) for reject, optional for approve.
	ReviewNotes string
	// Items replaces the control items when the owner completes or resubmits
	// a control list. Nil leaves the stored items untouched.
	Items []models.ControlItem
	// EndedAt closes a work session; defaults to the transition time.
	EndedAt *time.Time
}

// Result is a successful transition outcome: the mutated entity (a copy) and
// the single domain event it produced.
type Result struct {
	Entity *models.Entity
	Event  models.DomainEvent
}

// Machine validates and applies transitions. It is pure: no stores, no
// clocks of its own (time comes in), no side effects beyond the returned
// entity copy.
type Machine struct {
	policies *policy.Engine
}

func New(policies *policy.Engine) *Machine {
	return &Machine{policies: policies}
}

// actionFor maps a requested target status to the specific policy action the
// actor must hold. Approve is not "generic write access": each edge gets its
// own check.
func actionFor(from, to models.Status) policy.Action {
	switch to {
	case models.StatusCompleted:
		return policy.ActionComplete
	case models.StatusApproved:
		return policy.ActionApprove
	case models.StatusRejected:
		return policy.ActionReject
	case models.StatusExpired:
		return policy.ActionExpire
	case models.StatusPending:
		// rejected -> pending is the owner resubmitting.
		return policy.ActionStart
	default:
		return policy.Action("unknown")
	}
}

// Attempt validates the requested transition against the current state and
// the actor's rights, and on success returns the new entity plus exactly one
// domain event. Failures return no event and leave the input untouched.
func (m *Machine) Attempt(entity *models.Entity, requested models.Status, actor identity.Principal, payload Payload, now time.Time) (*Result, error) {
	// Edge legality first: unknown edges are rejected independent of role.
	if !models.EdgeAllowed(entity.Kind, entity.Status, requested) {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
			"no %s transition from %s to %s", entity.Kind, entity.Status, requested)
	}

	decision := m.policies.Decide(actor, actionFor(entity.Status, requested), entity.PolicyResource())
	if !decision.Allowed {
		return nil, dErrors.New(dErrors.CodePolicyDenied, decision.Reason)
	}

	if requested == models.StatusRejected && strings.TrimSpace(payload.ReviewNotes) == "" {
		return nil, dErrors.New(dErrors.CodeValidationFailed, "review_notes: rejection reason is required")
	}

	next := entity.Clone()
	oldStatus := next.Status
	next.Status = requested

	switch requested {
	case models.StatusCompleted:
		if payload.Items != nil {
			next.Items = payload.Items
		}
		if next.Kind == models.KindWorkSession {
			ended := now
			if payload.EndedAt != nil {
				ended = *payload.EndedAt
			}
			next.EndedAt = &ended
		}
	case models.StatusApproved, models.StatusRejected:
		reviewer := actor.ID
		reviewedAt := now
		next.ReviewerID = &reviewer
		next.ReviewedAt = &reviewedAt
		next.ReviewNotes = strings.TrimSpace(payload.ReviewNotes)
	case models.StatusPending:
		// Resubmit clears the previous review verdict.
		next.ReviewerID = nil
		next.ReviewedAt = nil
		next.ReviewNotes = ""
		if payload.Items != nil {
			next.Items = payload.Items
		}
	}

	next.RecomputeDerived()
	next.Version++
	next.UpdatedAt = now

	event := models.NewDomainEvent(next, oldStatus, actor.ID, eventMetadata(next), now)
	return &Result{Entity: next, Event: event}, nil
}

func eventMetadata(e *models.Entity) map[string]string {
	md := map[string]string{
		"natural_key": e.NaturalKey,
	}
	if e.Kind == models.KindControlList {
		md["completion_percentage"] = strconv.FormatFloat(e.CompletionPercentage, 'f', 2, 64)
	}
	if e.Kind == models.KindWorkSession && e.EndedAt != nil {
		md["duration_minutes"] = strconv.Itoa(e.DurationMinutes)
	}
	if e.ReviewNotes != "" {
		md["review_notes"] = e.ReviewNotes
	}
	return md
}
