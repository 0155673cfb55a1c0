package service

import (
	"context"
	"sort"
	"time"

	"smartop/internal/identity"
	"smartop/internal/policy"
	"smartop/internal/workflow/models"
	id "smartop/pkg/domain"
	dErrors "smartop/pkg/domain-errors"
	"smartop/pkg/requestcontext"
)

// StatusCounts tallies a tenant's entities of one kind by status.
type StatusCounts map[models.Status]int

// DashboardSummary is the tenant-wide read model backing the dashboard view.
type DashboardSummary struct {
	TenantID       id.TenantID  `json:"tenant_id"`
	ControlLists   StatusCounts `json:"control_lists"`
	WorkSessions   StatusCounts `json:"work_sessions"`
	OverduePending int          `json:"overdue_pending"`
}

// MachineView aggregates a machine's work sessions. The session natural key
// names the machine, so sessions sharing one roll up into a single row.
type MachineView struct {
	Machine       string         `json:"machine"`
	Sessions      int            `json:"sessions"`
	ActiveSession *id.EntityID   `json:"active_session,omitempty"`
	LastStatus    models.Status  `json:"last_status"`
	LastStartedAt *time.Time     `json:"last_started_at,omitempty"`
	TotalMinutes  int            `json:"total_minutes"`
	OwnerID       id.PrincipalID `json:"owner_id"`
}

// Dashboard builds the tenant summary: per-kind status counts plus the
// number of pending control lists already past their scheduled date.
func (s *Service) Dashboard(ctx context.Context, tenantID id.TenantID, actor identity.Principal) (*DashboardSummary, error) {
	decision := s.policies.Decide(actor, policy.ActionView, policy.Resource{TenantID: tenantID})
	if !decision.Allowed {
		return nil, dErrors.New(dErrors.CodePolicyDenied, decision.Reason)
	}

	summary := &DashboardSummary{
		TenantID:     tenantID,
		ControlLists: StatusCounts{},
		WorkSessions: StatusCounts{},
	}
	now := requestcontext.Now(ctx)

	lists, err := s.store.List(ctx, tenantID, models.KindControlList)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entities")
	}
	for _, e := range lists {
		summary.ControlLists[e.Status]++
		if e.Status == models.StatusPending && e.ScheduledAt != nil && e.ScheduledAt.Before(now) {
			summary.OverduePending++
		}
	}

	sessions, err := s.store.List(ctx, tenantID, models.KindWorkSession)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entities")
	}
	for _, e := range sessions {
		summary.WorkSessions[e.Status]++
	}
	return summary, nil
}

// Machines rolls the tenant's work sessions up per machine, newest machine
// activity first.
func (s *Service) Machines(ctx context.Context, tenantID id.TenantID, actor identity.Principal) ([]MachineView, error) {
	decision := s.policies.Decide(actor, policy.ActionView, policy.Resource{TenantID: tenantID})
	if !decision.Allowed {
		return nil, dErrors.New(dErrors.CodePolicyDenied, decision.Reason)
	}

	sessions, err := s.store.List(ctx, tenantID, models.KindWorkSession)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entities")
	}

	byMachine := map[string]*MachineView{}
	for _, e := range sessions {
		view, ok := byMachine[e.NaturalKey]
		if !ok {
			view = &MachineView{Machine: e.NaturalKey}
			byMachine[e.NaturalKey] = view
		}
		view.Sessions++
		view.TotalMinutes += e.DurationMinutes
		if e.Status == models.StatusInProgress {
			sessionID := e.ID
			view.ActiveSession = &sessionID
		}
		if view.LastStartedAt == nil || (e.StartedAt != nil && e.StartedAt.After(*view.LastStartedAt)) {
			view.LastStatus = e.Status
			view.LastStartedAt = e.StartedAt
			view.OwnerID = e.OwnerID
		}
	}

	views := make([]MachineView, 0, len(byMachine))
	for _, v := range byMachine {
		views = append(views, *v)
	}
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i].LastStartedAt, views[j].LastStartedAt
		switch {
		case a == nil && b == nil:
			return views[i].Machine < views[j].Machine
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return views[i].Machine < views[j].Machine
		default:
			return a.After(*b)
		}
	})
	return views, nil
}
