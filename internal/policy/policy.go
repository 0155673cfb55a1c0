// Package policy implements the pure access decision function for the
// platform: (actor, action, resource) -> allow/deny. It holds the role and
// tenant-ownership rules as a data table so the whole matrix is testable
// without any store or transport.
package policy

import (
	"smartop/internal/identity"
	id "smartop/pkg/domain"
)

// Action names an operation a principal can attempt on a resource.
type Action string

const (
	ActionView        Action = "view"
	ActionCreate      Action = "create"
	ActionStart       Action = "start"
	ActionComplete    Action = "complete"
	ActionUpdateItems Action = "update_items"
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionExpire      Action = "expire"
	ActionDelete      Action = "delete"
	// ActionSubscribe grants membership on a tenant's real-time channel.
	ActionSubscribe Action = "subscribe"
	// ActionElevate and ActionDeleteAccount act on principal account records.
	ActionElevate       Action = "elevate"
	ActionDeleteAccount Action = "delete_account"
)

// ResourceKind classifies the resource a decision is about.
type ResourceKind string

const (
	KindControlList ResourceKind = "control_list"
	KindWorkSession ResourceKind = "work_session"
	KindPrincipal   ResourceKind = "principal"
	KindChannel     ResourceKind = "channel"
)

// Resource is the policy-relevant projection of a record. Producers (workflow
// entities, account records, channels) map themselves into this shape so the
// engine never imports their packages.
type Resource struct {
	Kind     ResourceKind
	TenantID id.TenantID
	// OwnerID is the operator who owns a workflow entity, or the principal a
	// principal-record refers to.
	OwnerID id.PrincipalID

	// Reviewable is true when the entity is in a state a manager may review.
	Reviewable bool
	// OperatorEditable is true when the entity state permits operator edits.
	OperatorEditable bool
	// ActiveDependents is true when deleting would orphan live records.
	ActiveDependents bool
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision             { return Decision{Allowed: true} }
func Deny(reason string) Decision { return Decision{Reason: reason} }

// Deny reasons are part of the API surface; handlers echo them to clients.
const (
	ReasonCrossTenant      = "cross-tenant"
	ReasonSelfModification = "self-modification"
	ReasonNotOwner         = "not-owner"
	ReasonRole             = "role-not-permitted"
	ReasonState            = "state-not-permitted"
	ReasonDependents       = "active-dependents"
	ReasonNoRule           = "no matching rule"
)

// ruleSpec is one row of the action table. A principal passes when its role is
// listed and every required predicate on the resource holds.
type ruleSpec struct {
	roles             map[id.Role]bool
	requireOwner      bool
	requireReviewable bool
	requireEditable   bool
	forbidDependents  bool
	forbidSelf        bool
}

var (
	anyRole      = map[id.Role]bool{id.RoleManager: true, id.RoleOperator: true}
	managerOnly  = map[id.Role]bool{id.RoleManager: true}
	operatorOnly = map[id.Role]bool{id.RoleOperator: true}
)

// rules is the action table. Admins never reach it: the superuser rule
// matches first.
var rules = map[Action]ruleSpec{
	ActionView:        {roles: anyRole},
	ActionCreate:      {roles: anyRole},
	ActionSubscribe:   {roles: anyRole},
	ActionStart:       {roles: operatorOnly, requireOwner: true, requireEditable: true},
	ActionComplete:    {roles: operatorOnly, requireOwner: true, requireEditable: true},
	ActionUpdateItems: {roles: operatorOnly, requireOwner: true, requireEditable: true},
	ActionApprove:     {roles: managerOnly, requireReviewable: true},
	ActionReject:      {roles: managerOnly, requireReviewable: true},
	// Expiry is fired by the scheduler acting with manager-equivalent rights.
	ActionExpire: {roles: managerOnly},
	ActionDelete: {roles: managerOnly, forbidDependents: true},
	// Account records: managers administer accounts but never their own.
	ActionElevate:       {roles: managerOnly, forbidSelf: true},
	ActionDeleteAccount: {roles: managerOnly, forbidSelf: true},
}

// Engine evaluates access decisions. It is stateless; the zero value is ready
// to use and New exists for symmetry with other modules.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Decide evaluates the rules in order; first match wins:
//
//  1. admin role: allow everything (superuser)
//  2. tenant mismatch: deny cross-tenant
//  3. action table: role + ownership + state predicates
//  4. default: deny
func (e *Engine) Decide(p identity.Principal, action Action, res Resource) Decision {
	if p.Role == id.RoleAdmin {
		return Allow()
	}

	if p.TenantID != res.TenantID {
		return Deny(ReasonCrossTenant)
	}

	spec, ok := rules[action]
	if !ok {
		return Deny(ReasonNoRule)
	}

	if !spec.roles[p.Role] {
		return Deny(ReasonRole)
	}
	if spec.forbidSelf && p.ID == res.OwnerID {
		return Deny(ReasonSelfModification)
	}
	if spec.requireOwner && p.ID != res.OwnerID {
		return Deny(ReasonNotOwner)
	}
	if spec.requireReviewable && !res.Reviewable {
		return Deny(ReasonState)
	}
	if spec.requireEditable && !res.OperatorEditable {
		return Deny(ReasonState)
	}
	if spec.forbidDependents && res.ActiveDependents {
		return Deny(ReasonDependents)
	}

	return Allow()
}
