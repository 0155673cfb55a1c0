// Package models defines the workflow entity shapes governed by the state
// machine: control lists and work sessions, their statuses, and the domain
// events their transitions produce.
package models

// EntityKind distinguishes the two parameterizations of the state machine.
type EntityKind string

const (
	KindControlList EntityKind = "control_list"
	KindWorkSession EntityKind = "work_session"
)

func (k EntityKind) IsValid() bool {
	return k == KindControlList || k == KindWorkSession
}

// Status is a lifecycle state of a workflow entity. The allowed values are
// entity-kind specific; the edge sets below are the single source of truth.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// edge is one legal (from, to) pair.
type edge struct {
	from, to Status
}

// Edge sets per entity kind. Unknown edges are always rejected, independent
// of the caller's role.
//
// Control lists support revert-to-resubmit (rejected -> pending) and
// time-based expiry (pending -> expired). Work sessions support neither:
// a session measures elapsed real time and cannot be re-run, so rejected
// is terminal for it.
var controlListEdges = map[edge]bool{
	{StatusPending, StatusCompleted}:   true,
	{StatusCompleted, StatusApproved}:  true,
	{StatusCompleted, StatusRejected}:  true,
	{StatusRejected, StatusPending}:    true,
	{StatusPending, StatusExpired}:     true,
}

var workSessionEdges = map[edge]bool{
	{StatusInProgress, StatusCompleted}: true,
	{StatusCompleted, StatusApproved}:   true,
	{StatusCompleted, StatusRejected}:   true,
}

var terminalStatuses = map[EntityKind]map[Status]bool{
	KindControlList: {StatusApproved: true, StatusExpired: true},
	KindWorkSession: {StatusApproved: true, StatusRejected: true},
}

var reviewableStatuses = map[EntityKind]map[Status]bool{
	KindControlList: {StatusCompleted: true},
	KindWorkSession: {StatusCompleted: true},
}

var operatorEditableStatuses = map[EntityKind]map[Status]bool{
	KindControlList: {StatusPending: true, StatusRejected: true},
	KindWorkSession: {StatusInProgress: true},
}

var initialStatuses = map[EntityKind]Status{
	KindControlList: StatusPending,
	KindWorkSession: StatusInProgress,
}

// EdgeAllowed reports whether (from, to) is a legal transition for the kind.
func EdgeAllowed(kind EntityKind, from, to Status) bool {
	switch kind {
	case KindControlList:
		return controlListEdges[edge{from, to}]
	case KindWorkSession:
		return workSessionEdges[edge{from, to}]
	default:
		return false
	}
}

// IsTerminal reports whether status ends the lifecycle for the kind.
func IsTerminal(kind EntityKind, status Status) bool {
	return terminalStatuses[kind][status]
}

// IsReviewable reports whether a manager may approve or reject in this state.
func IsReviewable(kind EntityKind, status Status) bool {
	return reviewableStatuses[kind][status]
}

// IsOperatorEditable reports whether the owning operator may mutate the
// entity in this state.
func IsOperatorEditable(kind EntityKind, status Status) bool {
	return operatorEditableStatuses[kind][status]
}

// InitialStatus returns the creation status for the kind.
func InitialStatus(kind EntityKind) Status {
	return initialStatuses[kind]
}
