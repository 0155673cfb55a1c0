package models

import (
	"encoding/json"
	"time"

	id "smartop/pkg/domain"
)

// QueueClass segregates work items by priority. Each class is drained by its
// own worker pool so a backlog in one class cannot starve another.
type QueueClass string

const (
	QueueCritical      QueueClass = "critical"
	QueueNotifications QueueClass = "notifications"
	QueueReports       QueueClass = "reports"
	QueueBulk          QueueClass = "bulk"
)

// QueueClasses lists every class a worker pool must drain.
func QueueClasses() []QueueClass {
	return []QueueClass{QueueCritical, QueueNotifications, QueueReports, QueueBulk}
}

// Priority is the urgency attached to a notification at enqueue time.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// QueueFor maps a notification priority onto a queue class.
func QueueFor(p Priority) QueueClass {
	switch p {
	case PriorityCritical:
		return QueueCritical
	case PriorityLow:
		return QueueBulk
	default:
		return QueueNotifications
	}
}

// ItemKind selects the consumer that executes a work item.
type ItemKind string

const (
	KindEmail             ItemKind = "email"
	KindPush              ItemKind = "push"
	KindBroadcast         ItemKind = "broadcast"
	KindCacheInvalidation ItemKind = "cache_invalidation"
	KindReport            ItemKind = "report"
)

// ItemStatus is the lifecycle state of a work item. Terminal states are
// delivered and dead_lettered; pending items survive a process restart.
type ItemStatus string

const (
	StatusPending      ItemStatus = "pending"
	StatusDelivered    ItemStatus = "delivered"
	StatusDeadLettered ItemStatus = "dead_lettered"
)

const DefaultMaxAttempts = 3

// backoffBase anchors the exponential retry schedule: 30s, 60s, 120s, ...
const backoffBase = 30 * time.Second

// Backoff returns the delay before the given retry. attempt is the number of
// attempts already made, so the first retry (attempt=1) waits backoffBase.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return backoffBase << (attempt - 1)
}

// WorkItem is a queued unit of asynchronous work derived from a domain event.
type WorkItem struct {
	ID           id.WorkItemID
	TenantID     id.TenantID
	Queue        QueueClass
	Kind         ItemKind
	Payload      json.RawMessage
	AttemptCount int
	MaxAttempts  int
	Status       ItemStatus
	AvailableAt  time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewWorkItem(tenantID id.TenantID, queue QueueClass, kind ItemKind, payload json.RawMessage, now time.Time) *WorkItem {
	return &WorkItem{
		ID:          id.NewWorkItemID(),
		TenantID:    tenantID,
		Queue:       queue,
		Kind:        kind,
		Payload:     payload,
		MaxAttempts: DefaultMaxAttempts,
		Status:      StatusPending,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RecordFailure registers a failed attempt and either schedules the next one
// on the backoff curve or moves the item to the dead-letter state.
func (w *WorkItem) RecordFailure(errMsg string, now time.Time) {
	w.AttemptCount++
	w.LastError = errMsg
	w.UpdatedAt = now
	if w.AttemptCount >= w.MaxAttempts {
		w.Status = StatusDeadLettered
		return
	}
	w.AvailableAt = now.Add(Backoff(w.AttemptCount))
}

// RecordDelivery registers a successful attempt.
func (w *WorkItem) RecordDelivery(now time.Time) {
	w.AttemptCount++
	w.Status = StatusDelivered
	w.LastError = ""
	w.UpdatedAt = now
}

// DeadLetter forces the item into the dead-letter state regardless of
// remaining attempts, for permanent (non-retryable) failures.
func (w *WorkItem) DeadLetter(errMsg string, now time.Time) {
	w.AttemptCount++
	w.LastError = errMsg
	w.Status = StatusDeadLettered
	w.UpdatedAt = now
}

func (w *WorkItem) Clone() *WorkItem {
	clone := *w
	if w.Payload != nil {
		clone.Payload = make(json.RawMessage, len(w.Payload))
		copy(clone.Payload, w.Payload)
	}
	return &clone
}
