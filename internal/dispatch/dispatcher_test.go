package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartop/internal/dispatch/models"
	"smartop/internal/dispatch/store"
	wfmodels "smartop/internal/workflow/models"
	id "smartop/pkg/domain"
)

type stubDirectory struct {
	managers []id.PrincipalID
	err      error
}

func (d *stubDirectory) Managers(context.Context, id.TenantID) ([]id.PrincipalID, error) {
	return d.managers, d.err
}

func testEvent(t *testing.T, kind wfmodels.EntityKind, old, new wfmodels.Status) wfmodels.DomainEvent {
	t.Helper()
	e, err := wfmodels.NewEntity(kind, id.NewTenantID(), id.NewPrincipalID(), "CL-0007", time.Now())
	require.NoError(t, err)
	e.Status = new
	return wfmodels.NewDomainEvent(e, old, id.NewPrincipalID(), map[string]string{"natural_key": e.NaturalKey}, time.Now())
}

func itemsByKind(t *testing.T, s *store.MemoryStore, queue models.QueueClass) map[models.ItemKind]*models.WorkItem {
	t.Helper()
	out := make(map[models.ItemKind]*models.WorkItem)
	for _, q := range models.QueueClasses() {
		if queue != "" && q != queue {
			continue
		}
		claimed, err := s.ClaimDue(context.Background(), q, time.Now().Add(time.Second), 100, time.Minute)
		require.NoError(t, err)
		for _, item := range claimed {
			out[item.Kind] = item
		}
	}
	return out
}

func TestEnqueue_CompletedNotifiesManagers(t *testing.T) {
	memStore := store.NewMemoryStore()
	managers := []id.PrincipalID{id.NewPrincipalID(), id.NewPrincipalID()}
	d := NewDispatcher(memStore, &stubDirectory{managers: managers}, slog.New(slog.DiscardHandler))

	event := testEvent(t, wfmodels.KindControlList, wfmodels.StatusPending, wfmodels.StatusCompleted)
	require.NoError(t, d.Enqueue(context.Background(), event))

	items := itemsByKind(t, memStore, "")
	require.Contains(t, items, models.KindEmail)
	require.Contains(t, items, models.KindBroadcast)
	require.Contains(t, items, models.KindCacheInvalidation)
	assert.NotContains(t, items, models.KindPush, "completion is a review request, not a personal alert")
	assert.NotContains(t, items, models.KindReport)

	email := items[models.KindEmail]
	assert.Equal(t, models.QueueNotifications, email.Queue)
	var payload models.NotificationPayload
	require.NoError(t, json.Unmarshal(email.Payload, &payload))
	assert.Len(t, payload.Recipients, 2)
	assert.Contains(t, payload.Subject, "CL-0007")
	assert.Equal(t, models.PriorityHigh, payload.Priority)
}

func TestEnqueue_ApprovedNotifiesOwnerAndRequestsReport(t *testing.T) {
	memStore := store.NewMemoryStore()
	d := NewDispatcher(memStore, &stubDirectory{}, slog.New(slog.DiscardHandler))

	event := testEvent(t, wfmodels.KindWorkSession, wfmodels.StatusCompleted, wfmodels.StatusApproved)
	require.NoError(t, d.Enqueue(context.Background(), event))

	items := itemsByKind(t, memStore, "")
	require.Contains(t, items, models.KindEmail)
	require.Contains(t, items, models.KindPush)
	require.Contains(t, items, models.KindReport)

	var payload models.NotificationPayload
	require.NoError(t, json.Unmarshal(items[models.KindEmail].Payload, &payload))
	assert.Equal(t, []string{event.OwnerID.String()}, payload.Recipients)
	assert.Equal(t, models.QueueReports, items[models.KindReport].Queue)
}

func TestEnqueue_RejectedIsCritical(t *testing.T) {
	memStore := store.NewMemoryStore()
	d := NewDispatcher(memStore, &stubDirectory{}, slog.New(slog.DiscardHandler))

	event := testEvent(t, wfmodels.KindControlList, wfmodels.StatusCompleted, wfmodels.StatusRejected)
	require.NoError(t, d.Enqueue(context.Background(), event))

	items := itemsByKind(t, memStore, models.QueueCritical)
	assert.Contains(t, items, models.KindEmail)
	assert.Contains(t, items, models.KindPush)
}

func TestEnqueue_ExpiredGoesToBulk(t *testing.T) {
	memStore := store.NewMemoryStore()
	d := NewDispatcher(memStore, &stubDirectory{}, slog.New(slog.DiscardHandler))

	event := testEvent(t, wfmodels.KindControlList, wfmodels.StatusPending, wfmodels.StatusExpired)
	require.NoError(t, d.Enqueue(context.Background(), event))

	items := itemsByKind(t, memStore, models.QueueBulk)
	assert.Contains(t, items, models.KindEmail)
}

func TestEnqueue_InvalidationCarriesResourceClass(t *testing.T) {
	memStore := store.NewMemoryStore()
	d := NewDispatcher(memStore, &stubDirectory{}, slog.New(slog.DiscardHandler))

	event := testEvent(t, wfmodels.KindControlList, wfmodels.StatusPending, wfmodels.StatusCompleted)
	require.NoError(t, d.Enqueue(context.Background(), event))

	items := itemsByKind(t, memStore, models.QueueCritical)
	require.Contains(t, items, models.KindCacheInvalidation)

	var payload models.InvalidationPayload
	require.NoError(t, json.Unmarshal(items[models.KindCacheInvalidation].Payload, &payload))
	assert.Equal(t, event.TenantID.String(), payload.TenantID)
	assert.Equal(t, string(wfmodels.KindControlList), payload.ResourceClass)
}

type failingStore struct {
	*store.MemoryStore
}

func (s *failingStore) Create(context.Context, *models.WorkItem) error {
	return errors.New("store unavailable")
}

func TestEnqueue_FailClosed(t *testing.T) {
	d := NewDispatcher(&failingStore{MemoryStore: store.NewMemoryStore()}, &stubDirectory{}, slog.New(slog.DiscardHandler))

	event := testEvent(t, wfmodels.KindControlList, wfmodels.StatusPending, wfmodels.StatusCompleted)
	err := d.Enqueue(context.Background(), event)
	require.Error(t, err)
}

func TestEnqueue_DirectoryFailureFailsClosed(t *testing.T) {
	memStore := store.NewMemoryStore()
	d := NewDispatcher(memStore, &stubDirectory{err: errors.New("directory down")}, slog.New(slog.DiscardHandler))

	event := testEvent(t, wfmodels.KindControlList, wfmodels.StatusPending, wfmodels.StatusCompleted)
	err := d.Enqueue(context.Background(), event)
	require.Error(t, err)

	items := itemsByKind(t, memStore, "")
	assert.Empty(t, items, "no partial fan-out when recipients cannot be resolved")
}
