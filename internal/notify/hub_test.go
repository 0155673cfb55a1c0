package notify

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	a := hub.Subscribe("tenant:1")
	b := hub.Subscribe("tenant:1")
	other := hub.Subscribe("tenant:2")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	require.NoError(t, hub.Publish(context.Background(), "tenant:1", []byte("hello")))

	assert.Equal(t, "hello", string(<-a.C))
	assert.Equal(t, "hello", string(<-b.C))
	select {
	case m := <-other.C:
		t.Fatalf("subscriber on another channel received %q", m)
	default:
	}
}

func TestHub_CloseDetachesSubscriber(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	sub := hub.Subscribe("tenant:1")
	require.Equal(t, 1, hub.SubscriberCount("tenant:1"))

	sub.Close()
	assert.Equal(t, 0, hub.SubscriberCount("tenant:1"))

	_, open := <-sub.C
	assert.False(t, open)

	// Double close is harmless.
	sub.Close()
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	sub := hub.Subscribe("tenant:1")
	defer sub.Close()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, hub.Publish(context.Background(), "tenant:1", []byte("m")))
	}
	assert.Len(t, sub.C, subscriberBuffer)
}

func TestHub_PublishToEmptyChannel(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	assert.NoError(t, hub.Publish(context.Background(), "tenant:none", []byte("m")))
}
