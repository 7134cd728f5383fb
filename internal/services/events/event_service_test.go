package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/showreel/internal/interfaces"
)

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var mu sync.Mutex
	received := 0
	handler := func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		received++
		mu.Unlock()
		return nil
	}

	require.NoError(t, svc.Subscribe(interfaces.EventBatchProgress, handler))
	require.NoError(t, svc.Subscribe(interfaces.EventBatchProgress, handler))

	err := svc.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventBatchProgress,
		Payload: map[string]int{"completed": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, received)
}

func TestPublishAsyncDelivery(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	done := make(chan struct{})
	require.NoError(t, svc.Subscribe(interfaces.EventJobStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		close(done)
		return nil
	}))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobStatusChanged}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler was not invoked")
	}
}

func TestPublishSyncReportsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	require.NoError(t, svc.Subscribe(interfaces.EventWebhookStuck, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("handler exploded")
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventWebhookStuck})
	assert.Error(t, err)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventBatchCompleted}))
	assert.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventBatchCompleted}))
}

func TestSubscribeAfterClose(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Close())
	assert.Error(t, svc.Subscribe(interfaces.EventBatchProgress, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))
}

func TestSubscribeNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.Error(t, svc.Subscribe(interfaces.EventBatchProgress, nil))
}
