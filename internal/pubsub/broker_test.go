package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tejjnayak/sandchat/internal/proto"
)

func TestBroker_PublishSubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker[proto.SessionInfo]()
	defer b.Shutdown()

	ctx, cancel := context.WithCancel(t.Context())
	ch := b.Subscribe(ctx)
	require.Equal(t, 1, b.GetSubscriberCount())

	b.Publish(CreatedEvent, proto.SessionInfo{ID: "s1"})

	select {
	case ev := <-ch:
		require.Equal(t, CreatedEvent, ev.Type)
		require.Equal(t, "s1", ev.Payload.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	require.Eventually(t, func() bool {
		return b.GetSubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBroker_ShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker[proto.AuditStep]()
	ch := b.Subscribe(t.Context())
	b.Shutdown()

	_, ok := <-ch
	require.False(t, ok)

	// Publishing after shutdown is a no-op.
	b.Publish(UpdatedEvent, proto.AuditStep{Step: "x"})
	_, ok = <-b.Subscribe(t.Context())
	require.False(t, ok)
}

func TestEvent_JSON(t *testing.T) {
	t.Parallel()

	ev := Event[proto.AuditStep]{
		Type:    UpdatedEvent,
		Payload: proto.AuditStep{SessionID: "s1", Step: "minimax_api", Status: proto.StepSuccess},
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	require.Contains(t, string(b), `"type":"audit_step"`)

	var back Event[proto.AuditStep]
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, ev.Type, back.Type)
	require.Equal(t, "minimax_api", back.Payload.Step)
	require.Equal(t, proto.StepSuccess, back.Payload.Status)

	var wrong Event[proto.SessionInfo]
	require.Error(t, json.Unmarshal(b, &wrong))
}
