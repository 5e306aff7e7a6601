package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chathub-io/chathub/types"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []*types.Event
}

func (r *recordingSubscriber) Deliver(event *types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSubscriber) received() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.events))
	copy(out, r.events)
	return out
}

func mustEvent(t *testing.T, group, eventType string, payload interface{}) *types.Event {
	t.Helper()
	event, err := types.NewEvent(group, eventType, payload)
	require.NoError(t, err)
	return event
}

func TestMemoryBrokerGroupDelivery(t *testing.T) {
	b := NewMemoryBroker()
	inRoom := &recordingSubscriber{}
	otherRoom := &recordingSubscriber{}

	require.NoError(t, b.JoinGroup("chat_1", inRoom))
	require.NoError(t, b.JoinGroup("chat_2", otherRoom))

	event := mustEvent(t, "chat_1", types.EventTypeTyping, types.TypingEvent{Type: types.EventTypeTyping, Username: "alice"})
	require.NoError(t, b.Publish(context.Background(), event))

	require.Len(t, inRoom.received(), 1)
	assert.Equal(t, event.Id, inRoom.received()[0].Id)
	assert.Empty(t, otherRoom.received())
}

func TestMemoryBrokerLeave(t *testing.T) {
	b := NewMemoryBroker()
	sub := &recordingSubscriber{}

	require.NoError(t, b.JoinGroup("chat_1", sub))
	require.NoError(t, b.LeaveGroup("chat_1", sub))
	assert.Equal(t, 0, b.MemberCount("chat_1"))

	event := mustEvent(t, "chat_1", types.EventTypeTyping, types.TypingEvent{Type: types.EventTypeTyping, Username: "alice"})
	require.NoError(t, b.Publish(context.Background(), event))
	assert.Empty(t, sub.received())

	// leaving again or leaving an unknown group is harmless
	require.NoError(t, b.LeaveGroup("chat_1", sub))
	require.NoError(t, b.LeaveGroup("nope", sub))
}

func TestMemoryBrokerMemberCounts(t *testing.T) {
	b := NewMemoryBroker()
	first := &recordingSubscriber{}
	second := &recordingSubscriber{}

	assert.Equal(t, 1, b.join("chat_1", first))
	assert.Equal(t, 2, b.join("chat_1", second))
	// joining twice does not double-count
	assert.Equal(t, 2, b.join("chat_1", first))

	assert.Equal(t, 1, b.leave("chat_1", first))
	assert.Equal(t, 0, b.leave("chat_1", second))
	assert.Equal(t, 0, b.MemberCount("chat_1"))
}

func TestMemoryBrokerPublisherOrder(t *testing.T) {
	b := NewMemoryBroker()
	sub := &recordingSubscriber{}
	require.NoError(t, b.JoinGroup("chat_1", sub))

	const n = 100
	for i := 0; i < n; i++ {
		event := mustEvent(t, "chat_1", types.EventTypeNewMessage, map[string]int{"seq": i})
		require.NoError(t, b.Publish(context.Background(), event))
	}

	got := sub.received()
	require.Len(t, got, n)
	for i, event := range got {
		assert.JSONEq(t, fmt.Sprintf(`{"seq": %d}`, i), string(event.Payload))
	}
}

func TestMemoryBrokerConcurrentMembership(t *testing.T) {
	b := NewMemoryBroker()
	stable := &recordingSubscriber{}
	require.NoError(t, b.JoinGroup("chat_1", stable))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			churn := &recordingSubscriber{}
			for j := 0; j < 50; j++ {
				b.JoinGroup("chat_1", churn)
				b.LeaveGroup("chat_1", churn)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				event, _ := types.NewEvent("chat_1", types.EventTypeTyping, types.TypingEvent{Type: types.EventTypeTyping, Username: "alice"})
				b.Publish(context.Background(), event)
			}
		}()
	}
	wg.Wait()

	// the stable member saw every publish exactly once
	assert.Len(t, stable.received(), 8*50)
}
