package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupNaming(t *testing.T) {
	assert.Equal(t, "chat_42", ChatGroup("42"))
	assert.Equal(t, "notification_alice", NotificationGroup("alice"))
	assert.Equal(t, "sidebar", SidebarGroup)
}

func TestNewEvent(t *testing.T) {
	event, err := NewEvent(ChatGroup("42"), EventTypeTyping, TypingEvent{Type: EventTypeTyping, Username: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, event.Id)
	assert.Equal(t, "chat_42", event.Group)
	assert.Equal(t, EventTypeTyping, event.Type)
	assert.JSONEq(t, `{"type": "typing", "username": "alice"}`, string(event.Payload))
}

func TestCreateIdIgnoresId(t *testing.T) {
	event, err := NewEvent("sidebar", EventTypeGroupCreated, map[string]string{"a": "b"})
	require.NoError(t, err)
	id := event.Id
	// the id field itself must not feed back into the hash
	require.NoError(t, event.CreateId())
	assert.Equal(t, id, event.Id)
}

func TestPrivatePairKey(t *testing.T) {
	assert.Equal(t, PrivatePairKey("alice", "bob"), PrivatePairKey("bob", "alice"))
	assert.Equal(t, "alice|bob", PrivatePairKey("bob", "alice"))
}
