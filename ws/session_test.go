package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/chathub-io/chathub/broker"
	"github.com/chathub-io/chathub/config"
	"github.com/chathub-io/chathub/persistence"
	"github.com/chathub-io/chathub/presence"
	"github.com/chathub-io/chathub/receipts"
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

func newTestHub(t *testing.T) (*Hub, *broker.MemoryBroker) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	store, err := persistence.NewGormStoreFromDB(db, 50)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pres, err := presence.NewBuntStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { pres.Close() })

	bus := broker.NewMemoryBroker()
	hub := NewHub(&config.Config{}, store, pres, bus, receipts.NewEngine(store, bus))
	return hub, bus
}

func seedPrivateRoom(t *testing.T, hub *Hub) *types.Room {
	t.Helper()
	ctx := context.Background()
	for _, username := range []string{"alice", "bob"} {
		require.NoError(t, hub.Store.CreateUser(ctx, &types.User{Id: username, Username: username}))
	}
	room, _, err := hub.Store.GetOrCreatePrivateChat(ctx, "alice", "bob")
	require.NoError(t, err)
	return room
}

func testClient(hub *Hub, userId string) *Client {
	return newClient(hub, nil, &types.User{Id: userId, Username: userId})
}

// drainSend decodes everything currently buffered on the client's send channel.
func drainSend(t *testing.T, c *Client) []map[string]interface{} {
	t.Helper()
	out := make([]map[string]interface{}, 0)
	for {
		select {
		case data := <-c.Send:
			frame := make(map[string]interface{})
			require.NoError(t, json.Unmarshal(data, &frame))
			out = append(out, frame)
		default:
			return out
		}
	}
}

func TestChatSessionConnect(t *testing.T) {
	hub, bus := newTestHub(t)
	room := seedPrivateRoom(t, hub)

	c := testClient(hub, "bob")
	s := newChatSession(c, room.Id)
	c.session = s

	require.NoError(t, s.connect(context.Background()))
	assert.Equal(t, stateJoined, s.state)
	assert.Equal(t, 1, bus.MemberCount(types.ChatGroup(room.Id)))
}

func TestChatSessionConnectDenied(t *testing.T) {
	hub, bus := newTestHub(t)
	room := seedPrivateRoom(t, hub)
	ctx := context.Background()
	require.NoError(t, hub.Store.CreateUser(ctx, &types.User{Id: "mallory", Username: "mallory"}))

	c := testClient(hub, "mallory")
	s := newChatSession(c, room.Id)
	err := s.connect(ctx)
	assert.ErrorIs(t, err, persistence.ErrNotAParticipant)
	assert.Equal(t, stateClosed, s.state)
	assert.Equal(t, 0, bus.MemberCount(types.ChatGroup(room.Id)))

	s = newChatSession(c, "missing")
	err = s.connect(ctx)
	assert.ErrorIs(t, err, persistence.ErrRoomNotFound)
	assert.Equal(t, stateClosed, s.state)
}

func TestChatSessionTyping(t *testing.T) {
	hub, bus := newTestHub(t)
	room := seedPrivateRoom(t, hub)
	ctx := context.Background()

	c := testClient(hub, "bob")
	s := newChatSession(c, room.Id)
	c.session = s
	require.NoError(t, s.connect(ctx))

	peer := &recordingSubscriber{}
	require.NoError(t, bus.JoinGroup(types.ChatGroup(room.Id), peer))

	s.handle(ctx, types.ClientAction{Kind: types.ActionTyping})
	s.handle(ctx, types.ClientAction{Kind: types.ActionStopTyping})

	events := peer.received()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventTypeTyping, events[0].Type)
	assert.Equal(t, types.EventTypeStopTyping, events[1].Type)

	var payload types.TypingEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "bob", payload.Username)
}

func TestChatSessionReadMessage(t *testing.T) {
	hub, bus := newTestHub(t)
	room := seedPrivateRoom(t, hub)
	ctx := context.Background()

	msg, err := hub.Store.CreateMessage(ctx, room.Id, "alice", "hello", "")
	require.NoError(t, err)

	c := testClient(hub, "bob")
	s := newChatSession(c, room.Id)
	c.session = s
	require.NoError(t, s.connect(ctx))

	peer := &recordingSubscriber{}
	require.NoError(t, bus.JoinGroup(types.ChatGroup(room.Id), peer))

	s.handle(ctx, types.ClientAction{Kind: types.ActionReadMessage, MessageId: msg.Id})

	events := peer.received()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventTypeMessageRead, events[0].Type)

	_, created, err := hub.Store.GetOrCreateReadStatus(ctx, msg.Id, "bob")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestChatSessionReadUnknownMessage(t *testing.T) {
	hub, _ := newTestHub(t)
	room := seedPrivateRoom(t, hub)
	ctx := context.Background()

	c := testClient(hub, "bob")
	s := newChatSession(c, room.Id)
	c.session = s
	require.NoError(t, s.connect(ctx))

	// a vanished message is silently ignored, no error frame
	s.handle(ctx, types.ClientAction{Kind: types.ActionReadMessage, MessageId: "missing"})
	assert.Empty(t, drainSend(t, c))

	// a missing message id is a client error
	s.handle(ctx, types.ClientAction{Kind: types.ActionReadMessage})
	frames := drainSend(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, types.EventTypeError, frames[0]["type"])
}

func TestChatSessionIgnoresActionsUnlessJoined(t *testing.T) {
	hub, bus := newTestHub(t)
	room := seedPrivateRoom(t, hub)
	ctx := context.Background()

	peer := &recordingSubscriber{}
	require.NoError(t, bus.JoinGroup(types.ChatGroup(room.Id), peer))

	c := testClient(hub, "bob")
	s := newChatSession(c, room.Id)
	s.handle(ctx, types.ClientAction{Kind: types.ActionTyping})
	assert.Empty(t, peer.received())

	c.session = s
	require.NoError(t, s.connect(ctx))
	s.close()
	s.handle(ctx, types.ClientAction{Kind: types.ActionTyping})
	assert.Empty(t, peer.received())
}

func seedNotifications(t *testing.T, hub *Hub, userId string, n int) []*types.Notification {
	t.Helper()
	rows := make([]*types.Notification, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, &types.Notification{UserId: userId, Type: types.NotificationTypeSystem})
	}
	require.NoError(t, hub.Store.CreateNotifications(context.Background(), rows))
	return rows
}

func TestNotificationSessionConnect(t *testing.T) {
	hub, bus := newTestHub(t)
	require.NoError(t, hub.Store.CreateUser(context.Background(), &types.User{Id: "bob", Username: "bob"}))
	seedNotifications(t, hub, "bob", 2)

	c := testClient(hub, "bob")
	s := newNotificationSession(c)
	c.session = s
	require.NoError(t, s.connect(context.Background()))

	assert.Equal(t, 1, bus.MemberCount(types.NotificationGroup("bob")))
	frames := drainSend(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, types.EventTypeNotificationList, frames[0]["type"])
	assert.Len(t, frames[0]["notifications"], 2)
}

func TestNotificationSessionConnectEmptyBacklog(t *testing.T) {
	hub, _ := newTestHub(t)
	require.NoError(t, hub.Store.CreateUser(context.Background(), &types.User{Id: "bob", Username: "bob"}))

	c := testClient(hub, "bob")
	s := newNotificationSession(c)
	c.session = s
	require.NoError(t, s.connect(context.Background()))

	// an empty backlog sends nothing on connect
	assert.Empty(t, drainSend(t, c))

	// but an explicit request is always answered
	s.handle(context.Background(), types.ClientAction{Kind: types.ActionGetUnread})
	frames := drainSend(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, types.EventTypeNotificationList, frames[0]["type"])
	assert.Len(t, frames[0]["notifications"], 0)
}

func TestNotificationSessionMarkRead(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()
	require.NoError(t, hub.Store.CreateUser(ctx, &types.User{Id: "bob", Username: "bob"}))
	rows := seedNotifications(t, hub, "bob", 2)

	c := testClient(hub, "bob")
	s := newNotificationSession(c)
	c.session = s
	require.NoError(t, s.connect(ctx))
	drainSend(t, c)

	s.handle(ctx, types.ClientAction{Kind: types.ActionMarkRead, NotificationId: rows[0].Id})
	frames := drainSend(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, types.EventTypeMarkReadResp, frames[0]["type"])
	assert.Equal(t, rows[0].Id, frames[0]["notification_id"])
	assert.Equal(t, true, frames[0]["success"])

	// marking someone else's (or a missing) notification reports failure
	s.handle(ctx, types.ClientAction{Kind: types.ActionMarkRead, NotificationId: "missing"})
	frames = drainSend(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, false, frames[0]["success"])

	s.handle(ctx, types.ClientAction{Kind: types.ActionMarkAllRead})
	frames = drainSend(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, types.EventTypeMarkAllReadResp, frames[0]["type"])
	assert.EqualValues(t, 1, frames[0]["count"])
}

func TestSidebarSessionConnect(t *testing.T) {
	hub, bus := newTestHub(t)

	c := testClient(hub, "bob")
	s := newSidebarSession(c)
	c.session = s
	require.NoError(t, s.connect(context.Background()))

	assert.Equal(t, 1, bus.MemberCount(types.SidebarGroup))

	// the sidebar has no inbound protocol
	s.handle(context.Background(), types.ClientAction{Kind: types.ActionTyping})
	assert.Empty(t, drainSend(t, c))
}
