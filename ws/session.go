package ws

import (
	"context"
	"errors"
	"time"

	"github.com/chathub-io/chathub/globals"
	"github.com/chathub-io/chathub/notify"
	"github.com/chathub-io/chathub/persistence"
	"github.com/chathub-io/chathub/types"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateJoined
	stateClosed
)

// A session owns the per-connection protocol: which groups the connection
// joins and how decoded client actions are handled. Actions reaching a session
// that is not Joined are discarded.
type session interface {
	handle(ctx context.Context, action types.ClientAction)
	close()
}

// ChatSession is the per-room-connection state machine:
// Connecting -> Joined -> Closed. Connecting performs the membership check;
// only a successful check joins the room's broadcast group.
type ChatSession struct {
	client *Client
	roomId string
	state  sessionState
}

func newChatSession(client *Client, roomId string) *ChatSession {
	return &ChatSession{client: client, roomId: roomId, state: stateConnecting}
}

// connect validates room membership and joins the room group. Any failure
// moves the session directly to Closed with the deny reason; the connection is
// refused, never silently left open.
func (s *ChatSession) connect(ctx context.Context) error {
	ok, err := s.client.hub.Store.IsParticipant(ctx, s.roomId, s.client.user.Id)
	if err != nil {
		s.state = stateClosed
		return err
	}
	if !ok {
		s.state = stateClosed
		return persistence.ErrNotAParticipant
	}
	if err := s.client.joinGroup(types.ChatGroup(s.roomId)); err != nil {
		s.state = stateClosed
		return err
	}
	s.state = stateJoined
	return nil
}

func (s *ChatSession) handle(ctx context.Context, action types.ClientAction) {
	if s.state != stateJoined {
		return
	}
	switch action.Kind {
	case types.ActionTyping:
		s.broadcastTyping(ctx, types.EventTypeTyping)

	case types.ActionStopTyping:
		s.broadcastTyping(ctx, types.EventTypeStopTyping)

	case types.ActionReadMessage:
		s.handleRead(ctx, action.MessageId)

	default:
		// unknown action types are not fatal
	}
}

// broadcastTyping is pure fan-out: no persistence, every connection in the
// room group receives it, the sender's own other connections included.
func (s *ChatSession) broadcastTyping(ctx context.Context, eventType string) {
	payload := types.TypingEvent{Type: eventType, Username: s.client.user.Username}
	event, err := types.NewEvent(types.ChatGroup(s.roomId), eventType, payload)
	if err != nil {
		globals.AppLogger.Error("could not build typing event", "error", err)
		return
	}
	if err := s.client.hub.Broker.Publish(ctx, event); err != nil {
		globals.AppLogger.Error("could not publish typing event", "room", s.roomId, "error", err)
	}
}

func (s *ChatSession) handleRead(ctx context.Context, messageId string) {
	if messageId == "" {
		s.client.send(types.NewErrorEvent("message_id required"))
		return
	}
	_, _, err := s.client.hub.Receipts.MarkRead(ctx, messageId, s.client.user.Id)
	if errors.Is(err, persistence.ErrMessageNotFound) {
		return
	}
	if err != nil {
		globals.AppLogger.Error("could not mark message read", "message", messageId, "error", err)
		s.client.send(types.NewErrorEvent("could not mark message as read"))
	}
}

func (s *ChatSession) close() {
	s.state = stateClosed
}

// NotificationSession serves the per-user notification channel: unread backlog
// on connect, pushes via the personal group, mark-read bookkeeping inbound.
type NotificationSession struct {
	client *Client
	state  sessionState
}

func newNotificationSession(client *Client) *NotificationSession {
	return &NotificationSession{client: client, state: stateConnecting}
}

func (s *NotificationSession) connect(ctx context.Context) error {
	if err := s.client.joinGroup(types.NotificationGroup(s.client.user.Id)); err != nil {
		s.state = stateClosed
		return err
	}
	s.state = stateJoined
	s.sendUnreadList(ctx, false)
	return nil
}

func (s *NotificationSession) handle(ctx context.Context, action types.ClientAction) {
	if s.state != stateJoined {
		return
	}
	switch action.Kind {
	case types.ActionMarkRead:
		found, err := s.client.hub.Store.MarkNotificationRead(ctx, action.NotificationId, s.client.user.Id)
		if err != nil {
			globals.AppLogger.Error("could not mark notification read", "notification", action.NotificationId, "error", err)
			s.client.send(types.NewErrorEvent("could not mark notification as read"))
			return
		}
		s.client.send(types.MarkReadResponse{
			Type:           types.EventTypeMarkReadResp,
			NotificationId: action.NotificationId,
			Success:        found,
		})

	case types.ActionMarkAllRead:
		count, err := s.client.hub.Store.MarkAllNotificationsRead(ctx, s.client.user.Id)
		if err != nil {
			globals.AppLogger.Error("could not mark notifications read", "user", s.client.user.Id, "error", err)
			s.client.send(types.NewErrorEvent("could not mark notifications as read"))
			return
		}
		s.client.send(types.MarkAllReadResponse{
			Type:    types.EventTypeMarkAllReadResp,
			Count:   count,
			Success: true,
		})

	case types.ActionGetUnread:
		s.sendUnreadList(ctx, true)

	default:
	}
}

// sendUnreadList pushes the unread backlog. On connect an empty backlog sends
// nothing; an explicit get_unread always answers, empty list included.
func (s *NotificationSession) sendUnreadList(ctx context.Context, always bool) {
	rows, err := s.client.hub.Store.UnreadNotifications(ctx, s.client.user.Id, s.client.hub.Cfg.UnreadListSize())
	if err != nil {
		globals.AppLogger.Error("could not load unread notifications", "user", s.client.user.Id, "error", err)
		s.client.send(types.NewErrorEvent("could not load notifications"))
		return
	}
	if len(rows) == 0 && !always {
		return
	}
	notifications := make([]types.NotificationPayload, 0, len(rows))
	for _, row := range rows {
		notifications = append(notifications, notificationPayload(row))
	}
	s.client.send(types.NotificationListEvent{
		Type:          types.EventTypeNotificationList,
		Notifications: notifications,
	})
}

func (s *NotificationSession) close() {
	s.state = stateClosed
}

func notificationPayload(row *types.Notification) types.NotificationPayload {
	payload := types.NotificationPayload{
		Id:               row.Id,
		MessageId:        row.MessageId,
		Timestamp:        row.CreatedAt.Format(time.RFC3339Nano),
		IsRead:           row.IsRead,
		NotificationType: row.Type,
	}
	if row.Message != nil {
		payload.RoomId = row.Message.RoomId
		payload.Content = notify.Preview(row.Message.Content)
		if row.Message.Sender != nil {
			payload.Sender = row.Message.Sender.Username
		}
	}
	return payload
}

// SidebarSession joins the process-wide sidebar broadcast group used to
// refresh room-list previews. It has no inbound protocol.
type SidebarSession struct {
	client *Client
	state  sessionState
}

func newSidebarSession(client *Client) *SidebarSession {
	return &SidebarSession{client: client, state: stateConnecting}
}

func (s *SidebarSession) connect(_ context.Context) error {
	if err := s.client.joinGroup(types.SidebarGroup); err != nil {
		s.state = stateClosed
		return err
	}
	s.state = stateJoined
	return nil
}

func (s *SidebarSession) handle(context.Context, types.ClientAction) {}

func (s *SidebarSession) close() {
	s.state = stateClosed
}
