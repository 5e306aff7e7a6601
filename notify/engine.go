package notify

import (
	"context"
	"time"

	"github.com/chathub-io/chathub/broker"
	"github.com/chathub-io/chathub/globals"
	"github.com/chathub-io/chathub/persistence"
	"github.com/chathub-io/chathub/types"
)

const previewLimit = 50

// Engine distributes the side effects of a newly created message: the room
// broadcast, the sidebar preview update and one persisted notification plus
// push per recipient. It is invoked as an explicit step by the message
// ingestion path, exactly once per message.
type Engine struct {
	store persistence.Store
	bus   broker.Broker
}

func NewEngine(store persistence.Store, bus broker.Broker) *Engine {
	return &Engine{store: store, bus: bus}
}

// MessageCreated fans out a freshly persisted message. The message broadcast
// and the sidebar update happen regardless of the notification batch; a failed
// batch insert logs and aborts only the notification pushes.
func (e *Engine) MessageCreated(ctx context.Context, msg *types.Message) error {
	e.publish(ctx, types.ChatGroup(msg.RoomId), types.EventTypeNewMessage,
		types.NewMessageEvent{Type: types.EventTypeNewMessage, Message: msg})

	sender := ""
	if msg.Sender != nil {
		sender = msg.Sender.Username
	}
	e.publish(ctx, types.SidebarGroup, types.EventTypeLastMessage,
		types.LastMessageUpdatedEvent{
			Type:    types.EventTypeLastMessage,
			GroupId: msg.RoomId,
			LastMessage: types.LastMessagePreview{
				Id:        msg.Id,
				Text:      msg.Content,
				Sender:    sender,
				Timestamp: msg.CreatedAt.Format(time.RFC3339Nano),
			},
		})

	participants, err := e.store.GetParticipants(ctx, msg.RoomId)
	if err != nil {
		return err
	}

	rows := make([]*types.Notification, 0, len(participants))
	for _, p := range participants {
		if p.Id == msg.SenderId {
			continue
		}
		messageId := msg.Id
		rows = append(rows, &types.Notification{
			UserId:    p.Id,
			MessageId: &messageId,
			Type:      types.NotificationTypeNewMessage,
			IsRead:    false,
			CreatedAt: time.Now(),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := e.store.CreateNotifications(ctx, rows); err != nil {
		globals.AppLogger.Error("could not create notifications", "message", msg.Id, "error", err)
		return nil
	}

	for _, row := range rows {
		payload := types.NewNotificationEvent{
			Type: types.EventTypeNewNotification,
			Notification: types.NotificationPayload{
				Id:               row.Id,
				MessageId:        row.MessageId,
				Sender:           sender,
				RoomId:           msg.RoomId,
				Content:          Preview(msg.Content),
				Timestamp:        row.CreatedAt.Format(time.RFC3339Nano),
				IsRead:           false,
				NotificationType: row.Type,
			},
		}
		// one recipient's publish failure must not block the others
		e.publish(ctx, types.NotificationGroup(row.UserId), types.EventTypeNewNotification, payload)
	}
	return nil
}

// RoomCreated announces a new room on the sidebar group.
func (e *Engine) RoomCreated(ctx context.Context, room *types.Room) {
	e.publish(ctx, types.SidebarGroup, types.EventTypeGroupCreated,
		types.GroupCreatedEvent{Type: types.EventTypeGroupCreated, Group: room})
}

func (e *Engine) publish(ctx context.Context, group, eventType string, payload interface{}) {
	event, err := types.NewEvent(group, eventType, payload)
	if err != nil {
		globals.AppLogger.Error("could not build event", "group", group, "type", eventType, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		globals.AppLogger.Error("could not publish event", "group", group, "type", eventType, "error", err)
	}
}

// Preview truncates message content for notification payloads to the first 50
// runes plus an ellipsis.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit]) + "..."
}
