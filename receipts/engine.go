package receipts

import (
	"context"
	"time"

	"github.com/chathub-io/chathub/broker"
	"github.com/chathub-io/chathub/globals"
	"github.com/chathub-io/chathub/persistence"
	"github.com/chathub-io/chathub/types"
)

// Engine enforces at-most-one read record per (message, user) and broadcasts
// read events idempotently: only the call that actually creates the row
// publishes, a repeat call is answered from the existing row without a
// re-broadcast.
type Engine struct {
	store persistence.Store
	bus   broker.Broker
}

func NewEngine(store persistence.Store, bus broker.Broker) *Engine {
	return &Engine{store: store, bus: bus}
}

// MarkRead records that userId has read messageId. A sender marking their own
// message is a silent no-op (nil status, created false, no error). The boolean
// reports whether the read status was created by this call.
func (e *Engine) MarkRead(ctx context.Context, messageId, userId string) (*types.ReadStatus, bool, error) {
	msg, err := e.store.GetMessage(ctx, messageId)
	if err != nil {
		return nil, false, err
	}
	if msg.SenderId == userId {
		return nil, false, nil
	}

	status, created, err := e.store.GetOrCreateReadStatus(ctx, messageId, userId)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return status, false, nil
	}

	reader := types.UserRef{Id: userId}
	if user, err := e.store.GetUser(ctx, userId); err == nil {
		reader = user.Ref()
	} else {
		globals.AppLogger.Warn("could not resolve reader for read event", "user", userId, "error", err)
	}
	payload := types.MessageReadEvent{
		Type:      types.EventTypeMessageRead,
		MessageId: msg.Id,
		Reader:    reader,
		ReadAt:    status.CreatedAt.Format(time.RFC3339Nano),
	}
	event, err := types.NewEvent(types.ChatGroup(msg.RoomId), types.EventTypeMessageRead, payload)
	if err != nil {
		globals.AppLogger.Error("could not build read event", "message", msg.Id, "error", err)
		return status, true, nil
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		// best-effort broadcast, the read record itself stands
		globals.AppLogger.Error("could not publish read event", "message", msg.Id, "error", err)
	}
	return status, true, nil
}
