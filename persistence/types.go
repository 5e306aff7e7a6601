package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/chathub-io/chathub/types"
)

var (
	ErrUserNotFound       = errors.New("user does not exist")
	ErrRoomNotFound       = errors.New("room does not exist")
	ErrMessageNotFound    = errors.New("message does not exist")
	ErrNotAParticipant    = errors.New("user is not a room participant")
	ErrAlreadyParticipant = errors.New("user is already a room participant")
	ErrLastAdmin          = errors.New("cannot remove the last admin of a group")
	ErrGroupFull          = errors.New("group member limit reached")
)

// Store is the durable storage collaborator. All uniqueness invariants (private
// room pair, room membership, read status per message and user) are enforced at
// this layer, not merely in application logic.
type Store interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	SetUserLastSeen(ctx context.Context, userId string, ts time.Time) error

	CreateRoom(ctx context.Context, room *types.Room) error
	GetRoom(ctx context.Context, id string) (*types.Room, error)
	GetRooms(ctx context.Context) ([]*types.Room, error)
	GetParticipants(ctx context.Context, roomId string) ([]*types.User, error)
	IsParticipant(ctx context.Context, roomId, userId string) (bool, error)
	GetOrCreatePrivateChat(ctx context.Context, userA, userB string) (*types.Room, bool, error)
	AddParticipants(ctx context.Context, roomId string, userIds []string, asAdmin bool) (*types.Room, error)
	SetRoomTag(ctx context.Context, roomId, key, value string) error
	RemoveParticipant(ctx context.Context, roomId, userId string) error
	PromoteAdmin(ctx context.Context, roomId, userId string) error
	DemoteAdmin(ctx context.Context, roomId, userId string) error

	CreateMessage(ctx context.Context, roomId, senderId, content, attachment string) (*types.Message, error)
	GetMessage(ctx context.Context, id string) (*types.Message, error)

	CreateNotifications(ctx context.Context, rows []*types.Notification) error
	UnreadNotifications(ctx context.Context, userId string, limit int) ([]*types.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationId, userId string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userId string) (int64, error)

	GetOrCreateReadStatus(ctx context.Context, messageId, userId string) (*types.ReadStatus, bool, error)

	Close() error
}
