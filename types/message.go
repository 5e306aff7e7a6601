package types

import "time"

// Message is immutable after creation; it is only ever referenced afterwards
// (last-message pointer, read statuses, notifications).
type Message struct {
	Id         string    `json:"id" gorm:"primaryKey"`
	RoomId     string    `json:"room_id" gorm:"index:idx_messages_room_ts,priority:1"`
	SenderId   string    `json:"sender_id"`
	Sender     *User     `json:"sender,omitempty" gorm:"foreignKey:SenderId"`
	Content    string    `json:"content"`
	Attachment string    `json:"attachment,omitempty"`
	CreatedAt  time.Time `json:"timestamp" gorm:"index:idx_messages_room_ts,priority:2"`
}

// ReadStatus marks that a user has seen a message. The composite primary key is
// the uniqueness constraint the read-receipt engine relies on.
type ReadStatus struct {
	MessageId string    `json:"message_id" gorm:"primaryKey"`
	UserId    string    `json:"user_id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"timestamp"`
}

const (
	NotificationTypeNewMessage = "new_message"
	NotificationTypeMention    = "mention"
	NotificationTypeRoomInvite = "room_invite"
	NotificationTypeSystem     = "system"
)

type Notification struct {
	Id        string    `json:"id" gorm:"primaryKey"`
	UserId    string    `json:"user_id" gorm:"index:idx_notifications_user_read,priority:1"`
	MessageId *string   `json:"message_id,omitempty"`
	Message   *Message  `json:"-" gorm:"foreignKey:MessageId"`
	Type      string    `json:"notification_type"`
	IsRead    bool      `json:"is_read" gorm:"index:idx_notifications_user_read,priority:2"`
	CreatedAt time.Time `json:"timestamp"`
}
