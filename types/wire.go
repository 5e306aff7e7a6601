package types

// Wire-level payloads. The JSON shapes here are the client contract, each one
// carries its own type tag.

const (
	EventTypeTyping            = "typing"
	EventTypeStopTyping        = "stop_typing"
	EventTypeNewMessage        = "new_message"
	EventTypeMessageRead       = "message.read"
	EventTypeNotificationList  = "notification_list"
	EventTypeNewNotification   = "new_notification"
	EventTypeMarkReadResp      = "mark_read_response"
	EventTypeMarkAllReadResp   = "mark_all_read_response"
	EventTypeGroupCreated      = "group_created"
	EventTypeLastMessage       = "last_message_updated"
	EventTypeError             = "error"
)

type TypingEvent struct {
	Type     string `json:"type"` // typing / stop_typing
	Username string `json:"username"`
}

type NewMessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

type MessageReadEvent struct {
	Type      string  `json:"type"`
	MessageId string  `json:"message_id"`
	Reader    UserRef `json:"reader"`
	ReadAt    string  `json:"read_at"`
}

// NotificationPayload is the denormalized notification shape pushed to the
// per-user notification channel and listed on connect.
type NotificationPayload struct {
	Id               string  `json:"id"`
	MessageId        *string `json:"message_id"`
	Sender           string  `json:"sender,omitempty"`
	RoomId           string  `json:"room_id,omitempty"`
	Content          string  `json:"content,omitempty"`
	Timestamp        string  `json:"timestamp"`
	IsRead           bool    `json:"is_read"`
	NotificationType string  `json:"notification_type"`
}

type NotificationListEvent struct {
	Type          string                `json:"type"`
	Notifications []NotificationPayload `json:"notifications"`
}

type NewNotificationEvent struct {
	Type         string              `json:"type"`
	Notification NotificationPayload `json:"notification"`
}

type MarkReadResponse struct {
	Type           string `json:"type"`
	NotificationId string `json:"notification_id"`
	Success        bool   `json:"success"`
}

type MarkAllReadResponse struct {
	Type    string `json:"type"`
	Count   int64  `json:"count"`
	Success bool   `json:"success"`
}

type GroupCreatedEvent struct {
	Type  string `json:"type"`
	Group *Room  `json:"group"`
}

type LastMessagePreview struct {
	Id        string `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

type LastMessageUpdatedEvent struct {
	Type        string             `json:"type"`
	GroupId     string             `json:"group_id"`
	LastMessage LastMessagePreview `json:"last_message"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventTypeError, Message: message}
}
