package types

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ActionKind is the closed set of inbound client actions. Frames are decoded
// once at the connection boundary and dispatched on the kind; a frame whose
// tag matches none of the kinds decodes to ActionUnknown and is ignored.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionTyping
	ActionStopTyping
	ActionReadMessage
	ActionMarkRead
	ActionMarkAllRead
	ActionGetUnread
)

func (k ActionKind) String() string {
	switch k {
	case ActionTyping:
		return "typing"
	case ActionStopTyping:
		return "stop_typing"
	case ActionReadMessage:
		return "read_message"
	case ActionMarkRead:
		return "mark_read"
	case ActionMarkAllRead:
		return "mark_all_read"
	case ActionGetUnread:
		return "get_unread"
	}
	return "unknown"
}

// ClientAction is one decoded inbound frame. Chat frames tag themselves with
// "type", notification frames with "action"; both tags are accepted.
type ClientAction struct {
	Kind           ActionKind `mapstructure:"-"`
	MessageId      string     `mapstructure:"message_id"`
	NotificationId string     `mapstructure:"notification_id"`
}

var actionKinds = map[string]ActionKind{
	"typing":        ActionTyping,
	"stop_typing":   ActionStopTyping,
	"read_message":  ActionReadMessage,
	"mark_read":     ActionMarkRead,
	"mark_all_read": ActionMarkAllRead,
	"get_unread":    ActionGetUnread,
}

// DecodeClientAction parses a raw inbound frame. It returns an error only for
// malformed JSON; an unrecognized tag yields ActionUnknown, not an error.
func DecodeClientAction(raw []byte) (ClientAction, error) {
	frame := make(map[string]interface{})
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ClientAction{}, fmt.Errorf("invalid JSON format")
	}
	tag, _ := frame["type"].(string)
	if tag == "" {
		tag, _ = frame["action"].(string)
	}
	action := ClientAction{Kind: actionKinds[tag]}
	if err := mapstructure.WeakDecode(frame, &action); err != nil {
		return ClientAction{}, fmt.Errorf("invalid action payload")
	}
	return action, nil
}
