package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// Broker group naming. The scheme is deliberately centralized here so that
// publishers and subscribers cannot drift apart.
const SidebarGroup = "sidebar"

func ChatGroup(roomId string) string {
	return "chat_" + roomId
}

func NotificationGroup(userId string) string {
	return "notification_" + userId
}

// Event is the envelope carried by the broker. Payload is the final wire JSON
// delivered to subscribed connections; Type mirrors the payload's type tag so
// target filters can match without unmarshalling. TargetFilter is an optional
// expr expression evaluated per subscriber (empty means deliver to all).
type Event struct {
	Id           string          `json:"id" hash:"ignore"`
	Group        string          `json:"group"`
	Type         string          `json:"type"`
	Created      time.Time       `json:"created"`
	TargetFilter string          `json:"target_filter,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// NewEvent marshals the payload and stamps the envelope with a content hash id.
func NewEvent(group, eventType string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	e := &Event{
		Group:   group,
		Type:    eventType,
		Created: time.Now(),
		Payload: data,
	}
	if err := e.CreateId(); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateId sets the event id to a hash over the envelope (the id field itself
// is excluded from the hash).
func (e *Event) CreateId() error {
	hash, err := hashstructure.Hash(e, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	e.Id = fmt.Sprintf("%016x", hash)
	return nil
}
