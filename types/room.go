package types

import (
	"sort"
	"strings"
	"time"
)

// Room is a chat conversation, either private (exactly two participants) or a
// group (is_group set, admin subset of participants). The broker group a room
// broadcasts on is ChatGroup(room.Id), the room itself is only the durable entity.
type Room struct {
	Id            string         `json:"id" gorm:"primaryKey"`
	Name          string         `json:"name"`
	IsGroup       bool           `json:"is_group"`
	CreatorId     string         `json:"creator_id"`
	PairKey       *string        `json:"-" gorm:"uniqueIndex"`
	LastMessageId *string        `json:"-"`
	LastMessage   *Message       `json:"last_message,omitempty" gorm:"foreignKey:LastMessageId"`
	Participants  []*User        `json:"participants,omitempty" gorm:"many2many:room_participants"`
	Admins        []*User        `json:"admins,omitempty" gorm:"many2many:room_admins"`
	Tags          JSONStringMap  `json:"tags,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// PrivatePairKey builds the unique key enforcing at most one private room per
// user pair at the storage layer. Order of the arguments does not matter.
func PrivatePairKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}
