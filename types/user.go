package types

import "time"

type User struct {
	Id        string    `json:"id" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"uniqueIndex"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"-"`
}

// UserRef is the identity shape embedded in outbound events (read receipts etc.).
type UserRef struct {
	Id       string `json:"id"`
	Username string `json:"username"`
}

func (u *User) Ref() UserRef {
	return UserRef{Id: u.Id, Username: u.Username}
}
