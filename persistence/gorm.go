package persistence

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chathub-io/chathub/config"
	"github.com/chathub-io/chathub/types"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ driver.Valuer = &datatypes.JSON{}

type GormStore struct {
	db        *gorm.DB
	memberCap int
}

func NewGormStore(cfg *config.Config) (*GormStore, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db, memberCap: cfg.GroupMemberCap()}, nil
}

// NewGormStoreFromDB wraps an already opened gorm DB (used by tests).
func NewGormStoreFromDB(db *gorm.DB, memberCap int) (*GormStore, error) {
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db, memberCap: memberCap}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no persistence DSN configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid persistence configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	return db.Migrator().AutoMigrate(
		&types.User{},
		&types.Room{},
		&types.Message{},
		&types.ReadStatus{},
		&types.Notification{},
	)
}

func (s *GormStore) CreateUser(ctx context.Context, user *types.User) error {
	if user.Id == "" {
		user.Id = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	user := types.User{}
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *GormStore) SetUserLastSeen(ctx context.Context, userId string, ts time.Time) error {
	return s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", userId).Update("last_seen", ts).Error
}

func (s *GormStore) CreateRoom(ctx context.Context, room *types.Room) error {
	if room.Id == "" {
		room.Id = uuid.NewString()
	}
	if len(room.Participants) > 2 {
		room.IsGroup = true
	}
	if room.IsGroup && room.Name == "" {
		room.Name = groupNameFor(room.Participants)
	}
	return s.db.WithContext(ctx).Create(room).Error
}

func (s *GormStore) GetRoom(ctx context.Context, id string) (*types.Room, error) {
	room := types.Room{}
	err := s.db.WithContext(ctx).
		Preload("Participants").Preload("Admins").Preload("LastMessage").
		First(&room, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *GormStore) GetRooms(ctx context.Context) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := s.db.WithContext(ctx).Preload("Participants").Find(&rooms).Error
	return rooms, err
}

func (s *GormStore) GetParticipants(ctx context.Context, roomId string) ([]*types.User, error) {
	room, err := s.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	return room.Participants, nil
}

func (s *GormStore) IsParticipant(ctx context.Context, roomId, userId string) (bool, error) {
	var exists int64
	err := s.db.WithContext(ctx).Model(&types.Room{}).Where("id = ?", roomId).Count(&exists).Error
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrRoomNotFound
	}
	var count int64
	err = s.db.WithContext(ctx).Table("room_participants").
		Where("room_id = ? AND user_id = ?", roomId, userId).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetOrCreatePrivateChat returns the single private room between the two users,
// creating it if necessary. The pair_key unique index makes this race-safe: a
// concurrent create loses the insert and falls back to the winner's row.
func (s *GormStore) GetOrCreatePrivateChat(ctx context.Context, userA, userB string) (*types.Room, bool, error) {
	pairKey := types.PrivatePairKey(userA, userB)
	room := types.Room{}
	err := s.db.WithContext(ctx).Preload("Participants").First(&room, "pair_key = ?", pairKey).Error
	if err == nil {
		return &room, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	users := make([]*types.User, 0, 2)
	if err := s.db.WithContext(ctx).Find(&users, "id IN ?", []string{userA, userB}).Error; err != nil {
		return nil, false, err
	}
	if len(users) != 2 {
		return nil, false, ErrUserNotFound
	}
	room = types.Room{
		Id:           uuid.NewString(),
		IsGroup:      false,
		CreatorId:    userA,
		PairKey:      &pairKey,
		Participants: users,
	}
	err = s.db.WithContext(ctx).Create(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing := types.Room{}
			if err := s.db.WithContext(ctx).Preload("Participants").First(&existing, "pair_key = ?", pairKey).Error; err != nil {
				return nil, false, err
			}
			return &existing, false, nil
		}
		return nil, false, err
	}
	return &room, true, nil
}

// AddParticipants adds users to a room. A private room exceeding two
// participants is converted to a group in place: is_group flips, the pair key
// is released and the existing members become admins.
func (s *GormStore) AddParticipants(ctx context.Context, roomId string, userIds []string, asAdmin bool) (*types.Room, error) {
	var result *types.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room := types.Room{}
		err := tx.Preload("Participants").Preload("Admins").First(&room, "id = ?", roomId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		// Association.Append below mutates room.Participants in place, so the
		// pre-add member set has to be snapshotted first
		former := append([]*types.User(nil), room.Participants...)

		existing := make(map[string]struct{}, len(former))
		for _, p := range former {
			existing[p.Id] = struct{}{}
		}
		for _, id := range userIds {
			if _, ok := existing[id]; ok {
				return ErrAlreadyParticipant
			}
		}
		newCount := len(former) + len(userIds)
		if newCount > s.memberCap {
			return ErrGroupFull
		}

		users := make([]*types.User, 0, len(userIds))
		if err := tx.Find(&users, "id IN ?", userIds).Error; err != nil {
			return err
		}
		if len(users) != len(userIds) {
			return ErrUserNotFound
		}

		if err := tx.Model(&room).Association("Participants").Append(users); err != nil {
			return err
		}
		if asAdmin {
			if err := tx.Model(&room).Association("Admins").Append(users); err != nil {
				return err
			}
		}

		if !room.IsGroup && newCount > 2 {
			// conversion: the former private members become the admin set
			if err := tx.Model(&room).Association("Admins").Append(former); err != nil {
				return err
			}
			updates := map[string]interface{}{
				"is_group": true,
				"pair_key": nil,
			}
			if room.Name == "" {
				updates["name"] = groupNameFor(append(former, users...))
			}
			if err := tx.Model(&room).Updates(updates).Error; err != nil {
				return err
			}
		}

		reloaded := types.Room{}
		if err := tx.Preload("Participants").Preload("Admins").First(&reloaded, "id = ?", roomId).Error; err != nil {
			return err
		}
		result = &reloaded
		return nil
	})
	return result, err
}

// SetRoomTag sets one tag on a room; an empty value removes the tag.
func (s *GormStore) SetRoomTag(ctx context.Context, roomId, key, value string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room := types.Room{}
		err := tx.First(&room, "id = ?", roomId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		if room.Tags == nil {
			room.Tags = make(types.JSONStringMap)
		}
		if value == "" {
			delete(room.Tags, key)
		} else {
			room.Tags[key] = value
		}
		return tx.Model(&room).Update("tags", room.Tags).Error
	})
}

func (s *GormStore) RemoveParticipant(ctx context.Context, roomId, userId string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room := types.Room{}
		err := tx.Preload("Admins").First(&room, "id = ?", roomId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		if room.IsGroup && isOnlyAdmin(room.Admins, userId) {
			return ErrLastAdmin
		}
		user := types.User{Id: userId}
		if err := tx.Model(&room).Association("Participants").Delete(&user); err != nil {
			return err
		}
		return tx.Model(&room).Association("Admins").Delete(&user)
	})
}

func (s *GormStore) PromoteAdmin(ctx context.Context, roomId, userId string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room := types.Room{}
		err := tx.First(&room, "id = ?", roomId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		var count int64
		if err := tx.Table("room_participants").Where("room_id = ? AND user_id = ?", roomId, userId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotAParticipant
		}
		return tx.Model(&room).Association("Admins").Append(&types.User{Id: userId})
	})
}

func (s *GormStore) DemoteAdmin(ctx context.Context, roomId, userId string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room := types.Room{}
		err := tx.Preload("Admins").First(&room, "id = ?", roomId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		if room.IsGroup && isOnlyAdmin(room.Admins, userId) {
			return ErrLastAdmin
		}
		return tx.Model(&room).Association("Admins").Delete(&types.User{Id: userId})
	})
}

// CreateMessage persists a message and moves the room's last-message pointer in
// the same transaction. The sender must be a participant at send time.
func (s *GormStore) CreateMessage(ctx context.Context, roomId, senderId, content, attachment string) (*types.Message, error) {
	msg := types.Message{
		Id:         uuid.NewString(),
		RoomId:     roomId,
		SenderId:   senderId,
		Content:    content,
		Attachment: attachment,
		CreatedAt:  time.Now(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&types.Room{}).Where("id = ?", roomId).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrRoomNotFound
		}
		var count int64
		if err := tx.Table("room_participants").Where("room_id = ? AND user_id = ?", roomId, senderId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotAParticipant
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&types.Room{}).Where("id = ?", roomId).Update("last_message_id", msg.Id).Error
	})
	if err != nil {
		return nil, err
	}
	sender := types.User{}
	if err := s.db.WithContext(ctx).First(&sender, "id = ?", senderId).Error; err == nil {
		msg.Sender = &sender
	}
	return &msg, nil
}

func (s *GormStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	msg := types.Message{}
	err := s.db.WithContext(ctx).Preload("Sender").First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateNotifications inserts the whole batch atomically; a failure leaves no
// partial rows behind.
func (s *GormStore) CreateNotifications(ctx context.Context, rows []*types.Notification) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.Id == "" {
			row.Id = uuid.NewString()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now()
		}
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *GormStore) UnreadNotifications(ctx context.Context, userId string, limit int) ([]*types.Notification, error) {
	rows := make([]*types.Notification, 0)
	err := s.db.WithContext(ctx).
		Preload("Message").Preload("Message.Sender").
		Where("user_id = ? AND is_read = ?", userId, false).
		Order("created_at DESC").Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) MarkNotificationRead(ctx context.Context, notificationId, userId string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&types.Notification{}).
		Where("id = ? AND user_id = ?", notificationId, userId).
		Update("is_read", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) MarkAllNotificationsRead(ctx context.Context, userId string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&types.Notification{}).
		Where("user_id = ? AND is_read = ?", userId, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// GetOrCreateReadStatus is the exactly-once-effective primitive of the
// read-receipt engine: the composite primary key serializes concurrent
// duplicate calls, the losing insert refetches the winner's row.
func (s *GormStore) GetOrCreateReadStatus(ctx context.Context, messageId, userId string) (*types.ReadStatus, bool, error) {
	rs := types.ReadStatus{
		MessageId: messageId,
		UserId:    userId,
		CreatedAt: time.Now(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rs)
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return nil, false, res.Error
	}
	if res.Error == nil && res.RowsAffected > 0 {
		return &rs, true, nil
	}
	existing := types.ReadStatus{}
	if err := s.db.WithContext(ctx).
		First(&existing, "message_id = ? AND user_id = ?", messageId, userId).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isOnlyAdmin(admins []*types.User, userId string) bool {
	if len(admins) != 1 {
		return false
	}
	return admins[0].Id == userId
}

func groupNameFor(participants []*types.User) string {
	names := make([]string, 0, 3)
	for _, p := range participants {
		if len(names) == 3 {
			break
		}
		names = append(names, p.Username)
	}
	return fmt.Sprintf("Group (%s)", strings.Join(names, ", "))
}
