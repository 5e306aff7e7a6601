package presence

import (
	"context"
	"time"

	"github.com/tidwall/buntdb"
)

type BuntStore struct {
	db *buntdb.DB
}

func NewBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func (s *BuntStore) SetOnline(_ context.Context, userId string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(onlineKey(userId), "1", nil)
		return err
	})
}

func (s *BuntStore) SetOffline(_ context.Context, userId string) (time.Time, error) {
	now := time.Now()
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(onlineKey(userId), "0", nil); err != nil {
			return err
		}
		_, _, err := tx.Set(lastSeenKey(userId), now.Format(time.RFC3339Nano), nil)
		return err
	})
	return now, err
}

func (s *BuntStore) IsOnline(_ context.Context, userId string) (bool, error) {
	online := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(onlineKey(userId))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		online = val == "1"
		return nil
	})
	return online, err
}

func (s *BuntStore) LastSeen(_ context.Context, userId string) (time.Time, bool, error) {
	var ts time.Time
	found := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(lastSeenKey(userId))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return err
		}
		ts = parsed
		found = true
		return nil
	})
	return ts, found, err
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}
