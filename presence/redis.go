package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) SetOnline(ctx context.Context, userId string) error {
	return s.client.Set(ctx, onlineKey(userId), "1", 0).Err()
}

func (s *RedisStore) SetOffline(ctx context.Context, userId string) (time.Time, error) {
	now := time.Now()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, onlineKey(userId), "0", 0)
	pipe.Set(ctx, lastSeenKey(userId), now.Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return now, err
}

func (s *RedisStore) IsOnline(ctx context.Context, userId string) (bool, error) {
	val, err := s.client.Get(ctx, onlineKey(userId)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

func (s *RedisStore) LastSeen(ctx context.Context, userId string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, lastSeenKey(userId)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
