package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/chathub-io/chathub/config"
)

// Store is the fast online/last-seen store. Presence is best-effort telemetry:
// callers log errors and move on, nothing here gates message delivery.
type Store interface {
	SetOnline(ctx context.Context, userId string) error
	// SetOffline flips the online flag and records last-seen = now in the fast
	// store. It returns the timestamp so the caller can dual-write it to the
	// durable user record.
	SetOffline(ctx context.Context, userId string) (time.Time, error)
	IsOnline(ctx context.Context, userId string) (bool, error)
	// LastSeen returns the recorded last-seen timestamp; ok is false if the
	// user has never been seen.
	LastSeen(ctx context.Context, userId string) (time.Time, bool, error)
	Close() error
}

// NewStore builds the configured presence store. BuntDB keeps presence local to
// one server instance, redis shares it across instances.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.PresenceConfig.Type {
	case "redis":
		return NewRedisStore(cfg.PresenceConfig.Addr)

	case "buntdb", "":
		path := cfg.PresenceConfig.Path
		if path == "" {
			path = ":memory:"
		}
		return NewBuntStore(path)
	}
	return nil, fmt.Errorf("invalid presence configuration type %q", cfg.PresenceConfig.Type)
}

func onlineKey(userId string) string {
	return "user:" + userId + ":online"
}

func lastSeenKey(userId string) string {
	return "user:" + userId + ":last_seen"
}
