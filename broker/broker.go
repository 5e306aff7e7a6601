package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/chathub-io/chathub/config"
	"github.com/chathub-io/chathub/types"
)

// ErrUnavailable signals a transient broker failure. Publishers treat it as
// best-effort: log and move on, never crash the calling handler.
var ErrUnavailable = errors.New("broker unavailable")

// Subscriber is a live connection handle that events can be pushed to. Deliver
// must never block the broker: a slow or dead subscriber drops the event.
type Subscriber interface {
	Deliver(event *types.Event)
}

// Broker is the group-messaging bus the connection registry rides on: named
// groups, membership, publish-to-group. Delivery is at-most-once per currently
// joined member, best-effort, preserving per-publisher FIFO order per group.
type Broker interface {
	JoinGroup(group string, sub Subscriber) error
	LeaveGroup(group string, sub Subscriber) error
	Publish(ctx context.Context, event *types.Event) error
	Close() error
}

// NewBroker builds the configured broker. "memory" is process-local, "nats"
// bridges groups across server instances.
func NewBroker(cfg *config.Config) (Broker, error) {
	switch cfg.BrokerConfig.Type {
	case "nats":
		return NewNatsBroker(cfg.BrokerConfig.URL)

	case "memory", "":
		return NewMemoryBroker(), nil
	}
	return nil, fmt.Errorf("invalid broker configuration type %q", cfg.BrokerConfig.Type)
}
