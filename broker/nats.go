package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chathub-io/chathub/globals"
	"github.com/chathub-io/chathub/types"
	"github.com/nats-io/nats.go"
)

const subjectPrefix = "chathub.group."

// NatsBroker bridges group messaging across server instances. Local membership
// lives in an embedded MemoryBroker; each group with at least one local member
// holds one NATS subscription, and publishes go through NATS so every instance
// (including the publishing one) delivers to its own local members. NATS keeps
// per-publisher per-subject ordering, which carries the FIFO guarantee across
// the bridge.
type NatsBroker struct {
	local *MemoryBroker
	nc    *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func NewNatsBroker(url string) (*NatsBroker, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			globals.AppLogger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			globals.AppLogger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{
		local: NewMemoryBroker(),
		nc:    nc,
		subs:  make(map[string]*nats.Subscription),
	}, nil
}

func (b *NatsBroker) JoinGroup(group string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.local.join(group, sub) == 1 {
		subscription, err := b.nc.Subscribe(subjectPrefix+group, b.handleMessage)
		if err != nil {
			b.local.leave(group, sub)
			return err
		}
		b.subs[group] = subscription
	}
	return nil
}

func (b *NatsBroker) LeaveGroup(group string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.local.leave(group, sub) == 0 {
		if subscription, ok := b.subs[group]; ok {
			delete(b.subs, group)
			if err := subscription.Unsubscribe(); err != nil {
				globals.AppLogger.Warn("could not unsubscribe group subject", "group", group, "error", err)
			}
		}
	}
	return nil
}

func (b *NatsBroker) Publish(_ context.Context, event *types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(subjectPrefix+event.Group, data); err != nil {
		return ErrUnavailable
	}
	return nil
}

func (b *NatsBroker) handleMessage(msg *nats.Msg) {
	event := types.Event{}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		globals.AppLogger.Error("could not unmarshal broker event", "subject", msg.Subject, "error", err)
		return
	}
	b.local.deliver(&event)
}

func (b *NatsBroker) Close() error {
	b.mu.Lock()
	for group, subscription := range b.subs {
		if err := subscription.Unsubscribe(); err != nil {
			globals.AppLogger.Warn("could not unsubscribe group subject", "group", group, "error", err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()
	b.nc.Drain()
	b.nc.Close()
	return b.local.Close()
}
