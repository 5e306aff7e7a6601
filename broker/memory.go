package broker

import (
	"context"
	"sync"

	"github.com/chathub-io/chathub/types"
)

// MemoryBroker keeps the group membership table in process. Membership changes
// and publishes synchronize on one RWMutex: a publish snapshots the member set
// under the read lock, so it sees a connection either joined or not, never a
// torn state.
type MemoryBroker struct {
	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		groups: make(map[string]map[Subscriber]struct{}),
	}
}

func (b *MemoryBroker) JoinGroup(group string, sub Subscriber) error {
	b.join(group, sub)
	return nil
}

func (b *MemoryBroker) LeaveGroup(group string, sub Subscriber) error {
	b.leave(group, sub)
	return nil
}

// join returns the member count after the join so wrapping brokers can detect
// the first member of a group.
func (b *MemoryBroker) join(group string, sub Subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.groups[group]
	if !ok {
		members = make(map[Subscriber]struct{})
		b.groups[group] = members
	}
	members[sub] = struct{}{}
	return len(members)
}

// leave returns the member count after the leave; an empty group is removed.
func (b *MemoryBroker) leave(group string, sub Subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.groups[group]
	if !ok {
		return 0
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(b.groups, group)
		return 0
	}
	return len(members)
}

func (b *MemoryBroker) Publish(_ context.Context, event *types.Event) error {
	b.deliver(event)
	return nil
}

// deliver pushes the event to every member joined to the event's group at the
// time of the call. Delivery is sequential, which preserves per-publisher FIFO
// order per group for publishers that call Publish synchronously.
func (b *MemoryBroker) deliver(event *types.Event) {
	b.mu.RLock()
	members := make([]Subscriber, 0, len(b.groups[event.Group]))
	for sub := range b.groups[event.Group] {
		members = append(members, sub)
	}
	b.mu.RUnlock()
	for _, sub := range members {
		sub.Deliver(event)
	}
}

// MemberCount reports the current size of a group.
func (b *MemoryBroker) MemberCount(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups = make(map[string]map[Subscriber]struct{})
	return nil
}
