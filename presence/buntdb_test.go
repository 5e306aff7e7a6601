package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuntTestStore(t *testing.T) *BuntStore {
	t.Helper()
	store, err := NewBuntStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBuntStoreOnlineOffline(t *testing.T) {
	store := newBuntTestStore(t)
	ctx := context.Background()

	// unknown user is simply offline
	online, err := store.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, store.SetOnline(ctx, "alice"))
	online, err = store.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	ts, err := store.SetOffline(ctx, "alice")
	require.NoError(t, err)
	online, err = store.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	seen, found, err := store.LastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, found)
	assert.WithinDuration(t, ts, seen, time.Millisecond)
}

func TestBuntStoreLastSeenUnknown(t *testing.T) {
	store := newBuntTestStore(t)

	_, found, err := store.LastSeen(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBuntStorePerUserKeys(t *testing.T) {
	store := newBuntTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetOnline(ctx, "alice"))
	_, err := store.SetOffline(ctx, "bob")
	require.NoError(t, err)

	online, err := store.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	online, err = store.IsOnline(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, online)

	_, found, err := store.LastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)
}
