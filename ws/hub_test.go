package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chathub-io/chathub/auth"
	"github.com/chathub-io/chathub/persistence"
)

func TestDenyCode(t *testing.T) {
	assert.Equal(t, CloseUnauthenticated, denyCode(auth.ErrUnauthenticated))
	assert.Equal(t, CloseNotAParticipant, denyCode(persistence.ErrNotAParticipant))
	assert.Equal(t, CloseRoomNotFound, denyCode(persistence.ErrRoomNotFound))

	// anything else is an internal error, never a half-mapped refusal
	assert.Equal(t, websocket.CloseInternalServerErr, denyCode(errors.New("boom")))
}

func TestAcceptChatDeniesUnauthenticated(t *testing.T) {
	hub, _ := newTestHub(t)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_, err = hub.AcceptChat(context.Background(), conn, "", "", "some-room")
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr := &websocket.CloseError{}
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseUnauthenticated, closeErr.Code)
	assert.Equal(t, 0, hub.NoClients())
}
