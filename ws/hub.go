package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/antonmedv/expr"
	"github.com/chathub-io/chathub/auth"
	"github.com/chathub-io/chathub/broker"
	"github.com/chathub-io/chathub/config"
	"github.com/chathub-io/chathub/filter"
	"github.com/chathub-io/chathub/globals"
	"github.com/chathub-io/chathub/persistence"
	"github.com/chathub-io/chathub/presence"
	"github.com/chathub-io/chathub/receipts"
	"github.com/chathub-io/chathub/types"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"github.com/robfig/cron/v3"
)

// Application close codes for refused connections. A refusal is an immediate
// close with no payload, never a half-open connection.
const (
	CloseUnauthenticated = 4401
	CloseNotAParticipant = 4403
	CloseRoomNotFound    = 4404
)

const userCacheSize = 1024

// Hub is the connection registry: it tracks live connections, their user
// identity and their group memberships, accepts or denies new connections and
// owns the periodic presence flush. There is one hub per process; everything
// it needs is injected, nothing is looked up ambiently.
type Hub struct {
	Cfg      *config.Config
	Store    persistence.Store
	Presence presence.Store
	Broker   broker.Broker
	Receipts *receipts.Engine

	// registered live connections
	clients map[*Client]struct{}
	sync.RWMutex

	// resolved users, keyed by user id
	users *lru.Cache
}

func NewHub(cfg *config.Config, store persistence.Store, pres presence.Store, bus broker.Broker, receiptsEngine *receipts.Engine) *Hub {
	users, _ := lru.New(userCacheSize)
	return &Hub{
		Cfg:      cfg,
		Store:    store,
		Presence: pres,
		Broker:   bus,
		Receipts: receiptsEngine,
		clients:  make(map[*Client]struct{}),
		users:    users,
	}
}

// NoClients returns the number of currently registered connections.
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.Lock()
	h.clients[c] = struct{}{}
	h.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.Lock()
	delete(h.clients, c)
	h.Unlock()
}

// AcceptChat authenticates the connection, runs the room session state machine
// through its membership check and registers the accepted connection. On any
// failure the connection is denied with a close code and an error is returned.
func (h *Hub) AcceptChat(ctx context.Context, conn *websocket.Conn, token, provider, roomId string) (*Client, error) {
	user, err := h.authenticate(ctx, token, provider)
	if err != nil {
		deny(conn, CloseUnauthenticated)
		return nil, err
	}
	c := newClient(h, conn, user)
	s := newChatSession(c, roomId)
	c.session = s
	if err := s.connect(ctx); err != nil {
		deny(conn, denyCode(err))
		return nil, err
	}
	h.register(c)
	h.markOnline(ctx, user.Id)
	return c, nil
}

// AcceptNotifications registers a per-user notification channel and pushes the
// unread backlog.
func (h *Hub) AcceptNotifications(ctx context.Context, conn *websocket.Conn, token, provider string) (*Client, error) {
	user, err := h.authenticate(ctx, token, provider)
	if err != nil {
		deny(conn, CloseUnauthenticated)
		return nil, err
	}
	c := newClient(h, conn, user)
	s := newNotificationSession(c)
	c.session = s
	if err := s.connect(ctx); err != nil {
		deny(conn, denyCode(err))
		return nil, err
	}
	h.register(c)
	h.markOnline(ctx, user.Id)
	return c, nil
}

// AcceptSidebar registers a connection on the process-wide sidebar group. The
// optional filterSrc is an expr expression evaluated against every delivered
// event.
func (h *Hub) AcceptSidebar(ctx context.Context, conn *websocket.Conn, token, provider, filterSrc string) (*Client, error) {
	user, err := h.authenticate(ctx, token, provider)
	if err != nil {
		deny(conn, CloseUnauthenticated)
		return nil, err
	}
	c := newClient(h, conn, user)
	if filterSrc != "" {
		prog, err := expr.Compile(filterSrc, expr.Env(filter.Env{}))
		if err != nil {
			globals.AppLogger.Debug("could not compile sidebar filter", "error", err)
			deny(conn, websocket.CloseUnsupportedData)
			return nil, err
		}
		c.filterProg = prog
	}
	s := newSidebarSession(c)
	c.session = s
	if err := s.connect(ctx); err != nil {
		deny(conn, denyCode(err))
		return nil, err
	}
	h.register(c)
	h.markOnline(ctx, user.Id)
	return c, nil
}

func (h *Hub) authenticate(ctx context.Context, token, provider string) (*types.User, error) {
	userId, err := auth.Resolve(ctx, token, provider, h.Cfg)
	if err != nil {
		return nil, auth.ErrUnauthenticated
	}
	return h.resolveUser(ctx, userId)
}

// resolveUser loads the user behind an authenticated id, memoized in the LRU
// cache. An id that does not resolve to a stored user is unauthenticated: the
// hub never provisions users.
func (h *Hub) resolveUser(ctx context.Context, userId string) (*types.User, error) {
	if cached, ok := h.users.Get(userId); ok {
		return cached.(*types.User), nil
	}
	user, err := h.Store.GetUser(ctx, userId)
	if errors.Is(err, persistence.ErrUserNotFound) {
		return nil, auth.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	h.users.Add(userId, user)
	return user, nil
}

// markOnline and markOffline are best-effort: presence never gates delivery.
func (h *Hub) markOnline(ctx context.Context, userId string) {
	if err := h.Presence.SetOnline(ctx, userId); err != nil {
		globals.AppLogger.Warn("could not mark user online", "user", userId, "error", err)
	}
}

// markOffline dual-writes last-seen: the fast store first, the durable user
// record second. The durable write may lag, which is an acceptable staleness
// window.
func (h *Hub) markOffline(ctx context.Context, userId string) {
	ts, err := h.Presence.SetOffline(ctx, userId)
	if err != nil {
		globals.AppLogger.Warn("could not mark user offline", "user", userId, "error", err)
	}
	if err := h.Store.SetUserLastSeen(ctx, userId, ts); err != nil {
		globals.AppLogger.Warn("could not persist last seen", "user", userId, "error", err)
	}
}

// Run owns the hub's periodic work: a cron job flushing last-seen for every
// connected user, so a crash loses at most one flush interval of presence.
// It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	runner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := runner.AddFunc("@every 1m", func() { h.flushLastSeen(ctx) }); err != nil {
		globals.AppLogger.Error("could not schedule presence flush", "error", err)
	}
	runner.Start()
	<-ctx.Done()
	<-runner.Stop().Done()
}

func (h *Hub) flushLastSeen(ctx context.Context) {
	now := time.Now()
	seen := make(map[string]struct{})
	h.RLock()
	for c := range h.clients {
		seen[c.user.Id] = struct{}{}
	}
	h.RUnlock()
	for userId := range seen {
		if err := h.Store.SetUserLastSeen(ctx, userId, now); err != nil {
			globals.AppLogger.Warn("could not flush last seen", "user", userId, "error", err)
		}
	}
}

// deny refuses a connection with a close code and no payload.
func deny(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

func denyCode(err error) int {
	switch {
	case errors.Is(err, persistence.ErrRoomNotFound):
		return CloseRoomNotFound
	case errors.Is(err, persistence.ErrNotAParticipant):
		return CloseNotAParticipant
	case errors.Is(err, auth.ErrUnauthenticated):
		return CloseUnauthenticated
	}
	return websocket.CloseInternalServerErr
}
