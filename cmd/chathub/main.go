package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"

	"github.com/chathub-io/chathub/auth"
	"github.com/chathub-io/chathub/broker"
	"github.com/chathub-io/chathub/config"
	"github.com/chathub-io/chathub/globals"
	"github.com/chathub-io/chathub/notify"
	"github.com/chathub-io/chathub/persistence"
	"github.com/chathub-io/chathub/presence"
	"github.com/chathub-io/chathub/receipts"
	"github.com/chathub-io/chathub/types"
	"github.com/chathub-io/chathub/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

type server struct {
	ctx      context.Context
	cfg      *config.Config
	hub      *ws.Hub
	store    persistence.Store
	notifier *notify.Engine
}

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	store, err := persistence.NewGormStore(globalConfig)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	presenceStore, err := presence.NewStore(globalConfig)
	if err != nil {
		panic(err)
	}
	defer presenceStore.Close()

	bus, err := broker.NewBroker(globalConfig)
	if err != nil {
		panic(err)
	}
	defer bus.Close()

	receiptsEngine := receipts.NewEngine(store, bus)
	notifier := notify.NewEngine(store, bus)
	hub := ws.NewHub(globalConfig, store, presenceStore, bus, receiptsEngine)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go hub.Run(ctx)

	s := &server{
		ctx:      ctx,
		cfg:      globalConfig,
		hub:      hub,
		store:    store,
		notifier: notifier,
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws/chat/{room}", s.chatHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws/notifications", s.notificationsHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws/sidebar", s.sidebarHandler).Methods(http.MethodGet)
	router.HandleFunc("/rooms", s.createRoomHandler).Methods(http.MethodPost)
	router.HandleFunc("/rooms/{room}/messages", s.createMessageHandler).Methods(http.MethodPost)

	httpServer := &http.Server{Addr: *addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			globals.AppLogger.Error("server shutdown", "error", err)
		}
	}()

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = httpServer.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = httpServer.ListenAndServe()
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

// requestToken pulls the id token from the Authorization header or from the
// token query parameter, together with the optional provider name.
func requestToken(r *http.Request) (string, string) {
	vals := r.URL.Query()
	token := vals.Get("token")
	if h := r.Header.Get("Authorization"); h != "" && strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	return token, vals.Get("provider")
}

func (s *server) chatHandler(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	if roomId == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	token, provider := requestToken(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}
	client, err := s.hub.AcceptChat(s.ctx, conn, token, provider, roomId)
	if err != nil {
		globals.AppLogger.Info("chat connection refused", "room", roomId, "error", err)
		return
	}
	client.Run(s.ctx)
}

func (s *server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	token, provider := requestToken(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}
	client, err := s.hub.AcceptNotifications(s.ctx, conn, token, provider)
	if err != nil {
		globals.AppLogger.Info("notification connection refused", "error", err)
		return
	}
	client.Run(s.ctx)
}

func (s *server) sidebarHandler(w http.ResponseWriter, r *http.Request) {
	token, provider := requestToken(r)
	filterSrc := r.URL.Query().Get("filter")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}
	client, err := s.hub.AcceptSidebar(s.ctx, conn, token, provider, filterSrc)
	if err != nil {
		globals.AppLogger.Info("sidebar connection refused", "error", err)
		return
	}
	client.Run(s.ctx)
}

// authenticate resolves the request's token into a known user.
func (s *server) authenticate(r *http.Request) (*types.User, error) {
	token, provider := requestToken(r)
	userId, err := auth.Resolve(r.Context(), token, provider, s.cfg)
	if err != nil {
		return nil, err
	}
	return s.store.GetUser(r.Context(), userId)
}

type createRoomRequest struct {
	Name         string            `json:"name"`
	IsGroup      bool              `json:"is_group"`
	Participants []string          `json:"participants"`
	Tags         map[string]string `json:"tags"`
}

func (s *server) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// a 1:1 room is looked up (or created) via the pair key, so asking twice
	// for the same peer yields the same room
	if !req.IsGroup && len(req.Participants) == 1 && req.Participants[0] != user.Id {
		room, created, err := s.store.GetOrCreatePrivateChat(r.Context(), user.Id, req.Participants[0])
		if err != nil {
			s.roomError(w, err)
			return
		}
		if created {
			s.notifier.RoomCreated(s.ctx, room)
		}
		writeJSON(w, http.StatusOK, room)
		return
	}

	tags := make(types.JSONStringMap)
	for k, v := range req.Tags {
		tags[k] = v
	}
	room := &types.Room{
		Id:        uuid.NewString(),
		Name:      req.Name,
		IsGroup:   req.IsGroup,
		CreatorId: user.Id,
		Admins:    []*types.User{user},
		Tags:      tags,
	}
	participants := []*types.User{user}
	for _, id := range req.Participants {
		if id == user.Id {
			continue
		}
		p, err := s.store.GetUser(r.Context(), id)
		if err != nil {
			s.roomError(w, err)
			return
		}
		participants = append(participants, p)
	}
	room.Participants = participants
	if err := s.store.CreateRoom(r.Context(), room); err != nil {
		s.roomError(w, err)
		return
	}
	s.notifier.RoomCreated(s.ctx, room)
	writeJSON(w, http.StatusCreated, room)
}

type createMessageRequest struct {
	Content    string `json:"content"`
	Attachment string `json:"attachment"`
}

func (s *server) createMessageHandler(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	user, err := s.authenticate(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Content == "" && req.Attachment == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	msg, err := s.store.CreateMessage(r.Context(), roomId, user.Id, req.Content, req.Attachment)
	if err != nil {
		s.roomError(w, err)
		return
	}
	// the fan-out is an explicit step after the save, it is never implied by
	// the store itself
	if err := s.notifier.MessageCreated(s.ctx, msg); err != nil {
		globals.AppLogger.Error("message fan-out failed", "message", msg.Id, "error", err)
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *server) roomError(w http.ResponseWriter, err error) {
	switch err {
	case persistence.ErrRoomNotFound, persistence.ErrUserNotFound, persistence.ErrMessageNotFound:
		w.WriteHeader(http.StatusNotFound)
	case persistence.ErrNotAParticipant:
		w.WriteHeader(http.StatusForbidden)
	case persistence.ErrGroupFull, persistence.ErrAlreadyParticipant, persistence.ErrLastAdmin:
		w.WriteHeader(http.StatusConflict)
	default:
		globals.AppLogger.Error("request failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not encode response", "error", err)
	}
}
