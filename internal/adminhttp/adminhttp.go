// Package adminhttp implements the Admin HTTP Surface (C12): an operator
// and tooling facing side-channel separate from the client gRPC surface —
// health checks, shard occupancy stats, and an optional WebSocket mirror
// of the long-poll surface for browser-based clients that cannot speak
// gRPC directly.
//
// The WebSocket handler's upgrade-and-pump loop uses an int64 UserID as
// its session identity and wires directly to this node's longpoll.Engine.
package adminhttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/tinyim/access-node/internal/longpoll"
	"github.com/tinyim/access-node/internal/sessiontable"
	"github.com/tinyim/access-node/internal/wire"
)

// StatsSource is the read side of the session table the /stats endpoint
// reports on.
type StatsSource interface {
	Stats() []sessiontable.ShardStats
	ShardCount() int
}

// Server is the admin HTTP surface.
type Server struct {
	router   chi.Router
	table    StatsSource
	lp       *longpoll.Engine
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewServer(table StatsSource, lp *longpoll.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		table: table,
		lp:    lp,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/ws/{userID}", s.handleWS)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statsResponse struct {
	ShardCount int                         `json:"shard_count"`
	Shards     []sessiontable.ShardStats `json:"shards"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{ShardCount: s.table.ShardCount(), Shards: s.table.Stats()}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("adminhttp: encode stats", "err", err)
	}
}

// handleWS upgrades a browser client into the same parked-pull model
// PullData and Stream use server-side, so a browser that cannot speak
// gRPC can still long-poll-over-websocket against the same session slot.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userIDStr := chi.URLParam(r, "userID")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("adminhttp: ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	user := sessiontable.UserID(userID)
	reply := s.lp.Park(user, true)
	defer s.lp.Unpark(user, reply)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msgs, ok := <-reply.C():
			if !ok {
				return
			}
			if msgs == nil {
				continue
			}
			if err := s.writeJSON(conn, msgs); err != nil {
				s.log.Warn("adminhttp: ws send failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, msgs *wire.Msgs) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
