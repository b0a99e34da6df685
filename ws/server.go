// Package ws owns the transport boundary: it upgrades HTTP requests into
// persistent websocket connections and runs the per-connection lifecycle.
package ws

import (
	"context"
	"log/slog"
	"net/http"

	"cipherchat/contract"
	"cipherchat/envelope"

	"github.com/gorilla/websocket"
)

// Dispatcher is the router seen from the transport side.
type Dispatcher interface {
	Handle(ctx context.Context, origin contract.Session, env envelope.Envelope)
}

type Options struct {
	AllowedOrigins []string
	SendBufferSize int
	ReadLimit      int64
}

type Server struct {
	log            *slog.Logger
	router         Dispatcher
	registry       contract.IRegistry
	upgrader       websocket.Upgrader
	sendBufferSize int
	readLimit      int64
}

func NewServer(log *slog.Logger, router Dispatcher, registry contract.IRegistry, opts Options) *Server {
	sendBufferSize := opts.SendBufferSize
	if sendBufferSize == 0 {
		sendBufferSize = 64
	}
	readLimit := opts.ReadLimit
	if readLimit == 0 {
		readLimit = 64 * 1024
	}
	return &Server{
		log:            log,
		router:         router,
		registry:       registry,
		upgrader:       makeUpgrader(opts.AllowedOrigins),
		sendBufferSize: sendBufferSize,
		readLimit:      readLimit,
	}
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients
				return true
			}
			return originSet[origin]
		},
	}
}

// ServeHTTP upgrades the request and blocks until the connection closes.
// Each upgraded request gets a brand-new client with a fresh socket id;
// terminal clients are never reused.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	client := newClient(s.log, conn, s.router, s.registry, s.sendBufferSize, s.readLimit)
	client.run(r.Context())
}
