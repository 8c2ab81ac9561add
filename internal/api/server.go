// Package api serves the relay's HTTP surface: room history, room
// administration and the websocket upgrade.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatsync/internal/apierror"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/rs/zerolog"
)

type Server struct {
	log            zerolog.Logger
	db             database.ChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

// NewServer builds the relay's HTTP server. statsHandler, if not nil, is
// served at /debug/vars.
func NewServer(logger zerolog.Logger, cs *server.ChatServer, db database.ChatRepository, statsHandler http.Handler, cfg *config.ServerConfig) *Server {
	s := &Server{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errResp := apierror.NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errResp := apierror.NewMethodNotAllowedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	})
	r.Get("/healthz", s.healthCheck)
	if statsHandler != nil {
		r.Method(http.MethodGet, "/debug/vars", statsHandler)
	}

	r.Route("/chat", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/rooms", s.listRooms)
		r.Post("/rooms", s.createRoom)
		r.Get("/room/{id}", s.getRoom)
		r.Get("/room/{id}/messages", s.getMessages)
		r.Post("/room/{id}/join", s.joinRoom)
		r.Get("/ws", s.serveWs)
	})

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
	)(r)

	h = handlers.LoggingHandler(logger.With().Str("component", "http").Logger(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
