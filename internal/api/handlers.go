package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/apierror"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/teris-io/shortid"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 1000
	maxRoomNameLength   = 64
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *Server) writeRoomError(w http.ResponseWriter, err error) {
	var errResp *apierror.ApiError
	if errors.Is(err, database.ErrRoomNotFound) {
		errResp = apierror.NewNotFoundError()
	} else {
		errResp = apierror.NewInternalServerError(err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Error().Err(err).Msg("health check")
		errResp := apierror.FromStatus(http.StatusServiceUnavailable)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.db.ListRooms()
	if err != nil {
		errResp := apierror.NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	out := make([]types.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, server.RoomInfo(room))
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := apierror.NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := apierror.NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > maxRoomNameLength {
		errResp := apierror.NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := shortid.Generate()
	if err != nil {
		s.log.Error().Err(err).Msg("generate room id")
		errResp := apierror.NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.CreateRoom(database.CreateRoomParams{
		Id:        sid,
		Name:      req.Name,
		OwnerId:   user.Id,
		OwnerName: user.Username,
	})
	if err != nil {
		errResp := apierror.NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.log.Info().Str("room", room.Id).Str("owner", user.Id).Msg("created room")
	s.writeJson(w, http.StatusCreated, server.RoomInfo(room))
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.db.GetRoom(chi.URLParam(r, "id"))
	if err != nil {
		s.writeRoomError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, server.RoomInfo(room))
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := apierror.NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := chi.URLParam(r, "id")

	limit := defaultMessageLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			errResp := apierror.NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = min(n, maxMessageLimit)
	}

	if _, err := s.db.GetRoom(roomId); err != nil {
		s.writeRoomError(w, err)
		return
	}

	if !s.db.IsMember(roomId, user.Id) {
		errResp := apierror.NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgs, err := s.db.GetMessages(roomId, limit)
	if err != nil {
		s.writeRoomError(w, err)
		return
	}

	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, server.ToMessage(m))
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := apierror.NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.AddMember(chi.URLParam(r, "id"), database.Member{
		UserId:   user.Id,
		Username: user.Username,
	})
	if err != nil {
		s.writeRoomError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, server.RoomInfo(room))
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := apierror.NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients send no origin
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading connection")
		return
	}

	s.cs.Attach(user, conn)
}
