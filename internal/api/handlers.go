package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/duetchat/duet/internal/chat"
	"github.com/duetchat/duet/internal/database"
	"github.com/duetchat/duet/internal/types"
)

type JoinRequest struct {
	RoomCode    string `json:"room_code"`
	ClientToken string `json:"client_token"`
}

type MatchRequest struct {
	RoomId string `json:"room_id"`
}

type SendRequest struct {
	ConversationId string `json:"conversation_id"`
	Body           string `json:"body"`
}

type SendResponse struct {
	Ok bool `json:"ok"`
}

type LeaveRequest struct {
	ConversationId string `json:"conversation_id"`
}

type CreateRoomRequest struct {
	ClosesInHours int `json:"closes_in_hours"`
}

type CloseRoomRequest struct {
	Code string `json:"code"`
}

func (s *DuetApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// apiErrorFor maps core errors onto the wire taxonomy: validation 400,
// authorization and room gates 403, unknown room 404, closed conversation
// 409, everything else a retryable 500.
func (s *DuetApp) apiErrorFor(err error) *ApiError {
	switch {
	case errors.Is(err, chat.ErrInvalidInput), errors.Is(err, chat.ErrEmptyBody):
		return NewBadRequestError()
	case errors.Is(err, chat.ErrRoomNotFound):
		return NewNotFoundError()
	case errors.Is(err, chat.ErrRoomClosed), errors.Is(err, chat.ErrRoomExpired),
		errors.Is(err, chat.ErrBanned), errors.Is(err, chat.ErrNotMember):
		return NewForbiddenError()
	case errors.Is(err, chat.ErrConversationClosed):
		return NewConflictError(chat.ErrConversationClosed.Error())
	default:
		return NewInternalServerError(err)
	}
}

func (s *DuetApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *DuetApp) join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sess, err := s.chat.Join(req.RoomCode, req.ClientToken)
	if err != nil {
		errResp := s.apiErrorFor(err)
		if errResp.Err != nil {
			s.log.Println("join:", err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createSessionToken(SessionClaims{
		RoomId:        sess.RoomId,
		ParticipantId: sess.ParticipantId,
	}, defaultSessionExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createSessionCookie(token, defaultSessionExpiration))

	s.writeJson(w, http.StatusOK, sess)
}

func (s *DuetApp) requestMatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// A session is valid for exactly one room.
	if req.RoomId != sess.RoomId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	res, err := s.chat.RequestMatch(req.RoomId, sess.ParticipantId)
	if err != nil {
		errResp := s.apiErrorFor(err)
		if errResp.Err != nil {
			s.log.Println("request match:", err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, res)
}

// parseSince reads the optional since query parameter. An absent parameter
// means "from the beginning".
func parseSince(r *http.Request) (*time.Time, error) {
	sinceStr := r.URL.Query().Get("since")
	if sinceStr == "" {
		return nil, nil
	}

	since, err := time.Parse(time.RFC3339Nano, sinceStr)
	if err != nil {
		return nil, err
	}

	return &since, nil
}

func (s *DuetApp) getMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId := r.URL.Query().Get("conversation_id")
	if conversationId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	since, err := parseSince(r)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := s.messageLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	batch, err := s.chat.Messages(conversationId, sess.ParticipantId, since, limit)
	if err != nil {
		errResp := s.apiErrorFor(err)
		if errResp.Err != nil {
			s.log.Println("get messages:", err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, batch)
}

func (s *DuetApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.chat.Send(req.ConversationId, sess.ParticipantId, req.Body); err != nil {
		errResp := s.apiErrorFor(err)
		if errResp.Err != nil {
			s.log.Println("send message:", err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, SendResponse{Ok: true})
}

func (s *DuetApp) leaveConversation(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	res, err := s.chat.Leave(req.ConversationId, sess.ParticipantId)
	if err != nil {
		errResp := s.apiErrorFor(err)
		if errResp.Err != nil {
			s.log.Println("leave conversation:", err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, res)
}

func (s *DuetApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	code, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateRoomParams{Code: code}
	if req.ClosesInHours > 0 {
		closesAt := time.Now().UTC().Add(time.Duration(req.ClosesInHours) * time.Hour)
		params.ClosesAt = &closesAt
	}

	newRoom, err := s.db.CreateRoom(params)
	if err != nil {
		s.log.Println("create room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Room{
		Id:        newRoom.Id,
		Code:      newRoom.Code,
		IsOpen:    newRoom.IsOpen,
		ClosesAt:  newRoom.ClosesAt,
		CreatedAt: newRoom.CreatedAt,
	})
}

func (s *DuetApp) closeRoom(w http.ResponseWriter, r *http.Request) {
	var req CloseRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByCode(req.Code)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.CloseRoom(room.Id); err != nil {
		s.log.Println("close room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}
