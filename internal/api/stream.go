package api

import (
	"net/http"
	"slices"

	"github.com/duetchat/duet/internal/stats"
	"github.com/duetchat/duet/internal/stream"
	"github.com/gorilla/websocket"
)

const (
	readBufferSize  = 1024
	writeBufferSize = 1024
)

// serveStream upgrades the request to a WebSocket and pushes conversation
// events to it. The backlog since the client's cursor is delivered as the
// first frame, so a client switching from polling misses nothing.
func (s *DuetApp) serveStream(w http.ResponseWriter, r *http.Request) {
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

	// Authorizes the caller before the connection is upgraded, so failures
	// still map to HTTP statuses. The batch itself is discarded; the backlog
	// delivered on the socket is fetched again under the streamer's
	// registration lock.
	if _, err := s.chat.Messages(conversationId, sess.ParticipantId, since, s.messageLimit); err != nil {
		errResp := s.apiErrorFor(err)
		if errResp.Err != nil {
			s.log.Println("serve stream:", err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return slices.Contains(s.allowedOrigins, origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("ws upgrade:", err)
		return
	}

	client := stream.NewClient(conversationId, conn, s.streamer, s.log)
	ok, err = client.Run(func() (*stream.Event, error) {
		batch, err := s.chat.Messages(conversationId, sess.ParticipantId, since, s.messageLimit)
		if err != nil {
			return nil, err
		}
		return &stream.Event{Messages: batch.Messages, Closed: batch.Closed}, nil
	})
	if err != nil || !ok {
		if err != nil {
			s.log.Println("serve stream:", err)
		}
		conn.Close()
		return
	}

	if s.stats != nil {
		s.stats.Incr(stats.StreamsOpened)
	}
}
