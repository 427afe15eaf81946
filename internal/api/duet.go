package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/duetchat/duet/internal/chat"
	"github.com/duetchat/duet/internal/config"
	"github.com/duetchat/duet/internal/database"
	"github.com/duetchat/duet/internal/stats"
	"github.com/duetchat/duet/internal/stream"
	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"
)

type DuetApp struct {
	log               *log.Logger
	chat              *chat.Service
	db                database.DuetRepository
	streamer          *stream.Streamer
	stats             stats.StatsProvider
	mux               *http.Server
	signingKey        []byte
	adminPasswordHash string
	allowedOrigins    []string
	messageLimit      int

	// generateShortId produces room join codes; overridable in tests.
	generateShortId func() (string, error)
}

func NewDuetApp(mux *http.ServeMux, logger *log.Logger, svc *chat.Service, db database.DuetRepository, streamer *stream.Streamer, statsProvider stats.StatsProvider, cfg *config.Config) *DuetApp {
	s := &DuetApp{
		log:               logger,
		chat:              svc,
		db:                db,
		streamer:          streamer,
		stats:             statsProvider,
		signingKey:        cfg.SigningKey,
		adminPasswordHash: cfg.AdminPasswordHash,
		allowedOrigins:    cfg.AllowedOrigins,
		messageLimit:      cfg.MessageLimit,
		generateShortId:   shortid.Generate,
	}

	if s.stats != nil {
		for _, name := range []string{
			stats.ParticipantsJoined,
			stats.MatchesCreated,
			stats.MessagesSent,
			stats.ConversationsClosed,
			stats.StreamsOpened,
		} {
			s.stats.RegisterMetric(name)
		}
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/join", s.join)
	mux.Handle("POST /api/dm/match", s.sessionMiddleware(s.requestMatch))
	mux.Handle("GET /api/dm/messages", s.sessionMiddleware(s.getMessages))
	mux.Handle("POST /api/dm/send", s.sessionMiddleware(s.sendMessage))
	mux.Handle("POST /api/dm/leave", s.sessionMiddleware(s.leaveConversation))
	mux.Handle("GET /api/dm/stream", s.sessionMiddleware(s.serveStream))
	mux.Handle("POST /api/admin/rooms", s.adminMiddleware(s.createRoom))
	mux.Handle("POST /api/admin/rooms/close", s.adminMiddleware(s.closeRoom))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *DuetApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *DuetApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
