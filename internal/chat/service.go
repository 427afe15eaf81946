// Package chat implements the matchmaking, conversation-lifecycle and
// message-log core. All state lives in the repository; the service is safe
// for concurrent use from unrelated requests.
package chat

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/duetchat/duet/internal/database"
	"github.com/duetchat/duet/internal/names"
	"github.com/duetchat/duet/internal/stats"
	"github.com/duetchat/duet/internal/types"
)

const (
	// maxMessageLen bounds stored message bodies, counted in runes.
	maxMessageLen = 400
	// defaultMessageLimit caps a single fetch when the caller passes none.
	defaultMessageLimit = 100
)

// Notifier receives conversation events for push delivery. Implementations
// must not block.
type Notifier interface {
	MessageAppended(conversationId string, msg types.Message)
	ConversationClosed(conversationId string)
}

type Service struct {
	repo     database.DuetRepository
	log      *log.Logger
	stats    stats.StatsProvider
	notifier Notifier
}

func NewService(repo database.DuetRepository, logger *log.Logger, stats stats.StatsProvider) *Service {
	return &Service{
		repo:  repo,
		log:   logger,
		stats: stats,
	}
}

// SetNotifier attaches a push-delivery sink. Optional; polling works without it.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) incr(name string) {
	if s.stats != nil {
		s.stats.Incr(name)
	}
}

// Join resolves a room code and a device token to a participant identity,
// creating the participant on first contact.
func (s *Service) Join(roomCode, clientToken string) (types.Session, error) {
	code := strings.ToUpper(strings.TrimSpace(roomCode))
	token := strings.TrimSpace(clientToken)
	if code == "" || token == "" {
		return types.Session{}, ErrInvalidInput
	}

	room, err := s.repo.GetRoomByCode(code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Session{}, ErrRoomNotFound
		}
		return types.Session{}, fmt.Errorf("find room: %w", err)
	}

	if !room.IsOpen {
		return types.Session{}, ErrRoomClosed
	}
	if room.ClosesAt != nil && room.ClosesAt.Before(time.Now()) {
		return types.Session{}, ErrRoomExpired
	}

	participant, err := s.repo.GetParticipantByToken(room.Id, token)
	if errors.Is(err, sql.ErrNoRows) {
		participant, err = s.repo.CreateParticipant(database.CreateParticipantParams{
			RoomId:      room.Id,
			ClientToken: token,
			DisplayName: names.Generate(),
		})
		if err == nil {
			s.incr(stats.ParticipantsJoined)
		}
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("resolve participant: %w", err)
	}

	if participant.IsBanned {
		return types.Session{}, ErrBanned
	}

	return types.Session{
		RoomId:        room.Id,
		ParticipantId: participant.Id,
		DisplayName:   participant.DisplayName,
	}, nil
}

// RequestMatch returns the caller's open conversation if one exists,
// otherwise enqueues the caller and pairs it with the oldest other waiter.
// Safe to call repeatedly from a poll loop.
func (s *Service) RequestMatch(roomId, participantId string) (types.MatchResult, error) {
	if roomId == "" || participantId == "" {
		return types.MatchResult{}, ErrInvalidInput
	}

	res, err := s.repo.PairOrEnqueue(roomId, participantId)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("pair or enqueue: %w", err)
	}

	if res.Waiting {
		return types.MatchResult{Waiting: true}, nil
	}

	if res.Created {
		s.incr(stats.MatchesCreated)
		s.log.Printf("paired %s with %s in conversation %s", participantId, res.Partner.Id, res.Conversation.Id)
	}

	return types.MatchResult{
		ConversationId: res.Conversation.Id,
		PartnerName:    res.Partner.DisplayName,
	}, nil
}

// Messages returns messages with created_at strictly after since, oldest
// first, plus the conversation's closed flag. A conversation that no longer
// exists reads as closed with no messages rather than as an error, so poll
// loops stay quiet.
func (s *Service) Messages(conversationId, participantId string, since *time.Time, limit int) (types.MessageBatch, error) {
	if conversationId == "" || participantId == "" {
		return types.MessageBatch{}, ErrInvalidInput
	}

	conv, err := s.repo.GetConversation(conversationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MessageBatch{Messages: []types.Message{}, Closed: true}, nil
		}
		return types.MessageBatch{}, fmt.Errorf("find conversation: %w", err)
	}

	member, err := s.repo.IsMember(conv.Id, participantId)
	if err != nil {
		return types.MessageBatch{}, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return types.MessageBatch{}, ErrNotMember
	}

	if limit <= 0 || limit > defaultMessageLimit {
		limit = defaultMessageLimit
	}

	dbMessages, err := s.repo.MessagesSince(conv.Id, since, limit)
	if err != nil {
		return types.MessageBatch{}, fmt.Errorf("fetch messages: %w", err)
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, types.Message{
			Id:             msg.Id,
			ConversationId: msg.ConversationId,
			SenderId:       msg.SenderId,
			SenderName:     msg.SenderName,
			Body:           msg.Body,
			CreatedAt:      msg.CreatedAt,
		})
	}

	return types.MessageBatch{Messages: messages, Closed: !conv.IsOpen}, nil
}

// Send appends one immutable message. Membership is enforced, the body is
// trimmed and truncated, and appends to a closed conversation are rejected.
func (s *Service) Send(conversationId, participantId, rawBody string) (types.Message, error) {
	if conversationId == "" || participantId == "" {
		return types.Message{}, ErrInvalidInput
	}

	body := sanitizeBody(rawBody)
	if body == "" {
		return types.Message{}, ErrEmptyBody
	}

	member, err := s.repo.IsMember(conversationId, participantId)
	if err != nil {
		return types.Message{}, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return types.Message{}, ErrNotMember
	}

	conv, err := s.repo.GetConversation(conversationId)
	if err != nil {
		return types.Message{}, fmt.Errorf("find conversation: %w", err)
	}
	if !conv.IsOpen {
		return types.Message{}, ErrConversationClosed
	}

	dbMsg, err := s.repo.CreateMessage(database.Message{
		ConversationId: conversationId,
		SenderId:       participantId,
		Body:           body,
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("append message: %w", err)
	}

	s.incr(stats.MessagesSent)

	msg := types.Message{
		Id:             dbMsg.Id,
		ConversationId: dbMsg.ConversationId,
		SenderId:       dbMsg.SenderId,
		Body:           dbMsg.Body,
		CreatedAt:      dbMsg.CreatedAt,
	}

	if s.notifier != nil {
		s.notifier.MessageAppended(conversationId, msg)
	}

	return msg, nil
}

// Leave closes the conversation. Closing is idempotent and deliberately
// lenient: an unknown conversation or a missing membership record never
// blocks a participant from leaving.
func (s *Service) Leave(conversationId, participantId string) (types.LeaveResult, error) {
	if conversationId == "" || participantId == "" {
		return types.LeaveResult{}, ErrInvalidInput
	}

	conv, err := s.repo.GetConversation(conversationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.LeaveResult{Ok: true, Already: types.AlreadyMissingConversation}, nil
		}
		return types.LeaveResult{}, fmt.Errorf("find conversation: %w", err)
	}

	// Membership check is advisory only.
	if member, err := s.repo.IsMember(conv.Id, participantId); err == nil && !member {
		s.log.Printf("allowing leave of %s by non-member %s", conv.Id, participantId)
	}

	if !conv.IsOpen {
		return types.LeaveResult{Ok: true, Already: types.AlreadyClosed}, nil
	}

	closed, err := s.repo.CloseConversation(conv.Id, time.Now().UTC())
	if err != nil {
		return types.LeaveResult{}, fmt.Errorf("close conversation: %w", err)
	}
	if !closed {
		// Lost a race with a concurrent close.
		return types.LeaveResult{Ok: true, Already: types.AlreadyClosed}, nil
	}

	s.incr(stats.ConversationsClosed)

	if s.notifier != nil {
		s.notifier.ConversationClosed(conv.Id)
	}

	return types.LeaveResult{Ok: true}, nil
}

func sanitizeBody(s string) string {
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > maxMessageLen {
		s = string(runes[:maxMessageLen])
	}

	return s
}
