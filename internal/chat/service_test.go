package chat

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/duetchat/duet/internal/database"
	"github.com/duetchat/duet/internal/testutil"
	"github.com/duetchat/duet/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const (
	testRoomId   = "6f1b2c3d-0000-4000-8000-000000000001"
	testAliceId  = "6f1b2c3d-0000-4000-8000-00000000000a"
	testBobId    = "6f1b2c3d-0000-4000-8000-00000000000b"
	testCarolId  = "6f1b2c3d-0000-4000-8000-00000000000c"
	testConvId   = "6f1b2c3d-0000-4000-8000-0000000000cc"
	testRoomCode = "EoGKUXPHgz"
)

func newTestService(t *testing.T) (*Service, *database.MockDuetRepository) {
	mockRepo := &database.MockDuetRepository{}
	t.Cleanup(func() { mockRepo.AssertExpectations(t) })

	return NewService(mockRepo, testutil.TestLogger(t), nil), mockRepo
}

func TestJoin(t *testing.T) {
	openRoom := database.Room{
		Id:        testRoomId,
		Code:      strings.ToUpper(testRoomCode),
		IsOpen:    true,
		CreatedAt: time.Now().UTC(),
	}
	pastClose := time.Now().Add(-time.Hour)
	expiredRoom := database.Room{
		Id:       testRoomId,
		Code:     strings.ToUpper(testRoomCode),
		IsOpen:   true,
		ClosesAt: &pastClose,
	}

	tcases := []struct {
		name        string
		roomCode    string
		clientToken string
		setup       func(m *database.MockDuetRepository)
		expectedErr error
	}{
		{
			name:        "empty room code",
			roomCode:    "   ",
			clientToken: "device-1",
			expectedErr: ErrInvalidInput,
		},
		{
			name:        "empty client token",
			roomCode:    testRoomCode,
			clientToken: "",
			expectedErr: ErrInvalidInput,
		},
		{
			name:        "unknown room",
			roomCode:    testRoomCode,
			clientToken: "device-1",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetRoomByCode", strings.ToUpper(testRoomCode)).Return(database.Room{}, sql.ErrNoRows).Once()
			},
			expectedErr: ErrRoomNotFound,
		},
		{
			name:        "closed room",
			roomCode:    testRoomCode,
			clientToken: "device-1",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetRoomByCode", strings.ToUpper(testRoomCode)).Return(database.Room{Id: testRoomId, IsOpen: false}, nil).Once()
			},
			expectedErr: ErrRoomClosed,
		},
		{
			name:        "expired room",
			roomCode:    testRoomCode,
			clientToken: "device-1",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetRoomByCode", strings.ToUpper(testRoomCode)).Return(expiredRoom, nil).Once()
			},
			expectedErr: ErrRoomExpired,
		},
		{
			name:        "banned participant",
			roomCode:    testRoomCode,
			clientToken: "device-1",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetRoomByCode", strings.ToUpper(testRoomCode)).Return(openRoom, nil).Once()
				m.On("GetParticipantByToken", testRoomId, "device-1").
					Return(database.Participant{Id: testAliceId, IsBanned: true}, nil).Once()
			},
			expectedErr: ErrBanned,
		},
		{
			name:        "existing participant is reused",
			roomCode:    "  " + strings.ToLower(testRoomCode) + " ",
			clientToken: "device-1",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetRoomByCode", strings.ToUpper(testRoomCode)).Return(openRoom, nil).Once()
				m.On("GetParticipantByToken", testRoomId, "device-1").
					Return(database.Participant{Id: testAliceId, DisplayName: "Corallo42"}, nil).Once()
			},
		},
		{
			name:        "new participant is created on first contact",
			roomCode:    testRoomCode,
			clientToken: "device-2",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetRoomByCode", strings.ToUpper(testRoomCode)).Return(openRoom, nil).Once()
				m.On("GetParticipantByToken", testRoomId, "device-2").
					Return(database.Participant{}, sql.ErrNoRows).Once()
				m.On("CreateParticipant", mock.MatchedBy(func(p database.CreateParticipantParams) bool {
					return p.RoomId == testRoomId && p.ClientToken == "device-2" && p.DisplayName != ""
				})).Return(database.Participant{Id: testBobId, DisplayName: "Nebbia17"}, nil).Once()
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mockRepo := newTestService(t)
			if tc.setup != nil {
				tc.setup(mockRepo)
			}

			sess, err := svc.Join(tc.roomCode, tc.clientToken)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr, "expected error to match")
				return
			}

			assert.NoError(t, err, "expected no error")
			assert.Equal(t, testRoomId, sess.RoomId, "expected room id to be set")
			assert.NotEmpty(t, sess.ParticipantId, "expected participant id to be set")
			assert.NotEmpty(t, sess.DisplayName, "expected display name to be set")
		})
	}
}

func TestRequestMatch(t *testing.T) {
	conv := database.Conversation{Id: testConvId, RoomId: testRoomId, IsOpen: true}

	tcases := []struct {
		name       string
		pairResult database.PairResult
		pairErr    error
		expected   types.MatchResult
		wantErr    bool
	}{
		{
			name:       "no partner available",
			pairResult: database.PairResult{Waiting: true},
			expected:   types.MatchResult{Waiting: true},
		},
		{
			name: "fresh pairing",
			pairResult: database.PairResult{
				Created:      true,
				Conversation: conv,
				Partner:      database.Participant{Id: testBobId, DisplayName: "Falco88"},
			},
			expected: types.MatchResult{ConversationId: testConvId, PartnerName: "Falco88"},
		},
		{
			name: "existing open conversation wins over queue state",
			pairResult: database.PairResult{
				Conversation: conv,
				Partner:      database.Participant{Id: testBobId, DisplayName: "Falco88"},
			},
			expected: types.MatchResult{ConversationId: testConvId, PartnerName: "Falco88"},
		},
		{
			name:    "storage error propagates",
			pairErr: errors.New("connection reset"),
			wantErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mockRepo := newTestService(t)
			mockRepo.On("PairOrEnqueue", testRoomId, testAliceId).Return(tc.pairResult, tc.pairErr).Once()

			res, err := svc.RequestMatch(testRoomId, testAliceId)
			if tc.wantErr {
				assert.Error(t, err, "expected an error")
				return
			}

			assert.NoError(t, err, "expected no error")
			assert.Equal(t, tc.expected, res, "expected match result to match")
		})
	}
}

func TestRequestMatch_invalidInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RequestMatch("", testAliceId)
	assert.ErrorIs(t, err, ErrInvalidInput, "expected invalid input for empty room id")

	_, err = svc.RequestMatch(testRoomId, "")
	assert.ErrorIs(t, err, ErrInvalidInput, "expected invalid input for empty participant id")
}

// Mirrors the two-pollers scenario: A polls and waits, B polls and pairs,
// A's next poll returns the same conversation.
func TestRequestMatch_pairingScenario(t *testing.T) {
	svc, mockRepo := newTestService(t)

	conv := database.Conversation{Id: testConvId, RoomId: testRoomId, IsOpen: true}

	mockRepo.On("PairOrEnqueue", testRoomId, testAliceId).
		Return(database.PairResult{Waiting: true}, nil).Once()
	mockRepo.On("PairOrEnqueue", testRoomId, testBobId).
		Return(database.PairResult{
			Created:      true,
			Conversation: conv,
			Partner:      database.Participant{Id: testAliceId, DisplayName: "Corallo42"},
		}, nil).Once()
	mockRepo.On("PairOrEnqueue", testRoomId, testAliceId).
		Return(database.PairResult{
			Conversation: conv,
			Partner:      database.Participant{Id: testBobId, DisplayName: "Falco88"},
		}, nil).Once()

	first, err := svc.RequestMatch(testRoomId, testAliceId)
	assert.NoError(t, err)
	assert.True(t, first.Waiting, "expected A to wait while alone in the queue")

	second, err := svc.RequestMatch(testRoomId, testBobId)
	assert.NoError(t, err)
	assert.False(t, second.Waiting, "expected B to be paired")
	assert.Equal(t, testConvId, second.ConversationId)

	third, err := svc.RequestMatch(testRoomId, testAliceId)
	assert.NoError(t, err)
	assert.False(t, third.Waiting, "expected A to see the existing conversation")
	assert.Equal(t, second.ConversationId, third.ConversationId, "expected both sides to share one conversation")
}

func TestMessages(t *testing.T) {
	now := time.Now().UTC()
	since := now.Add(-time.Minute)

	tcases := []struct {
		name        string
		since       *time.Time
		setup       func(m *database.MockDuetRepository)
		expected    types.MessageBatch
		expectedErr error
	}{
		{
			name: "missing conversation reads as closed, not an error",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetConversation", testConvId).Return(database.Conversation{}, sql.ErrNoRows).Once()
			},
			expected: types.MessageBatch{Messages: []types.Message{}, Closed: true},
		},
		{
			name: "non-member gets an authorization error, not empty data",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetConversation", testConvId).
					Return(database.Conversation{Id: testConvId, IsOpen: true}, nil).Once()
				m.On("IsMember", testConvId, testAliceId).Return(false, nil).Once()
			},
			expectedErr: ErrNotMember,
		},
		{
			name:  "messages since cursor",
			since: &since,
			setup: func(m *database.MockDuetRepository) {
				m.On("GetConversation", testConvId).
					Return(database.Conversation{Id: testConvId, IsOpen: true}, nil).Once()
				m.On("IsMember", testConvId, testAliceId).Return(true, nil).Once()
				m.On("MessagesSince", testConvId, &since, defaultMessageLimit).
					Return([]database.Message{
						{Id: "m1", ConversationId: testConvId, SenderId: testBobId, SenderName: "Falco88", Body: "hello", CreatedAt: now},
					}, nil).Once()
			},
			expected: types.MessageBatch{
				Messages: []types.Message{
					{Id: "m1", ConversationId: testConvId, SenderId: testBobId, SenderName: "Falco88", Body: "hello", CreatedAt: now},
				},
				Closed: false,
			},
		},
		{
			name: "closed flag is reported on a closed conversation",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetConversation", testConvId).
					Return(database.Conversation{Id: testConvId, IsOpen: false}, nil).Once()
				m.On("IsMember", testConvId, testAliceId).Return(true, nil).Once()
				m.On("MessagesSince", testConvId, (*time.Time)(nil), defaultMessageLimit).
					Return([]database.Message{}, nil).Once()
			},
			expected: types.MessageBatch{Messages: []types.Message{}, Closed: true},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mockRepo := newTestService(t)
			if tc.setup != nil {
				tc.setup(mockRepo)
			}

			batch, err := svc.Messages(testConvId, testAliceId, tc.since, 0)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr, "expected error to match")
				return
			}

			assert.NoError(t, err, "expected no error")
			assert.Equal(t, tc.expected, batch, "expected batch to match")
		})
	}
}

func TestSend(t *testing.T) {
	openConv := database.Conversation{Id: testConvId, RoomId: testRoomId, IsOpen: true}

	tcases := []struct {
		name        string
		body        string
		setup       func(m *database.MockDuetRepository)
		expectedErr error
		wantBody    string
	}{
		{
			name:        "whitespace-only body rejected",
			body:        " \t\n ",
			expectedErr: ErrEmptyBody,
		},
		{
			name: "non-member rejected",
			body: "hello",
			setup: func(m *database.MockDuetRepository) {
				m.On("IsMember", testConvId, testCarolId).Return(false, nil).Once()
			},
			expectedErr: ErrNotMember,
		},
		{
			name: "closed conversation rejected",
			body: "hello",
			setup: func(m *database.MockDuetRepository) {
				m.On("IsMember", testConvId, testCarolId).Return(true, nil).Once()
				m.On("GetConversation", testConvId).
					Return(database.Conversation{Id: testConvId, IsOpen: false}, nil).Once()
			},
			expectedErr: ErrConversationClosed,
		},
		{
			name: "body is trimmed",
			body: "  hello  ",
			setup: func(m *database.MockDuetRepository) {
				m.On("IsMember", testConvId, testCarolId).Return(true, nil).Once()
				m.On("GetConversation", testConvId).Return(openConv, nil).Once()
				m.On("CreateMessage", mock.MatchedBy(func(msg database.Message) bool {
					return msg.Body == "hello"
				})).Return(database.Message{Id: "m1", ConversationId: testConvId, SenderId: testCarolId, Body: "hello", CreatedAt: time.Now().UTC()}, nil).Once()
			},
			wantBody: "hello",
		},
		{
			name: "long body keeps the first 400 runes",
			body: strings.Repeat("è", 500),
			setup: func(m *database.MockDuetRepository) {
				m.On("IsMember", testConvId, testCarolId).Return(true, nil).Once()
				m.On("GetConversation", testConvId).Return(openConv, nil).Once()
				m.On("CreateMessage", mock.MatchedBy(func(msg database.Message) bool {
					return msg.Body == strings.Repeat("è", 400)
				})).Return(database.Message{Id: "m2", ConversationId: testConvId, SenderId: testCarolId, Body: strings.Repeat("è", 400), CreatedAt: time.Now().UTC()}, nil).Once()
			},
			wantBody: strings.Repeat("è", 400),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mockRepo := newTestService(t)
			if tc.setup != nil {
				tc.setup(mockRepo)
			}

			msg, err := svc.Send(testConvId, testCarolId, tc.body)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr, "expected error to match")
				return
			}

			assert.NoError(t, err, "expected no error")
			assert.Equal(t, tc.wantBody, msg.Body, "expected sanitized body")
		})
	}
}

func TestLeave(t *testing.T) {
	now := time.Now().UTC()

	tcases := []struct {
		name     string
		setup    func(m *database.MockDuetRepository)
		expected types.LeaveResult
	}{
		{
			name: "unknown conversation succeeds silently",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetConversation", testConvId).Return(database.Conversation{}, sql.ErrNoRows).Once()
			},
			expected: types.LeaveResult{Ok: true, Already: types.AlreadyMissingConversation},
		},
		{
			name: "already closed is a no-op",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetConversation", testConvId).
					Return(database.Conversation{Id: testConvId, IsOpen: false, EndedAt: &now}, nil).Once()
				m.On("IsMember", testConvId, testAliceId).Return(true, nil).Once()
			},
			expected: types.LeaveResult{Ok: true, Already: types.AlreadyClosed},
		},
		{
			name: "open conversation is closed",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetConversation", testConvId).
					Return(database.Conversation{Id: testConvId, IsOpen: true}, nil).Once()
				m.On("IsMember", testConvId, testAliceId).Return(true, nil).Once()
				m.On("CloseConversation", testConvId, mock.AnythingOfType("time.Time")).Return(true, nil).Once()
			},
			expected: types.LeaveResult{Ok: true},
		},
		{
			name: "missing membership does not block the close",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetConversation", testConvId).
					Return(database.Conversation{Id: testConvId, IsOpen: true}, nil).Once()
				m.On("IsMember", testConvId, testAliceId).Return(false, nil).Once()
				m.On("CloseConversation", testConvId, mock.AnythingOfType("time.Time")).Return(true, nil).Once()
			},
			expected: types.LeaveResult{Ok: true},
		},
		{
			name: "lost close race reports already closed",
			setup: func(m *database.MockDuetRepository) {
				m.On("GetConversation", testConvId).
					Return(database.Conversation{Id: testConvId, IsOpen: true}, nil).Once()
				m.On("IsMember", testConvId, testAliceId).Return(true, nil).Once()
				m.On("CloseConversation", testConvId, mock.AnythingOfType("time.Time")).Return(false, nil).Once()
			},
			expected: types.LeaveResult{Ok: true, Already: types.AlreadyClosed},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mockRepo := newTestService(t)
			tc.setup(mockRepo)

			res, err := svc.Leave(testConvId, testAliceId)
			assert.NoError(t, err, "expected no error")
			assert.Equal(t, tc.expected, res, "expected leave result to match")
		})
	}
}

// Leaving and then sending exercises the full close semantics: the sender
// is rejected and the other member's next poll reports closed.
func TestLeaveThenSendScenario(t *testing.T) {
	svc, mockRepo := newTestService(t)

	mockRepo.On("GetConversation", testConvId).
		Return(database.Conversation{Id: testConvId, IsOpen: true}, nil).Once()
	mockRepo.On("IsMember", testConvId, testAliceId).Return(true, nil).Once()
	mockRepo.On("CloseConversation", testConvId, mock.AnythingOfType("time.Time")).Return(true, nil).Once()

	res, err := svc.Leave(testConvId, testAliceId)
	assert.NoError(t, err)
	assert.Equal(t, types.LeaveResult{Ok: true}, res)

	mockRepo.On("IsMember", testConvId, testBobId).Return(true, nil).Once()
	mockRepo.On("GetConversation", testConvId).
		Return(database.Conversation{Id: testConvId, IsOpen: false}, nil).Once()

	_, err = svc.Send(testConvId, testBobId, "are you there?")
	assert.ErrorIs(t, err, ErrConversationClosed, "expected append after close to be rejected")

	mockRepo.On("GetConversation", testConvId).
		Return(database.Conversation{Id: testConvId, IsOpen: false}, nil).Once()
	mockRepo.On("IsMember", testConvId, testBobId).Return(true, nil).Once()
	mockRepo.On("MessagesSince", testConvId, (*time.Time)(nil), defaultMessageLimit).
		Return([]database.Message{}, nil).Once()

	batch, err := svc.Messages(testConvId, testBobId, nil, 0)
	assert.NoError(t, err)
	assert.True(t, batch.Closed, "expected the other member's poll to report closed")
}

func TestSanitizeBody(t *testing.T) {
	assert.Equal(t, "hello", sanitizeBody("  hello \n"))
	assert.Equal(t, "", sanitizeBody("   \t "))
	assert.Len(t, []rune(sanitizeBody(strings.Repeat("x", 1000))), 400)
}
