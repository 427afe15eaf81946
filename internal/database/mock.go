package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockDuetRepository struct {
	mock.Mock
}

func (m *MockDuetRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockDuetRepository) GetRoomByCode(code string) (Room, error) {
	args := m.Called(code)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockDuetRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockDuetRepository) CloseRoom(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockDuetRepository) ListRooms() ([]Room, error) {
	args := m.Called()
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockDuetRepository) GetParticipantByToken(roomId, clientToken string) (Participant, error) {
	args := m.Called(roomId, clientToken)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockDuetRepository) CreateParticipant(params CreateParticipantParams) (Participant, error) {
	args := m.Called(params)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockDuetRepository) PairOrEnqueue(roomId, participantId string) (PairResult, error) {
	args := m.Called(roomId, participantId)
	return args.Get(0).(PairResult), args.Error(1)
}
func (m *MockDuetRepository) GetConversation(id string) (Conversation, error) {
	args := m.Called(id)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockDuetRepository) CloseConversation(id string, endedAt time.Time) (bool, error) {
	args := m.Called(id, endedAt)
	return args.Bool(0), args.Error(1)
}
func (m *MockDuetRepository) IsMember(conversationId, participantId string) (bool, error) {
	args := m.Called(conversationId, participantId)
	return args.Bool(0), args.Error(1)
}
func (m *MockDuetRepository) CreateMessage(msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockDuetRepository) MessagesSince(conversationId string, since *time.Time, limit int) ([]Message, error) {
	args := m.Called(conversationId, since, limit)
	return args.Get(0).([]Message), args.Error(1)
}
