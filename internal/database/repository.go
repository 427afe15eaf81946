package database

import "time"

type DuetRepository interface {
	Ping() error
	GetRoomByCode(code string) (Room, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	CloseRoom(id string) error
	ListRooms() ([]Room, error)
	GetParticipantByToken(roomId, clientToken string) (Participant, error)
	CreateParticipant(params CreateParticipantParams) (Participant, error)
	PairOrEnqueue(roomId, participantId string) (PairResult, error)
	GetConversation(id string) (Conversation, error)
	CloseConversation(id string, endedAt time.Time) (bool, error)
	IsMember(conversationId, participantId string) (bool, error)
	CreateMessage(msg Message) (Message, error)
	MessagesSince(conversationId string, since *time.Time, limit int) ([]Message, error)
}
