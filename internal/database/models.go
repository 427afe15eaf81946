package database

import "time"

type Room struct {
	Id        string
	Code      string
	IsOpen    bool
	ClosesAt  *time.Time
	CreatedAt time.Time
}

type Participant struct {
	Id          string
	RoomId      string
	ClientToken string
	DisplayName string
	IsBanned    bool
	CreatedAt   time.Time
}

type QueueEntry struct {
	RoomId        string
	ParticipantId string
	EnqueuedAt    time.Time
}

type Conversation struct {
	Id        string
	RoomId    string
	IsOpen    bool
	CreatedAt time.Time
	EndedAt   *time.Time
}

type Membership struct {
	ConversationId string
	ParticipantId  string
}

type Message struct {
	Id             string
	ConversationId string
	SenderId       string
	// SenderName is populated on reads via a join against participants.
	SenderName string
	Body       string
	CreatedAt  time.Time
}

type CreateRoomParams struct {
	Code     string
	ClosesAt *time.Time
}

type CreateParticipantParams struct {
	RoomId      string
	ClientToken string
	DisplayName string
}

// PairResult is the outcome of a single pairing attempt. When Waiting is
// false, Conversation is the caller's open conversation (pre-existing or
// freshly created) and Partner is the opposite member. Created reports
// whether this attempt created the conversation.
type PairResult struct {
	Waiting      bool
	Created      bool
	Conversation Conversation
	Partner      Participant
}
