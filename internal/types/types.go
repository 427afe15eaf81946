package types

import (
	"time"
)

type Session struct {
	RoomId        string `json:"room_id"`
	ParticipantId string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

type Room struct {
	Id        string     `json:"id"`
	Code      string     `json:"code"`
	IsOpen    bool       `json:"is_open"`
	ClosesAt  *time.Time `json:"closes_at,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
}

type MatchResult struct {
	ConversationId string `json:"conversation_id,omitempty"`
	PartnerName    string `json:"partner_name,omitempty"`
	Waiting        bool   `json:"waiting"`
}

type Message struct {
	Id             string    `json:"id"`
	ConversationId string    `json:"conversation_id"`
	SenderId       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

type MessageBatch struct {
	Messages []Message `json:"messages"`
	Closed   bool      `json:"closed"`
}

// Markers reported by a leave call that found nothing left to do.
const (
	AlreadyMissingConversation = "missing_conversation"
	AlreadyClosed              = "closed"
)

type LeaveResult struct {
	Ok      bool   `json:"ok"`
	Already string `json:"already,omitempty"`
}
