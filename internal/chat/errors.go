package chat

import "errors"

var (
	// ErrInvalidInput covers missing or malformed identifiers and is always
	// client-correctable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyBody is returned when a message body is empty after sanitation.
	ErrEmptyBody = errors.New("message body is empty")

	ErrRoomNotFound = errors.New("room not found")
	ErrRoomClosed   = errors.New("room is closed")
	ErrRoomExpired  = errors.New("room has expired")
	ErrBanned       = errors.New("access denied")

	// ErrNotMember is an authorization failure, distinct from validation so
	// callers can redirect to re-join instead of showing a form error.
	ErrNotMember = errors.New("not a member of this conversation")
	// ErrConversationClosed rejects appends after the conversation reached
	// its terminal state.
	ErrConversationClosed = errors.New("conversation is closed")
)
