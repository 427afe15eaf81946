package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	roomColumns = "id, code, is_open, closes_at, created_at"

	insertQueueEntryQuery = "INSERT INTO queue_entries (room_id, participant_id, enqueued_at) " +
		"VALUES ($1, $2, $3) ON CONFLICT (room_id, participant_id) DO NOTHING"

	// openConversationQuery finds the caller's open conversation in a room
	// together with the opposite member.
	openConversationQuery = "SELECT c.id, c.room_id, c.is_open, c.created_at, p.id, p.display_name " +
		"FROM conversations c " +
		"JOIN memberships m ON m.conversation_id = c.id AND m.participant_id = $2 " +
		"JOIN memberships pm ON pm.conversation_id = c.id AND pm.participant_id <> $2 " +
		"JOIN participants p ON p.id = pm.participant_id " +
		"WHERE c.room_id = $1 AND c.is_open LIMIT 1"

	oldestWaiterQuery = "SELECT q.participant_id, p.display_name FROM queue_entries q " +
		"JOIN participants p ON p.id = q.participant_id " +
		"WHERE q.room_id = $1 AND q.participant_id <> $2 " +
		"ORDER BY q.enqueued_at ASC, q.participant_id ASC LIMIT 1"
)

func scanRoom(row *sql.Row) (Room, error) {
	var room Room
	var closesAt sql.NullTime
	err := row.Scan(
		&room.Id,
		&room.Code,
		&room.IsOpen,
		&closesAt,
		&room.CreatedAt,
	)
	if closesAt.Valid {
		t := closesAt.Time
		room.ClosesAt = &t
	}

	return room, err
}

func (db *PgDuetRepository) GetRoomByCode(code string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms WHERE upper(code) = upper($1) LIMIT 1",
		code,
	)

	return scanRoom(row)
}

func (db *PgDuetRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	row := db.conn.QueryRow(
		"INSERT INTO rooms (id, code, is_open, closes_at, created_at) "+
			"VALUES ($1, $2, TRUE, $3, $4) RETURNING "+roomColumns,
		uuid.NewString(),
		params.Code,
		nullTime(params.ClosesAt),
		time.Now().UTC(),
	)

	return scanRoom(row)
}

func (db *PgDuetRepository) CloseRoom(id string) error {
	_, err := db.conn.Exec("UPDATE rooms SET is_open = FALSE WHERE id = $1", id)
	return err
}

func (db *PgDuetRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query("SELECT " + roomColumns + " FROM rooms ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		var closesAt sql.NullTime
		if err := rows.Scan(&room.Id, &room.Code, &room.IsOpen, &closesAt, &room.CreatedAt); err != nil {
			return nil, err
		}
		if closesAt.Valid {
			t := closesAt.Time
			room.ClosesAt = &t
		}

		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgDuetRepository) GetParticipantByToken(roomId, clientToken string) (Participant, error) {
	row := db.conn.QueryRow(
		"SELECT id, room_id, client_token, display_name, is_banned, created_at FROM participants "+
			"WHERE room_id = $1 AND client_token = $2 LIMIT 1",
		roomId,
		clientToken,
	)

	var p Participant
	err := row.Scan(
		&p.Id,
		&p.RoomId,
		&p.ClientToken,
		&p.DisplayName,
		&p.IsBanned,
		&p.CreatedAt,
	)

	return p, err
}

// CreateParticipant inserts the participant for (room, client token). The
// upsert returns the existing row when two first contacts race, so a device
// is never registered twice in one room.
func (db *PgDuetRepository) CreateParticipant(params CreateParticipantParams) (Participant, error) {
	row := db.conn.QueryRow(
		"INSERT INTO participants (id, room_id, client_token, display_name, is_banned, created_at) "+
			"VALUES ($1, $2, $3, $4, FALSE, $5) "+
			"ON CONFLICT (room_id, client_token) DO UPDATE SET client_token = excluded.client_token "+
			"RETURNING id, room_id, client_token, display_name, is_banned, created_at",
		uuid.NewString(),
		params.RoomId,
		params.ClientToken,
		params.DisplayName,
		time.Now().UTC(),
	)

	var p Participant
	err := row.Scan(
		&p.Id,
		&p.RoomId,
		&p.ClientToken,
		&p.DisplayName,
		&p.IsBanned,
		&p.CreatedAt,
	)

	return p, err
}

// PairOrEnqueue runs one matching attempt as a single transaction. All
// pairing for a room is serialized on an advisory lock keyed by the room id,
// which is what makes the claim atomic: no concurrent caller can observe a
// waiter mid-transition or pair with an already consumed entry.
func (db *PgDuetRepository) PairOrEnqueue(roomId, participantId string) (PairResult, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return PairResult{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", roomId); err != nil {
		return PairResult{}, fmt.Errorf("acquire room lock: %w", err)
	}

	// An open conversation always wins over any queue state, which also
	// makes repeated polling idempotent.
	var conv Conversation
	var partner Participant
	err = tx.QueryRow(openConversationQuery, roomId, participantId).Scan(
		&conv.Id,
		&conv.RoomId,
		&conv.IsOpen,
		&conv.CreatedAt,
		&partner.Id,
		&partner.DisplayName,
	)
	if err == nil {
		if err = tx.Commit(); err != nil {
			return PairResult{}, err
		}
		return PairResult{Conversation: conv, Partner: partner}, nil
	}
	if err != sql.ErrNoRows {
		return PairResult{}, err
	}
	err = nil

	if _, err = tx.Exec(insertQueueEntryQuery, roomId, participantId, time.Now().UTC()); err != nil {
		return PairResult{}, err
	}

	err = tx.QueryRow(oldestWaiterQuery, roomId, participantId).Scan(&partner.Id, &partner.DisplayName)
	if err == sql.ErrNoRows {
		err = nil
		if err = tx.Commit(); err != nil {
			return PairResult{}, err
		}
		return PairResult{Waiting: true}, nil
	}
	if err != nil {
		return PairResult{}, err
	}

	conv = Conversation{
		Id:        uuid.NewString(),
		RoomId:    roomId,
		IsOpen:    true,
		CreatedAt: time.Now().UTC(),
	}

	if _, err = tx.Exec(
		"INSERT INTO conversations (id, room_id, is_open, created_at) VALUES ($1, $2, TRUE, $3)",
		conv.Id,
		conv.RoomId,
		conv.CreatedAt,
	); err != nil {
		return PairResult{}, err
	}

	if _, err = tx.Exec(
		"INSERT INTO memberships (conversation_id, participant_id) VALUES ($1, $2), ($1, $3)",
		conv.Id,
		participantId,
		partner.Id,
	); err != nil {
		return PairResult{}, err
	}

	if _, err = tx.Exec(
		"DELETE FROM queue_entries WHERE room_id = $1 AND participant_id IN ($2, $3)",
		roomId,
		participantId,
		partner.Id,
	); err != nil {
		return PairResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return PairResult{}, err
	}

	return PairResult{Created: true, Conversation: conv, Partner: partner}, nil
}

func (db *PgDuetRepository) GetConversation(id string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, room_id, is_open, created_at, ended_at FROM conversations WHERE id = $1 LIMIT 1",
		id,
	)

	var conv Conversation
	var endedAt sql.NullTime
	err := row.Scan(
		&conv.Id,
		&conv.RoomId,
		&conv.IsOpen,
		&conv.CreatedAt,
		&endedAt,
	)
	if endedAt.Valid {
		t := endedAt.Time
		conv.EndedAt = &t
	}

	return conv, err
}

// CloseConversation flips the conversation to its terminal state. The
// is_open guard means only one of two racing closers reports the
// transition; the other sees "already closed".
func (db *PgDuetRepository) CloseConversation(id string, endedAt time.Time) (bool, error) {
	res, err := db.conn.Exec(
		"UPDATE conversations SET is_open = FALSE, ended_at = $2 WHERE id = $1 AND is_open",
		id,
		endedAt,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgDuetRepository) IsMember(conversationId, participantId string) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT 1 FROM memberships WHERE conversation_id = $1 AND participant_id = $2 LIMIT 1",
		conversationId,
		participantId,
	)

	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}

	return err == nil, err
}

func (db *PgDuetRepository) CreateMessage(msg Message) (Message, error) {
	msg.Id = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	_, err := db.conn.Exec(
		"INSERT INTO messages (id, conversation_id, sender_id, body, created_at) "+
			"VALUES ($1, $2, $3, $4, $5)",
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.Body,
		msg.CreatedAt,
	)

	return msg, err
}

func (db *PgDuetRepository) MessagesSince(conversationId string, since *time.Time, limit int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.conversation_id, m.sender_id, p.display_name, m.body, m.created_at "+
			"FROM messages m JOIN participants p ON p.id = m.sender_id "+
			"WHERE m.conversation_id = $1 AND ($2::timestamptz IS NULL OR m.created_at > $2) "+
			"ORDER BY m.created_at ASC, m.id ASC LIMIT $3",
		conversationId,
		nullTime(since),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
