// ABOUTME: SQLite persistence for the append-only message log of each conversation
// ABOUTME: One transaction writes the message, the conversation summary and the receiver's unread count

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AppendMessage persists msg and its side effects atomically.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message, preview string, expectedVersion int64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return appendMessageTx(ctx, tx, msg, preview, expectedVersion)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"seq", msg.Seq,
		"sender", msg.SenderID)
	return nil
}

func appendMessageTx(ctx context.Context, tx *sql.Tx, msg *Message, preview string, expectedVersion int64) error {
	var version int64
	var count int64
	var lastAt sql.NullString
	var participantA, participantB string

	err := tx.QueryRowContext(ctx, `
		SELECT state_version, message_count, last_message_at, participant_a, participant_b
		FROM conversations WHERE id = ?
	`, msg.ConversationID).Scan(&version, &count, &lastAt, &participantA, &participantB)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}

	if version != expectedVersion {
		return ErrStateConflict
	}

	validPair := (msg.SenderID == participantA && msg.ReceiverID == participantB) ||
		(msg.SenderID == participantB && msg.ReceiverID == participantA)
	if !validPair {
		return ErrNotParticipant
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()
	if lastAt.Valid {
		last, err := parseTime(lastAt.String)
		if err != nil {
			return fmt.Errorf("parsing last_message_at: %w", err)
		}
		// commit order is display order, even if the wall clock stepped back
		if !createdAt.After(last) {
			createdAt = last.Add(time.Microsecond)
		}
	}

	var attachmentsJSON any
	if len(msg.Attachments) > 0 {
		data, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("encoding attachments: %w", err)
		}
		attachmentsJSON = string(data)
	}

	seq := count + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, receiver_id, content, attachments_json, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		msg.ID,
		msg.ConversationID,
		seq,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		attachmentsJSON,
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_message_at = ?, message_count = ?, updated_at = ?
		WHERE id = ?
	`, preview, formatTime(createdAt), seq, formatTime(createdAt), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating conversation summary: %w", err)
	}

	if err := incrementUnread(ctx, tx, msg.ConversationID, msg.ReceiverID); err != nil {
		return err
	}

	msg.Seq = seq
	msg.CreatedAt = createdAt
	msg.IsRead = false
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, seq, sender_id, receiver_id, content, attachments_json, is_read, created_at
		FROM messages WHERE id = ?
	`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// ListMessages retrieves messages for a conversation, limited to the most recent `limit` messages.
// Messages are returned in commit order (oldest first).
// If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		query = `
			SELECT id, conversation_id, seq, sender_id, receiver_id, content, attachments_json, is_read, created_at
			FROM (
				SELECT id, conversation_id, seq, sender_id, receiver_id, content, attachments_json, is_read, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY seq DESC
				LIMIT ?
			)
			ORDER BY seq ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, seq, sender_id, receiver_id, content, attachments_json, is_read, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY seq ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var attachmentsJSON sql.NullString
	var isRead int
	var createdAtStr string

	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &msg.SenderID, &msg.ReceiverID,
		&msg.Content, &attachmentsJSON, &isRead, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message row: %w", err)
	}

	msg.IsRead = isRead != 0
	msg.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}

	if attachmentsJSON.Valid && attachmentsJSON.String != "" {
		if err := json.Unmarshal([]byte(attachmentsJSON.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments: %w", err)
		}
	}

	return &msg, nil
}
