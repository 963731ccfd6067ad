// ABOUTME: SQLite persistence for conversations and their per-user membership sets
// ABOUTME: Creation is unique per participant pair; flag changes are compare-and-set on state_version

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const conversationColumns = `
	c.id, c.participant_a, c.participant_b, c.started_by, c.last_message,
	c.last_message_at, c.message_count, c.state_version, c.created_at, c.updated_at`

// CreateConversation inserts the conversation, both member rows and the
// optional first message in one transaction.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation, first *Message, preview string) error {
	if conv.ParticipantA == conv.ParticipantB {
		return fmt.Errorf("conversation needs two distinct participants")
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, participant_a, participant_b, pair_key, started_by,
				last_message, last_message_at, message_count, state_version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, '', NULL, 0, 0, ?, ?)
		`,
			conv.ID,
			conv.ParticipantA,
			conv.ParticipantB,
			PairKey(conv.ParticipantA, conv.ParticipantB),
			conv.StartedBy,
			formatTime(conv.CreatedAt),
			formatTime(conv.UpdatedAt),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicateConversation
			}
			return fmt.Errorf("inserting conversation: %w", err)
		}

		for _, userID := range conv.Participants() {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conversation_members (conversation_id, user_id) VALUES (?, ?)
			`, conv.ID, userID); err != nil {
				return fmt.Errorf("inserting member %s: %w", userID, err)
			}
		}

		if first != nil {
			return appendMessageTx(ctx, tx, first, preview, 0)
		}
		return nil
	})
	if err != nil {
		return err
	}

	conv.UnreadCount = map[string]int{conv.ParticipantA: 0, conv.ParticipantB: 0}
	if first != nil {
		conv.LastMessage = preview
		at := first.CreatedAt
		conv.LastMessageAt = &at
		conv.MessageCount = 1
		conv.UnreadCount[first.ReceiverID] = 1
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"started_by", conv.StartedBy,
		"with_message", first != nil)
	return nil
}

// GetConversation retrieves a conversation with its membership sets.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return getConversation(ctx, s.db, `WHERE c.id = ?`, id)
}

// GetConversationByParticipants finds the conversation for a pair in either order.
func (s *SQLiteStore) GetConversationByParticipants(ctx context.Context, userA, userB string) (*Conversation, error) {
	return getConversation(ctx, s.db, `WHERE c.pair_key = ?`, PairKey(userA, userB))
}

func getConversation(ctx context.Context, q queryer, where string, arg any) (*Conversation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations c `+where, arg)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	byID := map[string]*Conversation{conv.ID: conv}
	if err := loadMembers(ctx, q, `WHERE conversation_id = ?`, conv.ID, byID); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns every conversation userID participates in,
// ordered by latest activity (last message, else creation) descending.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id
		WHERE m.user_id = ?
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.created_at DESC, c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	byID := make(map[string]*Conversation)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
		byID[conv.ID] = conv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	if len(convs) == 0 {
		return convs, nil
	}

	err = loadMembers(ctx, s.db, `
		WHERE conversation_id IN (SELECT conversation_id FROM conversation_members WHERE user_id = ?)
	`, userID, byID)
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// SetMemberFlags bumps state_version if it still equals expectedVersion and
// writes userID's flags, both in one transaction.
func (s *SQLiteStore) SetMemberFlags(ctx context.Context, conversationID, userID string, flags MemberFlags, expectedVersion int64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE conversations SET state_version = state_version + 1, updated_at = ?
			WHERE id = ? AND state_version = ?
		`, formatTime(time.Now()), conversationID, expectedVersion)
		if err != nil {
			return fmt.Errorf("bumping state version: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := conversationExists(ctx, tx, conversationID); err != nil {
				return err
			}
			return ErrStateConflict
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE conversation_members SET archived = ?, deleted = ?, blocked = ?
			WHERE conversation_id = ? AND user_id = ?
		`, boolInt(flags.Archived), boolInt(flags.Deleted), boolInt(flags.Blocked), conversationID, userID)
		if err != nil {
			return fmt.Errorf("updating member flags: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotParticipant
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("updated member flags",
		"conversation_id", conversationID,
		"user_id", userID,
		"archived", flags.Archived,
		"deleted", flags.Deleted,
		"blocked", flags.Blocked)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var lastMessageAt sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&conv.StartedBy,
		&conv.LastMessage,
		&lastMessageAt,
		&conv.MessageCount,
		&conv.Version,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	if lastMessageAt.Valid {
		t, err := parseTime(lastMessageAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		conv.LastMessageAt = &t
	}
	if conv.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	conv.UnreadCount = make(map[string]int, 2)
	return &conv, nil
}

// loadMembers fills the membership sets of the conversations in byID.
func loadMembers(ctx context.Context, q queryer, where string, arg any, byID map[string]*Conversation) error {
	rows, err := q.QueryContext(ctx, `
		SELECT conversation_id, user_id, archived, deleted, blocked, unread_count
		FROM conversation_members `+strings.TrimSpace(where)+`
		ORDER BY conversation_id, user_id
	`, arg)
	if err != nil {
		return fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID, userID string
		var archived, deleted, blocked, unread int
		if err := rows.Scan(&convID, &userID, &archived, &deleted, &blocked, &unread); err != nil {
			return fmt.Errorf("scanning member: %w", err)
		}
		conv, ok := byID[convID]
		if !ok {
			continue
		}
		if archived != 0 {
			conv.ArchivedBy = append(conv.ArchivedBy, userID)
		}
		if deleted != 0 {
			conv.DeletedBy = append(conv.DeletedBy, userID)
		}
		if blocked != 0 {
			conv.BlockedBy = append(conv.BlockedBy, userID)
		}
		conv.UnreadCount[userID] = unread
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating member rows: %w", err)
	}
	return nil
}

// conversationExists returns ErrNotFound if id has no row.
func conversationExists(ctx context.Context, q queryer, id string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	return nil
}
