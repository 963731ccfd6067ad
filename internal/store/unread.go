// ABOUTME: Unread counter bookkeeping shared by the send and mark-read paths
// ABOUTME: Counters only move inside the same transaction as the messages they count

package store

import (
	"context"
	"database/sql"
	"fmt"
)

func incrementUnread(ctx context.Context, q queryer, conversationID, userID string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE conversation_members SET unread_count = unread_count + 1
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("incrementing unread count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotParticipant
	}
	return nil
}

// MarkRead flips is_read on every unread message addressed to userID and
// zeroes their counter.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	var flipped int64

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := conversationExists(ctx, tx, conversationID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET is_read = 1
			WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0
		`, conversationID, userID)
		if err != nil {
			return fmt.Errorf("marking messages read: %w", err)
		}
		flipped, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `
			UPDATE conversation_members SET unread_count = 0
			WHERE conversation_id = ? AND user_id = ?
		`, conversationID, userID)
		if err != nil {
			return fmt.Errorf("resetting unread count: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotParticipant
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if flipped > 0 {
		s.logger.Debug("marked messages read",
			"conversation_id", conversationID,
			"user_id", userID,
			"count", flipped)
	}
	return flipped, nil
}
