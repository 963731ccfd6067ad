// ABOUTME: Error taxonomy for conversation operations
// ABOUTME: Sentinels are matched with errors.Is; PermissionError carries a send-block reason

package conversation

import (
	"errors"
	"fmt"

	"github.com/2389/realty-inbox/internal/store"
)

var (
	// ErrValidation is returned for malformed requests such as an empty message.
	ErrValidation = errors.New("validation failed")
	// ErrPermission is returned when the caller may not perform the action.
	ErrPermission = errors.New("permission denied")
	// ErrNotFound is returned when a conversation or message is absent, or
	// the caller is not a participant.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when an action does not apply to the
	// caller's current state, e.g. archiving an archived conversation.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// SendBlockReason explains why a participant cannot send.
type SendBlockReason string

const (
	ReasonNone                  SendBlockReason = ""
	ReasonBlocked               SendBlockReason = "blocked"
	ReasonDeleted               SendBlockReason = "deleted"
	ReasonRecipientNotAccepting SendBlockReason = "recipient_not_accepting"
	ReasonNotBlocker            SendBlockReason = "not_blocker"
)

// PermissionError is a rejected action with a machine-readable reason.
type PermissionError struct {
	Reason SendBlockReason
}

func (e *PermissionError) Error() string {
	switch e.Reason {
	case ReasonBlocked:
		return "permission denied: conversation is blocked"
	case ReasonDeleted:
		return "permission denied: conversation was deleted, restore it first"
	case ReasonRecipientNotAccepting:
		return "permission denied: recipient is not accepting new conversations"
	case ReasonNotBlocker:
		return "permission denied: only the participant who blocked can unblock"
	default:
		return "permission denied"
	}
}

// Is makes errors.Is(err, ErrPermission) match.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermission
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapStoreErr translates store sentinels into this package's taxonomy.
// Non-participants get ErrNotFound so conversation ids don't leak.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotParticipant):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return err
	}
}
