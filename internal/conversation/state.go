// ABOUTME: Per-participant conversation state machine and send eligibility gate
// ABOUTME: State is derived from the archived/deleted/blocked membership sets, never stored as an enum

package conversation

import (
	"fmt"

	"github.com/2389/realty-inbox/internal/store"
)

// State is one participant's view of a conversation. Exactly one applies.
type State string

const (
	StateActive   State = "active"
	StateArchived State = "archived"
	StateDeleted  State = "deleted"
	StateBlocked  State = "blocked"
)

// Action is a user-scoped state change.
type Action string

const (
	ActionArchive   Action = "archive"
	ActionUnarchive Action = "unarchive"
	ActionDelete    Action = "delete"
	ActionRestore   Action = "restore"
	ActionBlock     Action = "block"
	ActionUnblock   Action = "unblock"
)

// Actions lists every action in a stable order.
var Actions = []Action{ActionArchive, ActionUnarchive, ActionDelete, ActionRestore, ActionBlock, ActionUnblock}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", validationError("unknown action %q", s)
}

// StateOf derives userID's state. A block by either side wins, then the
// user's own delete, then archive.
func StateOf(conv *store.Conversation, userID string) State {
	switch {
	case len(conv.BlockedBy) > 0:
		return StateBlocked
	case conv.IsDeletedBy(userID):
		return StateDeleted
	case conv.IsArchivedBy(userID):
		return StateArchived
	default:
		return StateActive
	}
}

// Transition returns userID's flags after applying action, or an error if
// the action is not valid from the current state.
func Transition(conv *store.Conversation, userID string, action Action) (store.MemberFlags, error) {
	cur := conv.Flags(userID)
	state := StateOf(conv, userID)

	switch action {
	case ActionArchive:
		if state != StateActive {
			return cur, invalid(action, state)
		}
		return store.MemberFlags{Archived: true}, nil

	case ActionUnarchive:
		if state != StateArchived {
			return cur, invalid(action, state)
		}
		return store.MemberFlags{}, nil

	case ActionDelete:
		if state != StateActive && state != StateArchived {
			return cur, invalid(action, state)
		}
		return store.MemberFlags{Deleted: true}, nil

	case ActionRestore:
		if state != StateDeleted {
			return cur, invalid(action, state)
		}
		return store.MemberFlags{}, nil

	case ActionBlock:
		if cur.Blocked {
			return cur, invalid(action, state)
		}
		return store.MemberFlags{Blocked: true}, nil

	case ActionUnblock:
		if !cur.Blocked {
			if state == StateBlocked {
				return cur, &PermissionError{Reason: ReasonNotBlocker}
			}
			return cur, invalid(action, state)
		}
		return store.MemberFlags{}, nil
	}

	return cur, validationError("unknown action %q", action)
}

func invalid(action Action, state State) error {
	return fmt.Errorf("%w: cannot %s a conversation that is %s", ErrInvalidTransition, action, state)
}

// CheckSend is the gate run before any message write. recipientAllows is
// the receiver's allow_messages preference and only matters for first
// contact.
func CheckSend(conv *store.Conversation, senderID string, recipientAllows bool) SendBlockReason {
	switch {
	case len(conv.BlockedBy) > 0:
		return ReasonBlocked
	case conv.IsDeletedBy(senderID):
		return ReasonDeleted
	case conv.MessageCount == 0 && !recipientAllows:
		return ReasonRecipientNotAccepting
	default:
		return ReasonNone
	}
}

// Filter selects conversations for a listing.
type Filter string

const (
	FilterDefault  Filter = "default"
	FilterArchived Filter = "archived"
	FilterDeleted  Filter = "deleted"
	FilterBlocked  Filter = "blocked"
)

// ParseFilter accepts "" as the default listing.
func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case "", FilterDefault:
		return FilterDefault, nil
	case FilterArchived, FilterDeleted, FilterBlocked:
		return Filter(s), nil
	}
	return "", validationError("unknown filter %q", s)
}

// State returns the state a filter shows.
func (f Filter) State() State {
	switch f {
	case FilterArchived:
		return StateArchived
	case FilterDeleted:
		return StateDeleted
	case FilterBlocked:
		return StateBlocked
	default:
		return StateActive
	}
}
