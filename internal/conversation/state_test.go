package conversation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/realty-inbox/internal/store"
)

func convWith(mutate func(c *store.Conversation)) *store.Conversation {
	c := &store.Conversation{
		ID:           "conv-1",
		ParticipantA: "alice",
		ParticipantB: "bob",
		MessageCount: 1,
	}
	if mutate != nil {
		mutate(c)
	}
	return c
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		name  string
		conv  *store.Conversation
		user  string
		state State
	}{
		{"fresh", convWith(nil), "alice", StateActive},
		{"archived by me", convWith(func(c *store.Conversation) { c.ArchivedBy = []string{"alice"} }), "alice", StateArchived},
		{"archived by other", convWith(func(c *store.Conversation) { c.ArchivedBy = []string{"bob"} }), "alice", StateActive},
		{"deleted by me", convWith(func(c *store.Conversation) { c.DeletedBy = []string{"alice"} }), "alice", StateDeleted},
		{"deleted by other", convWith(func(c *store.Conversation) { c.DeletedBy = []string{"bob"} }), "alice", StateActive},
		{"blocked by me", convWith(func(c *store.Conversation) { c.BlockedBy = []string{"alice"} }), "alice", StateBlocked},
		{"blocked by other", convWith(func(c *store.Conversation) { c.BlockedBy = []string{"bob"} }), "alice", StateBlocked},
		{"block wins over my archive", convWith(func(c *store.Conversation) {
			c.ArchivedBy = []string{"alice"}
			c.BlockedBy = []string{"bob"}
		}), "alice", StateBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.state, StateOf(tt.conv, tt.user))
		})
	}
}

func TestTransition(t *testing.T) {
	archived := func(c *store.Conversation) { c.ArchivedBy = []string{"alice"} }
	deleted := func(c *store.Conversation) { c.DeletedBy = []string{"alice"} }
	blockedByMe := func(c *store.Conversation) { c.BlockedBy = []string{"alice"} }
	blockedByOther := func(c *store.Conversation) { c.BlockedBy = []string{"bob"} }

	tests := []struct {
		name    string
		mutate  func(c *store.Conversation)
		action  Action
		want    store.MemberFlags
		wantErr error
	}{
		{"archive active", nil, ActionArchive, store.MemberFlags{Archived: true}, nil},
		{"archive archived", archived, ActionArchive, store.MemberFlags{}, ErrInvalidTransition},
		{"archive deleted", deleted, ActionArchive, store.MemberFlags{}, ErrInvalidTransition},
		{"unarchive archived", archived, ActionUnarchive, store.MemberFlags{}, nil},
		{"unarchive active", nil, ActionUnarchive, store.MemberFlags{}, ErrInvalidTransition},
		{"delete active", nil, ActionDelete, store.MemberFlags{Deleted: true}, nil},
		{"delete archived clears archive", archived, ActionDelete, store.MemberFlags{Deleted: true}, nil},
		{"delete deleted", deleted, ActionDelete, store.MemberFlags{}, ErrInvalidTransition},
		{"delete blocked", blockedByOther, ActionDelete, store.MemberFlags{}, ErrInvalidTransition},
		{"restore deleted", deleted, ActionRestore, store.MemberFlags{}, nil},
		{"restore active", nil, ActionRestore, store.MemberFlags{}, ErrInvalidTransition},
		{"block active", nil, ActionBlock, store.MemberFlags{Blocked: true}, nil},
		{"block archived", archived, ActionBlock, store.MemberFlags{Blocked: true}, nil},
		{"block deleted", deleted, ActionBlock, store.MemberFlags{Blocked: true}, nil},
		{"block when other blocked", blockedByOther, ActionBlock, store.MemberFlags{Blocked: true}, nil},
		{"block twice", blockedByMe, ActionBlock, store.MemberFlags{}, ErrInvalidTransition},
		{"unblock by blocker", blockedByMe, ActionUnblock, store.MemberFlags{}, nil},
		{"unblock by other", blockedByOther, ActionUnblock, store.MemberFlags{}, ErrPermission},
		{"unblock unblocked", nil, ActionUnblock, store.MemberFlags{}, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(convWith(tt.mutate), "alice", tt.action)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_StatesStayExclusive(t *testing.T) {
	// walk every action sequence of length 3 and check at most one flag is set
	for _, a1 := range Actions {
		for _, a2 := range Actions {
			for _, a3 := range Actions {
				conv := convWith(nil)
				for _, a := range []Action{a1, a2, a3} {
					flags, err := Transition(conv, "alice", a)
					if err != nil {
						continue
					}
					conv = withFlags(conv, "alice", flags)
				}
				f := conv.Flags("alice")
				set := 0
				for _, b := range []bool{f.Archived, f.Deleted, f.Blocked} {
					if b {
						set++
					}
				}
				assert.LessOrEqual(t, set, 1, "sequence %s,%s,%s", a1, a2, a3)
			}
		}
	}
}

func TestUnblock_ByNonBlocker_HasReason(t *testing.T) {
	_, err := Transition(convWith(func(c *store.Conversation) { c.BlockedBy = []string{"bob"} }), "alice", ActionUnblock)

	var perr *PermissionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ReasonNotBlocker, perr.Reason)
}

func TestCheckSend(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *store.Conversation)
		allows bool
		want   SendBlockReason
	}{
		{"ongoing", nil, true, ReasonNone},
		{"ongoing ignores preference", nil, false, ReasonNone},
		{"first contact allowed", func(c *store.Conversation) { c.MessageCount = 0 }, true, ReasonNone},
		{"first contact refused", func(c *store.Conversation) { c.MessageCount = 0 }, false, ReasonRecipientNotAccepting},
		{"sender blocked", func(c *store.Conversation) { c.BlockedBy = []string{"alice"} }, true, ReasonBlocked},
		{"receiver blocked", func(c *store.Conversation) { c.BlockedBy = []string{"bob"} }, true, ReasonBlocked},
		{"sender deleted", func(c *store.Conversation) { c.DeletedBy = []string{"alice"} }, true, ReasonDeleted},
		{"receiver deleted", func(c *store.Conversation) { c.DeletedBy = []string{"bob"} }, true, ReasonNone},
		{"sender archived", func(c *store.Conversation) { c.ArchivedBy = []string{"alice"} }, true, ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckSend(convWith(tt.mutate), "alice", tt.allows))
		})
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterDefault, f)
	assert.Equal(t, StateActive, f.State())

	f, err = ParseFilter("blocked")
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, f.State())

	_, err = ParseFilter("spam")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseAction(t *testing.T) {
	for _, a := range Actions {
		got, err := ParseAction(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseAction("mute")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPermissionError_Is(t *testing.T) {
	err := error(&PermissionError{Reason: ReasonBlocked})
	assert.ErrorIs(t, err, ErrPermission)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "blocked")
}
