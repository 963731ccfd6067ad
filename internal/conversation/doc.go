// Package conversation is the messaging core: per-participant conversation
// state, the send gate, atomic sends and change notification.
//
// # State
//
// Each participant sees a conversation as exactly one of Active, Archived,
// Deleted or Blocked. The state is derived from the conversation's
// archived/deleted/blocked membership sets, so one side archiving never
// changes what the other side sees. A block by either participant disables
// sending in both directions until the blocker unblocks.
//
//	archive:   Active   -> Archived
//	unarchive: Archived -> Active
//	delete:    Active | Archived -> Deleted
//	restore:   Deleted  -> Active
//	block:     any      -> Blocked
//	unblock:   Blocked  -> Active (blocker only)
//
// Transitions are compare-and-set writes against the conversation version.
//
// # Sending
//
// Service.SendMessage runs the gate (blocked, sender deleted, recipient not
// accepting first contact), then persists the message, the conversation
// summary and the receiver's unread count in one store call. After commit
// it notifies the ChangeNotifier and queues a push notification; neither
// can fail the send.
//
// # Broadcasting
//
// EventBroadcaster fans out Updates that carry only a conversation id.
// Clients re-fetch on receipt (notify-then-pull), so dropped or duplicated
// updates are harmless:
//
//	ch, _ := b.Subscribe(ctx, conversation.RoomKey(id))
//	for u := range ch {
//		// reload messages for u.ConversationID
//	}
package conversation
