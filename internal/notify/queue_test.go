package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: Queue}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type recordingNotifier struct {
	userID string
	event  Event
	err    error
	calls  int
}

func (r *recordingNotifier) Notify(ctx context.Context, userID string, event Event) error {
	r.calls++
	r.userID = userID
	r.event = event
	return r.err
}

func TestQueueNotifier_Enqueues(t *testing.T) {
	fake := &fakeEnqueuer{}
	q := &QueueNotifier{client: fake, logger: testLogger()}

	event := Event{Kind: EventMessage, ConversationID: "conv-1", SenderID: "alice", Preview: "hi"}
	require.NoError(t, q.Notify(t.Context(), "bob", event))

	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TaskDeliverPush, fake.tasks[0].Type())

	var p pushPayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &p))
	assert.Equal(t, "bob", p.UserID)
	assert.Equal(t, event, p.Event)
}

func TestQueueNotifier_EnqueueError(t *testing.T) {
	q := &QueueNotifier{client: &fakeEnqueuer{err: errors.New("redis down")}, logger: testLogger()}
	assert.Error(t, q.Notify(t.Context(), "bob", Event{}))
}

func TestWorker_RoundTrip(t *testing.T) {
	fake := &fakeEnqueuer{}
	q := &QueueNotifier{client: fake, logger: testLogger()}
	delivery := &recordingNotifier{}
	w := newWorker(delivery, nil)

	event := Event{Kind: EventConversationStarted, ConversationID: "conv-9", SenderID: "agent-1"}
	require.NoError(t, q.Notify(t.Context(), "cust-1", event))
	require.NoError(t, w.handleDeliver(t.Context(), fake.tasks[0]))

	assert.Equal(t, 1, delivery.calls)
	assert.Equal(t, "cust-1", delivery.userID)
	assert.Equal(t, event, delivery.event)
}

func TestWorker_NoDevicesIsDone(t *testing.T) {
	w := newWorker(&recordingNotifier{err: ErrNoDevices}, nil)
	payload, _ := json.Marshal(pushPayload{UserID: "bob"})
	assert.NoError(t, w.handleDeliver(t.Context(), asynq.NewTask(TaskDeliverPush, payload)))
}

func TestWorker_DeliveryErrorRetries(t *testing.T) {
	boom := errors.New("fcm unavailable")
	w := newWorker(&recordingNotifier{err: boom}, nil)
	payload, _ := json.Marshal(pushPayload{UserID: "bob"})

	err := w.handleDeliver(t.Context(), asynq.NewTask(TaskDeliverPush, payload))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestWorker_BadPayloadSkipsRetry(t *testing.T) {
	w := newWorker(&recordingNotifier{}, nil)

	err := w.handleDeliver(t.Context(), asynq.NewTask(TaskDeliverPush, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	payload, _ := json.Marshal(pushPayload{})
	err = w.handleDeliver(t.Context(), asynq.NewTask(TaskDeliverPush, payload))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewQueueNotifier_BadURL(t *testing.T) {
	_, err := NewQueueNotifier("not-a-url", nil)
	assert.Error(t, err)
}
