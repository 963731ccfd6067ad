// ABOUTME: asynq-backed push queue so deliveries survive restarts and get retried
// ABOUTME: QueueNotifier enqueues on the request path; Worker drains the queue into a delivery Notifier

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskDeliverPush is the asynq task type for one user's notification.
	TaskDeliverPush = "push:deliver"
	// Queue is the asynq queue push tasks run on.
	Queue = "push"

	maxRetry    = 5
	taskTimeout = 30 * time.Second
)

type pushPayload struct {
	UserID string `json:"user_id"`
	Event  Event  `json:"event"`
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueNotifier implements Notifier by enqueueing a delivery task.
type QueueNotifier struct {
	client enqueuer
	logger *slog.Logger
}

// NewQueueNotifier connects an asynq client to redisURL.
func NewQueueNotifier(redisURL string, logger *slog.Logger) (*QueueNotifier, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing queue redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{
		client: asynq.NewClient(opt),
		logger: logger.With("component", "push", "provider", "queue"),
	}, nil
}

// Notify implements Notifier.
func (q *QueueNotifier) Notify(ctx context.Context, userID string, event Event) error {
	payload, err := json.Marshal(pushPayload{UserID: userID, Event: event})
	if err != nil {
		return fmt.Errorf("encoding push task: %w", err)
	}

	info, err := q.client.EnqueueContext(ctx,
		asynq.NewTask(TaskDeliverPush, payload),
		asynq.Queue(Queue),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
	)
	if err != nil {
		return fmt.Errorf("enqueueing push: %w", err)
	}

	q.logger.Debug("push enqueued", "task_id", info.ID, "user_id", userID, "conversation_id", event.ConversationID)
	return nil
}

// Close releases the redis connection.
func (q *QueueNotifier) Close() error {
	return q.client.Close()
}

// Worker consumes push tasks and hands them to a delivery Notifier.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	delivery Notifier
	logger   *slog.Logger
}

// NewWorker builds an asynq server on redisURL running concurrency handlers.
func NewWorker(redisURL string, concurrency int, delivery Notifier, logger *slog.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing queue redis url: %w", err)
	}

	w := newWorker(delivery, logger)
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{Queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			w.logger.Warn("push task failed",
				"type", task.Type(),
				"retry", retried,
				"error", err)
		}),
	})
	return w, nil
}

func newWorker(delivery Notifier, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		mux:      asynq.NewServeMux(),
		delivery: delivery,
		logger:   logger.With("component", "push-worker"),
	}
	w.mux.HandleFunc(TaskDeliverPush, w.handleDeliver)
	return w
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("starting push worker: %w", err)
	}
	w.logger.Info("push worker started")
	return nil
}

// Shutdown waits for in-flight tasks and stops the worker.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("push worker stopped")
}

func (w *Worker) handleDeliver(ctx context.Context, t *asynq.Task) error {
	var p pushPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decoding push task: %v: %w", err, asynq.SkipRetry)
	}
	if p.UserID == "" {
		return fmt.Errorf("push task without user: %w", asynq.SkipRetry)
	}

	err := w.delivery.Notify(ctx, p.UserID, p.Event)
	if errors.Is(err, ErrNoDevices) {
		return nil
	}
	return err
}
