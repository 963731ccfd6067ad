// Package notify delivers best-effort push notifications for conversation
// events. FCMNotifier talks to Firebase directly; QueueNotifier and Worker
// put an asynq queue in between so deliveries are retried off the request
// path. Failures never affect the write that produced the event.
package notify
