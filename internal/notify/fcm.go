// ABOUTME: Firebase Cloud Messaging notifier delivering to every registered device of a user
// ABOUTME: Tokens FCM reports as unregistered are pruned from the device store

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"

	"github.com/2389/realty-inbox/internal/store"
)

// messageSender is the part of messaging.Client the notifier uses.
type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier sends push notifications through Firebase.
type FCMNotifier struct {
	client  messageSender
	devices store.DeviceStore
	// isUnregistered reports whether a send error means the token is dead.
	isUnregistered func(error) bool
	logger         *slog.Logger
}

// NewFCMNotifier initializes a Firebase app from a service account file.
func NewFCMNotifier(ctx context.Context, credentialsFile string, devices store.DeviceStore, logger *slog.Logger) (*FCMNotifier, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting messaging client: %w", err)
	}
	return newFCMNotifier(client, devices, logger), nil
}

func newFCMNotifier(client messageSender, devices store.DeviceStore, logger *slog.Logger) *FCMNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMNotifier{
		client:         client,
		devices:        devices,
		isUnregistered: messaging.IsRegistrationTokenNotRegistered,
		logger:         logger.With("component", "push", "provider", "fcm"),
	}
}

// Notify implements Notifier. It returns ErrNoDevices when the user has no
// tokens, and the joined errors of any failed sends.
func (n *FCMNotifier) Notify(ctx context.Context, userID string, event Event) error {
	devices, err := n.devices.ListDevices(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	if len(devices) == 0 {
		return ErrNoDevices
	}

	var errs []error
	for _, d := range devices {
		_, err := n.client.Send(ctx, &messaging.Message{
			Token: d.Token,
			Notification: &messaging.Notification{
				Title: event.Title(),
				Body:  event.Preview,
			},
			Data: map[string]string{
				"kind":            string(event.Kind),
				"conversation_id": event.ConversationID,
				"sender_id":       event.SenderID,
			},
		})
		if err == nil {
			continue
		}

		if n.isUnregistered(err) {
			n.logger.Info("pruning unregistered device", "user_id", userID, "platform", d.Platform)
			if delErr := n.devices.DeleteDevice(ctx, d.Token); delErr != nil && !errors.Is(delErr, store.ErrNotFound) {
				n.logger.Warn("failed to prune device", "user_id", userID, "error", delErr)
			}
			continue
		}
		errs = append(errs, fmt.Errorf("sending to %s device: %w", d.Platform, err))
	}

	if len(errs) == 0 {
		n.logger.Debug("push delivered", "user_id", userID, "conversation_id", event.ConversationID, "devices", len(devices))
	}
	return errors.Join(errs...)
}
