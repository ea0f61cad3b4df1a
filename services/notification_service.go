package services

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"github.com/pkg/errors"
	"github.com/techagentng/citizenchat/db"
	"google.golang.org/api/option"
)

// Notifier delivers a push notification to every registered device of a user.
type Notifier interface {
	Notify(ctx context.Context, userID uint, title, body string, data map[string]interface{}) error
}

// PushClient is the part of the FCM messaging client we use.
type PushClient interface {
	SendMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// InitMessaging builds an FCM client from a service account file.
func InitMessaging(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, errors.Wrap(err, "initialize firebase app")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get messaging client")
	}
	log.Println("Firebase Messaging client initialized")
	return client, nil
}

type NotificationService struct {
	client PushClient
	users  db.UserRepository
}

func NewNotificationService(client PushClient, users db.UserRepository) *NotificationService {
	return &NotificationService{client: client, users: users}
}

func (s *NotificationService) Notify(ctx context.Context, userID uint, title, body string, data map[string]interface{}) error {
	tokens, err := s.users.DeviceTokens(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	resp, err := s.client.SendMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: convertToMapString(data),
	})
	if err != nil {
		return errors.Wrap(err, "send push notification")
	}

	var stale []string
	for i, r := range resp.Responses {
		if r.Success || i >= len(tokens) {
			continue
		}
		if messaging.IsRegistrationTokenNotRegistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			stale = append(stale, tokens[i])
		} else {
			log.Printf("Error sending push to user %d: %v", userID, r.Error)
		}
	}
	if len(stale) > 0 {
		if err := s.users.DeleteDeviceTokens(ctx, stale); err != nil {
			log.Printf("Error removing stale device tokens for user %d: %v", userID, err)
		}
	}
	return nil
}

// convertToMapString converts a map[string]interface{} to map[string]string,
// which is the only payload FCM data messages accept.
func convertToMapString(input map[string]interface{}) map[string]string {
	result := make(map[string]string, len(input))
	for key, value := range input {
		if strValue, ok := value.(string); ok {
			result[key] = strValue
		} else {
			result[key] = fmt.Sprintf("%v", value)
		}
	}
	return result
}

// NoopNotifier is used when push credentials are not configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, uint, string, string, map[string]interface{}) error {
	return nil
}
