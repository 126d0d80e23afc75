package services

import (
	"context"
	"errors"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
)

var ErrPushNotConfigured = errors.New("push delivery not configured")

type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushService delivers emergency notifications through Firebase Cloud
// Messaging when a device cannot schedule them locally
type PushService struct {
	fcm fcmSender
}

// NewPushService wraps an FCM client. A nil client yields a service whose
// sends fail with ErrPushNotConfigured.
func NewPushService(fcmClient *messaging.Client) *PushService {
	if fcmClient == nil {
		return &PushService{}
	}
	return &PushService{fcm: fcmClient}
}

func (ps *PushService) Enabled() bool {
	return ps.fcm != nil
}

func (ps *PushService) SendPush(ctx context.Context, deviceToken, title, body string) error {
	if ps.fcm == nil {
		return ErrPushNotConfigured
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"type": "emergency",
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
				Icon:  "ic_notification",
				Color: "#DC2626",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: title,
						Body:  body,
					},
					Sound: "default",
				},
			},
		},
	}

	messageID, err := ps.fcm.Send(ctx, message)
	if err != nil {
		return err
	}

	logrus.WithField("messageId", messageID).Debug("Push notification sent")
	return nil
}
