// config/notification_config.go
package config

import (
	"context"
	"safewalk/interfaces"
	"safewalk/providers"
	"safewalk/services"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// NotificationServices bundles the outbound alert channels
type NotificationServices struct {
	Notifier interfaces.ContactNotifier
	SMS      *services.SMSService
	Push     *services.PushService
}

// Pusher returns the push fallback for native notifications, or nil when FCM
// is not configured
func (ns *NotificationServices) Pusher() providers.Pusher {
	if ns.Push == nil || !ns.Push.Enabled() {
		return nil
	}
	return ns.Push
}

// InitializeNotificationServices builds the contact notifier and push
// service from configuration. Missing credentials select the log stub and
// disable push.
func InitializeNotificationServices(cfg *Config) *NotificationServices {
	ns := &NotificationServices{}

	// Initialize Firebase/FCM client
	var fcmClient *messaging.Client
	if cfg.FirebaseCredentials != "" {
		app, err := initializeFirebase(cfg)
		if err != nil {
			logrus.Errorf("Failed to initialize Firebase: %v", err)
		} else {
			fcmClient, err = app.Messaging(context.Background())
			if err != nil {
				logrus.Errorf("Failed to get FCM client: %v", err)
			}
		}
	}
	ns.Push = services.NewPushService(fcmClient)

	ns.SMS = services.NewSMSService(
		cfg.TwilioAccountSID,
		cfg.TwilioAuthToken,
		cfg.TwilioPhoneNumber,
	)

	if ns.SMS.Enabled() {
		logrus.Info("Emergency contacts will be notified by SMS")
		ns.Notifier = services.NewSMSContactNotifier(ns.SMS)
	} else {
		logrus.Warn("Twilio not configured, emergency contacts will only be logged")
		ns.Notifier = services.NewLogContactNotifier()
	}

	return ns
}

// initializeFirebase initializes Firebase app
func initializeFirebase(cfg *Config) (*firebase.App, error) {
	ctx := context.Background()

	opt := option.WithCredentialsFile(cfg.FirebaseCredentials)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Example environment configuration file (.env)
/*
# Twilio
TWILIO_ACCOUNT_SID=your-twilio-account-sid
TWILIO_AUTH_TOKEN=your-twilio-auth-token
TWILIO_PHONE_NUMBER=+1234567890

# Firebase
FIREBASE_CREDENTIALS=path/to/firebase-service-account.json
*/
