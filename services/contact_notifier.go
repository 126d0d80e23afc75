package services

import (
	"context"
	"fmt"
	"safewalk/interfaces"
	"safewalk/models"
	"safewalk/utils"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogContactNotifier only writes the contact list to the log
type LogContactNotifier struct{}

func NewLogContactNotifier() *LogContactNotifier {
	return &LogContactNotifier{}
}

func (n *LogContactNotifier) NotifyContacts(ctx context.Context, alert models.EmergencyAlert) {
	names := make([]string, 0, len(alert.Contacts))
	for _, contact := range alert.Contacts {
		names = append(names, contact.Name)
	}

	logrus.WithFields(logrus.Fields{
		"sessionId": alert.SessionID,
		"contacts":  names,
	}).Info("Contacting emergency contacts")
}

// SMSContactNotifier texts every contact of the session
type SMSContactNotifier struct {
	sender interfaces.SMSSender
}

func NewSMSContactNotifier(sender interfaces.SMSSender) *SMSContactNotifier {
	return &SMSContactNotifier{sender: sender}
}

func (n *SMSContactNotifier) NotifyContacts(ctx context.Context, alert models.EmergencyAlert) {
	if len(alert.Contacts) == 0 {
		logrus.WithField("sessionId", alert.SessionID).Info("No emergency contacts to notify")
		return
	}

	body := formatContactMessage(alert)
	sent := 0

	for _, contact := range alert.Contacts {
		if ctx.Err() != nil {
			logrus.WithError(ctx.Err()).Warn("Stopped notifying contacts")
			break
		}

		to := utils.NormalizePhoneNumber(contact.Phone)
		sid, err := n.sender.SendSMS(ctx, to, body)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"sessionId": alert.SessionID,
				"contact":   contact.Name,
				"phone":     utils.MaskPhoneNumber(contact.Phone),
			}).WithError(err).Warn("Failed to text emergency contact")
			continue
		}

		sent++
		logrus.WithFields(logrus.Fields{
			"contact":   contact.Name,
			"messageId": sid,
		}).Debug("Emergency contact texted")
	}

	logrus.WithFields(logrus.Fields{
		"sessionId": alert.SessionID,
		"sent":      sent,
		"total":     len(alert.Contacts),
	}).Info("Emergency contacts notified")
}

func formatContactMessage(alert models.EmergencyAlert) string {
	var b strings.Builder
	b.WriteString("SafeWalk emergency alert. ")
	b.WriteString(alert.Body)
	b.WriteString(".")

	if alert.Location != nil {
		fmt.Fprintf(&b, " Map: https://maps.google.com/?q=%s,%s",
			utils.FormatCoordinate(alert.Location.Latitude),
			utils.FormatCoordinate(alert.Location.Longitude))
	}
	if alert.Device != nil && alert.Device.Model != "" {
		fmt.Fprintf(&b, " Device: %s.", alert.Device.Model)
	}

	return b.String()
}
