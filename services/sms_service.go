// services/sms_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

var ErrSMSNotConfigured = errors.New("sms delivery not configured")

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSService sends text messages through Twilio
type SMSService struct {
	api               messageCreator
	twilioPhoneNumber string
}

func NewSMSService(twilioAccountSID, twilioAuthToken, twilioPhoneNumber string) *SMSService {
	if twilioAccountSID == "" || twilioAuthToken == "" {
		return &SMSService{twilioPhoneNumber: twilioPhoneNumber}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: twilioAccountSID,
		Password: twilioAuthToken,
	})

	return &SMSService{
		api:               client.Api,
		twilioPhoneNumber: twilioPhoneNumber,
	}
}

// Enabled reports whether Twilio credentials were configured
func (ss *SMSService) Enabled() bool {
	return ss.api != nil && ss.twilioPhoneNumber != ""
}

// SendSMS sends body to the given number and returns the message SID
func (ss *SMSService) SendSMS(ctx context.Context, to, body string) (string, error) {
	if !ss.Enabled() {
		return "", ErrSMSNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(ss.twilioPhoneNumber)
	params.SetBody(body)

	resp, err := ss.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS: %w", err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}

	logrus.Debugf("SMS queued with SID %s", sid)
	return sid, nil
}
