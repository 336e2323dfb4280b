package twilio

import (
	"context"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/duespark/collector-api/pkg/circuitbreaker"
	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"

	"github.com/duespark/collector-api/internal/notifier"
)

// SMSSender delivers reminder texts through the Twilio Messages API.
type SMSSender struct {
	client  *twilio.RestClient
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

func NewSMSSender(cfg Config, logger *logger.Logger) *SMSSender {
	return &SMSSender{
		client: newRestClient(cfg),
		cfg:    cfg,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "twilio_sms",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		logger: logger.WithFields(map[string]interface{}{"component": "twilio_sms"}),
	}
}

func (s *SMSSender) SendSMS(ctx context.Context, call notifier.CallContext) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(call.Phone)
	params.SetFrom(s.cfg.SMSFrom)
	params.SetBody(renderSMS(call))
	if s.cfg.StatusCallbackURL != "" {
		params.SetStatusCallback(s.cfg.StatusCallbackURL + "/webhooks/sms/status")
	}

	var resp *twilioApi.ApiV2010Message
	err := s.breaker.Execute(func() error {
		var sendErr error
		resp, sendErr = s.client.Api.CreateMessage(params)
		return sendErr
	})
	if err != nil {
		if err == circuitbreaker.ErrOpen {
			return "", apperrors.Transient("twilio sms circuit open", err)
		}
		return "", classify(err)
	}
	if resp.Sid == nil {
		return "", apperrors.Transient("twilio accepted message without sid", nil)
	}

	s.logger.Debug("sms accepted", "sid", *resp.Sid)
	return *resp.Sid, nil
}
