package twilio

import (
	"context"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/duespark/collector-api/pkg/circuitbreaker"
	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"

	"github.com/duespark/collector-api/internal/notifier"
)

// VoiceDialer places automated reminder calls through the Twilio Calls API
// with inline TwiML, so no separate TwiML host is needed.
type VoiceDialer struct {
	client  *twilio.RestClient
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

func NewVoiceDialer(cfg Config, logger *logger.Logger) *VoiceDialer {
	return &VoiceDialer{
		client: newRestClient(cfg),
		cfg:    cfg,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "twilio_voice",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		logger: logger.WithFields(map[string]interface{}{"component": "twilio_voice"}),
	}
}

// voiceTwiML builds the inline call script.
func voiceTwiML(call notifier.CallContext) string {
	return fmt.Sprintf("<Response><Say voice=\"alice\">%s</Say></Response>", xmlEscape(renderSay(call)))
}

func (d *VoiceDialer) DispatchCall(ctx context.Context, call notifier.CallContext) (string, error) {
	twiml := voiceTwiML(call)

	params := &twilioApi.CreateCallParams{}
	params.SetTo(call.Phone)
	params.SetFrom(d.cfg.VoiceFrom)
	params.SetTwiml(twiml)
	if d.cfg.StatusCallbackURL != "" {
		params.SetStatusCallback(d.cfg.StatusCallbackURL + "/webhooks/voice/status")
		params.SetStatusCallbackEvent([]string{"completed", "failed", "busy", "no-answer"})
	}

	var resp *twilioApi.ApiV2010Call
	err := d.breaker.Execute(func() error {
		var dialErr error
		resp, dialErr = d.client.Api.CreateCall(params)
		return dialErr
	})
	if err != nil {
		if err == circuitbreaker.ErrOpen {
			return "", apperrors.Transient("twilio voice circuit open", err)
		}
		return "", classify(err)
	}
	if resp.Sid == nil {
		return "", apperrors.Transient("twilio accepted call without sid", nil)
	}

	d.logger.Debug("call accepted", "sid", *resp.Sid)
	return *resp.Sid, nil
}
