package twilio

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"

	apperrors "github.com/duespark/collector-api/pkg/errors"

	"github.com/duespark/collector-api/internal/notifier"
)

// Config holds the Twilio credentials and sender numbers, loaded from the
// environment.
type Config struct {
	AccountSID        string `envconfig:"TWILIO_ACCOUNT_SID" required:"true"`
	AuthToken         string `envconfig:"TWILIO_AUTH_TOKEN" required:"true"`
	SMSFrom           string `envconfig:"TWILIO_SMS_FROM" required:"true"`
	VoiceFrom         string `envconfig:"TWILIO_VOICE_FROM" required:"true"`
	StatusCallbackURL string `envconfig:"TWILIO_STATUS_CALLBACK_URL"`
}

func newRestClient(cfg Config) *twilio.RestClient {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
}

// classify maps a Twilio REST failure onto an error kind: 5xx responses are
// retryable, everything else (invalid number, blocked destination) is a
// data error the retry loop must not hammer.
func classify(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		if restErr.Status >= 500 {
			return apperrors.Transient("twilio unavailable", err)
		}
		return apperrors.Data(fmt.Sprintf("twilio rejected request (code %d)", restErr.Code), err)
	}
	// Transport-level failure.
	return apperrors.Transient("twilio request failed", err)
}

func amountText(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}

func renderSMS(call notifier.CallContext) string {
	return fmt.Sprintf(
		"Hi %s, this is a reminder that invoice %s for %s is due on %s. Please disregard if already paid.",
		call.CustomerName,
		call.InvoiceNumber,
		amountText(call.DueCents, call.Currency),
		call.DueDate.Format("Jan 2, 2006"),
	)
}

// xmlEscape makes interpolated customer data safe inside TwiML. Names like
// "Smith & Sons" would otherwise produce a malformed document that Twilio
// rejects with a 4xx.
func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func renderSay(call notifier.CallContext) string {
	return fmt.Sprintf(
		"Hello %s. This is an automated payment reminder. Invoice %s for %s was due on %s. Please arrange payment at your earliest convenience. Thank you.",
		call.CustomerName,
		call.InvoiceNumber,
		amountText(call.DueCents, call.Currency),
		call.DueDate.Format("January 2"),
	)
}
