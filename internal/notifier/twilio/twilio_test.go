package twilio

import (
	"encoding/xml"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioclient "github.com/twilio/twilio-go/client"

	apperrors "github.com/duespark/collector-api/pkg/errors"

	"github.com/duespark/collector-api/internal/notifier"
)

func reminderCall(name string) notifier.CallContext {
	return notifier.CallContext{
		Phone:         "+15550100",
		CustomerName:  name,
		InvoiceNumber: "INV-42",
		DueCents:      125000,
		Currency:      "USD",
		DueDate:       time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestVoiceTwiMLEscapesCustomerData(t *testing.T) {
	twiml := voiceTwiML(reminderCall("Smith & Sons <Holdings>"))

	var doc struct {
		Say string `xml:"Say"`
	}
	require.NoError(t, xml.Unmarshal([]byte(twiml), &doc),
		"customer names must not break the TwiML document")
	assert.Contains(t, doc.Say, "Smith & Sons <Holdings>")
	assert.Contains(t, twiml, "&amp;")
}

func TestVoiceTwiMLPlainName(t *testing.T) {
	twiml := voiceTwiML(reminderCall("Acme"))

	var doc struct {
		Say string `xml:"Say"`
	}
	require.NoError(t, xml.Unmarshal([]byte(twiml), &doc))
	assert.Contains(t, doc.Say, "Acme")
	assert.Contains(t, doc.Say, "1250.00 USD")
	assert.Contains(t, doc.Say, "INV-42")
}

func TestRenderSMSIncludesAmountAndDueDate(t *testing.T) {
	body := renderSMS(reminderCall("Acme"))

	assert.Contains(t, body, "Acme")
	assert.Contains(t, body, "INV-42")
	assert.Contains(t, body, "1250.00 USD")
	assert.Contains(t, body, "Sep 15, 2026")
}

func TestClassifySplitsTransientFromRejection(t *testing.T) {
	assert.True(t, apperrors.IsTransient(classify(&twilioclient.TwilioRestError{Status: 503})))
	assert.True(t, apperrors.IsKind(classify(&twilioclient.TwilioRestError{Status: 400, Code: 21211}), apperrors.KindData))
	assert.True(t, apperrors.IsTransient(classify(fmt.Errorf("dial tcp: connection refused"))))
}
