package notifier

import (
	"context"
	"time"
)

// CallContext carries the business context a channel provider needs to
// render a reminder: who owes what, and when it was or is due.
type CallContext struct {
	Phone         string
	CustomerName  string
	InvoiceNumber string
	DueCents      int64
	Currency      string
	DueDate       time.Time
}

// SMSSender accepts a text reminder for delivery. A nil error means
// "accepted by the provider", not "delivered"; the outcome arrives later on
// the delivery callback.
type SMSSender interface {
	SendSMS(ctx context.Context, call CallContext) (providerRef string, err error)
}

// VoiceDialer places an automated reminder call under the same
// synchronous-acceptance, asynchronous-outcome contract.
type VoiceDialer interface {
	DispatchCall(ctx context.Context, call CallContext) (providerRef string, err error)
}
