package report

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/duespark/collector-api/pkg/logger"

	"github.com/duespark/collector-api/internal/config"
	"github.com/duespark/collector-api/internal/model"
)

// Emailer mails batch summaries to the ops address. Batch summaries are the
// only externally reported outcome of a run, so a delivery failure here is
// logged loudly but never fails the run itself.
type Emailer struct {
	cfg    config.ReportConfig
	dialer *gomail.Dialer
	logger *logger.Logger
}

func NewEmailer(cfg config.ReportConfig, logger *logger.Logger) *Emailer {
	return &Emailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		logger: logger.WithFields(map[string]interface{}{"component": "report"}),
	}
}

func (e *Emailer) SendSyncSummary(result *model.SyncResult) {
	if !e.cfg.Enabled {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sync run finished at %s\n\n", time.Now().Format(time.RFC1123))
	fmt.Fprintf(&b, "Fetched:   %d\n", result.Fetched)
	fmt.Fprintf(&b, "Inserted:  %d\n", result.Inserted)
	fmt.Fprintf(&b, "Updated:   %d\n", result.Updated)
	fmt.Fprintf(&b, "Unchanged: %d\n", result.Unchanged)
	writeErrors(&b, result.Errors)

	e.send("Sync run summary", b.String())
}

func (e *Emailer) SendDispatchSummary(result *model.DispatchResult) {
	if !e.cfg.Enabled {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dispatch run finished at %s\n\n", time.Now().Format(time.RFC1123))
	fmt.Fprintf(&b, "Processed: %d\n", result.Processed)
	fmt.Fprintf(&b, "Sent:      %d\n", result.Sent)
	fmt.Fprintf(&b, "Skipped:   %d\n", result.Skipped)
	fmt.Fprintf(&b, "Failed:    %d\n", result.Failed)
	fmt.Fprintf(&b, "Retried:   %d\n", result.Retried)
	fmt.Fprintf(&b, "Deferred:  %d\n", result.Deferred)
	if result.OwnersSkipped > 0 {
		fmt.Fprintf(&b, "Owners skipped (missing policy): %d\n", result.OwnersSkipped)
	}
	writeErrors(&b, result.Errors)

	e.send("Dispatch run summary", b.String())
}

func writeErrors(b *strings.Builder, errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(b, "\nErrors (%d):\n", len(errs))
	for _, msg := range errs {
		fmt.Fprintf(b, "  - %s\n", msg)
	}
}

func (e *Emailer) send(subject, body string) {
	m := gomail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", e.cfg.To)
	m.SetHeader("Subject", fmt.Sprintf("[collector] %s", subject))
	m.SetBody("text/plain", body)

	if err := e.dialer.DialAndSend(m); err != nil {
		e.logger.Error(err, "failed to send summary report")
	}
}
