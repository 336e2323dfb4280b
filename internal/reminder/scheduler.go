package reminder

import (
	"context"
	"fmt"

	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"

	"github.com/duespark/collector-api/internal/model"
	"github.com/duespark/collector-api/internal/repository"
)

// Scheduler reconciles the planned reminder set against existing rows for
// an invoice. It only ever inserts: an existing instance is never updated or
// deleted, whatever its status, so completed and failed touches survive
// repeated runs.
type Scheduler struct {
	reminders repository.ReminderRepository
	invoices  repository.InvoiceRepository
	logger    *logger.Logger
}

func NewScheduler(reminders repository.ReminderRepository, invoices repository.InvoiceRepository, logger *logger.Logger) *Scheduler {
	return &Scheduler{
		reminders: reminders,
		invoices:  invoices,
		logger:    logger.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

// EnsureReminders inserts the reminders the policy wants that the invoice
// does not yet have, and flips the invoice's reminders_created gate after
// the first successful insert. Returns how many instances were created.
func (s *Scheduler) EnsureReminders(ctx context.Context, invoice *model.CachedInvoice, cfg *model.ReminderPolicyConfig) (int, error) {
	planned, err := Plan(invoice.DueDate, cfg)
	if err != nil {
		return 0, err
	}
	if len(planned) == 0 {
		return 0, nil
	}

	existing, err := s.reminders.ListByInvoice(ctx, invoice.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list existing reminders: %w", err)
	}
	present := make(map[model.ReminderType]bool, len(existing))
	for _, r := range existing {
		present[r.Type] = true
	}

	inserted := 0
	for _, p := range planned {
		if present[p.Type] {
			continue
		}
		instance := &model.ReminderInstance{
			InvoiceID:    invoice.ID,
			OwnerID:      invoice.OwnerID,
			Type:         p.Type,
			ScheduledFor: p.ScheduledFor,
			Status:       model.ReminderStatusPending,
		}
		if err := s.reminders.Insert(ctx, instance); err != nil {
			// A concurrent run winning the unique index race means the
			// slot exists, which is the outcome we wanted.
			if apperrors.KindOf(err) == apperrors.KindData {
				continue
			}
			return inserted, fmt.Errorf("failed to insert reminder %s: %w", p.Type, err)
		}
		inserted++
	}

	if inserted > 0 && !invoice.RemindersCreated {
		if err := s.invoices.MarkRemindersCreated(ctx, invoice.ID); err != nil {
			return inserted, err
		}
		invoice.RemindersCreated = true
		s.logger.Debug("reminder schedule generated",
			"invoice_id", invoice.ID.String(), "created", inserted)
	}
	return inserted, nil
}
