package reconciler

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"
	"github.com/duespark/collector-api/pkg/metrics"

	"github.com/duespark/collector-api/internal/model"
	"github.com/duespark/collector-api/internal/repository"
)

// Reconciler folds asynchronous provider delivery callbacks back into
// reminder state. Unknown provider refs and unknown status words are
// dropped with a warning, never surfaced as failures: the reminder may have
// been deleted, and providers replay and reorder callbacks freely.
type Reconciler struct {
	reminders repository.ReminderRepository
	deduper   *Deduper
	logger    *logger.Logger
	metrics   *metrics.Metrics

	now func() time.Time
}

// NewReconciler creates a reconciler. deduper may be nil; dedupe is an
// optimization on top of the idempotent state transition, not a dependency.
func NewReconciler(reminders repository.ReminderRepository, deduper *Deduper, logger *logger.Logger, metrics *metrics.Metrics) *Reconciler {
	return &Reconciler{
		reminders: reminders,
		deduper:   deduper,
		logger:    logger.WithFields(map[string]interface{}{"component": "reconciler"}),
		metrics:   metrics,
		now:       time.Now,
	}
}

// provider status vocabulary → internal reminder status
var statusMap = map[string]model.ReminderStatus{
	"delivered":   model.ReminderStatusCompleted,
	"sent":        model.ReminderStatusCompleted,
	"completed":   model.ReminderStatusCompleted,
	"failed":      model.ReminderStatusFailed,
	"undelivered": model.ReminderStatusFailed,
	"busy":        model.ReminderStatusFailed,
	"no-answer":   model.ReminderStatusFailed,
	"canceled":    model.ReminderStatusFailed,
	"queued":      model.ReminderStatusInProgress,
	"accepted":    model.ReminderStatusInProgress,
	"sending":     model.ReminderStatusInProgress,
	"ringing":     model.ReminderStatusInProgress,
	"initiated":   model.ReminderStatusInProgress,
	"in-progress": model.ReminderStatusInProgress,
}

// HandleDeliveryEvent applies one callback. Idempotent: replaying a
// terminal callback refreshes the attempt timestamp and nothing else.
func (r *Reconciler) HandleDeliveryEvent(ctx context.Context, event *model.DeliveryEvent) error {
	if event.ProviderRef == "" {
		return apperrors.BadRequest("delivery event missing provider ref", nil)
	}

	if r.deduper != nil && r.deduper.Seen(ctx, event.ProviderRef, event.RawStatus) {
		r.metrics.CallbacksProcessed.WithLabelValues("duplicate").Inc()
		r.logger.Debug("duplicate delivery callback dropped",
			"provider_ref", event.ProviderRef, "status", event.RawStatus)
		return nil
	}

	mapped, ok := statusMap[event.RawStatus]
	if !ok {
		r.metrics.CallbacksProcessed.WithLabelValues("unknown_status").Inc()
		r.logger.Warn("unknown delivery status dropped",
			"provider_ref", event.ProviderRef, "status", event.RawStatus)
		return nil
	}

	reminder, err := r.reminders.GetByProviderRef(ctx, event.ProviderRef)
	if err != nil {
		if apperrors.IsNotFound(err) {
			r.metrics.CallbacksProcessed.WithLabelValues("orphan").Inc()
			r.logger.Warn("delivery callback for unknown provider ref dropped",
				"provider_ref", event.ProviderRef, "status", event.RawStatus)
			return nil
		}
		return fmt.Errorf("failed to look up reminder for callback: %w", err)
	}

	now := r.now()

	// A terminal reminder only ever accepts a replay of its own status;
	// late in-flight callbacks arriving after the terminal one are stale.
	if reminder.Status.Terminal() && reminder.Status != mapped {
		r.metrics.CallbacksProcessed.WithLabelValues("stale").Inc()
		r.logger.Debug("stale delivery callback dropped",
			"reminder_id", reminder.ID.String(),
			"current", string(reminder.Status),
			"incoming", string(mapped),
		)
		return nil
	}

	var outcome *model.Outcome
	if mapped == model.ReminderStatusFailed {
		code := event.ErrorCode
		if code == "" {
			code = "delivery_failed"
		}
		outcome = model.NewOutcome(code, event.ErrorMessage, now)
	}

	if err := r.reminders.UpdateDeliveryStatus(ctx, reminder.ID, mapped, outcome, now); err != nil {
		return fmt.Errorf("failed to apply delivery status: %w", err)
	}

	r.metrics.CallbacksProcessed.WithLabelValues("applied").Inc()
	r.logger.Info("delivery status reconciled",
		"reminder_id", reminder.ID.String(),
		"provider_ref", event.ProviderRef,
		"status", string(mapped),
	)
	return nil
}
