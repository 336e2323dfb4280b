package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "github.com/duespark/collector-api/pkg/errors"

	"github.com/duespark/collector-api/internal/model"
)

const reminderColumns = `
	id, invoice_id, owner_id, type, scheduled_for, status,
	attempt_count, last_attempt_at, channel, provider_ref, outcome,
	created_at, updated_at
`

func (r *reminderRepository) Insert(ctx context.Context, reminder *model.ReminderInstance) error {
	query := `
		INSERT INTO reminder_instances (` + reminderColumns + `)
		VALUES (
			:id, :invoice_id, :owner_id, :type, :scheduled_for, :status,
			:attempt_count, :last_attempt_at, :channel, :provider_ref, :outcome,
			:created_at, :updated_at
		)
	`
	reminder.ID = uuid.New()
	reminder.CreatedAt = time.Now()
	reminder.UpdatedAt = reminder.CreatedAt

	if _, err := r.db.NamedExecContext(ctx, query, reminder); err != nil {
		var pqErr *pq.Error
		// 23505 = unique_violation on (invoice_id, type): another run
		// scheduled this slot first.
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.Data("reminder type already scheduled for invoice", err)
		}
		return fmt.Errorf("failed to insert reminder: %w", err)
	}
	return nil
}

func (r *reminderRepository) Get(ctx context.Context, id uuid.UUID) (*model.ReminderInstance, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminder_instances WHERE id = $1`
	var reminder model.ReminderInstance
	err := r.db.GetContext(ctx, &reminder, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("reminder not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return &reminder, nil
}

func (r *reminderRepository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*model.ReminderInstance, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminder_instances
		WHERE invoice_id = $1
		ORDER BY scheduled_for ASC
	`
	var reminders []*model.ReminderInstance
	if err := r.db.SelectContext(ctx, &reminders, query, invoiceID); err != nil {
		return nil, fmt.Errorf("failed to list reminders for invoice: %w", err)
	}
	return reminders, nil
}

func (r *reminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ReminderInstance, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminder_instances
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
		LIMIT $3
	`
	var reminders []*model.ReminderInstance
	if err := r.db.SelectContext(ctx, &reminders, query, model.ReminderStatusPending, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	return reminders, nil
}

func (r *reminderRepository) GetByProviderRef(ctx context.Context, providerRef string) (*model.ReminderInstance, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminder_instances WHERE provider_ref = $1`
	var reminder model.ReminderInstance
	err := r.db.GetContext(ctx, &reminder, query, providerRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("reminder not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder by provider ref: %w", err)
	}
	return &reminder, nil
}

func (r *reminderRepository) MarkDispatched(ctx context.Context, id uuid.UUID, status model.ReminderStatus, channel model.Channel, providerRef string, at time.Time) error {
	query := `
		UPDATE reminder_instances
		SET status = $1, channel = $2, provider_ref = $3,
			attempt_count = attempt_count + 1, last_attempt_at = $4, updated_at = $4
		WHERE id = $5
	`
	return r.exec(ctx, query, status, channel, providerRef, at, id)
}

func (r *reminderRepository) MarkSkipped(ctx context.Context, id uuid.UUID, outcome *model.Outcome) error {
	query := `
		UPDATE reminder_instances
		SET status = $1, outcome = $2, updated_at = $3
		WHERE id = $4
	`
	return r.exec(ctx, query, model.ReminderStatusSkipped, outcome.Marshal(), time.Now(), id)
}

func (r *reminderRepository) MarkFailed(ctx context.Context, id uuid.UUID, outcome *model.Outcome) error {
	query := `
		UPDATE reminder_instances
		SET status = $1, outcome = $2, attempt_count = attempt_count + 1,
			last_attempt_at = $3, updated_at = $3
		WHERE id = $4
	`
	return r.exec(ctx, query, model.ReminderStatusFailed, outcome.Marshal(), time.Now(), id)
}

func (r *reminderRepository) RescheduleAfterRejection(ctx context.Context, id uuid.UUID, scheduledFor time.Time, outcome *model.Outcome, at time.Time) error {
	query := `
		UPDATE reminder_instances
		SET scheduled_for = $1, outcome = $2,
			attempt_count = attempt_count + 1, last_attempt_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return r.exec(ctx, query, scheduledFor, outcome.Marshal(), at, id, model.ReminderStatusPending)
}

func (r *reminderRepository) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status model.ReminderStatus, outcome *model.Outcome, at time.Time) error {
	query := `
		UPDATE reminder_instances
		SET status = $1, outcome = COALESCE($2, outcome),
			last_attempt_at = $3, updated_at = $3
		WHERE id = $4
	`
	var raw []byte
	if outcome != nil {
		raw = outcome.Marshal()
	}
	return r.exec(ctx, query, status, raw, at, id)
}

func (r *reminderRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("reminder not found", nil)
	}
	return nil
}
