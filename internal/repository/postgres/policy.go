package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/duespark/collector-api/pkg/errors"

	"github.com/duespark/collector-api/internal/model"
)

func (r *policyRepository) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*model.ReminderPolicyConfig, error) {
	query := `
		SELECT id, owner_id,
			remind_30_days_before, remind_15_days_before, remind_7_days_before,
			remind_5_days_before, remind_3_days_before, remind_1_day_before,
			remind_on_due_date, remind_1_day_overdue, remind_3_days_overdue,
			remind_7_days_overdue, custom_offset_days,
			timezone, call_window_start, call_window_end, call_days,
			max_retry_attempts, retry_delay_hours,
			smart_mode_enabled, manual_channel, voice_escalation_days,
			created_at, updated_at
		FROM reminder_policy_configs
		WHERE owner_id = $1
	`
	var cfg model.ReminderPolicyConfig
	err := r.db.GetContext(ctx, &cfg, query, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Config("reminder policy not configured for owner", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder policy: %w", err)
	}
	return &cfg, nil
}

func (r *policyRepository) ListOwnerIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `SELECT owner_id FROM reminder_policy_configs ORDER BY owner_id`
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list policy owners: %w", err)
	}
	return ids, nil
}
