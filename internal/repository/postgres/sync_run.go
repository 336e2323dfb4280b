package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/duespark/collector-api/pkg/errors"

	"github.com/duespark/collector-api/internal/model"
)

func (r *syncRunRepository) Create(ctx context.Context, run *model.SyncRun) error {
	query := `
		INSERT INTO sync_runs (
			id, owner_id, status, started_at,
			fetched, inserted, updated, unchanged, error_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, 0, 0, 0, 0, 0, $5, $5)
	`
	run.ID = uuid.New()
	run.Status = model.SyncRunStatusRunning
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt

	if _, err := r.db.ExecContext(ctx, query,
		run.ID, run.OwnerID, run.Status, run.StartedAt, run.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

func (r *syncRunRepository) Finish(ctx context.Context, run *model.SyncRun) error {
	query := `
		UPDATE sync_runs
		SET status = $1, finished_at = $2, fetched = $3, inserted = $4,
			updated = $5, unchanged = $6, error_count = $7, last_error = $8,
			updated_at = $2
		WHERE id = $9
	`
	now := time.Now()
	run.FinishedAt = &now

	result, err := r.db.ExecContext(ctx, query,
		run.Status, now, run.Fetched, run.Inserted,
		run.Updated, run.Unchanged, run.ErrorCount, run.LastError,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("sync run not found", nil)
	}
	return nil
}

func (r *syncRunRepository) GetLastCompleted(ctx context.Context, ownerID uuid.UUID) (*model.SyncRun, error) {
	query := `
		SELECT id, owner_id, status, started_at, finished_at,
			fetched, inserted, updated, unchanged, error_count, last_error,
			created_at, updated_at
		FROM sync_runs
		WHERE owner_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1
	`
	var run model.SyncRun
	err := r.db.GetContext(ctx, &run, query, ownerID, model.SyncRunStatusCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("sync run not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last completed sync run: %w", err)
	}
	return &run, nil
}
