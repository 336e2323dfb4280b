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

const invoiceColumns = `
	id, owner_id, remote_id, customer_id, remote_customer_id,
	invoice_number, total_cents, due_cents, currency, due_date, status,
	content_hash, remote_updated_at, local_last_synced_at,
	reminders_created, created_at, updated_at
`

func (r *invoiceRepository) Upsert(ctx context.Context, invoice *model.CachedInvoice) (model.UpsertOutcome, *model.CachedInvoice, error) {
	existing, err := r.GetByRemoteID(ctx, invoice.OwnerID, invoice.RemoteID)
	if err != nil && !apperrors.IsNotFound(err) {
		return "", nil, err
	}

	now := time.Now()
	if existing == nil {
		invoice.ID = uuid.New()
		invoice.CreatedAt = now
		invoice.UpdatedAt = now
		invoice.LocalLastSyncedAt = now
		invoice.RemindersCreated = false

		query := `
			INSERT INTO cached_invoices (` + invoiceColumns + `)
			VALUES (
				:id, :owner_id, :remote_id, :customer_id, :remote_customer_id,
				:invoice_number, :total_cents, :due_cents, :currency, :due_date, :status,
				:content_hash, :remote_updated_at, :local_last_synced_at,
				:reminders_created, :created_at, :updated_at
			)
			ON CONFLICT (owner_id, remote_id) DO NOTHING
		`
		res, err := r.db.NamedExecContext(ctx, query, invoice)
		if err != nil {
			return "", nil, fmt.Errorf("failed to insert cached invoice: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return "", nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			// Lost an insert race with a concurrent run. Return the winning
			// row so downstream scheduling sees an id that actually exists.
			winner, err := r.GetByRemoteID(ctx, invoice.OwnerID, invoice.RemoteID)
			if err != nil {
				return "", nil, fmt.Errorf("failed to load invoice after insert race: %w", err)
			}
			return model.UpsertUnchanged, winner, nil
		}
		return model.UpsertInserted, invoice, nil
	}

	if existing.ContentHash == invoice.ContentHash {
		if err := r.touchSyncTime(ctx, existing.ID, now); err != nil {
			return "", nil, err
		}
		existing.LocalLastSyncedAt = now
		return model.UpsertUnchanged, existing, nil
	}

	query := `
		UPDATE cached_invoices
		SET customer_id = COALESCE($1, customer_id), remote_customer_id = $2,
			invoice_number = $3, total_cents = $4, due_cents = $5,
			currency = $6, due_date = $7, status = $8, content_hash = $9,
			remote_updated_at = $10, local_last_synced_at = $11, updated_at = $11
		WHERE id = $12
	`
	if _, err := r.db.ExecContext(ctx, query,
		invoice.CustomerID,
		invoice.RemoteCustomerID,
		invoice.InvoiceNumber,
		invoice.TotalCents,
		invoice.DueCents,
		invoice.Currency,
		invoice.DueDate,
		invoice.Status,
		invoice.ContentHash,
		invoice.RemoteUpdatedAt,
		now,
		existing.ID,
	); err != nil {
		return "", nil, fmt.Errorf("failed to update cached invoice: %w", err)
	}

	invoice.ID = existing.ID
	invoice.CreatedAt = existing.CreatedAt
	invoice.UpdatedAt = now
	invoice.LocalLastSyncedAt = now
	if invoice.CustomerID == nil {
		invoice.CustomerID = existing.CustomerID
	}
	// The gate survives updates; a due-date change never regenerates the
	// schedule.
	invoice.RemindersCreated = existing.RemindersCreated
	return model.UpsertUpdated, invoice, nil
}

func (r *invoiceRepository) touchSyncTime(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE cached_invoices SET local_last_synced_at = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to touch invoice sync time: %w", err)
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id uuid.UUID) (*model.CachedInvoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM cached_invoices WHERE id = $1`
	var invoice model.CachedInvoice
	err := r.db.GetContext(ctx, &invoice, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("cached invoice not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached invoice: %w", err)
	}
	return &invoice, nil
}

func (r *invoiceRepository) GetByRemoteID(ctx context.Context, ownerID uuid.UUID, remoteID string) (*model.CachedInvoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM cached_invoices WHERE owner_id = $1 AND remote_id = $2`
	var invoice model.CachedInvoice
	err := r.db.GetContext(ctx, &invoice, query, ownerID, remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("cached invoice not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached invoice by remote id: %w", err)
	}
	return &invoice, nil
}

// LinkToCustomer attaches any invoices still referencing the remote customer
// id without a resolved customer row. Zero rows affected is expected when
// invoices synced after their customer.
func (r *invoiceRepository) LinkToCustomer(ctx context.Context, ownerID uuid.UUID, remoteCustomerID string, customerID uuid.UUID) error {
	query := `
		UPDATE cached_invoices
		SET customer_id = $1, updated_at = $2
		WHERE owner_id = $3 AND remote_customer_id = $4 AND customer_id IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, customerID, time.Now(), ownerID, remoteCustomerID); err != nil {
		return fmt.Errorf("failed to link invoices to customer: %w", err)
	}
	return nil
}

func (r *invoiceRepository) MarkRemindersCreated(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE cached_invoices SET reminders_created = TRUE, updated_at = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark reminders created: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("cached invoice not found", nil)
	}
	return nil
}
