package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/duespark/collector-api/internal/model"
)

// All repository interfaces in one file
type (
	// CustomerRepository handles the cached customer side of the entity cache
	CustomerRepository interface {
		Upsert(ctx context.Context, customer *model.CachedCustomer) (model.UpsertOutcome, *model.CachedCustomer, error)
		Get(ctx context.Context, id uuid.UUID) (*model.CachedCustomer, error)
		GetByRemoteID(ctx context.Context, ownerID uuid.UUID, remoteID string) (*model.CachedCustomer, error)
	}

	// InvoiceRepository handles the cached invoice side of the entity cache
	InvoiceRepository interface {
		Upsert(ctx context.Context, invoice *model.CachedInvoice) (model.UpsertOutcome, *model.CachedInvoice, error)
		Get(ctx context.Context, id uuid.UUID) (*model.CachedInvoice, error)
		GetByRemoteID(ctx context.Context, ownerID uuid.UUID, remoteID string) (*model.CachedInvoice, error)
		// LinkToCustomer attaches unlinked invoices referencing the remote
		// customer id. Best-effort: zero rows linked is not an error.
		LinkToCustomer(ctx context.Context, ownerID uuid.UUID, remoteCustomerID string, customerID uuid.UUID) error
		MarkRemindersCreated(ctx context.Context, id uuid.UUID) error
	}

	ReminderRepository interface {
		Insert(ctx context.Context, reminder *model.ReminderInstance) error
		Get(ctx context.Context, id uuid.UUID) (*model.ReminderInstance, error)
		ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*model.ReminderInstance, error)
		// ListDue returns pending reminders with scheduled_for <= now,
		// ordered by scheduled_for ascending.
		ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ReminderInstance, error)
		GetByProviderRef(ctx context.Context, providerRef string) (*model.ReminderInstance, error)

		// MarkDispatched records a synchronous provider acceptance.
		MarkDispatched(ctx context.Context, id uuid.UUID, status model.ReminderStatus, channel model.Channel, providerRef string, at time.Time) error
		MarkSkipped(ctx context.Context, id uuid.UUID, outcome *model.Outcome) error
		MarkFailed(ctx context.Context, id uuid.UUID, outcome *model.Outcome) error
		// RescheduleAfterRejection advances the schedule by the retry delay
		// and increments the attempt count, leaving the reminder pending.
		RescheduleAfterRejection(ctx context.Context, id uuid.UUID, scheduledFor time.Time, outcome *model.Outcome, at time.Time) error
		// UpdateDeliveryStatus applies an asynchronous callback outcome.
		UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status model.ReminderStatus, outcome *model.Outcome, at time.Time) error
	}

	// PolicyRepository is read-only access to per-owner reminder policy
	PolicyRepository interface {
		GetByOwner(ctx context.Context, ownerID uuid.UUID) (*model.ReminderPolicyConfig, error)
		ListOwnerIDs(ctx context.Context) ([]uuid.UUID, error)
	}

	SyncRunRepository interface {
		Create(ctx context.Context, run *model.SyncRun) error
		Finish(ctx context.Context, run *model.SyncRun) error
		GetLastCompleted(ctx context.Context, ownerID uuid.UUID) (*model.SyncRun, error)
	}
)
