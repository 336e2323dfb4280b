package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"
	"github.com/duespark/collector-api/pkg/metrics"

	"github.com/duespark/collector-api/internal/accounting"
	"github.com/duespark/collector-api/internal/model"
	"github.com/duespark/collector-api/internal/repository"
)

const defaultPageSize = 200

// Source pages records out of the remote accounting API.
type Source interface {
	ListCustomers(ctx context.Context, ownerID uuid.UUID, page, pageSize int, since *time.Time) (*accounting.CustomerPage, error)
	ListInvoices(ctx context.Context, ownerID uuid.UUID, page, pageSize int, since *time.Time) (*accounting.InvoicePage, error)
}

// Scheduler generates the reminder schedule for a freshly observed invoice.
type Scheduler interface {
	EnsureReminders(ctx context.Context, invoice *model.CachedInvoice, cfg *model.ReminderPolicyConfig) (int, error)
}

// Orchestrator mirrors remote customers and invoices into the local cache
// and feeds new or changed invoices to the reminder scheduler.
type Orchestrator struct {
	source    Source
	customers repository.CustomerRepository
	invoices  repository.InvoiceRepository
	policies  repository.PolicyRepository
	runs      repository.SyncRunRepository
	scheduler Scheduler
	logger    *logger.Logger
	metrics   *metrics.Metrics
	pageSize  int
}

func NewOrchestrator(
	source Source,
	customers repository.CustomerRepository,
	invoices repository.InvoiceRepository,
	policies repository.PolicyRepository,
	runs repository.SyncRunRepository,
	scheduler Scheduler,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		source:    source,
		customers: customers,
		invoices:  invoices,
		policies:  policies,
		runs:      runs,
		scheduler: scheduler,
		logger:    logger.WithFields(map[string]interface{}{"component": "sync"}),
		metrics:   metrics,
		pageSize:  defaultPageSize,
	}
}

// SetPageSize overrides the source page size; values <= 0 keep the default.
func (o *Orchestrator) SetPageSize(n int) {
	if n > 0 {
		o.pageSize = n
	}
}

// SyncOwner runs one incremental sync for a single owner: customers first so
// invoices can link, then invoices. Per-record failures are collected in the
// result; only a first-page failure against the source is returned as an
// error.
func (o *Orchestrator) SyncOwner(ctx context.Context, ownerID uuid.UUID) (*model.SyncResult, error) {
	timer := prometheus.NewTimer(o.metrics.SyncRunDuration)
	defer timer.ObserveDuration()

	since := o.sinceCursor(ctx, ownerID)

	run := &model.SyncRun{OwnerID: ownerID, StartedAt: time.Now()}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record sync run: %w", err)
	}

	result := &model.SyncResult{}

	cfg, err := o.policies.GetByOwner(ctx, ownerID)
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindConfig {
			o.finishRun(ctx, run, result, err)
			return nil, err
		}
		// Sync still proceeds without a policy; only scheduling is skipped.
		o.logger.Warn("owner has no reminder policy, skipping schedule generation", "owner_id", ownerID.String())
		result.AddError(err)
		cfg = nil
	}

	if err := o.syncCustomers(ctx, ownerID, since, result); err != nil {
		o.finishRun(ctx, run, result, err)
		return nil, err
	}
	if err := o.syncInvoices(ctx, ownerID, since, cfg, result); err != nil {
		o.finishRun(ctx, run, result, err)
		return nil, err
	}

	o.finishRun(ctx, run, result, nil)
	o.logger.Info("sync run finished",
		"owner_id", ownerID.String(),
		"fetched", result.Fetched,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"errors", len(result.Errors),
	)
	return result, nil
}

// sinceCursor anchors the incremental window on the previous completed
// run's start, so records modified during that run are re-fetched rather
// than missed.
func (o *Orchestrator) sinceCursor(ctx context.Context, ownerID uuid.UUID) *time.Time {
	last, err := o.runs.GetLastCompleted(ctx, ownerID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			o.logger.Error(err, "failed to load last sync run, falling back to full sync", "owner_id", ownerID.String())
		}
		return nil
	}
	return &last.StartedAt
}

func (o *Orchestrator) finishRun(ctx context.Context, run *model.SyncRun, result *model.SyncResult, fatal error) {
	run.Status = model.SyncRunStatusCompleted
	if result.PageAborted {
		// A lost page means unseen records; only fully paged runs may
		// anchor the next incremental cursor.
		run.Status = model.SyncRunStatusPartial
	}
	if fatal != nil {
		run.Status = model.SyncRunStatusFailed
		msg := fatal.Error()
		run.LastError = &msg
	} else if len(result.Errors) > 0 {
		last := result.Errors[len(result.Errors)-1]
		run.LastError = &last
	}
	run.Fetched = result.Fetched
	run.Inserted = result.Inserted
	run.Updated = result.Updated
	run.Unchanged = result.Unchanged
	run.ErrorCount = len(result.Errors)

	if err := o.runs.Finish(ctx, run); err != nil {
		o.logger.Error(err, "failed to finish sync run", "run_id", run.ID.String())
	}
}

func (o *Orchestrator) syncCustomers(ctx context.Context, ownerID uuid.UUID, since *time.Time, result *model.SyncResult) error {
	page := 1
	for {
		records, hasMore, err := o.fetchCustomerPage(ctx, ownerID, page, since)
		if err != nil {
			if page == 1 {
				return fmt.Errorf("failed to fetch first customer page: %w", err)
			}
			// Later pages abort the remainder of this run only. The run
			// finishes as partial, so the cursor stays behind the gap and
			// the lost pages are re-fetched next run.
			o.logger.Error(err, "customer page fetch failed, aborting remaining pages", "owner_id", ownerID.String(), "page", page)
			result.AddError(err)
			result.PageAborted = true
			return nil
		}

		for i := range records {
			result.Fetched++
			o.metrics.SyncRecordsFetched.WithLabelValues("customer").Inc()
			outcome, err := o.upsertCustomer(ctx, ownerID, &records[i])
			if err != nil {
				o.metrics.SyncRecordErrors.WithLabelValues("customer").Inc()
				result.AddError(fmt.Errorf("customer %s: %w", records[i].ID, err))
				continue
			}
			result.Record(outcome)
			o.countOutcome("customer", outcome)
		}

		if !hasMore {
			return nil
		}
		page++
	}
}

func (o *Orchestrator) fetchCustomerPage(ctx context.Context, ownerID uuid.UUID, page int, since *time.Time) ([]accounting.Customer, bool, error) {
	p, err := o.source.ListCustomers(ctx, ownerID, page, o.pageSize, since)
	if err != nil {
		return nil, false, err
	}
	return p.Records, p.HasMore, nil
}

func (o *Orchestrator) upsertCustomer(ctx context.Context, ownerID uuid.UUID, remote *accounting.Customer) (model.UpsertOutcome, error) {
	phone := ResolvePhone(remote)
	email := ResolveEmail(remote)

	var resolvedPhone, resolvedEmail string
	if phone != nil {
		resolvedPhone = *phone
	}
	if email != nil {
		resolvedEmail = *email
	}

	contactsRaw, err := json.Marshal(remote.ContactPersons)
	if err != nil {
		return "", apperrors.Data("failed to serialize contact persons", err)
	}

	cached := &model.CachedCustomer{
		OwnerID:         ownerID,
		RemoteID:        remote.ID,
		DisplayName:     remote.DisplayName,
		CompanyName:     remote.CompanyName,
		PrimaryPhone:    phone,
		PrimaryEmail:    email,
		ContactsRaw:     contactsRaw,
		RemoteUpdatedAt: remote.UpdatedAt,
		ContentHash:     HashCustomer(remote, resolvedPhone, resolvedEmail),
	}

	outcome, saved, err := o.customers.Upsert(ctx, cached)
	if err != nil {
		return "", err
	}

	if outcome == model.UpsertInserted {
		// Invoices observed before their customer stay unlinked until now.
		if err := o.invoices.LinkToCustomer(ctx, ownerID, remote.ID, saved.ID); err != nil {
			o.logger.Error(err, "failed to link invoices to customer", "customer_id", saved.ID.String())
		}
	}
	return outcome, nil
}

func (o *Orchestrator) syncInvoices(ctx context.Context, ownerID uuid.UUID, since *time.Time, cfg *model.ReminderPolicyConfig, result *model.SyncResult) error {
	page := 1
	for {
		p, err := o.source.ListInvoices(ctx, ownerID, page, o.pageSize, since)
		if err != nil {
			if page == 1 {
				return fmt.Errorf("failed to fetch first invoice page: %w", err)
			}
			o.logger.Error(err, "invoice page fetch failed, aborting remaining pages", "owner_id", ownerID.String(), "page", page)
			result.AddError(err)
			result.PageAborted = true
			return nil
		}

		for i := range p.Records {
			result.Fetched++
			o.metrics.SyncRecordsFetched.WithLabelValues("invoice").Inc()
			outcome, err := o.upsertInvoice(ctx, ownerID, &p.Records[i], cfg)
			if err != nil {
				o.metrics.SyncRecordErrors.WithLabelValues("invoice").Inc()
				result.AddError(fmt.Errorf("invoice %s: %w", p.Records[i].ID, err))
				continue
			}
			result.Record(outcome)
			o.countOutcome("invoice", outcome)
		}

		if !p.HasMore {
			return nil
		}
		page++
	}
}

func (o *Orchestrator) upsertInvoice(ctx context.Context, ownerID uuid.UUID, remote *accounting.Invoice, cfg *model.ReminderPolicyConfig) (model.UpsertOutcome, error) {
	if remote.DueDate.IsZero() {
		return "", apperrors.Data("invoice has no due date", nil)
	}
	status, err := mapInvoiceStatus(remote.Status)
	if err != nil {
		return "", err
	}

	cached := &model.CachedInvoice{
		OwnerID:          ownerID,
		RemoteID:         remote.ID,
		RemoteCustomerID: remote.CustomerID,
		InvoiceNumber:    remote.Number,
		TotalCents:       remote.TotalCents,
		DueCents:         remote.DueCents,
		Currency:         remote.Currency,
		DueDate:          remote.DueDate,
		Status:           status,
		RemoteUpdatedAt:  remote.UpdatedAt,
		ContentHash:      HashInvoice(remote),
	}

	// Best-effort customer link; the invoice stays unlinked when the
	// customer has not synced yet.
	if customer, err := o.customers.GetByRemoteID(ctx, ownerID, remote.CustomerID); err == nil {
		cached.CustomerID = &customer.ID
	} else if !apperrors.IsNotFound(err) {
		return "", err
	}

	outcome, saved, err := o.invoices.Upsert(ctx, cached)
	if err != nil {
		return "", err
	}

	if outcome == model.UpsertUpdated && saved.RemindersCreated {
		o.logger.Warn("invoice changed after reminders were generated, schedule left untouched",
			"invoice_id", saved.ID.String(), "due_date", saved.DueDate.Format(time.RFC3339))
	}

	if cfg != nil && saved.Status.Collectible() && !saved.RemindersCreated {
		if _, err := o.scheduler.EnsureReminders(ctx, saved, cfg); err != nil {
			return "", fmt.Errorf("failed to schedule reminders: %w", err)
		}
	}
	return outcome, nil
}

func (o *Orchestrator) countOutcome(entity string, outcome model.UpsertOutcome) {
	switch outcome {
	case model.UpsertInserted:
		o.metrics.SyncRecordsInserted.WithLabelValues(entity).Inc()
	case model.UpsertUpdated:
		o.metrics.SyncRecordsUpdated.WithLabelValues(entity).Inc()
	case model.UpsertUnchanged:
		o.metrics.SyncRecordsUnchanged.WithLabelValues(entity).Inc()
	}
}

func mapInvoiceStatus(s string) (model.InvoiceStatus, error) {
	switch model.InvoiceStatus(s) {
	case model.InvoiceStatusUnpaid, model.InvoiceStatusPartiallyPaid, model.InvoiceStatusPaid, model.InvoiceStatusVoid:
		return model.InvoiceStatus(s), nil
	default:
		return "", apperrors.Data(fmt.Sprintf("unknown invoice status %q", s), nil)
	}
}
