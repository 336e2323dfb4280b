package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"
	"github.com/duespark/collector-api/pkg/metrics"

	"github.com/duespark/collector-api/internal/model"
	"github.com/duespark/collector-api/internal/notifier"
	"github.com/duespark/collector-api/internal/repository"
)

type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	SendTimeout   time.Duration
	RatePerSecond float64
	RateBurst     int
}

// Dispatcher pulls due reminders and pushes them through a channel
// provider, respecting the owner's call window, retry ceiling and backoff.
// Reminders are processed sequentially within an owner to keep the
// earliest-first ordering; owners run in parallel since no invariant
// crosses them.
type Dispatcher struct {
	reminders repository.ReminderRepository
	invoices  repository.InvoiceRepository
	customers repository.CustomerRepository
	policies  repository.PolicyRepository
	sms       notifier.SMSSender
	voice     notifier.VoiceDialer

	policyCache *cache.Cache
	limiter     *rate.Limiter
	config      Config
	logger      *logger.Logger
	metrics     *metrics.Metrics

	// now is swappable for tests.
	now func() time.Time
}

func NewDispatcher(
	reminders repository.ReminderRepository,
	invoices repository.InvoiceRepository,
	customers repository.CustomerRepository,
	policies repository.PolicyRepository,
	sms notifier.SMSSender,
	voice notifier.VoiceDialer,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Dispatcher {
	// Config validation instead of defaults
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 15 * time.Second
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 10
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 5
	}

	return &Dispatcher{
		reminders:   reminders,
		invoices:    invoices,
		customers:   customers,
		policies:    policies,
		sms:         sms,
		voice:       voice,
		policyCache: cache.New(5*time.Minute, 10*time.Minute),
		limiter:     rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RateBurst),
		config:      config,
		logger:      logger.WithFields(map[string]interface{}{"component": "dispatcher"}),
		metrics:     metrics,
		now:         time.Now,
	}
}

// Start polls for due reminders until the context is cancelled. Each tick's
// batch summary is handed to onResult, which may be nil.
func (d *Dispatcher) Start(ctx context.Context, onResult func(*model.DispatchResult)) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("Starting dispatcher")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutting down dispatcher")
			return
		case <-ticker.C:
			result, err := d.RunOnce(ctx)
			if err != nil {
				d.logger.Error(err, "Failed to run dispatch batch")
				continue
			}
			if onResult != nil {
				onResult(result)
			}
		}
	}
}

// RunOnce processes one batch of due reminders and returns the batch
// summary. Per-reminder failures never abort the batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (*model.DispatchResult, error) {
	timer := prometheus.NewTimer(d.metrics.DispatchDuration)
	defer timer.ObserveDuration()

	due, err := d.reminders.ListDue(ctx, d.now(), d.config.BatchSize)
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("list_due_reminders", "error").Inc()
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("list_due_reminders", "success").Inc()

	result := &model.DispatchResult{}
	if len(due) == 0 {
		return result, nil
	}

	// Partition by owner, preserving the scheduled_for ordering inside
	// each partition.
	owners := make([]uuid.UUID, 0)
	byOwner := make(map[uuid.UUID][]*model.ReminderInstance)
	for _, r := range due {
		if _, seen := byOwner[r.OwnerID]; !seen {
			owners = append(owners, r.OwnerID)
		}
		byOwner[r.OwnerID] = append(byOwner[r.OwnerID], r)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, ownerID := range owners {
		wg.Add(1)
		go func(ownerID uuid.UUID, batch []*model.ReminderInstance) {
			defer wg.Done()
			ownerResult := d.processOwner(ctx, ownerID, batch)
			mu.Lock()
			mergeDispatchResults(result, ownerResult)
			mu.Unlock()
		}(ownerID, byOwner[ownerID])
	}
	wg.Wait()

	if result.Processed > 0 || result.OwnersSkipped > 0 {
		d.logger.Info("dispatch run finished",
			"processed", result.Processed,
			"sent", result.Sent,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"retried", result.Retried,
			"deferred", result.Deferred,
			"owners_skipped", result.OwnersSkipped,
		)
	}
	return result, nil
}

func (d *Dispatcher) processOwner(ctx context.Context, ownerID uuid.UUID, batch []*model.ReminderInstance) *model.DispatchResult {
	result := &model.DispatchResult{}

	cfg, err := d.policyFor(ctx, ownerID)
	if err != nil {
		// Either way the owner's reminders stay pending for this run, but a
		// transient lookup fault is an error, not missing configuration.
		if apperrors.IsKind(err, apperrors.KindConfig) || apperrors.IsNotFound(err) {
			d.logger.Warn("skipping owner without usable policy", "owner_id", ownerID.String())
			result.OwnersSkipped++
		} else {
			d.logger.Error(err, "failed to load owner policy", "owner_id", ownerID.String())
		}
		result.AddError(fmt.Errorf("owner %s: %w", ownerID, err))
		return result
	}

	for _, r := range batch {
		if ctx.Err() != nil {
			return result
		}
		result.Processed++
		outcome := d.processReminder(ctx, r, cfg)
		switch outcome {
		case outcomeSent:
			result.Sent++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
		case outcomeRetried:
			result.Retried++
		case outcomeDeferred:
			result.Deferred++
			d.metrics.RemindersDeferred.Inc()
			continue
		case outcomeError:
			result.AddError(fmt.Errorf("reminder %s: processing error", r.ID))
		}
		d.metrics.RemindersProcessed.WithLabelValues(string(outcome)).Inc()
	}
	return result
}

type outcomeLabel string

const (
	outcomeSent     outcomeLabel = "sent"
	outcomeSkipped  outcomeLabel = "skipped"
	outcomeFailed   outcomeLabel = "failed"
	outcomeRetried  outcomeLabel = "retried"
	outcomeDeferred outcomeLabel = "deferred"
	outcomeError    outcomeLabel = "error"
)

func (d *Dispatcher) processReminder(ctx context.Context, r *model.ReminderInstance, cfg *model.ReminderPolicyConfig) outcomeLabel {
	now := d.now()

	invoice, err := d.invoices.Get(ctx, r.InvoiceID)
	if err != nil {
		d.logger.Error(err, "failed to load invoice for reminder", "reminder_id", r.ID.String())
		return outcomeError
	}

	if !invoice.Status.Collectible() {
		return d.skip(ctx, r, model.SkipReasonInvoiceSettled, fmt.Sprintf("invoice status is %s", invoice.Status), now)
	}

	phone, customerName := d.resolveRecipient(ctx, invoice)
	if phone == "" {
		return d.skip(ctx, r, model.SkipReasonMissingPhone, "customer has no resolvable phone number", now)
	}

	if r.AttemptCount >= cfg.MaxRetryAttempts {
		return d.skip(ctx, r, model.SkipReasonRetryCeiling,
			fmt.Sprintf("attempt count %d reached limit %d", r.AttemptCount, cfg.MaxRetryAttempts), now)
	}

	inWindow, err := InWindow(now, cfg)
	if err != nil {
		d.logger.Error(err, "failed to evaluate call window", "owner_id", r.OwnerID.String())
		return outcomeError
	}
	if !inWindow {
		// Deferred, not dropped: the reminder stays pending untouched and
		// the next run re-evaluates with a fresh "now".
		return outcomeDeferred
	}

	channel := SelectChannel(r.Type, cfg)
	call := notifier.CallContext{
		Phone:         phone,
		CustomerName:  customerName,
		InvoiceNumber: invoice.InvoiceNumber,
		DueCents:      invoice.DueCents,
		Currency:      invoice.Currency,
		DueDate:       invoice.DueDate,
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return outcomeError
	}

	ref, timedOut, err := d.send(ctx, channel, call)
	if timedOut {
		// A timeout is not proof of non-delivery, so the attempt is not
		// counted and the reminder stays pending for the next run.
		d.logger.Warn("send timed out, leaving reminder pending",
			"reminder_id", r.ID.String(), "channel", string(channel))
		return outcomeDeferred
	}
	if err != nil {
		return d.handleRejection(ctx, r, cfg, channel, err, now)
	}

	acceptedStatus := model.ReminderStatusQueued
	if channel == model.ChannelVoice {
		acceptedStatus = model.ReminderStatusInProgress
	}
	if err := d.reminders.MarkDispatched(ctx, r.ID, acceptedStatus, channel, ref, now); err != nil {
		d.logger.Error(err, "failed to mark reminder dispatched", "reminder_id", r.ID.String())
		return outcomeError
	}

	d.logger.Info("reminder dispatched",
		"reminder_id", r.ID.String(),
		"channel", string(channel),
		"provider_ref", ref,
	)
	return outcomeSent
}

func (d *Dispatcher) send(ctx context.Context, channel model.Channel, call notifier.CallContext) (string, bool, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	timer := prometheus.NewTimer(d.metrics.SendLatency.WithLabelValues(string(channel)))
	defer timer.ObserveDuration()

	type sendResult struct {
		ref string
		err error
	}
	done := make(chan sendResult, 1)
	go func() {
		var res sendResult
		if channel == model.ChannelVoice {
			res.ref, res.err = d.voice.DispatchCall(sendCtx, call)
		} else {
			res.ref, res.err = d.sms.SendSMS(sendCtx, call)
		}
		done <- res
	}()

	select {
	case <-sendCtx.Done():
		return "", true, sendCtx.Err()
	case res := <-done:
		return res.ref, false, res.err
	}
}

// handleRejection applies the retry policy to a synchronous provider
// rejection: below the ceiling the schedule is pushed out by the linear
// backoff and the reminder stays pending; at the ceiling it is terminal.
func (d *Dispatcher) handleRejection(ctx context.Context, r *model.ReminderInstance, cfg *model.ReminderPolicyConfig, channel model.Channel, sendErr error, now time.Time) outcomeLabel {
	outcome := model.NewOutcome("send_failed", sendErr.Error(), now)

	if r.AttemptCount+1 >= cfg.MaxRetryAttempts {
		if err := d.reminders.MarkFailed(ctx, r.ID, outcome); err != nil {
			d.logger.Error(err, "failed to mark reminder failed", "reminder_id", r.ID.String())
			return outcomeError
		}
		d.logger.Error(sendErr, "reminder failed at retry ceiling",
			"reminder_id", r.ID.String(), "channel", string(channel), "attempts", r.AttemptCount+1)
		return outcomeFailed
	}

	next := now.Add(cfg.RetryDelay())
	if err := d.reminders.RescheduleAfterRejection(ctx, r.ID, next, outcome, now); err != nil {
		d.logger.Error(err, "failed to reschedule reminder", "reminder_id", r.ID.String())
		return outcomeError
	}
	d.logger.Warn("send rejected, reminder rescheduled",
		"reminder_id", r.ID.String(),
		"channel", string(channel),
		"next_attempt", next.Format(time.RFC3339),
		"error_kind", apperrors.KindOf(sendErr).String(),
	)
	return outcomeRetried
}

func (d *Dispatcher) skip(ctx context.Context, r *model.ReminderInstance, code, message string, now time.Time) outcomeLabel {
	if err := d.reminders.MarkSkipped(ctx, r.ID, model.NewOutcome(code, message, now)); err != nil {
		d.logger.Error(err, "failed to mark reminder skipped", "reminder_id", r.ID.String())
		return outcomeError
	}
	d.logger.Info("reminder skipped", "reminder_id", r.ID.String(), "reason", code)
	return outcomeSkipped
}

func (d *Dispatcher) resolveRecipient(ctx context.Context, invoice *model.CachedInvoice) (phone, name string) {
	if invoice.CustomerID == nil {
		return "", ""
	}
	customer, err := d.customers.Get(ctx, *invoice.CustomerID)
	if err != nil {
		d.logger.Error(err, "failed to load customer for invoice", "invoice_id", invoice.ID.String())
		return "", ""
	}
	if customer.PrimaryPhone == nil {
		return "", customer.DisplayName
	}
	return *customer.PrimaryPhone, customer.DisplayName
}

func (d *Dispatcher) policyFor(ctx context.Context, ownerID uuid.UUID) (*model.ReminderPolicyConfig, error) {
	key := ownerID.String()
	if cached, ok := d.policyCache.Get(key); ok {
		return cached.(*model.ReminderPolicyConfig), nil
	}
	cfg, err := d.policies.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	d.policyCache.Set(key, cfg, cache.DefaultExpiration)
	return cfg, nil
}

func mergeDispatchResults(dst, src *model.DispatchResult) {
	dst.Processed += src.Processed
	dst.Sent += src.Sent
	dst.Skipped += src.Skipped
	dst.Failed += src.Failed
	dst.Retried += src.Retried
	dst.Deferred += src.Deferred
	dst.OwnersSkipped += src.OwnersSkipped
	dst.Errors = append(dst.Errors, src.Errors...)
}
