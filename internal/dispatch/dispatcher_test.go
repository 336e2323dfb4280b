package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duespark/collector-api/internal/model"
	"github.com/duespark/collector-api/internal/notifier"
	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"
	"github.com/duespark/collector-api/pkg/metrics"
)

// mondayNoon is 2026-06-15 12:00 UTC, inside the default 09:00-18:00
// weekday window.
var mondayNoon = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type memReminderRepo struct {
	byID map[uuid.UUID]*model.ReminderInstance
}

func newMemReminderRepo() *memReminderRepo {
	return &memReminderRepo{byID: make(map[uuid.UUID]*model.ReminderInstance)}
}

func (s *memReminderRepo) add(r *model.ReminderInstance) *model.ReminderInstance {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = model.ReminderStatusPending
	}
	s.byID[r.ID] = r
	return r
}

func (s *memReminderRepo) Insert(_ context.Context, r *model.ReminderInstance) error {
	s.add(r)
	return nil
}

func (s *memReminderRepo) Get(_ context.Context, id uuid.UUID) (*model.ReminderInstance, error) {
	if r, ok := s.byID[id]; ok {
		return r, nil
	}
	return nil, apperrors.NotFound("reminder not found", nil)
}

func (s *memReminderRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*model.ReminderInstance, error) {
	var out []*model.ReminderInstance
	for _, r := range s.byID {
		if r.InvoiceID == invoiceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memReminderRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*model.ReminderInstance, error) {
	var out []*model.ReminderInstance
	for _, r := range s.byID {
		if r.Status == model.ReminderStatusPending && !r.ScheduledFor.After(now) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memReminderRepo) GetByProviderRef(_ context.Context, ref string) (*model.ReminderInstance, error) {
	for _, r := range s.byID {
		if r.ProviderRef != nil && *r.ProviderRef == ref {
			return r, nil
		}
	}
	return nil, apperrors.NotFound("reminder not found", nil)
}

func (s *memReminderRepo) MarkDispatched(_ context.Context, id uuid.UUID, status model.ReminderStatus, channel model.Channel, ref string, at time.Time) error {
	r := s.byID[id]
	r.Status = status
	r.Channel = &channel
	r.ProviderRef = &ref
	r.AttemptCount++
	r.LastAttemptAt = &at
	return nil
}

func (s *memReminderRepo) MarkSkipped(_ context.Context, id uuid.UUID, outcome *model.Outcome) error {
	r := s.byID[id]
	r.Status = model.ReminderStatusSkipped
	r.Outcome = outcome.Marshal()
	return nil
}

func (s *memReminderRepo) MarkFailed(_ context.Context, id uuid.UUID, outcome *model.Outcome) error {
	r := s.byID[id]
	r.Status = model.ReminderStatusFailed
	r.Outcome = outcome.Marshal()
	return nil
}

func (s *memReminderRepo) RescheduleAfterRejection(_ context.Context, id uuid.UUID, scheduledFor time.Time, outcome *model.Outcome, at time.Time) error {
	r := s.byID[id]
	r.ScheduledFor = scheduledFor
	r.AttemptCount++
	r.LastAttemptAt = &at
	r.Outcome = outcome.Marshal()
	return nil
}

func (s *memReminderRepo) UpdateDeliveryStatus(_ context.Context, id uuid.UUID, status model.ReminderStatus, outcome *model.Outcome, at time.Time) error {
	r := s.byID[id]
	r.Status = status
	if outcome != nil {
		r.Outcome = outcome.Marshal()
	}
	r.LastAttemptAt = &at
	return nil
}

type memInvoiceRepo struct {
	byID map[uuid.UUID]*model.CachedInvoice
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{byID: make(map[uuid.UUID]*model.CachedInvoice)}
}

func (s *memInvoiceRepo) add(inv *model.CachedInvoice) *model.CachedInvoice {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	s.byID[inv.ID] = inv
	return inv
}

func (s *memInvoiceRepo) Upsert(_ context.Context, inv *model.CachedInvoice) (model.UpsertOutcome, *model.CachedInvoice, error) {
	return model.UpsertInserted, s.add(inv), nil
}

func (s *memInvoiceRepo) Get(_ context.Context, id uuid.UUID) (*model.CachedInvoice, error) {
	if inv, ok := s.byID[id]; ok {
		return inv, nil
	}
	return nil, apperrors.NotFound("invoice not found", nil)
}

func (s *memInvoiceRepo) GetByRemoteID(_ context.Context, _ uuid.UUID, _ string) (*model.CachedInvoice, error) {
	return nil, apperrors.NotFound("invoice not found", nil)
}

func (s *memInvoiceRepo) LinkToCustomer(_ context.Context, _ uuid.UUID, _ string, _ uuid.UUID) error {
	return nil
}

func (s *memInvoiceRepo) MarkRemindersCreated(_ context.Context, id uuid.UUID) error {
	if inv, ok := s.byID[id]; ok {
		inv.RemindersCreated = true
		return nil
	}
	return apperrors.NotFound("invoice not found", nil)
}

type memCustomerRepo struct {
	byID map[uuid.UUID]*model.CachedCustomer
}

func newMemCustomerRepo() *memCustomerRepo {
	return &memCustomerRepo{byID: make(map[uuid.UUID]*model.CachedCustomer)}
}

func (s *memCustomerRepo) add(c *model.CachedCustomer) *model.CachedCustomer {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.byID[c.ID] = c
	return c
}

func (s *memCustomerRepo) Upsert(_ context.Context, c *model.CachedCustomer) (model.UpsertOutcome, *model.CachedCustomer, error) {
	return model.UpsertInserted, s.add(c), nil
}

func (s *memCustomerRepo) Get(_ context.Context, id uuid.UUID) (*model.CachedCustomer, error) {
	if c, ok := s.byID[id]; ok {
		return c, nil
	}
	return nil, apperrors.NotFound("customer not found", nil)
}

func (s *memCustomerRepo) GetByRemoteID(_ context.Context, _ uuid.UUID, _ string) (*model.CachedCustomer, error) {
	return nil, apperrors.NotFound("customer not found", nil)
}

type memPolicyRepo struct {
	byOwner map[uuid.UUID]*model.ReminderPolicyConfig
	err     error
}

func (s *memPolicyRepo) GetByOwner(_ context.Context, ownerID uuid.UUID) (*model.ReminderPolicyConfig, error) {
	if s.err != nil {
		return nil, s.err
	}
	if cfg, ok := s.byOwner[ownerID]; ok {
		return cfg, nil
	}
	return nil, apperrors.Config("reminder policy not configured for owner", nil)
}

func (s *memPolicyRepo) ListOwnerIDs(_ context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id := range s.byOwner {
		out = append(out, id)
	}
	return out, nil
}

type fakeSender struct {
	ref   string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls []notifier.CallContext
}

func (f *fakeSender) SendSMS(ctx context.Context, call notifier.CallContext) (string, error) {
	return f.dispatch(ctx, call)
}

func (f *fakeSender) DispatchCall(ctx context.Context, call notifier.CallContext) (string, error) {
	return f.dispatch(ctx, call)
}

func (f *fakeSender) dispatch(ctx context.Context, call notifier.CallContext) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	n := len(f.calls)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.ref == "" {
		return fmt.Sprintf("ref-%d", n), nil
	}
	return f.ref, nil
}

type dispatchFixture struct {
	reminders *memReminderRepo
	invoices  *memInvoiceRepo
	customers *memCustomerRepo
	policies  *memPolicyRepo
	sms       *fakeSender
	voice     *fakeSender
	d         *Dispatcher
	ownerID   uuid.UUID
}

func dispatchPolicy() *model.ReminderPolicyConfig {
	return &model.ReminderPolicyConfig{
		Timezone:         "UTC",
		CallWindowStart:  "09:00",
		CallWindowEnd:    "18:00",
		CallDays:         pq.Int64Array{1, 2, 3, 4, 5},
		MaxRetryAttempts: 3,
		RetryDelayHours:  2,
	}
}

func newDispatchFixture(t *testing.T, cfg *model.ReminderPolicyConfig) *dispatchFixture {
	t.Helper()

	f := &dispatchFixture{
		reminders: newMemReminderRepo(),
		invoices:  newMemInvoiceRepo(),
		customers: newMemCustomerRepo(),
		sms:       &fakeSender{},
		voice:     &fakeSender{},
		ownerID:   uuid.New(),
	}
	f.policies = &memPolicyRepo{byOwner: map[uuid.UUID]*model.ReminderPolicyConfig{}}
	if cfg != nil {
		f.policies.byOwner[f.ownerID] = cfg
	}

	f.d = NewDispatcher(
		f.reminders, f.invoices, f.customers, f.policies,
		f.sms, f.voice,
		Config{PollInterval: time.Minute, BatchSize: 50, SendTimeout: 200 * time.Millisecond},
		logger.NewLogger(nil), metrics.New("test"),
	)
	f.d.now = func() time.Time { return mondayNoon }
	return f
}

// seedReminder wires up a customer, a collectible invoice and one due
// pending reminder for the fixture owner.
func (f *dispatchFixture) seedReminder(reminderType model.ReminderType) *model.ReminderInstance {
	phone := "+15550001111"
	customer := f.customers.add(&model.CachedCustomer{
		OwnerID:      f.ownerID,
		RemoteID:     "c1",
		DisplayName:  "Acme Corp",
		PrimaryPhone: &phone,
	})
	invoice := f.invoices.add(&model.CachedInvoice{
		OwnerID:       f.ownerID,
		RemoteID:      "i1",
		CustomerID:    &customer.ID,
		InvoiceNumber: "INV-1",
		DueCents:      12500,
		Currency:      "USD",
		DueDate:       mondayNoon.AddDate(0, 0, 3),
		Status:        model.InvoiceStatusUnpaid,
	})
	return f.reminders.add(&model.ReminderInstance{
		InvoiceID:    invoice.ID,
		OwnerID:      f.ownerID,
		Type:         reminderType,
		ScheduledFor: mondayNoon.Add(-time.Hour),
	})
}

func TestRunOnceSMSAccepted(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	r := f.seedReminder(model.Reminder3DaysBefore)

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Sent)
	require.Len(t, f.sms.calls, 1)
	assert.Equal(t, "+15550001111", f.sms.calls[0].Phone)
	assert.Empty(t, f.voice.calls)

	assert.Equal(t, model.ReminderStatusQueued, r.Status)
	assert.Equal(t, 1, r.AttemptCount)
	require.NotNil(t, r.ProviderRef)
	require.NotNil(t, r.Channel)
	assert.Equal(t, model.ChannelSMS, *r.Channel)
}

func TestRunOnceVoiceAcceptedGoesInProgress(t *testing.T) {
	cfg := dispatchPolicy()
	voice := model.ChannelVoice
	cfg.ManualChannel = &voice

	f := newDispatchFixture(t, cfg)
	r := f.seedReminder(model.Reminder3DaysBefore)

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	require.Len(t, f.voice.calls, 1)
	assert.Equal(t, model.ReminderStatusInProgress, r.Status)
}

func TestRunOnceOutsideWindowDefers(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	r := f.seedReminder(model.Reminder3DaysBefore)

	// 20:00 local is past the window end.
	f.d.now = func() time.Time { return time.Date(2026, 6, 15, 20, 0, 0, 0, time.UTC) }

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Deferred)
	assert.Equal(t, model.ReminderStatusPending, r.Status)
	assert.Equal(t, 0, r.AttemptCount)
	assert.Empty(t, f.sms.calls)
}

func TestRunOnceSettledInvoiceSkips(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	r := f.seedReminder(model.Reminder3DaysBefore)

	inv, _ := f.invoices.Get(context.Background(), r.InvoiceID)
	inv.Status = model.InvoiceStatusPaid

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, model.ReminderStatusSkipped, r.Status)
	assertOutcomeCode(t, r, model.SkipReasonInvoiceSettled)
	assert.Empty(t, f.sms.calls)
}

func TestRunOnceMissingPhoneSkips(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	r := f.seedReminder(model.Reminder3DaysBefore)

	inv, _ := f.invoices.Get(context.Background(), r.InvoiceID)
	customer, _ := f.customers.Get(context.Background(), *inv.CustomerID)
	customer.PrimaryPhone = nil

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assertOutcomeCode(t, r, model.SkipReasonMissingPhone)
}

func TestRunOnceRetryCeilingSkips(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	r := f.seedReminder(model.Reminder3DaysBefore)
	r.AttemptCount = 3

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, model.ReminderStatusSkipped, r.Status)
	assertOutcomeCode(t, r, model.SkipReasonRetryCeiling)
	assert.Empty(t, f.sms.calls)
}

func TestRunOnceRejectionBelowCeilingReschedules(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	r := f.seedReminder(model.Reminder3DaysBefore)
	f.sms.err = apperrors.Transient("provider unavailable", nil)

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, model.ReminderStatusPending, r.Status)
	assert.Equal(t, 1, r.AttemptCount)
	assert.True(t, r.ScheduledFor.Equal(mondayNoon.Add(2*time.Hour)),
		"got %s, want %s", r.ScheduledFor, mondayNoon.Add(2*time.Hour))
}

func TestRunOnceRejectionAtCeilingFails(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	r := f.seedReminder(model.Reminder3DaysBefore)
	r.AttemptCount = 2
	f.sms.err = apperrors.Data("invalid destination number", nil)

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, model.ReminderStatusFailed, r.Status)
	assertOutcomeCode(t, r, "send_failed")
}

func TestRunOnceSendTimeoutLeavesPending(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	r := f.seedReminder(model.Reminder3DaysBefore)
	f.sms.delay = time.Second

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Deferred)
	assert.Equal(t, model.ReminderStatusPending, r.Status)
	assert.Equal(t, 0, r.AttemptCount, "a timed out send must not consume an attempt")
	assert.Nil(t, r.ProviderRef)
}

func TestRunOnceOwnerWithoutPolicySkippedWholesale(t *testing.T) {
	f := newDispatchFixture(t, nil)
	r := f.seedReminder(model.Reminder3DaysBefore)

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.OwnersSkipped)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, model.ReminderStatusPending, r.Status)
	require.Len(t, result.Errors, 1)
}

func TestRunOnceTransientPolicyFaultNotCountedAsMissingConfig(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	r := f.seedReminder(model.Reminder3DaysBefore)
	f.policies.err = apperrors.Transient("connection reset", nil)

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.OwnersSkipped, "a DB fault is not a missing policy")
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, model.ReminderStatusPending, r.Status)
	require.Len(t, result.Errors, 1)
}

func TestRunOnceProcessesMultipleOwners(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	f.seedReminder(model.Reminder3DaysBefore)

	otherOwner := uuid.New()
	f.policies.byOwner[otherOwner] = dispatchPolicy()
	phone := "+15550002222"
	customer := f.customers.add(&model.CachedCustomer{
		OwnerID: otherOwner, RemoteID: "c2", DisplayName: "Beta LLC", PrimaryPhone: &phone,
	})
	invoice := f.invoices.add(&model.CachedInvoice{
		OwnerID: otherOwner, RemoteID: "i2", CustomerID: &customer.ID,
		DueDate: mondayNoon.AddDate(0, 0, 1), Status: model.InvoiceStatusUnpaid,
	})
	f.reminders.add(&model.ReminderInstance{
		InvoiceID: invoice.ID, OwnerID: otherOwner,
		Type: model.Reminder1DayBefore, ScheduledFor: mondayNoon.Add(-time.Minute),
	})

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Sent)
	assert.Len(t, f.sms.calls, 2)
}

func TestRunOnceEmptyBatch(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())

	result, err := f.d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1.0,
		testutil.ToFloat64(f.d.metrics.DatabaseOperations.WithLabelValues("list_due_reminders", "success")))
}

func TestStartPollsUntilCancelled(t *testing.T) {
	f := newDispatchFixture(t, dispatchPolicy())
	f.seedReminder(model.Reminder3DaysBefore)
	f.d.config.PollInterval = 10 * time.Millisecond

	results := make(chan *model.DispatchResult, 16)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.d.Start(ctx, func(r *model.DispatchResult) { results <- r })
		close(done)
	}()

	select {
	case first := <-results:
		assert.Equal(t, 1, first.Sent)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never ticked")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on context cancellation")
	}
}

func TestNewDispatcherValidatesConfig(t *testing.T) {
	assert.Panics(t, func() {
		NewDispatcher(nil, nil, nil, nil, nil, nil,
			Config{PollInterval: 0, BatchSize: 10},
			logger.NewLogger(nil), metrics.New("test"))
	})
	assert.Panics(t, func() {
		NewDispatcher(nil, nil, nil, nil, nil, nil,
			Config{PollInterval: time.Second, BatchSize: 0},
			logger.NewLogger(nil), metrics.New("test"))
	})
}

func assertOutcomeCode(t *testing.T, r *model.ReminderInstance, want string) {
	t.Helper()
	require.NotEmpty(t, r.Outcome)
	var outcome model.Outcome
	require.NoError(t, json.Unmarshal(r.Outcome, &outcome))
	assert.Equal(t, want, outcome.Code)
}
