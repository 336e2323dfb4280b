package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duespark/collector-api/internal/model"
	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"
)

type fakeReminderStore struct {
	byID      map[uuid.UUID]*model.ReminderInstance
	insertErr error
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{byID: make(map[uuid.UUID]*model.ReminderInstance)}
}

func (s *fakeReminderStore) Insert(_ context.Context, r *model.ReminderInstance) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, existing := range s.byID {
		if existing.InvoiceID == r.InvoiceID && existing.Type == r.Type {
			return apperrors.Data("reminder already exists for invoice and type", nil)
		}
	}
	r.ID = uuid.New()
	s.byID[r.ID] = r
	return nil
}

func (s *fakeReminderStore) Get(_ context.Context, id uuid.UUID) (*model.ReminderInstance, error) {
	if r, ok := s.byID[id]; ok {
		return r, nil
	}
	return nil, apperrors.NotFound("reminder not found", nil)
}

func (s *fakeReminderStore) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*model.ReminderInstance, error) {
	var out []*model.ReminderInstance
	for _, r := range s.byID {
		if r.InvoiceID == invoiceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeReminderStore) ListDue(_ context.Context, now time.Time, limit int) ([]*model.ReminderInstance, error) {
	var out []*model.ReminderInstance
	for _, r := range s.byID {
		if r.Status == model.ReminderStatusPending && !r.ScheduledFor.After(now) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeReminderStore) GetByProviderRef(_ context.Context, ref string) (*model.ReminderInstance, error) {
	for _, r := range s.byID {
		if r.ProviderRef != nil && *r.ProviderRef == ref {
			return r, nil
		}
	}
	return nil, apperrors.NotFound("reminder not found", nil)
}

func (s *fakeReminderStore) MarkDispatched(_ context.Context, id uuid.UUID, status model.ReminderStatus, channel model.Channel, ref string, at time.Time) error {
	r := s.byID[id]
	r.Status = status
	r.Channel = &channel
	r.ProviderRef = &ref
	r.AttemptCount++
	r.LastAttemptAt = &at
	return nil
}

func (s *fakeReminderStore) MarkSkipped(_ context.Context, id uuid.UUID, outcome *model.Outcome) error {
	r := s.byID[id]
	r.Status = model.ReminderStatusSkipped
	r.Outcome = outcome.Marshal()
	return nil
}

func (s *fakeReminderStore) MarkFailed(_ context.Context, id uuid.UUID, outcome *model.Outcome) error {
	r := s.byID[id]
	r.Status = model.ReminderStatusFailed
	r.Outcome = outcome.Marshal()
	return nil
}

func (s *fakeReminderStore) RescheduleAfterRejection(_ context.Context, id uuid.UUID, scheduledFor time.Time, outcome *model.Outcome, at time.Time) error {
	r := s.byID[id]
	r.ScheduledFor = scheduledFor
	r.AttemptCount++
	r.LastAttemptAt = &at
	r.Outcome = outcome.Marshal()
	return nil
}

func (s *fakeReminderStore) UpdateDeliveryStatus(_ context.Context, id uuid.UUID, status model.ReminderStatus, outcome *model.Outcome, at time.Time) error {
	r := s.byID[id]
	r.Status = status
	if outcome != nil {
		r.Outcome = outcome.Marshal()
	}
	r.LastAttemptAt = &at
	return nil
}

type fakeInvoiceStore struct {
	byID map[uuid.UUID]*model.CachedInvoice
}

func newFakeInvoiceStore() *fakeInvoiceStore {
	return &fakeInvoiceStore{byID: make(map[uuid.UUID]*model.CachedInvoice)}
}

func (s *fakeInvoiceStore) add(inv *model.CachedInvoice) *model.CachedInvoice {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	s.byID[inv.ID] = inv
	return inv
}

func (s *fakeInvoiceStore) Upsert(_ context.Context, inv *model.CachedInvoice) (model.UpsertOutcome, *model.CachedInvoice, error) {
	return model.UpsertInserted, s.add(inv), nil
}

func (s *fakeInvoiceStore) Get(_ context.Context, id uuid.UUID) (*model.CachedInvoice, error) {
	if inv, ok := s.byID[id]; ok {
		return inv, nil
	}
	return nil, apperrors.NotFound("invoice not found", nil)
}

func (s *fakeInvoiceStore) GetByRemoteID(_ context.Context, _ uuid.UUID, _ string) (*model.CachedInvoice, error) {
	return nil, apperrors.NotFound("invoice not found", nil)
}

func (s *fakeInvoiceStore) LinkToCustomer(_ context.Context, _ uuid.UUID, _ string, _ uuid.UUID) error {
	return nil
}

func (s *fakeInvoiceStore) MarkRemindersCreated(_ context.Context, id uuid.UUID) error {
	inv, ok := s.byID[id]
	if !ok {
		return apperrors.NotFound("invoice not found", nil)
	}
	inv.RemindersCreated = true
	return nil
}

func schedulerConfig() *model.ReminderPolicyConfig {
	return &model.ReminderPolicyConfig{
		Remind3DaysBefore: true,
		RemindOnDueDate:   true,
		Timezone:          "UTC",
		CallWindowStart:   "09:00",
		CallWindowEnd:     "18:00",
	}
}

func TestEnsureRemindersCreatesPlannedSet(t *testing.T) {
	reminders := newFakeReminderStore()
	invoices := newFakeInvoiceStore()
	s := NewScheduler(reminders, invoices, logger.NewLogger(nil))

	inv := invoices.add(&model.CachedInvoice{
		OwnerID: uuid.New(),
		DueDate: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC),
		Status:  model.InvoiceStatusUnpaid,
	})

	created, err := s.EnsureReminders(context.Background(), inv, schedulerConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.True(t, inv.RemindersCreated)

	rows, err := reminders.ListByInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, model.ReminderStatusPending, r.Status)
		assert.Equal(t, inv.OwnerID, r.OwnerID)
	}
}

func TestEnsureRemindersIsIdempotent(t *testing.T) {
	reminders := newFakeReminderStore()
	invoices := newFakeInvoiceStore()
	s := NewScheduler(reminders, invoices, logger.NewLogger(nil))

	inv := invoices.add(&model.CachedInvoice{
		OwnerID: uuid.New(),
		DueDate: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC),
		Status:  model.InvoiceStatusUnpaid,
	})
	cfg := schedulerConfig()

	created, err := s.EnsureReminders(context.Background(), inv, cfg)
	require.NoError(t, err)
	require.Equal(t, 2, created)

	created, err = s.EnsureReminders(context.Background(), inv, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	rows, _ := reminders.ListByInvoice(context.Background(), inv.ID)
	assert.Len(t, rows, 2)
}

func TestEnsureRemindersFillsOnlyMissingSlots(t *testing.T) {
	reminders := newFakeReminderStore()
	invoices := newFakeInvoiceStore()
	s := NewScheduler(reminders, invoices, logger.NewLogger(nil))

	inv := invoices.add(&model.CachedInvoice{
		OwnerID: uuid.New(),
		DueDate: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC),
	})

	// One slot pre-exists in a terminal state; it must be left alone.
	require.NoError(t, reminders.Insert(context.Background(), &model.ReminderInstance{
		InvoiceID:    inv.ID,
		OwnerID:      inv.OwnerID,
		Type:         model.Reminder3DaysBefore,
		Status:       model.ReminderStatusCompleted,
		ScheduledFor: time.Date(2026, 6, 12, 9, 0, 0, 0, time.UTC),
	}))

	created, err := s.EnsureReminders(context.Background(), inv, schedulerConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	rows, _ := reminders.ListByInvoice(context.Background(), inv.ID)
	require.Len(t, rows, 2)
	for _, r := range rows {
		if r.Type == model.Reminder3DaysBefore {
			assert.Equal(t, model.ReminderStatusCompleted, r.Status)
		}
	}
}

func TestEnsureRemindersSurvivesUniqueIndexRace(t *testing.T) {
	reminders := newFakeReminderStore()
	invoices := newFakeInvoiceStore()
	s := NewScheduler(reminders, invoices, logger.NewLogger(nil))

	inv := invoices.add(&model.CachedInvoice{
		OwnerID: uuid.New(),
		DueDate: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC),
	})

	reminders.insertErr = apperrors.Data("reminder already exists for invoice and type", nil)

	created, err := s.EnsureReminders(context.Background(), inv, schedulerConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.False(t, inv.RemindersCreated)
}

func TestEnsureRemindersEmptyPolicyNoGateFlip(t *testing.T) {
	reminders := newFakeReminderStore()
	invoices := newFakeInvoiceStore()
	s := NewScheduler(reminders, invoices, logger.NewLogger(nil))

	inv := invoices.add(&model.CachedInvoice{
		OwnerID: uuid.New(),
		DueDate: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC),
	})

	cfg := &model.ReminderPolicyConfig{Timezone: "UTC", CallWindowStart: "09:00", CallWindowEnd: "18:00"}

	created, err := s.EnsureReminders(context.Background(), inv, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.False(t, inv.RemindersCreated)
}
