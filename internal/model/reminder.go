package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReminderStatus is the dispatch lifecycle state of a reminder instance.
type ReminderStatus string

const (
	ReminderStatusPending    ReminderStatus = "pending"
	ReminderStatusQueued     ReminderStatus = "queued"
	ReminderStatusInProgress ReminderStatus = "in_progress"
	ReminderStatusCompleted  ReminderStatus = "completed"
	ReminderStatusFailed     ReminderStatus = "failed"
	ReminderStatusSkipped    ReminderStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s ReminderStatus) Terminal() bool {
	return s == ReminderStatusCompleted || s == ReminderStatusFailed || s == ReminderStatusSkipped
}

// Channel is the outreach channel used to deliver a reminder.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// ReminderType identifies one slot in an invoice's reminder schedule as a
// day offset relative to the due date. Negative offsets are before due,
// zero is the due date, positive offsets are overdue.
type ReminderType string

const (
	Reminder30DaysBefore ReminderType = "30_days_before"
	Reminder15DaysBefore ReminderType = "15_days_before"
	Reminder7DaysBefore  ReminderType = "7_days_before"
	Reminder5DaysBefore  ReminderType = "5_days_before"
	Reminder3DaysBefore  ReminderType = "3_days_before"
	Reminder1DayBefore   ReminderType = "1_day_before"
	ReminderOnDueDate    ReminderType = "on_due_date"
	Reminder1DayOverdue  ReminderType = "1_day_overdue"
	Reminder3DaysOverdue ReminderType = "3_days_overdue"
	Reminder7DaysOverdue ReminderType = "7_days_overdue"
)

var standardOffsets = map[ReminderType]int{
	Reminder30DaysBefore: -30,
	Reminder15DaysBefore: -15,
	Reminder7DaysBefore:  -7,
	Reminder5DaysBefore:  -5,
	Reminder3DaysBefore:  -3,
	Reminder1DayBefore:   -1,
	ReminderOnDueDate:    0,
	Reminder1DayOverdue:  1,
	Reminder3DaysOverdue: 3,
	Reminder7DaysOverdue: 7,
}

// CustomReminderType builds the type label for an arbitrary offset day.
// Offsets that collide with a standard label map onto it so uniqueness per
// (invoice, type) holds across both configuration paths.
func CustomReminderType(offsetDays int) ReminderType {
	for t, off := range standardOffsets {
		if off == offsetDays {
			return t
		}
	}
	if offsetDays < 0 {
		return ReminderType(fmt.Sprintf("custom_%d_days_before", -offsetDays))
	}
	return ReminderType(fmt.Sprintf("custom_%d_days_overdue", offsetDays))
}

// OffsetDays returns the day offset encoded by the type, relative to the
// invoice due date. The second return is false for unrecognised labels.
func (t ReminderType) OffsetDays() (int, bool) {
	if off, ok := standardOffsets[t]; ok {
		return off, true
	}
	s := string(t)
	if !strings.HasPrefix(s, "custom_") {
		return 0, false
	}
	s = strings.TrimPrefix(s, "custom_")
	if rest, ok := strings.CutSuffix(s, "_days_before"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return 0, false
		}
		return -n, true
	}
	if rest, ok := strings.CutSuffix(s, "_days_overdue"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Skip reasons recorded on terminal skipped reminders.
const (
	SkipReasonInvoiceSettled = "invoice_settled"
	SkipReasonMissingPhone   = "missing_phone"
	SkipReasonRetryCeiling   = "retry_ceiling"
)

// Outcome is the structured result or skip reason stored on a reminder.
type Outcome struct {
	Code    string    `json:"code"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

func NewOutcome(code, message string, at time.Time) *Outcome {
	return &Outcome{Code: code, Message: message, At: at}
}

// Marshal serializes the outcome for the jsonb column.
func (o *Outcome) Marshal() []byte {
	if o == nil {
		return nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil
	}
	return b
}

// ReminderInstance is one scheduled touch for an invoice. At most one
// instance exists per (invoice_id, type), regardless of status.
type ReminderInstance struct {
	Base
	InvoiceID uuid.UUID    `json:"invoice_id" db:"invoice_id"`
	OwnerID   uuid.UUID    `json:"owner_id" db:"owner_id"`
	Type      ReminderType `json:"type" db:"type"`

	// ScheduledFor is absolute, computed from the due date, the type offset
	// and the owner timezone. The dispatcher advances it on retry backoff.
	ScheduledFor time.Time      `json:"scheduled_for" db:"scheduled_for"`
	Status       ReminderStatus `json:"status" db:"status"`

	AttemptCount  int        `json:"attempt_count" db:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at" db:"last_attempt_at"`

	Channel     *Channel `json:"channel" db:"channel"`
	ProviderRef *string  `json:"provider_ref" db:"provider_ref"`
	Outcome     []byte   `json:"outcome" db:"outcome"`
}

// DeliveryEvent is a provider delivery-status callback after signature
// verification by the surrounding application.
type DeliveryEvent struct {
	ProviderRef  string  `json:"provider_ref"`
	RawStatus    string  `json:"status"`
	Channel      Channel `json:"channel"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}
