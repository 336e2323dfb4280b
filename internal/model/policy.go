package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ReminderPolicyConfig is the per-owner reminder policy. It is authored by
// the surrounding application and read-only here.
type ReminderPolicyConfig struct {
	Base
	OwnerID uuid.UUID `json:"owner_id" db:"owner_id"`

	Remind30DaysBefore bool `json:"remind_30_days_before" db:"remind_30_days_before"`
	Remind15DaysBefore bool `json:"remind_15_days_before" db:"remind_15_days_before"`
	Remind7DaysBefore  bool `json:"remind_7_days_before" db:"remind_7_days_before"`
	Remind5DaysBefore  bool `json:"remind_5_days_before" db:"remind_5_days_before"`
	Remind3DaysBefore  bool `json:"remind_3_days_before" db:"remind_3_days_before"`
	Remind1DayBefore   bool `json:"remind_1_day_before" db:"remind_1_day_before"`
	RemindOnDueDate    bool `json:"remind_on_due_date" db:"remind_on_due_date"`
	Remind1DayOverdue  bool `json:"remind_1_day_overdue" db:"remind_1_day_overdue"`
	Remind3DaysOverdue bool `json:"remind_3_days_overdue" db:"remind_3_days_overdue"`
	Remind7DaysOverdue bool `json:"remind_7_days_overdue" db:"remind_7_days_overdue"`

	// CustomOffsetDays holds arbitrary extra offsets, negative before due.
	CustomOffsetDays pq.Int64Array `json:"custom_offset_days" db:"custom_offset_days"`

	Timezone        string `json:"timezone" db:"timezone"`
	CallWindowStart string `json:"call_window_start" db:"call_window_start"`
	CallWindowEnd   string `json:"call_window_end" db:"call_window_end"`
	// CallDays holds permitted weekdays, 0=Sunday through 6=Saturday.
	CallDays pq.Int64Array `json:"call_days" db:"call_days"`

	MaxRetryAttempts int `json:"max_retry_attempts" db:"max_retry_attempts"`
	RetryDelayHours  int `json:"retry_delay_hours" db:"retry_delay_hours"`

	SmartModeEnabled bool     `json:"smart_mode_enabled" db:"smart_mode_enabled"`
	ManualChannel    *Channel `json:"manual_channel" db:"manual_channel"`
	// VoiceEscalationDays controls when smart mode switches to voice: any
	// reminder whose offset is within this many days before due, or past
	// due, goes out as a call. Zero means on/after the due date.
	VoiceEscalationDays int `json:"voice_escalation_days" db:"voice_escalation_days"`
}

// EnabledOffsets returns every configured offset day, standard flags first,
// then custom offsets, deduplicated.
func (c *ReminderPolicyConfig) EnabledOffsets() []int {
	flags := []struct {
		enabled bool
		offset  int
	}{
		{c.Remind30DaysBefore, -30},
		{c.Remind15DaysBefore, -15},
		{c.Remind7DaysBefore, -7},
		{c.Remind5DaysBefore, -5},
		{c.Remind3DaysBefore, -3},
		{c.Remind1DayBefore, -1},
		{c.RemindOnDueDate, 0},
		{c.Remind1DayOverdue, 1},
		{c.Remind3DaysOverdue, 3},
		{c.Remind7DaysOverdue, 7},
	}

	seen := make(map[int]bool)
	var offsets []int
	for _, f := range flags {
		if f.enabled && !seen[f.offset] {
			seen[f.offset] = true
			offsets = append(offsets, f.offset)
		}
	}
	for _, d := range c.CustomOffsetDays {
		off := int(d)
		if !seen[off] {
			seen[off] = true
			offsets = append(offsets, off)
		}
	}
	return offsets
}

// RetryDelay returns the configured linear backoff interval.
func (c *ReminderPolicyConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayHours) * time.Hour
}
