package reminder

import (
	"fmt"
	"time"

	apperrors "github.com/duespark/collector-api/pkg/errors"

	"github.com/duespark/collector-api/internal/model"
)

// Planned is one desired reminder slot for an invoice.
type Planned struct {
	Type         model.ReminderType
	ScheduledFor time.Time
}

// Plan maps an invoice due date and a policy config onto the desired set of
// reminders. Pure: no I/O, no side effects. Each enabled offset yields one
// reminder scheduled at the owner's call-window start on the offset day, in
// the owner's timezone rather than midnight UTC.
func Plan(dueDate time.Time, cfg *model.ReminderPolicyConfig) ([]Planned, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, apperrors.Config(fmt.Sprintf("invalid timezone %q", cfg.Timezone), err)
	}
	hour, minute, err := parseClock(cfg.CallWindowStart)
	if err != nil {
		return nil, err
	}

	// The due date is stored as a civil date; its UTC calendar day is the
	// anchor regardless of the owner's timezone.
	year, month, day := dueDate.UTC().Date()

	offsets := cfg.EnabledOffsets()
	planned := make([]Planned, 0, len(offsets))
	for _, offset := range offsets {
		planned = append(planned, Planned{
			Type:         model.CustomReminderType(offset),
			ScheduledFor: time.Date(year, month, day+offset, hour, minute, 0, 0, loc),
		})
	}
	return planned, nil
}

// parseClock reads a "HH:MM" time-of-day.
func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, apperrors.Config(fmt.Sprintf("invalid time of day %q", s), err)
	}
	return t.Hour(), t.Minute(), nil
}
