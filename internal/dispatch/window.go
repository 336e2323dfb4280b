package dispatch

import (
	"fmt"
	"time"

	apperrors "github.com/duespark/collector-api/pkg/errors"

	"github.com/duespark/collector-api/internal/model"
)

// InWindow reports whether the instant falls inside the owner's permitted
// call window: an allowed weekday in the owner's timezone, with local
// time-of-day in [start, end). Evaluated fresh on every dispatch attempt.
func InWindow(at time.Time, cfg *model.ReminderPolicyConfig) (bool, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return false, apperrors.Config(fmt.Sprintf("invalid timezone %q", cfg.Timezone), err)
	}
	local := at.In(loc)

	if !weekdayAllowed(local.Weekday(), cfg.CallDays) {
		return false, nil
	}

	start, err := minutesOfDay(cfg.CallWindowStart)
	if err != nil {
		return false, err
	}
	end, err := minutesOfDay(cfg.CallWindowEnd)
	if err != nil {
		return false, err
	}

	current := local.Hour()*60 + local.Minute()
	return current >= start && current < end, nil
}

func weekdayAllowed(day time.Weekday, allowed []int64) bool {
	for _, d := range allowed {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

func minutesOfDay(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, apperrors.Config(fmt.Sprintf("invalid time of day %q", clock), err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
