package dispatch

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duespark/collector-api/internal/model"
	apperrors "github.com/duespark/collector-api/pkg/errors"
)

func windowConfig() *model.ReminderPolicyConfig {
	return &model.ReminderPolicyConfig{
		Timezone:        "America/New_York",
		CallWindowStart: "09:00",
		CallWindowEnd:   "18:00",
		CallDays:        pq.Int64Array{1, 2, 3, 4, 5},
	}
}

func TestInWindowBoundaries(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2026-06-15 is a Monday.
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"start is inclusive", time.Date(2026, 6, 15, 9, 0, 0, 0, loc), true},
		{"one minute before start", time.Date(2026, 6, 15, 8, 59, 0, 0, loc), false},
		{"middle of window", time.Date(2026, 6, 15, 13, 30, 0, 0, loc), true},
		{"end is exclusive", time.Date(2026, 6, 15, 18, 0, 0, 0, loc), false},
		{"one minute before end", time.Date(2026, 6, 15, 17, 59, 0, 0, loc), true},
	}

	cfg := windowConfig()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InWindow(tt.at, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInWindowWeekdayFilter(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	cfg := windowConfig()

	// 2026-06-13 is a Saturday, inside the clock window.
	got, err := InWindow(time.Date(2026, 6, 13, 12, 0, 0, 0, loc), cfg)
	require.NoError(t, err)
	assert.False(t, got)

	cfg.CallDays = pq.Int64Array{6}
	got, err = InWindow(time.Date(2026, 6, 13, 12, 0, 0, 0, loc), cfg)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestInWindowEvaluatesInOwnerTimezone(t *testing.T) {
	cfg := windowConfig()

	// 13:00 UTC on a Monday is 09:00 in New York during DST.
	at := time.Date(2026, 6, 15, 13, 0, 0, 0, time.UTC)
	got, err := InWindow(at, cfg)
	require.NoError(t, err)
	assert.True(t, got)

	// 08:00 UTC is 04:00 local, well before the window.
	at = time.Date(2026, 6, 15, 8, 0, 0, 0, time.UTC)
	got, err = InWindow(at, cfg)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestInWindowInvalidConfig(t *testing.T) {
	cfg := windowConfig()
	cfg.Timezone = "Nowhere/Void"
	_, err := InWindow(time.Now(), cfg)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConfig, apperrors.KindOf(err))

	cfg = windowConfig()
	cfg.CallWindowEnd = "6pm"
	_, err = InWindow(time.Date(2026, 6, 15, 16, 0, 0, 0, time.UTC), cfg)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConfig, apperrors.KindOf(err))
}
