package dispatch

import (
	"github.com/duespark/collector-api/internal/model"
)

// SelectChannel decides SMS vs voice for one reminder. A manual override
// (smart mode off) always wins. In smart mode, reminders at or past the
// escalation threshold relative to the due date go out as voice calls.
// Pure given its inputs.
func SelectChannel(reminderType model.ReminderType, cfg *model.ReminderPolicyConfig) model.Channel {
	if !cfg.SmartModeEnabled && cfg.ManualChannel != nil {
		return *cfg.ManualChannel
	}

	offset, ok := reminderType.OffsetDays()
	if !ok {
		// Unrecognised labels fall back to the cheap channel.
		return model.ChannelSMS
	}
	if offset >= -cfg.VoiceEscalationDays {
		return model.ChannelVoice
	}
	return model.ChannelSMS
}
