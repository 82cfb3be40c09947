package notify

import "github.com/mr1hm/go-rockfall-alerts/internal/models"

var severityChannels = map[models.Severity][]models.Channel{
	models.SeverityCritical: {models.ChannelSMS, models.ChannelEmail, models.ChannelRadio, models.ChannelSiren, models.ChannelLoRaWAN, models.ChannelTelegram},
	models.SeverityHigh:     {models.ChannelSMS, models.ChannelEmail, models.ChannelRadio, models.ChannelTelegram},
	models.SeverityMedium:   {models.ChannelEmail, models.ChannelRadio},
	models.SeverityLow:      {models.ChannelEmail},
}

var escalationChannels = []models.Channel{models.ChannelSMS, models.ChannelRadio, models.ChannelTelegram}

// ChannelsFor returns the channels an alert of the given severity is sent on.
// Escalations add the direct-contact channels. The result holds no duplicates.
func ChannelsFor(sev models.Severity, escalated bool) []models.Channel {
	base, ok := severityChannels[sev]
	if !ok {
		base = severityChannels[models.SeverityMedium]
	}

	out := make([]models.Channel, 0, len(base)+len(escalationChannels))
	seen := make(map[models.Channel]bool, cap(out))
	add := func(chs []models.Channel) {
		for _, ch := range chs {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}

	add(base)
	if escalated {
		add(escalationChannels)
	}
	return out
}
