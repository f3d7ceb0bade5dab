package dispatch

import (
	"time"

	"github.com/acme/voice-dispatch/internal/domain"
)

// withinBusinessHours reports whether the campaign may dial at nowUTC. A
// campaign with no windows dials around the clock; an unparseable timezone
// fails open rather than silently stalling the campaign.
func withinBusinessHours(nowUTC time.Time, campaign *domain.Campaign) bool {
	if len(campaign.BusinessHours) == 0 {
		return true
	}

	loc, err := time.LoadLocation(campaign.TimeZone)
	if err != nil {
		return true
	}

	local := nowUTC.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()

	for _, window := range campaign.BusinessHours {
		start := window.Start.Hour()*60 + window.Start.Minute()
		end := window.End.Hour()*60 + window.End.Minute()

		if end <= start {
			// window spans midnight
			nextDay := (int(window.DayOfWeek) + 1) % 7
			if window.DayOfWeek == weekday && minuteOfDay >= start {
				return true
			}
			if time.Weekday(nextDay) == weekday && minuteOfDay < end {
				return true
			}
			continue
		}

		if window.DayOfWeek != weekday {
			continue
		}

		if minuteOfDay >= start && minuteOfDay < end {
			return true
		}
	}

	return false
}
