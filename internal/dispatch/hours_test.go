package dispatch

import (
	"testing"
	"time"

	"github.com/acme/voice-dispatch/internal/domain"
)

func hm(hour, minute int) time.Time {
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC)
}

func TestBusinessHoursNoWindowsAlwaysOpen(t *testing.T) {
	c := &domain.Campaign{TimeZone: "UTC"}
	if !withinBusinessHours(time.Now().UTC(), c) {
		t.Errorf("campaign without windows must dial around the clock")
	}
}

func TestBusinessHoursWindow(t *testing.T) {
	c := &domain.Campaign{
		TimeZone: "Europe/Berlin",
		BusinessHours: []domain.BusinessHourWindow{
			{DayOfWeek: time.Tuesday, Start: hm(9, 0), End: hm(17, 0)},
		},
	}

	// 2026-03-03 is a Tuesday. 10:00 Berlin is 09:00 UTC in winter.
	inside := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	if !withinBusinessHours(inside, c) {
		t.Errorf("10:00 local on Tuesday should be inside the window")
	}

	tooEarly := time.Date(2026, 3, 3, 7, 30, 0, 0, time.UTC) // 08:30 local
	if withinBusinessHours(tooEarly, c) {
		t.Errorf("08:30 local should be outside the window")
	}

	endExclusive := time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC) // 17:00 local
	if withinBusinessHours(endExclusive, c) {
		t.Errorf("window end is exclusive")
	}

	wrongDay := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC) // Wednesday
	if withinBusinessHours(wrongDay, c) {
		t.Errorf("Wednesday should be outside a Tuesday-only window")
	}
}

func TestBusinessHoursSpansMidnight(t *testing.T) {
	c := &domain.Campaign{
		TimeZone: "UTC",
		BusinessHours: []domain.BusinessHourWindow{
			{DayOfWeek: time.Friday, Start: hm(22, 0), End: hm(2, 0)},
		},
	}

	// 2026-03-06 is a Friday.
	lateFriday := time.Date(2026, 3, 6, 23, 30, 0, 0, time.UTC)
	if !withinBusinessHours(lateFriday, c) {
		t.Errorf("23:30 Friday should be inside a 22:00-02:00 Friday window")
	}

	earlySaturday := time.Date(2026, 3, 7, 1, 30, 0, 0, time.UTC)
	if !withinBusinessHours(earlySaturday, c) {
		t.Errorf("01:30 Saturday should still be inside the spilled window")
	}

	saturdayMorning := time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC)
	if withinBusinessHours(saturdayMorning, c) {
		t.Errorf("03:00 Saturday is past the spilled window")
	}

	fridayAfternoon := time.Date(2026, 3, 6, 15, 0, 0, 0, time.UTC)
	if withinBusinessHours(fridayAfternoon, c) {
		t.Errorf("Friday afternoon is before the window opens")
	}
}

func TestBusinessHoursBadTimezoneFailsOpen(t *testing.T) {
	c := &domain.Campaign{
		TimeZone: "Mars/Olympus_Mons",
		BusinessHours: []domain.BusinessHourWindow{
			{DayOfWeek: time.Monday, Start: hm(9, 0), End: hm(17, 0)},
		},
	}
	if !withinBusinessHours(time.Now().UTC(), c) {
		t.Errorf("unparseable timezone must not stall the campaign")
	}
}
