package expand

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chronogrid/internal/daterange"
	"chronogrid/internal/model"
)

// Expander turns one appointment into its per-render Extras annotation:
// one DisplaySlot per calendar day touched, with clipped time-of-day
// ranges, plus duration and visibility flags.
type Expander struct {
	// Now is the "today" reference instant of the render.
	Now time.Time

	// StartWeekOnSunday selects the week-start convention for the
	// visibility windows.
	StartWeekOnSunday bool

	// MonthAnchor is the month whose extended grid window decides
	// VisibleInMonth. Zero means Now's month, which reproduces the
	// observed behavior of anchoring on the current system month rather
	// than the viewed one (see DESIGN.md).
	MonthAnchor time.Time
}

// Expand computes the Extras record for a. The appointment itself is not
// modified. An appointment with zero or inverted bounds yields an error;
// callers drop it from the batch and continue.
func (e Expander) Expand(a model.Appointment) (model.Extras, error) {
	if a.Start.IsZero() || a.End.IsZero() {
		return model.Extras{}, errors.New("appointment has no usable start/end")
	}
	if a.End.Before(a.Start) {
		return model.Extras{}, fmt.Errorf("appointment end %s before start %s", a.End, a.Start)
	}

	start, end := a.Start, a.End
	if a.AllDay() {
		// All-day: time components are ignored, the day boundary is
		// midnight to 23:59:59.
		start = daterange.StartOfDay(start)
		end = endOfDay(daterange.StartOfDay(end))
	}

	startDay := daterange.StartOfDay(start)
	endDay := daterange.StartOfDay(end)
	days := daysBetween(startDay, endDay) + 1

	anchor := e.MonthAnchor
	if anchor.IsZero() {
		anchor = e.Now
	}
	gridStart, gridEnd := daterange.MonthGridWindow(anchor, e.StartWeekOnSunday)

	slots := make([]model.DisplaySlot, 0, days)
	for i := 0; i < days; i++ {
		d := startDay.AddDate(0, 0, i)
		slot := model.DisplaySlot{
			Date:    d,
			Weekday: int(d.Weekday()),
		}

		if a.Kind == model.KindTimed {
			slot.Times = clipTimes(d, start, end, d.Equal(startDay), d.Equal(endDay))
		}

		weekStart, weekEnd := daterange.WeekWindow(d, e.StartWeekOnSunday)
		slot.VisibleInWeek = within(d, weekStart, weekEnd)
		slot.VisibleInMonth = within(d, gridStart, gridEnd)

		slots = append(slots, slot)
	}

	today := daterange.StartOfDay(e.Now)

	return model.Extras{
		Start:        start,
		End:          end,
		Duration:     duration(a.Kind, start, end, days),
		DisplayDates: slots,
		InADay:       len(slots) == 1,
		IsToday:      within(today, startDay, endDay),
		IsNow:        !e.Now.Before(start) && !e.Now.After(end),
	}, nil
}

// clipTimes computes the visible time range of a timed appointment on day d.
func clipTimes(d, start, end time.Time, isStartDay, isEndDay bool) *model.TimeRange {
	switch {
	case isStartDay && isEndDay:
		return &model.TimeRange{Start: start, End: end}
	case isStartDay:
		return &model.TimeRange{Start: start, End: lastMinute(d)}
	case isEndDay:
		return &model.TimeRange{Start: d, End: end}
	default:
		return &model.TimeRange{Start: d, End: lastMinute(d)}
	}
}

// duration breaks down the appointment's length. All-day appointments count
// whole calendar days inclusive; timed ones the exact elapsed time.
func duration(kind model.Kind, start, end time.Time, days int) model.Duration {
	if kind == model.KindAllDay {
		return model.Duration{Days: days, Formatted: fmt.Sprintf("%dd", days)}
	}

	total := int(end.Sub(start) / time.Second)
	d := model.Duration{
		Days:    total / 86400,
		Hours:   total % 86400 / 3600,
		Minutes: total % 3600 / 60,
		Seconds: total % 60,
	}
	d.Formatted = formatDuration(d)
	return d
}

func formatDuration(d model.Duration) string {
	parts := make([]string, 0, 4)
	if d.Days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", d.Days))
	}
	if d.Hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", d.Hours))
	}
	if d.Minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", d.Minutes))
	}
	if d.Seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", d.Seconds))
	}
	if len(parts) == 0 {
		return "0m"
	}
	return strings.Join(parts, " ")
}

// lastMinute returns 23:59:00 on the day of d, the clip boundary for timed
// segments that continue past the day.
func lastMinute(day time.Time) time.Time {
	return day.Add(23*time.Hour + 59*time.Minute)
}

// endOfDay returns 23:59:59 on the day of d, the all-day end boundary.
func endOfDay(day time.Time) time.Time {
	return day.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
}

func within(d, start, end time.Time) bool {
	return !d.Before(start) && !d.After(end)
}

// daysBetween counts whole calendar days from a to b (both midnights).
// Rounding absorbs DST transitions where a "day" is not 24h long.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Round(24*time.Hour) / (24 * time.Hour))
}
