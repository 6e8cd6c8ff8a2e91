package daterange

import (
	"errors"
	"time"

	"chronogrid/internal/model"
)

// ErrInvalidView is returned for an unknown view identifier. Callers are
// expected to log it and fall back to the month view.
var ErrInvalidView = errors.New("daterange: invalid view")

// Resolve computes the inclusive start/end calendar dates a view displays
// for the given reference date. Pure function of its inputs.
//
//   - day:    start = end = reference date
//   - week:   most recent week-start on/before the reference, plus 6 days
//   - month:  first of the month walked back to the week-start day, last of
//     the month walked forward to the week-end day, so the grid always
//     covers whole weeks
//   - year, search: Jan 1 through Dec 31 of the reference year
func Resolve(ref time.Time, view model.View, startWeekOnSunday bool) (model.Period, error) {
	day := StartOfDay(ref)
	p := model.Period{Reference: day}

	switch view {
	case model.ViewDay:
		p.Start = day
		p.End = day
	case model.ViewWeek:
		p.Start, p.End = WeekWindow(day, startWeekOnSunday)
	case model.ViewMonth:
		p.Start, p.End = MonthGridWindow(day, startWeekOnSunday)
	case model.ViewYear, model.ViewSearch:
		p.Start = time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, day.Location())
		p.End = time.Date(day.Year(), time.December, 31, 0, 0, 0, 0, day.Location())
	default:
		return model.Period{}, ErrInvalidView
	}

	return p, nil
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WeekWindow returns the 7-day window containing d, anchored on the
// configured week-start day.
func WeekWindow(d time.Time, startWeekOnSunday bool) (start, end time.Time) {
	start = backToWeekStart(StartOfDay(d), startWeekOnSunday)
	end = start.AddDate(0, 0, 6)
	return start, end
}

// MonthGridWindow returns the extended month window of d's month: the first
// day walked back to the week-start day and the last day walked forward to
// the week-end day, including lead/trail days from adjacent months.
func MonthGridWindow(d time.Time, startWeekOnSunday bool) (start, end time.Time) {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
	last := first.AddDate(0, 1, -1)

	start = backToWeekStart(first, startWeekOnSunday)
	end = forwardToWeekEnd(last, startWeekOnSunday)
	return start, end
}

func weekStartDay(startWeekOnSunday bool) time.Weekday {
	if startWeekOnSunday {
		return time.Sunday
	}
	return time.Monday
}

func backToWeekStart(d time.Time, startWeekOnSunday bool) time.Time {
	target := weekStartDay(startWeekOnSunday)
	for d.Weekday() != target {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func forwardToWeekEnd(d time.Time, startWeekOnSunday bool) time.Time {
	// Week end is the day before the week start.
	target := time.Saturday
	if !startWeekOnSunday {
		target = time.Sunday
	}
	for d.Weekday() != target {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
