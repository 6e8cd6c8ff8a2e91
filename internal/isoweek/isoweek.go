package isoweek

import "time"

// Week returns the ISO-8601 week number of d: the week numbering where
// week 1 is the week containing the year's first Thursday, with weeks
// starting on Monday.
//
// The computation shifts d to the Thursday of its ISO week and counts whole
// weeks from the first ISO Thursday of that Thursday's year. All arithmetic
// happens on a UTC copy of the calendar date so local DST transitions can
// never shift a day boundary.
func Week(d time.Time) int {
	th := isoThursday(asUTCDate(d))
	first := firstISOThursday(th.Year())
	return 1 + int(th.Sub(first)/(7*24*time.Hour))
}

// YearWeek returns the ISO week-numbering year along with the week number.
// Around new year this can differ from d's calendar year: Dec 29–31 may
// belong to week 1 of the next year, Jan 1–3 to the last week of the
// previous one.
func YearWeek(d time.Time) (year, week int) {
	th := isoThursday(asUTCDate(d))
	first := firstISOThursday(th.Year())
	return th.Year(), 1 + int(th.Sub(first)/(7*24*time.Hour))
}

// asUTCDate rebuilds d's calendar date at midnight UTC.
func asUTCDate(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// isoThursday returns the Thursday of d's Monday-start week.
func isoThursday(d time.Time) time.Time {
	// Monday=0 .. Sunday=6.
	weekday := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, 3-weekday)
}

// firstISOThursday locates the Thursday nearest Jan 4, which by definition
// sits in week 1.
func firstISOThursday(year int) time.Time {
	return isoThursday(time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC))
}
