package source

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronogrid/internal/model"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:single-1
SUMMARY:Dentist
LOCATION:Main St
DTSTART:20240610T080000Z
DTEND:20240610T090000Z
END:VEVENT
BEGIN:VEVENT
UID:allday-1
SUMMARY:Conference
DTSTART;VALUE=DATE:20240611
DTEND;VALUE=DATE:20240613
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
SUMMARY:Standup
DTSTART:20240603T090000Z
DTEND:20240603T091500Z
RRULE:FREQ=WEEKLY;BYDAY=MO
END:VEVENT
BEGIN:VEVENT
SUMMARY:No UID, skipped
DTSTART:20240610T100000Z
DTEND:20240610T110000Z
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseFeed(t *testing.T) {
	events, err := parseFeed(Feed{ID: "test"}, crlf(sampleICS))
	require.NoError(t, err)
	require.Len(t, events, 3, "the UID-less event is skipped")

	byUID := map[string]feedEvent{}
	for _, ev := range events {
		byUID[ev.UID] = ev
	}

	t.Run("Timed Event", func(t *testing.T) {
		ev := byUID["single-1"]
		assert.Equal(t, "Dentist", ev.Summary)
		assert.Equal(t, "Main St", ev.Location)
		assert.False(t, ev.AllDay)
		assert.Equal(t, "2024-06-10T08:00:00Z", ev.Start.UTC().Format(time.RFC3339))
	})

	t.Run("All Day Detection", func(t *testing.T) {
		ev := byUID["allday-1"]
		assert.True(t, ev.AllDay)
	})

	t.Run("RRULE Captured Raw", func(t *testing.T) {
		ev := byUID["weekly-1"]
		assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO", ev.RawRRule)
		assert.False(t, ev.IsOverride)
	})
}

func TestParseFeedEmptyBody(t *testing.T) {
	_, err := parseFeed(Feed{ID: "test"}, nil)
	assert.Error(t, err)
}

func TestParseICSTime(t *testing.T) {
	t.Run("UTC Form", func(t *testing.T) {
		got, err := parseICSTime("20250101T090000Z")
		require.NoError(t, err)
		assert.Equal(t, "2025-01-01T09:00:00Z", got.Format(time.RFC3339))
	})

	t.Run("Date Only", func(t *testing.T) {
		got, err := parseICSTime("20250101")
		require.NoError(t, err)
		assert.Equal(t, "2025-01-01", got.Format("2006-01-02"))
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := parseICSTime("")
		assert.Error(t, err)
	})
}

func TestExpandEventsRecurring(t *testing.T) {
	p := &Provider{loc: time.UTC}

	events, err := parseFeed(Feed{ID: "test"}, crlf(sampleICS))
	require.NoError(t, err)

	// June 2024, whole month.
	start := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)

	appts := p.expandEvents(events, start, end)

	var standups, dentists, conferences int
	for _, a := range appts {
		switch a.Title {
		case "Standup":
			standups++
			assert.Equal(t, model.KindTimed, a.Kind)
			assert.Equal(t, time.Monday, a.Start.Weekday())
		case "Dentist":
			dentists++
		case "Conference":
			conferences++
			assert.Equal(t, model.KindAllDay, a.Kind)
			// Exclusive DTEND becomes an inclusive last day.
			assert.Equal(t, "2024-06-12", a.End.Format("2006-01-02"))
		}
	}

	assert.Equal(t, 1, dentists)
	assert.Equal(t, 1, conferences)
	assert.Equal(t, 4, standups, "Mondays in June 2024: 3rd, 10th, 17th, 24th")
}

func TestYearSummariesCountsCoveredDays(t *testing.T) {
	// A provider with no feeds yields no appointments and no summaries.
	p := NewProvider(t.TempDir(), nil, time.UTC)
	period := model.Period{
		Start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
	}

	summaries, err := p.YearSummaries(context.Background(), period)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
