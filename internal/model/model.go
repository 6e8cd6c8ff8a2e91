package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes all-day appointments from timed ones. Keeping this as
// an explicit tag (instead of a bare bool sprinkled through the code) lets
// the clipping rules in internal/expand switch exhaustively.
type Kind string

const (
	KindTimed  Kind = "timed"
	KindAllDay Kind = "allday"
)

// KindFor maps the wire-level allDay flag onto a Kind.
func KindFor(allDay bool) Kind {
	if allDay {
		return KindAllDay
	}
	return KindTimed
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindTimed || k == KindAllDay
}

// View identifies a calendar view granularity.
type View string

const (
	ViewDay    View = "day"
	ViewWeek   View = "week"
	ViewMonth  View = "month"
	ViewYear   View = "year"
	ViewSearch View = "search"
)

// Appointment is a normalized calendar entry as consumed by the layout
// engine. It is read-only to the engine; derived data lives in Extras.
//
// Invariant: Start <= End.
type Appointment struct {
	ID   uuid.UUID
	Kind Kind

	Title       string
	Description string
	Location    string
	Color       string
	Link        string
	Icon        string

	Editable   bool
	Deleteable bool

	Start time.Time
	End   time.Time
}

// AllDay is a convenience accessor for the kind tag.
func (a Appointment) AllDay() bool {
	return a.Kind == KindAllDay
}

// Raw is the wire shape of an appointment as delivered by a data source:
// start/end are date-time strings with either a space or a 'T' separator.
type Raw struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	AllDay      bool   `json:"allDay"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Color       string `json:"color,omitempty"`
	Link        string `json:"link,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Editable    bool   `json:"editable,omitempty"`
	Deleteable  bool   `json:"deleteable,omitempty"`
}

// Normalize parses the raw date-time fields and produces an Appointment.
// A fresh v7 UUID is assigned since wire appointments carry no identity.
func (r Raw) Normalize(loc *time.Location) (Appointment, error) {
	start, err := ParseDateTime(r.Start, loc)
	if err != nil {
		return Appointment{}, fmt.Errorf("parse start %q: %w", r.Start, err)
	}
	end, err := ParseDateTime(r.End, loc)
	if err != nil {
		return Appointment{}, fmt.Errorf("parse end %q: %w", r.End, err)
	}
	if end.Before(start) {
		return Appointment{}, fmt.Errorf("end %q before start %q", r.End, r.Start)
	}
	return Appointment{
		ID:          uuid.Must(uuid.NewV7()),
		Kind:        KindFor(r.AllDay),
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		Color:       r.Color,
		Link:        r.Link,
		Icon:        r.Icon,
		Editable:    r.Editable,
		Deleteable:  r.Deleteable,
		Start:       start,
		End:         end,
	}, nil
}

// dateTimeLayouts lists the accepted date-time string forms, tried in order.
// The space separator variants cover sources that do not emit RFC3339.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDateTime parses a date-time string, accepting a space or 'T'
// separator, optional seconds and a bare date. Values without an explicit
// offset are interpreted in loc (time.Local if nil).
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date-time value")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date-time %q", s)
}

// TimeRange is a clipped start/end pair on a single calendar day.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DisplaySlot is one calendar-day projection of an appointment.
// Times is nil for all-day appointments, which span the whole day.
type DisplaySlot struct {
	Date           time.Time  `json:"date"`    // midnight of the day
	Weekday        int        `json:"weekday"` // 0=Sunday .. 6=Saturday
	Times          *TimeRange `json:"times,omitempty"`
	VisibleInWeek  bool       `json:"visibleInWeek"`
	VisibleInMonth bool       `json:"visibleInMonth"`
}

// Duration is the elapsed-time breakdown of an appointment. For all-day
// appointments Days counts calendar days inclusive and the time-of-day
// fields stay zero.
type Duration struct {
	Days      int    `json:"days"`
	Hours     int    `json:"hours"`
	Minutes   int    `json:"minutes"`
	Seconds   int    `json:"seconds"`
	Formatted string `json:"formatted"`
}

// Extras is the per-render annotation derived from an appointment. The
// appointment itself is never mutated.
type Extras struct {
	Start        time.Time     `json:"start"` // normalized (all-day: snapped) bounds
	End          time.Time     `json:"end"`
	Duration     Duration      `json:"duration"`
	DisplayDates []DisplaySlot `json:"displayDates"`
	InADay       bool          `json:"inADay"`
	IsToday      bool          `json:"isToday"`
	IsNow        bool          `json:"isNow"`
}

// Period is the inclusive date window a view displays and queries.
type Period struct {
	Reference time.Time `json:"referenceDate"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// YearSummary is the per-day appointment count used by the year view.
type YearSummary struct {
	Date  time.Time `json:"date"`
	Total int       `json:"total"`
}

// FilterYearSummaries drops entries without a date or a positive total.
// This is a validation step, not an error path.
func FilterYearSummaries(in []YearSummary) []YearSummary {
	out := make([]YearSummary, 0, len(in))
	for _, s := range in {
		if s.Date.IsZero() || s.Total <= 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}

// CalendarState is the immutable per-render input of the pipeline. It is
// built once per render by the owning widget/server instance and passed
// explicitly into the pure computations.
type CalendarState struct {
	View              View
	Reference         time.Time
	Now               time.Time
	StartWeekOnSunday bool
}
