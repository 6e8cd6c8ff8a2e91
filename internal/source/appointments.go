package source

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"chronogrid/internal/daterange"
	appLog "chronogrid/internal/log"
	"chronogrid/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// Provider is the appointment data source backed by ICS feeds. It satisfies
// the engine's fetch contract: given a Period it returns normalized
// appointments in the display timezone.
type Provider struct {
	fetcher *Fetcher
	feeds   []Feed
	loc     *time.Location

	// MaxOccurrencesPerEvent caps recurrence expansion per event. Zero
	// means defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// NewProvider creates a Provider caching feed bodies under cacheDir and
// emitting appointments in loc (time.Local if nil).
func NewProvider(cacheDir string, feeds []Feed, loc *time.Location) *Provider {
	if loc == nil {
		loc = time.Local
	}
	return &Provider{
		fetcher: NewFetcher(cacheDir),
		feeds:   feeds,
		loc:     loc,
	}
}

// Appointments fetches, parses and expands every feed into appointments
// intersecting the period. Per-feed failures are logged and skipped; the
// call only errors when the window itself is unusable.
func (p *Provider) Appointments(ctx context.Context, period model.Period) ([]model.Appointment, error) {
	if period.End.Before(period.Start) {
		return nil, errors.New("source: period end before start")
	}

	// Expansion works on instants: the window covers the whole end day.
	windowStart := period.Start
	windowEnd := period.End.AddDate(0, 0, 1)

	results, errs := p.fetcher.FetchAll(ctx, p.feeds)
	if len(errs) > 0 {
		appLog.Error("source: one or more feed fetches failed", errors.Join(errs...), "error_count", len(errs))
	}

	out := make([]model.Appointment, 0)
	for _, res := range results {
		events, err := parseFeed(res.Feed, res.Body)
		if err != nil {
			appLog.Error("source: feed parse failed", err, "id", res.Feed.ID)
			continue
		}
		out = append(out, p.expandEvents(events, windowStart, windowEnd)...)
	}
	return out, nil
}

// YearSummaries returns per-day appointment counts for the period, the
// summary form the year view consumes instead of full appointments.
func (p *Provider) YearSummaries(ctx context.Context, period model.Period) ([]model.YearSummary, error) {
	appts, err := p.Appointments(ctx, period)
	if err != nil {
		return nil, err
	}

	totals := make(map[time.Time]int)
	for _, a := range appts {
		day := daterange.StartOfDay(a.Start)
		last := daterange.StartOfDay(a.End)
		for !day.After(last) {
			totals[day]++
			day = day.AddDate(0, 0, 1)
		}
	}

	summaries := make([]model.YearSummary, 0, len(totals))
	for day, total := range totals {
		summaries = append(summaries, model.YearSummary{Date: day, Total: total})
	}
	return model.FilterYearSummaries(summaries), nil
}

// expandEvents groups base events and their RECURRENCE-ID overrides by UID
// and expands them into concrete appointments within [start, end).
func (p *Provider) expandEvents(events []feedEvent, start, end time.Time) []model.Appointment {
	baseByUID := make(map[string][]feedEvent)
	overridesByUID := make(map[string][]feedEvent)
	uids := make([]string, 0, len(events))

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	out := make([]model.Appointment, 0)
	for _, uid := range uids {
		for _, ev := range baseByUID[uid] {
			appts, hitCap := p.expandEvent(ev, overridesByUID[uid], start, end)
			if hitCap {
				appLog.Error("source: truncated occurrences for event", errors.New("max occurrences reached"),
					"uid", uid, "cap", p.maxOccurrences())
			}
			out = append(out, appts...)
		}
	}
	return out
}

func (p *Provider) expandEvent(ev feedEvent, overrides []feedEvent, start, end time.Time) ([]model.Appointment, bool) {
	if ev.RawRRule == "" {
		if ev.End.Before(start) || ev.Start.After(end) {
			return nil, false
		}
		occStart, occEnd, src := ev.Start, ev.End, ev
		if o, ok := overrideFor(overrides, ev.Start); ok {
			occStart, occEnd, src = o.Start, o.End, o
		}
		return []model.Appointment{p.toAppointment(src, occStart, occEnd)}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("source: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	times := set.Between(start.In(ev.Start.Location()), end.In(ev.Start.Location()), true)
	hitCap := false
	if len(times) > p.maxOccurrences() {
		times = times[:p.maxOccurrences()]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.Appointment, 0, len(times))
	for _, occStart := range times {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			day := daterange.StartOfDay(occStart)
			occStart = day
			occEnd = day.Add(24 * time.Hour)
		}

		src := ev
		if o, ok := overrideFor(overrides, occStart); ok {
			occStart, occEnd, src = o.Start, o.End, o
		}
		out = append(out, p.toAppointment(src, occStart, occEnd))
	}
	return out, hitCap
}

// overrideFor finds the override whose RECURRENCE-ID matches occStart.
func overrideFor(overrides []feedEvent, occStart time.Time) (feedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.In(occStart.Location()).Equal(occStart) {
			return ov, true
		}
	}
	return feedEvent{}, false
}

// toAppointment converts one occurrence into a display-timezone appointment.
func (p *Provider) toAppointment(ev feedEvent, start, end time.Time) model.Appointment {
	endLocal := end.In(p.loc)
	if ev.AllDay {
		// ICS all-day DTEND is exclusive; the engine expects the inclusive
		// last day.
		endLocal = endLocal.Add(-time.Second)
	}
	return model.Appointment{
		ID:          uuid.Must(uuid.NewV7()),
		Kind:        model.KindFor(ev.AllDay),
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       start.In(p.loc),
		End:         endLocal,
	}
}

func (p *Provider) maxOccurrences() int {
	if p.MaxOccurrencesPerEvent <= 0 {
		return defaultMaxOccurrencesPerEvent
	}
	return p.MaxOccurrencesPerEvent
}
