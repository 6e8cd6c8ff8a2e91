// Package appt holds the batch-level appointment operations shared by the
// calendar and search presentations: ordering, normalization of wire input
// and per-render annotation.
package appt

import (
	"fmt"
	"sort"
	"time"

	"chronogrid/internal/expand"
	appLog "chronogrid/internal/log"
	"chronogrid/internal/model"
)

// Annotated pairs an appointment with its derived per-render Extras.
type Annotated struct {
	Appointment model.Appointment `json:"appointment"`
	Extras      model.Extras      `json:"extras"`
}

// Sort returns a stably sorted copy of list, ordered by ascending start
// time. With allDayFirst set, every all-day appointment precedes every
// timed one regardless of start times.
//
// An appointment carrying an unknown kind tag rejects the whole sort;
// callers must not update displayed state in that case.
func Sort(list []model.Appointment, allDayFirst bool) ([]model.Appointment, error) {
	for _, a := range list {
		if !a.Kind.Valid() {
			return nil, fmt.Errorf("appt: unknown kind %q on %q", a.Kind, a.Title)
		}
	}

	out := make([]model.Appointment, len(list))
	copy(out, list)

	sort.SliceStable(out, func(i, j int) bool {
		if allDayFirst && out[i].AllDay() != out[j].AllDay() {
			return out[i].AllDay()
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// Normalize converts raw wire appointments into model appointments.
// Unparseable entries are dropped with a warning; the batch continues.
func Normalize(raw []model.Raw, loc *time.Location) []model.Appointment {
	out := make([]model.Appointment, 0, len(raw))
	for _, r := range raw {
		a, err := r.Normalize(loc)
		if err != nil {
			appLog.Error("appt: dropping unparseable appointment", err, "title", r.Title)
			continue
		}
		out = append(out, a)
	}
	return out
}

// Annotate expands every appointment into its Extras. Appointments the
// expander rejects are dropped with a warning, never aborting the batch.
func Annotate(list []model.Appointment, ex expand.Expander) []Annotated {
	out := make([]Annotated, 0, len(list))
	for _, a := range list {
		extras, err := ex.Expand(a)
		if err != nil {
			appLog.Error("appt: dropping appointment from render", err, "title", a.Title)
			continue
		}
		out = append(out, Annotated{Appointment: a, Extras: extras})
	}
	return out
}
