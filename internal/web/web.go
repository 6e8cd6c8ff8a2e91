// Package web exposes the layout engine over a small JSON API.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chronogrid/internal/appt"
	"chronogrid/internal/config"
	"chronogrid/internal/daterange"
	"chronogrid/internal/expand"
	"chronogrid/internal/fetchctl"
	"chronogrid/internal/geometry"
	"chronogrid/internal/isoweek"
	appLog "chronogrid/internal/log"
	"chronogrid/internal/model"
	"chronogrid/internal/overlap"
)

// DataSource is the fetch contract the server consumes. The ICS provider in
// internal/source implements it; tests substitute their own.
type DataSource interface {
	Appointments(ctx context.Context, period model.Period) ([]model.Appointment, error)
	YearSummaries(ctx context.Context, period model.Period) ([]model.YearSummary, error)
}

// Formatter turns an appointment plus its derived extras into presentational
// content for a calendar cell. The engine itself never renders.
type Formatter func(a model.Appointment, ex model.Extras) string

// DetailFormatter is the asynchronous variant used by the detail endpoint.
type DetailFormatter func(ctx context.Context, a model.Appointment, ex model.Extras) (string, error)

// responseCache is a small TTL cache for computed responses, keyed by the
// request's path and query.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	payload   any
	updatedAt time.Time
}

const responseCacheTTL = 30 * time.Second

func (c *responseCache) get(key string, now time.Time) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || now.Sub(e.updatedAt) >= responseCacheTTL {
		return nil, false
	}
	return e.payload, true
}

func (c *responseCache) put(key string, payload any, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]cacheEntry)
	}
	c.entries[key] = cacheEntry{payload: payload, updatedAt: now}
}

// Server wires the pipeline (range -> fetch -> sort -> expand -> overlap ->
// geometry) behind HTTP handlers.
type Server struct {
	cfg    *config.Config
	source DataSource
	router chi.Router

	// Formatter/DetailFormatter are optional caller-supplied content
	// producers (nil leaves content empty).
	Formatter       Formatter
	DetailFormatter DetailFormatter

	// now is injectable for tests.
	now func() time.Time

	session fetchctl.Session
	cache   responseCache

	// Current-time indicator, refreshed by a background tick.
	nowMu   sync.RWMutex
	nowMark nowMark
	ticker  *fetchctl.Ticker
}

type nowMark struct {
	At  time.Time `json:"at"`
	Top float64   `json:"top"`
}

// NewServer constructs a Server around cfg and source.
func NewServer(cfg *config.Config, source DataSource) *Server {
	s := &Server{
		cfg:    cfg,
		source: source,
		router: chi.NewRouter(),
		now:    time.Now,
	}
	s.registerRoutes()
	s.updateNowMark(s.now())
	s.ticker = fetchctl.NewTicker(fetchctl.NowIndicatorPeriod, s.updateNowMark)
	return s
}

// Handler returns the server's http.Handler, with basic auth applied when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Close tears down the background ticker. Must be called when the server is
// discarded so the tick never acts on a detached instance.
func (s *Server) Close() {
	s.ticker.Stop()
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/range", s.handleRange)
	s.router.Get("/api/appointments", s.handleAppointments)
	s.router.Get("/api/layout", s.handleLayout)
	s.router.Get("/api/year", s.handleYear)
	s.router.Get("/api/detail", s.handleDetail)
	s.router.Get("/api/now", s.handleNow)
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ChronoGrid", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// state builds the per-request CalendarState from query parameters. An
// unknown view falls back to month (logged).
func (s *Server) state(r *http.Request) (model.CalendarState, model.Period) {
	q := r.URL.Query()

	ref := s.now()
	if d := q.Get("date"); d != "" {
		if parsed, err := model.ParseDateTime(d, ref.Location()); err == nil {
			ref = parsed
		} else {
			appLog.Error("invalid date parameter, using today", err, "date", d)
		}
	}

	view := model.View(q.Get("view"))
	if view == "" {
		view = model.ViewMonth
	}

	st := model.CalendarState{
		View:              view,
		Reference:         ref,
		Now:               s.now(),
		StartWeekOnSunday: s.cfg.StartWeekOnSunday(),
	}

	period, err := daterange.Resolve(st.Reference, st.View, st.StartWeekOnSunday)
	if err != nil {
		appLog.Error("invalid view, falling back to month", err, "view", string(view))
		st.View = model.ViewMonth
		period, _ = daterange.Resolve(st.Reference, st.View, st.StartWeekOnSunday)
	}
	return st, period
}

// rangeResponse is the JSON shape of /api/range.
type rangeResponse struct {
	View      model.View `json:"view"`
	Reference string     `json:"referenceDate"`
	Start     string     `json:"start"`
	End       string     `json:"end"`
	Week      int        `json:"week"` // ISO week of the reference date
	WeekStart string     `json:"weekStart"`
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	st, period := s.state(r)
	writeJSON(w, http.StatusOK, rangeResponse{
		View:      st.View,
		Reference: formatDate(period.Reference),
		Start:     formatDate(period.Start),
		End:       formatDate(period.End),
		Week:      isoweek.Week(period.Reference),
		WeekStart: s.cfg.WeekStart,
	})
}

// appointmentDTO is the JSON view of one annotated appointment.
type appointmentDTO struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Color       string       `json:"color,omitempty"`
	Link        string       `json:"link,omitempty"`
	Icon        string       `json:"icon,omitempty"`
	AllDay      bool         `json:"allDay"`
	Start       string       `json:"start"`
	End         string       `json:"end"`
	Extras      model.Extras `json:"extras"`
	Content     string       `json:"content,omitempty"`
}

// appointmentsResponse is the JSON shape of /api/appointments.
type appointmentsResponse struct {
	View         model.View       `json:"view"`
	Start        string           `json:"start"`
	End          string           `json:"end"`
	Appointments []appointmentDTO `json:"appointments"`
	Total        int              `json:"total"`
}

func (s *Server) handleAppointments(w http.ResponseWriter, r *http.Request) {
	st, period := s.state(r)

	cacheKey := r.URL.Path + "?" + r.URL.RawQuery
	if payload, ok := s.cache.get(cacheKey, s.now()); ok {
		writeJSON(w, http.StatusOK, payload)
		return
	}

	annotated, status, err := s.fetchAnnotated(r.Context(), st, period)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	dtos := make([]appointmentDTO, 0, len(annotated))
	for _, an := range annotated {
		dtos = append(dtos, s.toDTO(an))
	}

	resp := appointmentsResponse{
		View:         st.View,
		Start:        formatDate(period.Start),
		End:          formatDate(period.End),
		Appointments: dtos,
		Total:        len(dtos),
	}
	s.cache.put(cacheKey, resp, s.now())
	writeJSON(w, http.StatusOK, resp)
}

// fetchAnnotated runs fetch -> sort -> annotate for one request under the
// last-request-wins session. A superseded fetch reports 409 and must not
// update any displayed or cached state.
func (s *Server) fetchAnnotated(parent context.Context, st model.CalendarState, period model.Period) ([]appt.Annotated, int, error) {
	ctx, gen := s.session.Begin(parent)

	list, err := s.source.Appointments(ctx, period)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, http.StatusConflict, errors.New("superseded by a newer request")
		}
		appLog.Error("appointment fetch failed", err)
		return nil, http.StatusBadGateway, errors.New("failed to fetch appointments")
	}
	if !s.session.Current(gen) {
		return nil, http.StatusConflict, errors.New("superseded by a newer request")
	}

	sorted, err := appt.Sort(list, s.cfg.SortAllDayFirst)
	if err != nil {
		appLog.Error("appointment sort failed", err)
		return nil, http.StatusInternalServerError, errors.New("failed to sort appointments")
	}

	ex := expand.Expander{
		Now:               st.Now,
		StartWeekOnSunday: st.StartWeekOnSunday,
	}
	return appt.Annotate(sorted, ex), http.StatusOK, nil
}

func (s *Server) toDTO(an appt.Annotated) appointmentDTO {
	a := an.Appointment
	dto := appointmentDTO{
		ID:          a.ID.String(),
		Title:       a.Title,
		Description: a.Description,
		Location:    a.Location,
		Color:       a.Color,
		Link:        a.Link,
		Icon:        a.Icon,
		AllDay:      a.AllDay(),
		Start:       formatDateTime(a.Start),
		End:         formatDateTime(a.End),
		Extras:      an.Extras,
	}
	if s.Formatter != nil {
		dto.Content = s.Formatter(a, an.Extras)
	}
	return dto
}

// laidOutSlot is one positioned timed segment in the layout response.
type laidOutSlot struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Start  string  `json:"start"`
	End    string  `json:"end"`
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
}

// dayLayout is the layout of a single day column.
type dayLayout struct {
	Date      string          `json:"date"`
	Weekday   int             `json:"weekday"`
	Columns   [][]laidOutSlot `json:"columns"`
	FullWidth []laidOutSlot   `json:"fullWidth"`
	AllDay    []string        `json:"allDay"` // appointment ids in the all-day row
}

// layoutResponse is the JSON shape of /api/layout.
type layoutResponse struct {
	View model.View  `json:"view"`
	Days []dayLayout `json:"days"`
}

// handleLayout computes the hour-grid layout for the day and week views:
// per-weekday overlap columns plus pixel-independent geometry.
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	st, period := s.state(r)
	if st.View != model.ViewDay && st.View != model.ViewWeek {
		writeError(w, http.StatusBadRequest, "layout requires view=day or view=week")
		return
	}

	annotated, status, err := s.fetchAnnotated(r.Context(), st, period)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	calc := geometry.Calculator{HourHeight: s.cfg.HourHeight}

	days := make([]dayLayout, 0, 7)
	for day := period.Start; !day.After(period.End); day = day.AddDate(0, 0, 1) {
		dl := dayLayout{
			Date:    formatDate(day),
			Weekday: int(day.Weekday()),
			AllDay:  []string{},
		}

		// All-day entries go to their fixed row unconditionally; only
		// timed segments compete for columns.
		var slots []overlap.Slot
		for i := range annotated {
			an := &annotated[i]
			for _, ds := range an.Extras.DisplayDates {
				if !ds.Date.Equal(day) {
					continue
				}
				if ds.Times == nil {
					dl.AllDay = append(dl.AllDay, an.Appointment.ID.String())
					continue
				}
				slots = append(slots, overlap.Slot{
					Start:       ds.Times.Start,
					End:         ds.Times.End,
					Appointment: &an.Appointment,
				})
			}
		}

		group := overlap.Resolve(slots)

		dl.Columns = make([][]laidOutSlot, len(group.Columns))
		for ci, col := range group.Columns {
			dl.Columns[ci] = make([]laidOutSlot, 0, len(col))
			for _, slot := range col {
				dl.Columns[ci] = append(dl.Columns[ci], s.laidOut(slot, calc,
					group.Left(ci, s.cfg.GapPercent),
					group.Width(ci, slot, s.cfg.GapPercent)))
			}
		}
		dl.FullWidth = make([]laidOutSlot, 0, len(group.FullWidth))
		for _, slot := range group.FullWidth {
			dl.FullWidth = append(dl.FullWidth, s.laidOut(slot, calc, 0, 100-s.cfg.GapPercent))
		}

		days = append(days, dl)
	}

	writeJSON(w, http.StatusOK, layoutResponse{View: st.View, Days: days})
}

func (s *Server) laidOut(slot overlap.Slot, calc geometry.Calculator, left, width float64) laidOutSlot {
	box := calc.Project(slot.Start, slot.End)
	out := laidOutSlot{
		Start:  formatDateTime(slot.Start),
		End:    formatDateTime(slot.End),
		Top:    box.Top,
		Height: box.Height,
		Left:   left,
		Width:  width,
	}
	if slot.Appointment != nil {
		out.ID = slot.Appointment.ID.String()
		out.Title = slot.Appointment.Title
	}
	return out
}

// yearResponse is the JSON shape of /api/year: per-day totals instead of
// full appointment objects.
type yearResponse struct {
	Start     string              `json:"start"`
	End       string              `json:"end"`
	Summaries []model.YearSummary `json:"summaries"`
}

func (s *Server) handleYear(w http.ResponseWriter, r *http.Request) {
	st, _ := s.state(r)
	period, _ := daterange.Resolve(st.Reference, model.ViewYear, st.StartWeekOnSunday)

	cacheKey := r.URL.Path + "?" + r.URL.RawQuery
	if payload, ok := s.cache.get(cacheKey, s.now()); ok {
		writeJSON(w, http.StatusOK, payload)
		return
	}

	summaries, err := s.source.YearSummaries(r.Context(), period)
	if err != nil {
		appLog.Error("year summary fetch failed", err)
		writeError(w, http.StatusBadGateway, "failed to fetch year summaries")
		return
	}

	resp := yearResponse{
		Start:     formatDate(period.Start),
		End:       formatDate(period.End),
		Summaries: model.FilterYearSummaries(summaries),
	}
	s.cache.put(cacheKey, resp, s.now())
	writeJSON(w, http.StatusOK, resp)
}

// detailResponse is the JSON shape of /api/detail.
type detailResponse struct {
	Appointment appointmentDTO `json:"appointment"`
	Content     string         `json:"content,omitempty"`
}

// handleDetail resolves a single appointment by id within the requested
// window and applies the asynchronous detail formatter.
func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing id")
		return
	}

	st, period := s.state(r)
	annotated, status, ferr := s.fetchAnnotated(r.Context(), st, period)
	if ferr != nil {
		writeError(w, status, ferr.Error())
		return
	}

	for _, an := range annotated {
		if an.Appointment.ID != id {
			continue
		}
		resp := detailResponse{Appointment: s.toDTO(an)}
		if s.DetailFormatter != nil {
			content, derr := s.DetailFormatter(r.Context(), an.Appointment, an.Extras)
			if derr != nil {
				appLog.Error("detail formatter failed", derr, "id", id.String())
				writeError(w, http.StatusInternalServerError, "failed to format detail")
				return
			}
			resp.Content = content
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeError(w, http.StatusNotFound, "appointment not found in window")
}

// handleNow serves the cached current-time indicator position.
func (s *Server) handleNow(w http.ResponseWriter, _ *http.Request) {
	s.nowMu.RLock()
	mark := s.nowMark
	s.nowMu.RUnlock()
	writeJSON(w, http.StatusOK, mark)
}

func (s *Server) updateNowMark(at time.Time) {
	calc := geometry.Calculator{HourHeight: s.cfg.HourHeight}
	s.nowMu.Lock()
	s.nowMark = nowMark{At: at, Top: calc.Position(at)}
	s.nowMu.Unlock()
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func formatDateTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
