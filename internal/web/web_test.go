package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronogrid/internal/config"
	"chronogrid/internal/model"
)

// fakeSource is a canned DataSource for handler tests.
type fakeSource struct {
	appointments []model.Appointment
	summaries    []model.YearSummary
	err          error
	calls        int
}

func (f *fakeSource) Appointments(_ context.Context, _ model.Period) ([]model.Appointment, error) {
	f.calls++
	return f.appointments, f.err
}

func (f *fakeSource) YearSummaries(_ context.Context, _ model.Period) ([]model.YearSummary, error) {
	return f.summaries, f.err
}

func newTestServer(t *testing.T, src DataSource) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Normalize()
	s := NewServer(cfg, src)
	s.now = func() time.Time {
		return time.Date(2024, time.June, 11, 12, 0, 0, 0, time.UTC)
	}
	t.Cleanup(s.Close)
	return s
}

func doGET(t *testing.T, s *Server, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func appointment(title string, kind model.Kind, start, end time.Time) model.Appointment {
	a, err := model.Raw{
		Start:  start.Format("2006-01-02 15:04:05"),
		End:    end.Format("2006-01-02 15:04:05"),
		AllDay: kind == model.KindAllDay,
		Title:  title,
	}.Normalize(time.UTC)
	if err != nil {
		panic(err)
	}
	return a
}

func at(day, h, m int) time.Time {
	return time.Date(2024, time.June, day, h, m, 0, 0, time.UTC)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeSource{})
	rec := doGET(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleRange(t *testing.T) {
	s := newTestServer(t, &fakeSource{})

	t.Run("Week View", func(t *testing.T) {
		rec := doGET(t, s, "/api/range?date=2024-06-12&view=week")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[rangeResponse](t, rec)
		assert.Equal(t, model.ViewWeek, resp.View)
		assert.Equal(t, "2024-06-10", resp.Start)
		assert.Equal(t, "2024-06-16", resp.End)
		assert.Equal(t, 24, resp.Week)
	})

	t.Run("Unknown View Falls Back To Month", func(t *testing.T) {
		rec := doGET(t, s, "/api/range?date=2024-06-12&view=bogus")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[rangeResponse](t, rec)
		assert.Equal(t, model.ViewMonth, resp.View)
		assert.Equal(t, "2024-05-27", resp.Start)
		assert.Equal(t, "2024-06-30", resp.End)
	})

	t.Run("Missing Date Uses Today", func(t *testing.T) {
		rec := doGET(t, s, "/api/range?view=day")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[rangeResponse](t, rec)
		assert.Equal(t, "2024-06-11", resp.Start)
	})
}

func TestHandleAppointments(t *testing.T) {
	src := &fakeSource{appointments: []model.Appointment{
		appointment("timed", model.KindTimed, at(10, 10, 0), at(10, 11, 0)),
		appointment("allday", model.KindAllDay, at(10, 0, 0), at(10, 0, 0)),
	}}
	s := newTestServer(t, src)

	rec := doGET(t, s, "/api/appointments?date=2024-06-10&view=week")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[appointmentsResponse](t, rec)

	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "allday", resp.Appointments[0].Title, "all-day sorts first")
	assert.True(t, resp.Appointments[0].AllDay)
	assert.Equal(t, "timed", resp.Appointments[1].Title)
	require.Len(t, resp.Appointments[1].Extras.DisplayDates, 1)
	assert.True(t, resp.Appointments[1].Extras.InADay)
}

func TestHandleAppointmentsCaching(t *testing.T) {
	src := &fakeSource{}
	s := newTestServer(t, src)

	doGET(t, s, "/api/appointments?date=2024-06-10&view=week")
	doGET(t, s, "/api/appointments?date=2024-06-10&view=week")
	assert.Equal(t, 1, src.calls, "second request is served from the TTL cache")

	doGET(t, s, "/api/appointments?date=2024-06-17&view=week")
	assert.Equal(t, 2, src.calls, "different query misses the cache")
}

func TestHandleAppointmentsFetchFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("feed down")}
	s := newTestServer(t, src)

	rec := doGET(t, s, "/api/appointments?date=2024-06-10&view=week")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleAppointmentsSortRejection(t *testing.T) {
	src := &fakeSource{appointments: []model.Appointment{
		{Kind: model.Kind("bogus"), Title: "bad", Start: at(10, 9, 0), End: at(10, 10, 0)},
	}}
	s := newTestServer(t, src)

	rec := doGET(t, s, "/api/appointments?date=2024-06-10&view=week")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// The failed render must not be cached as displayed state.
	src.appointments = nil
	rec = doGET(t, s, "/api/appointments?date=2024-06-10&view=week")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleLayout(t *testing.T) {
	src := &fakeSource{appointments: []model.Appointment{
		appointment("a", model.KindTimed, at(10, 9, 0), at(10, 11, 0)),
		appointment("b", model.KindTimed, at(10, 10, 0), at(10, 12, 0)),
		appointment("banner", model.KindAllDay, at(10, 0, 0), at(10, 0, 0)),
	}}
	s := newTestServer(t, src)

	rec := doGET(t, s, "/api/layout?date=2024-06-10&view=day")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[layoutResponse](t, rec)

	require.Len(t, resp.Days, 1)
	d := resp.Days[0]
	assert.Equal(t, "2024-06-10", d.Date)
	require.Len(t, d.Columns, 2, "overlapping pair opens two columns")
	require.Len(t, d.AllDay, 1, "all-day entry goes to its own row")
	assert.Empty(t, d.FullWidth)

	first := d.Columns[0][0]
	assert.Equal(t, "a", first.Title)
	assert.InDelta(t, 9*30, first.Top, 0.001)
	assert.InDelta(t, 2*30, first.Height, 0.001)
	assert.InDelta(t, 0, first.Left, 0.001)
}

func TestHandleLayoutRejectsMonthView(t *testing.T) {
	s := newTestServer(t, &fakeSource{})
	rec := doGET(t, s, "/api/layout?date=2024-06-10&view=month")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleYear(t *testing.T) {
	src := &fakeSource{summaries: []model.YearSummary{
		{Date: at(10, 0, 0), Total: 2},
		{Total: 5}, // filtered: no date
	}}
	s := newTestServer(t, src)

	rec := doGET(t, s, "/api/year?date=2024-06-10")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[yearResponse](t, rec)

	assert.Equal(t, "2024-01-01", resp.Start)
	assert.Equal(t, "2024-12-31", resp.End)
	require.Len(t, resp.Summaries, 1)
	assert.Equal(t, 2, resp.Summaries[0].Total)
}

func TestHandleDetail(t *testing.T) {
	target := appointment("meeting", model.KindTimed, at(10, 10, 0), at(10, 11, 0))
	src := &fakeSource{appointments: []model.Appointment{target}}
	s := newTestServer(t, src)
	s.DetailFormatter = func(_ context.Context, a model.Appointment, ex model.Extras) (string, error) {
		return a.Title + " / " + ex.Duration.Formatted, nil
	}

	t.Run("Found", func(t *testing.T) {
		rec := doGET(t, s, "/api/detail?date=2024-06-10&view=day&id="+target.ID.String())
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[detailResponse](t, rec)
		assert.Equal(t, "meeting", resp.Appointment.Title)
		assert.Equal(t, "meeting / 1h", resp.Content)
	})

	t.Run("Unknown ID", func(t *testing.T) {
		rec := doGET(t, s, "/api/detail?date=2024-06-10&view=day&id=00000000-0000-0000-0000-000000000001")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Missing ID", func(t *testing.T) {
		rec := doGET(t, s, "/api/detail?date=2024-06-10&view=day")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleNow(t *testing.T) {
	s := newTestServer(t, &fakeSource{})
	rec := doGET(t, s, "/api/now")
	require.Equal(t, http.StatusOK, rec.Code)
	mark := decode[nowMark](t, rec)
	assert.False(t, mark.At.IsZero())
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "cal", Password: "secret"}
	s := NewServer(cfg, &fakeSource{})
	t.Cleanup(s.Close)

	t.Run("Health Is Open", func(t *testing.T) {
		rec := doGET(t, s, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("API Requires Credentials", func(t *testing.T) {
		rec := doGET(t, s, "/api/range?view=day")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Valid Credentials Pass", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/range?view=day", nil)
		req.SetBasicAuth("cal", "secret")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
