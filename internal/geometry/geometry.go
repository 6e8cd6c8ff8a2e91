package geometry

import "time"

// DefaultHourHeight is the vertical size of one hour row in the day/week
// grid, in pixels.
const DefaultHourHeight = 30.0

// Box is a vertical offset/height pair on the hour grid.
type Box struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Calculator projects time-of-day intervals onto hour-grid geometry. It is
// a pure, stateless projection: only the time of day matters, never the
// calendar date.
type Calculator struct {
	// HourHeight is the pixel height of one hour. Zero means
	// DefaultHourHeight.
	HourHeight float64

	// TopPad is a uniform visual padding added to every offset. It has no
	// semantic meaning.
	TopPad float64
}

// Project returns the box for the interval [start, end]. A zero end yields
// zero height.
func (c Calculator) Project(start, end time.Time) Box {
	b := Box{Top: c.Position(start)}
	if end.IsZero() {
		return b
	}
	b.Height = end.Sub(start).Minutes() / 60 * c.hourHeight()
	return b
}

// Position returns the vertical offset of the given time of day.
func (c Calculator) Position(t time.Time) float64 {
	h := c.hourHeight()
	return float64(t.Hour())*h + float64(t.Minute())/60*h + c.TopPad
}

func (c Calculator) hourHeight() float64 {
	if c.HourHeight <= 0 {
		return DefaultHourHeight
	}
	return c.HourHeight
}
