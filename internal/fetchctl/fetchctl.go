// Package fetchctl coordinates the asynchronous edges of a render pass:
// last-request-wins fetch sessions and the periodic now-indicator tick.
package fetchctl

import (
	"context"
	"sync"
	"time"
)

// Session enforces the one-in-flight-fetch-per-instance rule: beginning a
// new fetch cancels the previous one, and results from a superseded fetch
// are identified by generation so they never overwrite newer state.
type Session struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// Begin cancels any in-flight fetch and opens a new one. The returned
// context is canceled when a later Begin or Cancel happens; the generation
// is passed back to Current when the result arrives.
func (s *Session) Begin(parent context.Context) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.gen++
	return ctx, s.gen
}

// Current reports whether gen still identifies the newest fetch. Stale
// results must be discarded by the caller.
func (s *Session) Current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// Cancel aborts the in-flight fetch, if any, without starting a new one.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// Ticker runs fn on a fixed period, for the current-time indicator. It must
// be stopped when the owning view is torn down so the callback never acts
// on a detached instance.
type Ticker struct {
	stop chan struct{}
	once sync.Once
}

// NowIndicatorPeriod is the refresh period of the current-time indicator.
const NowIndicatorPeriod = time.Minute

// NewTicker starts a background tick calling fn with the tick time.
func NewTicker(period time.Duration, fn func(time.Time)) *Ticker {
	if period <= 0 {
		period = NowIndicatorPeriod
	}
	t := &Ticker{stop: make(chan struct{})}

	go func() {
		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case now := <-tick.C:
				fn(now)
			case <-t.stop:
				return
			}
		}
	}()

	return t
}

// Stop tears the ticker down. Safe to call more than once.
func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stop) })
}
