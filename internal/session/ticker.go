package session

import "time"

// Ticker drives the per-question countdown. Injected so tests can tick
// manually.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

func newTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
