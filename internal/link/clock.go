package link

import "time"

// Clock creates tickers. Tests substitute a manual clock.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is backed by time.Ticker.
type SystemClock struct{}

// NewTicker returns a ticker firing every d.
func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }
