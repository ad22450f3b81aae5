package presence

import "time"

// Timer is the part of *time.Timer the reconciler needs.
type Timer interface {
	Stop() bool
}

// Ticker is the part of *time.Ticker the reconciler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock lets tests drive the freshness window, the activity expiry and the
// poll and heartbeat loops.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
