// Package clock abstracts the time operations the call session schedules
// on, so the dial loop and the duration timer can be driven
// deterministically in tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// NewTicker behaves like time.NewTicker: C has capacity 1 and ticks
	// are dropped when the consumer falls behind.
	NewTicker(d time.Duration) *Ticker
}

type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}
