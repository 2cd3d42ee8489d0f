// Package ratelimit decides, per device, which measurements are worth
// forwarding. Tags advertise about once a second; most consumers only
// want one sample every few seconds unless the tag is being moved.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

// Kind selects the admission rule of a Strategy.
type Kind int

const (
	// KindTimeElapsed admits a measurement once Interval has elapsed since
	// the last admitted one.
	KindTimeElapsed Kind = iota
	// KindMotionSensitive additionally admits a measurement as soon as its
	// acceleration departs from recent samples by more than Threshold.
	KindMotionSensitive
)

func (k Kind) String() string {
	switch k {
	case KindTimeElapsed:
		return "time-elapsed"
	case KindMotionSensitive:
		return "motion-sensitive"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Strategy is a closed set of admission rules. Threshold and WindowSize
// only matter for KindMotionSensitive.
type Strategy struct {
	Kind       Kind
	Interval   time.Duration
	Threshold  float64 // in g
	WindowSize int
}

func TimeElapsed(interval time.Duration) Strategy {
	return Strategy{Kind: KindTimeElapsed, Interval: interval}
}

func MotionSensitive(interval time.Duration, threshold float64, window int) Strategy {
	if window < 1 {
		window = 1
	}
	return Strategy{Kind: KindMotionSensitive, Interval: interval, Threshold: threshold, WindowSize: window}
}

// Limiter keeps the admission state of every device seen so far.
type Limiter struct {
	strategy func(ble.Address) Strategy
	devices  sync.Map // map[ble.Address]*deviceState
}

type deviceState struct {
	mu             sync.Mutex
	admitted       bool
	lastAdmittedAt time.Time
	window         [][3]*float64
}

// New returns a Limiter looking up the strategy of each device through
// strategy on every decision, so configuration changes apply immediately.
func New(strategy func(ble.Address) Strategy) *Limiter {
	return &Limiter{strategy: strategy}
}

// Decide reports whether m, observed at now, should be forwarded.
func (l *Limiter) Decide(addr ble.Address, m *ruuvi.Measurement, now time.Time) bool {
	ds := l.deviceState(addr)
	ds.mu.Lock()
	defer ds.mu.Unlock()

	admit := decide(l.strategy(addr), ds, m, now)
	if admit {
		ds.admitted = true
		ds.lastAdmittedAt = now
	}
	return admit
}

// Forget drops the state of a device.
func (l *Limiter) Forget(addr ble.Address) {
	l.devices.Delete(addr)
}

func (l *Limiter) deviceState(addr ble.Address) *deviceState {
	if ds, ok := l.devices.Load(addr); ok {
		return ds.(*deviceState)
	}
	actual, _ := l.devices.LoadOrStore(addr, &deviceState{})
	return actual.(*deviceState)
}

func decide(s Strategy, ds *deviceState, m *ruuvi.Measurement, now time.Time) bool {
	switch s.Kind {
	case KindTimeElapsed:
		return ds.elapsed(s.Interval, now)
	case KindMotionSensitive:
		moved := ds.moved(m.Accelerations(), s.Threshold)
		ds.push(m.Accelerations(), s.WindowSize)
		return ds.elapsed(s.Interval, now) || moved
	default:
		panic(fmt.Sprintf("ratelimit: unhandled strategy %v", s.Kind))
	}
}

func (ds *deviceState) elapsed(interval time.Duration, now time.Time) bool {
	return !ds.admitted || now.Sub(ds.lastAdmittedAt) >= interval
}

// moved compares each axis with the same axis of every windowed sample.
// Axes missing on either side are skipped.
func (ds *deviceState) moved(acc [3]*float64, threshold float64) bool {
	for _, prev := range ds.window {
		for i := range acc {
			if acc[i] == nil || prev[i] == nil {
				continue
			}
			if math.Abs(*acc[i]-*prev[i]) > threshold {
				return true
			}
		}
	}
	return false
}

func (ds *deviceState) push(acc [3]*float64, size int) {
	var sample [3]*float64
	for i, v := range acc {
		if v != nil {
			c := *v
			sample[i] = &c
		}
	}
	ds.window = append(ds.window, sample)
	if over := len(ds.window) - size; over > 0 {
		ds.window = ds.window[over:]
	}
}
