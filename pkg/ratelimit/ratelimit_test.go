package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

const (
	tagA = ble.Address("C6D2E1A7B349")
	tagB = ble.Address("CBB8334C884F")
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func still() *ruuvi.Measurement {
	return accel(0, 0, 1)
}

func accel(x, y, z float64) *ruuvi.Measurement {
	return &ruuvi.Measurement{DataFormat: 5, AccelerationX: &x, AccelerationY: &y, AccelerationZ: &z}
}

func fixed(s Strategy) func(ble.Address) Strategy {
	return func(ble.Address) Strategy { return s }
}

func TestTimeElapsed(t *testing.T) {
	l := New(fixed(TimeElapsed(9900 * time.Millisecond)))

	var admitted []int
	for _, ms := range []int{0, 5000, 10000, 11000, 12000, 99999} {
		if l.Decide(tagA, still(), at(ms)) {
			admitted = append(admitted, ms)
		}
	}
	assert.Equal(t, []int{0, 10000, 99999}, admitted)
}

func TestTimeElapsedPerDevice(t *testing.T) {
	l := New(fixed(TimeElapsed(10 * time.Second)))

	assert.True(t, l.Decide(tagA, still(), at(0)))
	assert.True(t, l.Decide(tagB, still(), at(1000)), "first sighting of another device")
	assert.False(t, l.Decide(tagA, still(), at(2000)))
	assert.False(t, l.Decide(tagB, still(), at(2000)))

	l.Forget(tagA)
	assert.True(t, l.Decide(tagA, still(), at(3000)))
}

func TestZeroIntervalAdmitsEverything(t *testing.T) {
	l := New(fixed(TimeElapsed(0)))
	for ms := 0; ms < 5; ms++ {
		assert.True(t, l.Decide(tagA, still(), at(ms)))
	}
}

func TestMotionSensitiveStillTagBehavesLikeTimeElapsed(t *testing.T) {
	l := New(fixed(MotionSensitive(10*time.Second, 0.05, 3)))

	var admitted []int
	for _, ms := range []int{0, 5000, 10000, 11000, 12000, 99999} {
		if l.Decide(tagA, accel(0.01, -0.02, 1.0), at(ms)) {
			admitted = append(admitted, ms)
		}
	}
	assert.Equal(t, []int{0, 10000, 99999}, admitted)
}

func TestMotionSensitiveAdmitsOnMovement(t *testing.T) {
	l := New(fixed(MotionSensitive(10*time.Second, 0.05, 3)))

	assert.True(t, l.Decide(tagA, accel(0, 0, 1), at(0)))
	assert.False(t, l.Decide(tagA, accel(0.02, 0, 1), at(1000)), "below threshold")
	assert.True(t, l.Decide(tagA, accel(0.2, 0, 1), at(2000)), "moved on x")
	assert.True(t, l.Decide(tagA, accel(0.2, 0, 1), at(3000)), "still differs from older samples")
}

func TestMotionSensitiveWindowEviction(t *testing.T) {
	l := New(fixed(MotionSensitive(time.Hour, 0.05, 2)))

	assert.True(t, l.Decide(tagA, accel(0, 0, 1), at(0)))
	assert.True(t, l.Decide(tagA, accel(0, 0.5, 1), at(1000)))
	// window: (0,0.5,1) and the previous sample (0,0,1)
	assert.True(t, l.Decide(tagA, accel(0, 0.5, 1), at(2000)))
	// window now holds two (0,0.5,1) samples, the resting one is gone
	assert.False(t, l.Decide(tagA, accel(0, 0.5, 1), at(3000)))
}

func TestMotionSensitiveDoesNotMoveTimeGateWhenRejected(t *testing.T) {
	l := New(fixed(MotionSensitive(10*time.Second, 0.05, 3)))

	assert.True(t, l.Decide(tagA, still(), at(0)))
	for ms := 1000; ms < 10000; ms += 1000 {
		assert.False(t, l.Decide(tagA, still(), at(ms)))
	}
	assert.True(t, l.Decide(tagA, still(), at(10000)))
}

func TestMotionSensitiveSkipsMissingAxes(t *testing.T) {
	l := New(fixed(MotionSensitive(time.Hour, 0.05, 3)))

	assert.True(t, l.Decide(tagA, &ruuvi.Measurement{DataFormat: 2}, at(0)))
	assert.False(t, l.Decide(tagA, accel(5, 5, 5), at(1000)), "nothing to compare with")
	assert.False(t, l.Decide(tagA, &ruuvi.Measurement{DataFormat: 2}, at(2000)))
	assert.True(t, l.Decide(tagA, accel(0, 0, 1), at(3000)))
}

func TestStrategyLookedUpPerDecision(t *testing.T) {
	s := TimeElapsed(time.Hour)
	l := New(func(ble.Address) Strategy { return s })

	assert.True(t, l.Decide(tagA, still(), at(0)))
	assert.False(t, l.Decide(tagA, still(), at(1000)))

	s = TimeElapsed(time.Second)
	assert.True(t, l.Decide(tagA, still(), at(1000)))
}

func TestMotionSensitiveWindowFloor(t *testing.T) {
	assert.Equal(t, 1, MotionSensitive(time.Second, 0.1, 0).WindowSize)
	assert.Equal(t, "motion-sensitive", KindMotionSensitive.String())
}
