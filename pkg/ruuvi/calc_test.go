package ruuvi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnhance(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &Measurement{
		Address: tag, DataFormat: 5,
		Temperature: float(20), Humidity: float(50), Pressure: float(100000),
		AccelerationX: float(0.004), AccelerationY: float(-0.004), AccelerationZ: float(1.036),
	}

	e := Enhance(m, "sauna", at)

	assert.Equal(t, "sauna", e.Name)
	assert.Equal(t, at, e.Time)
	assert.Equal(t, m.Temperature, e.Temperature)
	assert.InDelta(t, 2336.947, *e.EquilibriumVaporPressure, 1e-3)
	assert.InDelta(t, 8.6391, *e.AbsoluteHumidity, 1e-4)
	assert.InDelta(t, 9.2701, *e.DewPoint, 1e-4)
	assert.InDelta(t, 1.18398, *e.AirDensity, 1e-5)
	assert.InDelta(t, 1.036015, *e.AccelerationTotal, 1e-6)
	assert.InDelta(t, 89.7788, *e.AccelerationAngleFromX, 1e-4)
	assert.InDelta(t, 90.2212, *e.AccelerationAngleFromY, 1e-4)
	assert.InDelta(t, 0.3128, *e.AccelerationAngleFromZ, 1e-4)
}

func TestEnhanceMissingInputs(t *testing.T) {
	m := &Measurement{Address: tag, DataFormat: 5, Temperature: float(0), AccelerationX: float(0.5), AccelerationY: float(0.5)}

	e := Enhance(m, "", time.Time{})

	require.NotNil(t, e.EquilibriumVaporPressure, "only needs temperature")
	assert.Nil(t, e.AbsoluteHumidity)
	assert.Nil(t, e.DewPoint)
	assert.Nil(t, e.AirDensity)
	assert.Nil(t, e.AccelerationTotal)
	assert.Nil(t, e.AccelerationAngleFromX)
	assert.Nil(t, e.AccelerationAngleFromY)
	assert.Nil(t, e.AccelerationAngleFromZ)
}

func TestAngleFromAxisZeroVector(t *testing.T) {
	zero := float(0)
	total := TotalAcceleration(zero, zero, zero)
	require.NotNil(t, total)
	assert.Nil(t, AngleFromAxis(zero, total))
}

func TestDewPointDryAir(t *testing.T) {
	assert.Nil(t, DewPoint(float(20), float(0)))
}
