package ruuvi

import (
	"math"
	"time"
)

// Enhance computes the derived values of m. A derived value is only set
// when every input it depends on is present.
func Enhance(m *Measurement, name string, at time.Time) *Enhanced {
	e := &Enhanced{
		Measurement: *m,
		Name:        name,
		Time:        at,
	}

	t, rh, p := m.Temperature, m.Humidity, m.Pressure
	e.EquilibriumVaporPressure = EquilibriumVaporPressure(t)
	e.AbsoluteHumidity = AbsoluteHumidity(t, rh)
	e.DewPoint = DewPoint(t, rh)
	e.AirDensity = AirDensity(t, rh, p)

	x, y, z := m.AccelerationX, m.AccelerationY, m.AccelerationZ
	e.AccelerationTotal = TotalAcceleration(x, y, z)
	e.AccelerationAngleFromX = AngleFromAxis(x, e.AccelerationTotal)
	e.AccelerationAngleFromY = AngleFromAxis(y, e.AccelerationTotal)
	e.AccelerationAngleFromZ = AngleFromAxis(z, e.AccelerationTotal)
	return e
}

// EquilibriumVaporPressure returns the saturation vapor pressure of water
// in Pa at temperature t °C (Magnus formula).
func EquilibriumVaporPressure(t *float64) *float64 {
	if t == nil {
		return nil
	}
	return float(611.2 * math.Exp(17.67*(*t)/(243.5+*t)))
}

// AbsoluteHumidity returns the water vapor density in g/m³.
func AbsoluteHumidity(t, rh *float64) *float64 {
	if t == nil || rh == nil {
		return nil
	}
	evp := *EquilibriumVaporPressure(t)
	return float(evp * *rh * 0.021674 / (273.15 + *t))
}

// DewPoint returns the dew point in °C.
func DewPoint(t, rh *float64) *float64 {
	if t == nil || rh == nil || *rh <= 0 {
		return nil
	}
	evp := *EquilibriumVaporPressure(t)
	v := math.Log(*rh / 100 * evp / 611.2)
	return float(-243.5 * v / (v - 17.67))
}

// AirDensity returns the density of moist air in kg/m³.
func AirDensity(t, rh, p *float64) *float64 {
	if t == nil || rh == nil || p == nil {
		return nil
	}
	evp := *EquilibriumVaporPressure(t)
	return float(1.2929 * 273.15 / (*t + 273.15) * (*p - 0.3783*(*rh/100)*evp) / 101300)
}

// TotalAcceleration returns the norm of the acceleration vector.
func TotalAcceleration(x, y, z *float64) *float64 {
	if x == nil || y == nil || z == nil {
		return nil
	}
	return float(math.Sqrt((*x)*(*x) + (*y)*(*y) + (*z)*(*z)))
}

// AngleFromAxis returns the angle in degrees between the acceleration
// vector of length total and the axis whose component is c.
func AngleFromAxis(c, total *float64) *float64 {
	if c == nil || total == nil || *total == 0 {
		return nil
	}
	r := math.Max(-1, math.Min(1, *c / *total))
	return float(math.Acos(r) * 180 / math.Pi)
}
