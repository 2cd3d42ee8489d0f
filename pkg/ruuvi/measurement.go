// Package ruuvi decodes RuuviTag sensor payloads (data formats 2, 3, 4 and 5)
// and derives the physical quantities published alongside the raw readings.
//
// A reading the tag could not take is represented by a nil pointer, never
// by a zero value: a 0.0 °C temperature and a missing temperature are
// different things.
package ruuvi

import (
	"time"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
)

// Measurement is one decoded sensor payload. Which fields are set is fully
// determined by DataFormat.
type Measurement struct {
	Address    ble.Address `json:"mac"`
	DataFormat int         `json:"dataFormat"`
	RSSI       *int        `json:"rssi,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"` // °C
	Humidity    *float64 `json:"humidity,omitempty"`    // %RH
	Pressure    *float64 `json:"pressure,omitempty"`    // Pa

	AccelerationX *float64 `json:"accelerationX,omitempty"` // g
	AccelerationY *float64 `json:"accelerationY,omitempty"` // g
	AccelerationZ *float64 `json:"accelerationZ,omitempty"` // g

	BatteryVoltage *float64 `json:"batteryVoltage,omitempty"` // V
	TxPower        *float64 `json:"txPower,omitempty"`        // dBm

	MovementCounter           *int `json:"movementCounter,omitempty"`
	MeasurementSequenceNumber *int `json:"measurementSequenceNumber,omitempty"`
}

// Enhanced is a Measurement plus the values derived from it and the
// metadata attached before publishing.
type Enhanced struct {
	Measurement

	Name string    `json:"name,omitempty"`
	Time time.Time `json:"time"`

	AbsoluteHumidity         *float64 `json:"absoluteHumidity,omitempty"`         // g/m³
	DewPoint                 *float64 `json:"dewPoint,omitempty"`                 // °C
	EquilibriumVaporPressure *float64 `json:"equilibriumVaporPressure,omitempty"` // Pa
	AirDensity               *float64 `json:"airDensity,omitempty"`               // kg/m³

	AccelerationTotal      *float64 `json:"accelerationTotal,omitempty"`      // g
	AccelerationAngleFromX *float64 `json:"accelerationAngleFromX,omitempty"` // degrees
	AccelerationAngleFromY *float64 `json:"accelerationAngleFromY,omitempty"` // degrees
	AccelerationAngleFromZ *float64 `json:"accelerationAngleFromZ,omitempty"` // degrees
}

// Accelerations returns the three axes in X, Y, Z order.
func (m *Measurement) Accelerations() [3]*float64 {
	return [3]*float64{m.AccelerationX, m.AccelerationY, m.AccelerationZ}
}

func float(v float64) *float64 {
	return &v
}

func integer(v int) *int {
	return &v
}
