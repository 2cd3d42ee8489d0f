package ruuvi

import (
	"encoding/binary"
	"math"
)

// encodeV5 renders m as a format 5 payload (format byte first). Missing
// fields are written as their "not available" values and out of range
// values are clamped to the representable range.
func encodeV5(m *Measurement) []byte {
	p := make([]byte, 24)
	p[0] = 5

	binary.BigEndian.PutUint16(p[1:3], uint16(scaleInt16(m.Temperature, 0.005, v5InvalidTemperature)))
	binary.BigEndian.PutUint16(p[3:5], scaleUint16(m.Humidity, 0.0025, 0, v5InvalidHumidity))
	binary.BigEndian.PutUint16(p[5:7], scaleUint16(m.Pressure, 1, 50000, v5InvalidPressure))
	for i, a := range m.Accelerations() {
		off := 7 + 2*i
		binary.BigEndian.PutUint16(p[off:off+2], uint16(scaleInt16(a, 0.001, v5InvalidAcc)))
	}

	battery := uint16(v5InvalidBattery)
	if m.BatteryVoltage != nil {
		battery = uint16(clamp(math.Round(*m.BatteryVoltage*1000)-1600, 0, v5InvalidBattery-1))
	}
	tx := uint16(v5InvalidTxPower)
	if m.TxPower != nil {
		tx = uint16(clamp(math.Round((*m.TxPower+40)/2), 0, v5InvalidTxPower-1))
	}
	binary.BigEndian.PutUint16(p[13:15], battery<<5|tx)

	p[15] = v5InvalidMovement
	if m.MovementCounter != nil {
		p[15] = byte(clamp(float64(*m.MovementCounter), 0, v5InvalidMovement-1))
	}
	binary.BigEndian.PutUint16(p[16:18], v5InvalidSequence)
	if m.MeasurementSequenceNumber != nil {
		binary.BigEndian.PutUint16(p[16:18], uint16(clamp(float64(*m.MeasurementSequenceNumber), 0, v5InvalidSequence-1)))
	}

	mac := m.Address.Bytes()
	if mac == nil {
		mac = v5InvalidAddress
	}
	copy(p[18:24], mac)
	return p
}

func scaleInt16(v *float64, step float64, invalid int16) int16 {
	if v == nil {
		return invalid
	}
	return int16(clamp(math.Round(*v/step), math.MinInt16+1, math.MaxInt16))
}

func scaleUint16(v *float64, step, offset float64, invalid uint16) uint16 {
	if v == nil {
		return invalid
	}
	return uint16(clamp(math.Round((*v-offset)/step), 0, float64(invalid)-1))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
