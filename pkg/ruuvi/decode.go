package ruuvi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
)

var (
	ErrUnknownFormat   = errors.New("unknown data format")
	ErrTooShort        = errors.New("payload too short")
	ErrAddressMismatch = errors.New("embedded address does not match sender")
)

// DecodeError reports a payload that could not be decoded. It wraps one of
// ErrUnknownFormat, ErrTooShort or ErrAddressMismatch.
type DecodeError struct {
	Address ble.Address
	Format  byte
	Length  int
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s format %d (%d bytes): %v", e.Address, e.Format, e.Length, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Minimum payload length, format byte included.
var minLength = map[byte]int{
	2: 6,
	3: 14,
	4: 6,
	5: 24,
}

// Format 5 "not available" values.
const (
	v5InvalidTemperature = -0x8000
	v5InvalidHumidity    = 0xFFFF
	v5InvalidPressure    = 0xFFFF
	v5InvalidAcc         = -0x8000
	v5InvalidBattery     = 0x7FF
	v5InvalidTxPower     = 0x1F
	v5InvalidMovement    = 0xFF
	v5InvalidSequence    = 0xFFFF
)

var v5InvalidAddress = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Decode decodes the manufacturer payload (format byte first) sent by addr.
// The result is either complete for its format or an error.
func Decode(addr ble.Address, payload []byte) (*Measurement, error) {
	if len(payload) == 0 {
		return nil, &DecodeError{Address: addr, Err: ErrTooShort}
	}
	format := payload[0]
	need, known := minLength[format]
	if !known {
		return nil, &DecodeError{Address: addr, Format: format, Length: len(payload), Err: ErrUnknownFormat}
	}
	if len(payload) < need {
		return nil, &DecodeError{Address: addr, Format: format, Length: len(payload), Err: ErrTooShort}
	}

	m := &Measurement{Address: addr, DataFormat: int(format)}
	switch format {
	case 2, 4:
		decodeV2(m, payload)
	case 3:
		decodeV2(m, payload)
		decodeV3(m, payload)
	case 5:
		if err := decodeV5(m, payload); err != nil {
			return nil, &DecodeError{Address: addr, Format: format, Length: len(payload), Err: err}
		}
	}
	return m, nil
}

// decodeV2 reads the environmental block shared by formats 2, 3 and 4:
// humidity in 0.5 % steps, temperature as a sign+magnitude integer byte
// followed by a hundredths byte, pressure with a 50000 Pa offset.
func decodeV2(m *Measurement, p []byte) {
	m.Humidity = float(float64(p[1]) / 2)

	t := float64(p[2]&0x7F) + float64(p[3])/100
	if p[2]&0x80 != 0 {
		t = -t
	}
	m.Temperature = float(t)

	m.Pressure = float(float64(binary.BigEndian.Uint16(p[4:6])) + 50000)
}

func decodeV3(m *Measurement, p []byte) {
	m.AccelerationX = float(float64(int16(binary.BigEndian.Uint16(p[6:8]))) / 1000)
	m.AccelerationY = float(float64(int16(binary.BigEndian.Uint16(p[8:10]))) / 1000)
	m.AccelerationZ = float(float64(int16(binary.BigEndian.Uint16(p[10:12]))) / 1000)
	m.BatteryVoltage = float(float64(binary.BigEndian.Uint16(p[12:14])) / 1000)
}

func decodeV5(m *Measurement, p []byte) error {
	mac := p[18:24]
	if !bytes.Equal(mac, v5InvalidAddress) {
		if want := m.Address.Bytes(); want != nil && !bytes.Equal(mac, want) {
			return fmt.Errorf("%w: payload carries %s", ErrAddressMismatch, ble.AddressFromBytes(mac))
		}
	}

	if t := int16(binary.BigEndian.Uint16(p[1:3])); t != v5InvalidTemperature {
		m.Temperature = float(float64(t) * 0.005)
	}
	if h := binary.BigEndian.Uint16(p[3:5]); h != v5InvalidHumidity {
		m.Humidity = float(float64(h) * 0.0025)
	}
	if pr := binary.BigEndian.Uint16(p[5:7]); pr != v5InvalidPressure {
		m.Pressure = float(float64(pr) + 50000)
	}

	acc := [3]**float64{&m.AccelerationX, &m.AccelerationY, &m.AccelerationZ}
	for i, dst := range acc {
		off := 7 + 2*i
		if a := int16(binary.BigEndian.Uint16(p[off : off+2])); a != v5InvalidAcc {
			*dst = float(float64(a) / 1000)
		}
	}

	power := binary.BigEndian.Uint16(p[13:15])
	if b := power >> 5; b != v5InvalidBattery {
		m.BatteryVoltage = float(float64(b+1600) / 1000)
	}
	if tx := power & 0x1F; tx != v5InvalidTxPower {
		m.TxPower = float(float64(tx)*2 - 40)
	}

	if mv := p[15]; mv != v5InvalidMovement {
		m.MovementCounter = integer(int(mv))
	}
	if seq := binary.BigEndian.Uint16(p[16:18]); seq != v5InvalidSequence {
		m.MeasurementSequenceNumber = integer(int(seq))
	}
	return nil
}
