// Package hci reassembles advertising reports from the text output of
// `hcidump --raw`.
//
// The dump interleaves events: a line starting with "> " opens an HCI
// event and carries the first bytes, indented lines continue it. Nothing
// correlates a continuation line with its event except order, so the
// Demuxer remembers the address announced by the last event header and
// attaches it to the next complete packet.
package hci

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
)

const (
	packetTypeEvent      = 0x04
	eventLEMeta          = 0x3E
	subeventAdvertReport = 0x02
	eventHeaderLength    = 3  // packet type, event code, parameter length
	advertAddressOffset  = 7  // first address byte within the packet
	advertDataLenOffset  = 13 // advertising data length within the packet
	eventStartMarker     = "> "
	diagnosticDisconnect = "device: disconnected"
	diagnosticNoDevice   = "No such device"
)

var macPattern = regexp.MustCompile(`\b([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}\b`)

var (
	ErrMalformedLine   = errors.New("malformed dump line")
	ErrNotAdvertReport = errors.New("not an LE advertising report")
)

// Signal is a health diagnostic printed by the dump tool.
type Signal int

const (
	SignalNone Signal = iota
	SignalDisconnected
	SignalNoDevice
)

func (s Signal) String() string {
	switch s {
	case SignalDisconnected:
		return "disconnected"
	case SignalNoDevice:
		return "no-device"
	default:
		return "none"
	}
}

// Frame is one advertising report received from a device.
type Frame struct {
	Address    ble.Address
	RSSI       int8
	Data       []byte // advertising data, AD structures
	ObservedAt time.Time
}

// Result is what a single line contributed. At most one of Frame, Signal
// and Err is set. Address is the device the line is attributed to, empty
// when unknown.
type Result struct {
	Frame   *Frame
	Signal  Signal
	Address ble.Address
	Err     error
}

// Demuxer turns dump lines into frames. It never fails on bad input: a
// broken packet is dropped and reported through Result.Err.
//
// A Demuxer is not safe for concurrent use.
type Demuxer struct {
	started bool
	address ble.Address
	packet  []byte
	want    int
	now     func() time.Time
}

func NewDemuxer() *Demuxer {
	return &Demuxer{now: time.Now}
}

func (d *Demuxer) Feed(line string) Result {
	if strings.Contains(line, diagnosticDisconnect) {
		d.reset()
		return Result{Signal: SignalDisconnected}
	}
	if strings.Contains(line, diagnosticNoDevice) {
		d.reset()
		return Result{Signal: SignalNoDevice}
	}

	if !d.started {
		if !strings.HasPrefix(line, eventStartMarker) {
			return Result{}
		}
		d.started = true
	}

	if strings.HasPrefix(line, eventStartMarker) {
		return d.open(strings.TrimPrefix(line, eventStartMarker))
	}

	if m := macPattern.FindString(line); m != "" {
		if a, err := ble.ParseAddress(m); err == nil {
			d.address = a
		}
		return Result{Address: d.address}
	}

	if d.packet == nil {
		// Continuation of an event we are not collecting, or other tool output.
		return Result{Address: d.address}
	}
	return d.append(line)
}

func (d *Demuxer) open(text string) Result {
	d.packet = nil
	b, err := parseHex(text)
	if err != nil {
		return d.fail(err)
	}
	if len(b) < eventHeaderLength {
		return d.fail(fmt.Errorf("%w: event header truncated", ErrMalformedLine))
	}
	if b[0] != packetTypeEvent || b[1] != eventLEMeta {
		// Command completes and other events are of no interest.
		return Result{}
	}
	if len(b) > advertAddressOffset+6 && b[3] == subeventAdvertReport {
		d.address = ble.AddressFromLittleEndian(b[advertAddressOffset : advertAddressOffset+6])
	}
	d.packet = b
	d.want = eventHeaderLength + int(b[2])
	return d.complete()
}

func (d *Demuxer) append(line string) Result {
	b, err := parseHex(line)
	if err != nil {
		return d.fail(err)
	}
	d.packet = append(d.packet, b...)
	return d.complete()
}

func (d *Demuxer) complete() Result {
	if len(d.packet) < d.want {
		return Result{Address: d.address}
	}
	if len(d.packet) > d.want {
		return d.fail(fmt.Errorf("%w: event overruns its declared length (%d > %d)", ErrMalformedLine, len(d.packet), d.want))
	}
	f, err := parseAdvertReport(d.packet)
	if err != nil {
		return d.fail(err)
	}
	f.ObservedAt = d.now()
	d.packet = nil
	d.address = ""
	return Result{Frame: f, Address: f.Address}
}

// fail drops the packet being collected. The error is attributed to the
// tracked address, which is then forgotten.
func (d *Demuxer) fail(err error) Result {
	r := Result{Address: d.address, Err: err}
	d.reset()
	return r
}

func (d *Demuxer) reset() {
	d.packet = nil
	d.want = 0
	d.address = ""
}

func parseAdvertReport(p []byte) (*Frame, error) {
	if len(p) <= advertDataLenOffset || p[3] != subeventAdvertReport {
		return nil, ErrNotAdvertReport
	}
	if p[4] != 1 {
		return nil, fmt.Errorf("%w: %d reports in one event", ErrNotAdvertReport, p[4])
	}
	n := int(p[advertDataLenOffset])
	start := advertDataLenOffset + 1
	if start+n+1 > len(p) {
		return nil, fmt.Errorf("%w: advertising data length %d exceeds packet", ErrMalformedLine, n)
	}
	data := make([]byte, n)
	copy(data, p[start:start+n])
	return &Frame{
		Address: ble.AddressFromLittleEndian(p[advertAddressOffset : advertAddressOffset+6]),
		RSSI:    int8(p[start+n]),
		Data:    data,
	}, nil
}

func parseHex(line string) ([]byte, error) {
	fields := strings.Fields(line)
	b := make([]byte, 0, len(fields))
	for _, f := range fields {
		if len(f) != 2 {
			return nil, fmt.Errorf("%w: unexpected token %q", ErrMalformedLine, f)
		}
		v, err := hex.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		b = append(b, v[0])
	}
	return b, nil
}
