package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asnowfix/ruuvi-collector/internal/metrics"
	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/hci"
	"github.com/asnowfix/ruuvi-collector/pkg/ratelimit"
	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

const (
	sauna   = ble.Address("CBB8334C884F")
	v5Valid = "0512FC5394C37C0004FFFC040CAC364200CDCBB8334C884F"
)

type lines struct {
	lines []string
	err   error
}

func (l *lines) ReadLine() (string, error) {
	if len(l.lines) == 0 {
		if l.err != nil {
			return "", l.err
		}
		return "", io.EOF
	}
	line := l.lines[0]
	l.lines = l.lines[1:]
	return line, nil
}

type settings struct {
	deny  map[ble.Address]bool
	names map[ble.Address]string
}

func (s settings) IsAllowedMAC(a ble.Address) bool  { return !s.deny[a] }
func (s settings) DisplayName(a ble.Address) string { return s.names[a] }

type recorder struct {
	got []*ruuvi.Enhanced
	err error
}

func (r *recorder) Publish(_ context.Context, m *ruuvi.Enhanced) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, m)
	return nil
}

func (r *recorder) Close() error { return nil }

func ruuviAdv(t *testing.T, payload string) []byte {
	t.Helper()
	b, err := hex.DecodeString(payload)
	require.NoError(t, err)
	adv := []byte{0x02, 0x01, 0x06, byte(len(b) + 3), 0xFF, 0x99, 0x04}
	return append(adv, b...)
}

func dump(t *testing.T, addr ble.Address, payload string) []string {
	return hci.DumpLines(addr, -60, ruuviAdv(t, payload))
}

type fixture struct {
	pipeline *Pipeline
	metrics  *metrics.Metrics
	sink     *recorder
}

func newFixture(t *testing.T, src *lines, s settings, interval time.Duration) *fixture {
	m := metrics.New()
	r := &recorder{}
	limiter := ratelimit.New(func(ble.Address) ratelimit.Strategy { return ratelimit.TimeElapsed(interval) })
	return &fixture{
		pipeline: New(testr.New(t), src, s, limiter, r, m),
		metrics:  m,
		sink:     r,
	}
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestForwardsMeasurement(t *testing.T) {
	src := &lines{lines: concat(
		[]string{"HCI sniffer - Bluetooth packet analyzer ver 5.50", "device: hci0 snap_len: 1500 filter: 0xffffffffffffffff"},
		dump(t, sauna, v5Valid),
	)}
	f := newFixture(t, src, settings{names: map[ble.Address]string{sauna: "Sauna"}}, time.Hour)

	require.NoError(t, f.pipeline.Run(context.Background()))
	require.Len(t, f.sink.got, 1)

	e := f.sink.got[0]
	assert.Equal(t, sauna, e.Address)
	assert.Equal(t, "Sauna", e.Name)
	assert.Equal(t, 5, e.DataFormat)
	require.NotNil(t, e.RSSI)
	assert.Equal(t, -60, *e.RSSI)
	require.NotNil(t, e.Temperature)
	assert.InDelta(t, 24.3, *e.Temperature, 1e-9)
	assert.NotNil(t, e.DewPoint)
	assert.NotNil(t, e.AccelerationTotal)
	assert.False(t, e.Time.IsZero())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Published))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Measurements.WithLabelValues("5")))
	assert.InDelta(t, 24.3, testutil.ToFloat64(f.metrics.Temperature.WithLabelValues(string(sauna), "Sauna")), 1e-9)
}

func TestRateLimitedMeasurementIsDropped(t *testing.T) {
	src := &lines{lines: concat(dump(t, sauna, v5Valid), dump(t, sauna, v5Valid))}
	f := newFixture(t, src, settings{}, time.Hour)

	require.NoError(t, f.pipeline.Run(context.Background()))
	assert.Len(t, f.sink.got, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Dropped.WithLabelValues("rate_limited")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Measurements.WithLabelValues("5")))
}

func TestFilteredDeviceIsNotDecoded(t *testing.T) {
	src := &lines{lines: dump(t, sauna, v5Valid)}
	f := newFixture(t, src, settings{deny: map[ble.Address]bool{sauna: true}}, 0)

	require.NoError(t, f.pipeline.Run(context.Background()))
	assert.Empty(t, f.sink.got)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Dropped.WithLabelValues("filtered")))
	assert.Equal(t, 0, testutil.CollectAndCount(f.metrics.Measurements))
}

func TestOtherAdvertisementsAreIgnored(t *testing.T) {
	beacon := []byte{0x02, 0x01, 0x06, 0x05, 0xFF, 0x4C, 0x00, 0x02, 0x15}
	src := &lines{lines: hci.DumpLines(sauna, -50, beacon)}
	f := newFixture(t, src, settings{}, 0)

	require.NoError(t, f.pipeline.Run(context.Background()))
	assert.Empty(t, f.sink.got)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Frames))
	assert.Equal(t, 0, testutil.CollectAndCount(f.metrics.DecodeErrors))
}

// Formats 2 and 4 only reach the decoder from the manufacturer section;
// the Eddystone-URL service data tags normally carry them in is ignored.
func TestFormat2OnlyFromManufacturerData(t *testing.T) {
	url := append([]byte{0xAA, 0xFE, 0x10, 0xF9, 0x03}, "ruu.vi/#BEgAAMFb"...)
	eddystone := append([]byte{0x02, 0x01, 0x06, 0x03, 0x03, 0xAA, 0xFE, byte(len(url) + 1), 0x16}, url...)
	src := &lines{lines: concat(
		hci.DumpLines(sauna, -50, eddystone),
		dump(t, sauna, "02291A1ECE1E"),
	)}
	f := newFixture(t, src, settings{}, 0)

	require.NoError(t, f.pipeline.Run(context.Background()))
	require.Len(t, f.sink.got, 1)
	assert.Equal(t, 2, f.sink.got[0].DataFormat)
	require.NotNil(t, f.sink.got[0].Temperature)
	assert.InDelta(t, 26.3, *f.sink.got[0].Temperature, 1e-9)
}

func TestBadInputDoesNotStopTheLoop(t *testing.T) {
	other := ble.Address("C6D2E1A7B349")
	src := &lines{lines: concat(
		dump(t, sauna, "0512FC5394C37C"),
		[]string{"> 04 3E ZZ"},
		dump(t, other, v5Valid),
		dump(t, sauna, v5Valid),
	)}
	f := newFixture(t, src, settings{}, 0)

	require.NoError(t, f.pipeline.Run(context.Background()))
	require.Len(t, f.sink.got, 1)
	assert.Equal(t, sauna, f.sink.got[0].Address)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DecodeErrors.WithLabelValues("too_short")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DecodeErrors.WithLabelValues("address_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DemuxErrors))
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	src := &lines{lines: dump(t, sauna, v5Valid)}
	f := newFixture(t, src, settings{}, 0)
	f.sink.err = errors.New("broker down")

	require.NoError(t, f.pipeline.Run(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PublishErrors))
}

func TestStreamError(t *testing.T) {
	broken := errors.New("read /dev/stdin: input/output error")
	src := &lines{lines: dump(t, sauna, v5Valid), err: broken}
	f := newFixture(t, src, settings{}, 0)

	err := f.pipeline.Run(context.Background())
	var se *StreamError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.ErrorIs(t, err, broken)
	assert.Len(t, f.sink.got, 1)
}

func TestDisconnectionWithoutRecoveryIsUnhealthy(t *testing.T) {
	src := &lines{lines: concat(dump(t, sauna, v5Valid), []string{"device: disconnected"})}
	f := newFixture(t, src, settings{}, 0)

	assert.ErrorIs(t, f.pipeline.Run(context.Background()), ErrUnhealthy)
	assert.ErrorIs(t, f.pipeline.Health(), ErrUnhealthy)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Healthy))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Diagnostics.WithLabelValues("disconnected")))
}

func TestRecoveryAfterDiagnostic(t *testing.T) {
	src := &lines{lines: concat(
		[]string{"Can't attach to device hci0. No such device(19)"},
		dump(t, sauna, v5Valid),
	)}
	f := newFixture(t, src, settings{}, 0)

	assert.NoError(t, f.pipeline.Run(context.Background()))
	assert.NoError(t, f.pipeline.Health())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Healthy))
}
