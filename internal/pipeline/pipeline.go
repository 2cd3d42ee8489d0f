// Package pipeline turns the dump line stream into published
// measurements.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/asnowfix/ruuvi-collector/internal/metrics"
	"github.com/asnowfix/ruuvi-collector/internal/sink"
	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/hci"
	"github.com/asnowfix/ruuvi-collector/pkg/ratelimit"
	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

// ErrUnhealthy is returned when the adapter reported a disconnection or
// a missing device and no measurement was decoded afterwards.
var ErrUnhealthy = errors.New("bluetooth adapter unhealthy")

// StreamError ends a run: the line stream could not be read.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("reading capture stream: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

type LineSource interface {
	ReadLine() (string, error)
}

// Settings answers the per-device configuration questions.
type Settings interface {
	IsAllowedMAC(ble.Address) bool
	DisplayName(ble.Address) string
}

type Pipeline struct {
	log       logr.Logger
	source    LineSource
	settings  Settings
	limiter   *ratelimit.Limiter
	publisher sink.Publisher
	metrics   *metrics.Metrics
	demux     *hci.Demuxer

	healthy atomic.Bool
}

func New(log logr.Logger, source LineSource, settings Settings, limiter *ratelimit.Limiter, publisher sink.Publisher, m *metrics.Metrics) *Pipeline {
	p := &Pipeline{
		log:       log,
		source:    source,
		settings:  settings,
		limiter:   limiter,
		publisher: publisher,
		metrics:   m,
		demux:     hci.NewDemuxer(),
	}
	p.healthy.Store(true)
	return p
}

// Health returns ErrUnhealthy while the last adapter diagnostic has not
// been followed by a decoded measurement.
func (p *Pipeline) Health() error {
	if p.healthy.Load() {
		return nil
	}
	return ErrUnhealthy
}

// Run consumes lines until the source is exhausted. It returns a
// *StreamError if reading fails, ErrUnhealthy if the adapter went away
// for good, nil otherwise.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("Pipeline started")
	for {
		line, err := p.source.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.log.Error(err, "Capture stream failed")
			return &StreamError{Err: err}
		}
		p.handle(ctx, line)
	}
	p.log.Info("Capture stream ended", "healthy", p.healthy.Load())
	return p.Health()
}

func (p *Pipeline) handle(ctx context.Context, line string) {
	p.metrics.LinesRead.Inc()
	r := p.demux.Feed(line)
	switch {
	case r.Signal != hci.SignalNone:
		p.log.Info("Bluetooth adapter diagnostic", "signal", r.Signal.String(), "line", line)
		p.metrics.Diagnostics.WithLabelValues(r.Signal.String()).Inc()
		p.setHealthy(false)
	case r.Err != nil:
		p.log.V(1).Info("Dropping malformed packet", "mac", r.Address, "error", r.Err.Error())
		p.metrics.DemuxErrors.Inc()
	case r.Frame != nil:
		p.frame(ctx, r.Frame)
	}
}

func (p *Pipeline) frame(ctx context.Context, f *hci.Frame) {
	p.metrics.Frames.Inc()
	log := p.log.WithValues("mac", f.Address)

	if !p.settings.IsAllowedMAC(f.Address) {
		p.metrics.Dropped.WithLabelValues("filtered").Inc()
		return
	}
	payload, ok := ble.ManufacturerData(f.Data, ble.RuuviCompanyID)
	if !ok {
		return
	}

	m, err := ruuvi.Decode(f.Address, payload)
	if err != nil {
		log.V(1).Info("Dropping undecodable payload", "error", err.Error())
		p.metrics.DecodeErrors.WithLabelValues(decodeReason(err)).Inc()
		return
	}
	rssi := int(f.RSSI)
	m.RSSI = &rssi
	p.metrics.Measurements.WithLabelValues(strconv.Itoa(m.DataFormat)).Inc()
	p.setHealthy(true)

	if !p.limiter.Decide(f.Address, m, f.ObservedAt) {
		p.metrics.Dropped.WithLabelValues("rate_limited").Inc()
		return
	}

	e := ruuvi.Enhance(m, p.settings.DisplayName(f.Address), f.ObservedAt)
	if err := p.publisher.Publish(ctx, e); err != nil {
		log.Error(err, "Failed to publish measurement")
		p.metrics.PublishErrors.Inc()
		return
	}
	log.V(1).Info("Measurement forwarded", "name", e.Name, "format", e.DataFormat)
	p.metrics.Published.Inc()
	p.metrics.Observe(e)
}

func (p *Pipeline) setHealthy(ok bool) {
	if p.healthy.Swap(ok) != ok {
		if ok {
			p.log.Info("Bluetooth adapter delivering data again")
			p.metrics.Healthy.Set(1)
		} else {
			p.metrics.Healthy.Set(0)
		}
	}
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, ruuvi.ErrUnknownFormat):
		return "unknown_format"
	case errors.Is(err, ruuvi.ErrTooShort):
		return "too_short"
	case errors.Is(err, ruuvi.ErrAddressMismatch):
		return "address_mismatch"
	default:
		return "other"
	}
}
