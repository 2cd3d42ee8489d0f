package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

const namespace = "ruuvi"

// Metrics holds every collector of the collector process, registered on
// its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	LinesRead       prometheus.Counter
	Frames          prometheus.Counter
	DemuxErrors     prometheus.Counter
	Diagnostics     *prometheus.CounterVec
	Measurements    *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	Published       prometheus.Counter
	PublishErrors   prometheus.Counter
	ScannerRestarts *prometheus.CounterVec
	Healthy         prometheus.Gauge
	LastSeen        *prometheus.GaugeVec
	Temperature     *prometheus.GaugeVec
	Humidity        *prometheus.GaugeVec
	Pressure        *prometheus.GaugeVec
	BatteryVoltage  *prometheus.GaugeVec
	SignalStrength  *prometheus.GaugeVec
	MovementCounter *prometheus.GaugeVec
}

func New() *Metrics {
	tag := []string{"mac", "name"}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "lines_total",
			Help: "Lines read from the dump tool",
		}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "frames_total",
			Help: "Advertising reports reassembled from the dump",
		}),
		DemuxErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "malformed_total",
			Help: "Dump packets dropped as malformed",
		}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "diagnostics_total",
			Help: "Adapter diagnostics printed by the dump tool",
		}, []string{"signal"}),
		Measurements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "measurements_total",
			Help: "Sensor payloads decoded, by data format",
		}, []string{"format"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "errors_total",
			Help: "Sensor payloads rejected by the decoder",
		}, []string{"reason"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "dropped_total",
			Help: "Measurements not forwarded (filtered or rate limited)",
		}, []string{"reason"}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "published_total",
			Help: "Measurements handed to the sink",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "errors_total",
			Help: "Measurements the sink failed to publish",
		}),
		ScannerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "restarts_total",
			Help: "Scanner restarts by the supervisor",
		}, []string{"policy"}),
		Healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "capture", Name: "healthy",
			Help: "1 while the adapter delivers data, 0 after a disconnection diagnostic",
		}),
		LastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tag", Name: "last_seen_timestamp_seconds",
			Help: "Time of the last forwarded measurement",
		}, tag),
		Temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tag", Name: "temperature_celsius",
			Help: "Last forwarded temperature",
		}, tag),
		Humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tag", Name: "humidity_percent",
			Help: "Last forwarded relative humidity",
		}, tag),
		Pressure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tag", Name: "pressure_pascals",
			Help: "Last forwarded pressure",
		}, tag),
		BatteryVoltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tag", Name: "battery_volts",
			Help: "Last forwarded battery voltage",
		}, tag),
		SignalStrength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tag", Name: "rssi_dbm",
			Help: "Signal strength of the last forwarded measurement",
		}, tag),
		MovementCounter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tag", Name: "movement_counter",
			Help: "Movement counter reported by the tag",
		}, tag),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.LinesRead, m.Frames, m.DemuxErrors, m.Diagnostics,
		m.Measurements, m.DecodeErrors, m.Dropped,
		m.Published, m.PublishErrors, m.ScannerRestarts, m.Healthy,
		m.LastSeen, m.Temperature, m.Humidity, m.Pressure,
		m.BatteryVoltage, m.SignalStrength, m.MovementCounter,
	)
	m.Healthy.Set(1)
	return m
}

// Observe records the values of a forwarded measurement.
func (m *Metrics) Observe(e *ruuvi.Enhanced) {
	labels := prometheus.Labels{"mac": string(e.Address), "name": e.Name}
	m.LastSeen.With(labels).Set(float64(e.Time.UnixMilli()) / 1000)
	set(m.Temperature, labels, e.Temperature)
	set(m.Humidity, labels, e.Humidity)
	set(m.Pressure, labels, e.Pressure)
	set(m.BatteryVoltage, labels, e.BatteryVoltage)
	set(m.SignalStrength, labels, toFloat(e.RSSI))
	set(m.MovementCounter, labels, toFloat(e.MovementCounter))
}

// set drops the series of a missing value rather than leaving the last
// reading in place.
func set(g *prometheus.GaugeVec, labels prometheus.Labels, v *float64) {
	if v == nil {
		g.Delete(labels)
		return
	}
	g.With(labels).Set(*v)
}

func toFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
