// Package daemon wires the capture supervisor, the decoding pipeline
// and the sink into the long-running collector.
package daemon

import (
	"context"
	"reflect"
	"sort"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/asnowfix/ruuvi-collector/hlog"
	"github.com/asnowfix/ruuvi-collector/internal/config"
	"github.com/asnowfix/ruuvi-collector/internal/metrics"
	"github.com/asnowfix/ruuvi-collector/internal/pipeline"
	"github.com/asnowfix/ruuvi-collector/internal/scanner"
	"github.com/asnowfix/ruuvi-collector/internal/sink"
	"github.com/asnowfix/ruuvi-collector/mymqtt"
	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/ratelimit"
)

// Run collects until ctx is cancelled or the capture ends. It returns
// the pipeline outcome: nil, pipeline.ErrUnhealthy or a stream or
// startup error.
func Run(ctx context.Context, log logr.Logger, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	holder := config.NewHolder(cfg)
	limiter := ratelimit.New(holder.RateLimitStrategy)
	holder.Watch(log.WithName("config"), v, onReload(log, cfg, limiter))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New()

	publisher, err := newPublisher(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	sup := scanner.New(log.WithName("scanner"), scanner.Options{
		ScanCommand:     cfg.Scan.ScanCommand,
		DumpCommand:     cfg.Scan.DumpCommand,
		Policy:          scanner.Policy(cfg.Scan.RestartPolicy),
		IdleTimeout:     cfg.Scan.RestartIfNoData,
		RestartDelay:    cfg.Scan.RestartDelay,
		MonitorInterval: cfg.Scan.MonitorInterval,
		OnRestart: func(string) {
			m.ScannerRestarts.WithLabelValues(string(cfg.Scan.RestartPolicy)).Inc()
		},
	})
	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer sup.Stop()

	p := pipeline.New(log.WithName("pipeline"), sup, holder, limiter, publisher, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return p.Run(gctx)
	})
	if cfg.Metrics.Listen != "" {
		exporter := metrics.NewExporter(log.WithName("metrics"), m, cfg.Metrics.Listen, p.Health)
		g.Go(func() error {
			return exporter.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sup.Stop()
		return nil
	})

	log.Info("Running", "sink", cfg.Sink)
	err = g.Wait()
	hlog.ErrorIfNotCanceled(log, err, "Collector stopped")
	if err != nil && !hlog.IsContextCancellation(err) {
		return err
	}
	log.Info("Shutting down")
	return nil
}

func newPublisher(ctx context.Context, log logr.Logger, cfg *config.Config) (sink.Publisher, error) {
	switch cfg.Sink {
	case config.SinkMQTT:
		return mymqtt.NewPublisher(log.WithName("mqtt"), mymqtt.Options{
			Brokers:  cfg.MQTT.Brokers,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Retain:   cfg.MQTT.Retain,
		}, displayNames(cfg))
	case config.SinkNATS:
		return sink.DialNATS(ctx, log.WithName("nats"), cfg.NATS.URL, cfg.NATS.Subject, config.Name)
	default:
		return sink.NewLog(log.WithName("measurements")), nil
	}
}

func displayNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Names))
	for _, n := range cfg.Names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// onReload hints at a restart when a reload touched settings read at
// start, and forgets the rate-limit state of tags whose overrides
// changed so the new ones apply from the next sighting.
func onReload(log logr.Logger, cfg *config.Config, limiter *ratelimit.Limiter) func(*config.Config) {
	prev := cfg
	return func(next *config.Config) {
		if needsRestart(prev, next) {
			log.Info("Capture or sink settings changed, restart to apply them")
		}
		for _, a := range changedTags(prev, next) {
			log.V(1).Info("Resetting rate limit", "mac", a)
			limiter.Forget(a)
		}
		prev = next
	}
}

func changedTags(prev, next *config.Config) []ble.Address {
	var out []ble.Address
	for a, t := range prev.Tags {
		if n, ok := next.Tags[a]; !ok || n != t {
			out = append(out, a)
		}
	}
	for a := range next.Tags {
		if _, ok := prev.Tags[a]; !ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// needsRestart reports changes a reload cannot apply: filters, names
// and rate limits are read per measurement, the rest is used at start.
func needsRestart(prev, next *config.Config) bool {
	return !reflect.DeepEqual(prev.Scan, next.Scan) ||
		prev.Sink != next.Sink ||
		!reflect.DeepEqual(prev.NATS, next.NATS) ||
		!reflect.DeepEqual(prev.Metrics, next.Metrics) ||
		!reflect.DeepEqual(prev.MQTT, next.MQTT)
}
