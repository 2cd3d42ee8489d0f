package daemon

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/kardianos/service"
	"github.com/spf13/viper"

	"github.com/asnowfix/ruuvi-collector/hlog"
	"github.com/asnowfix/ruuvi-collector/internal/config"
)

const stopTimeout = 10 * time.Second

// program adapts Run to the service manager: Start must not block and
// Stop must return once the collector is down.
type program struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logr.Logger
	v      *viper.Viper
	done   chan struct{}
	err    error
}

func newProgram(ctx context.Context, log logr.Logger, v *viper.Viper) *program {
	ctx, cancel := context.WithCancel(ctx)
	return &program{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		v:      v,
		done:   make(chan struct{}),
	}
}

func (p *program) Start(s service.Service) error {
	go func() {
		defer close(p.done)
		p.err = Run(p.ctx, p.log, p.v)
		hlog.ErrorIfNotCanceled(p.log, p.err, "Service stopping on error")
		if p.err != nil && !service.Interactive() {
			// the service manager only leaves Run on a signal
			if self, err := os.FindProcess(os.Getpid()); err == nil {
				self.Signal(os.Interrupt)
			}
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(stopTimeout):
		p.log.Info("Collector did not stop in time", "timeout", stopTimeout)
	}
	return nil
}

func serviceConfig(configFile string) *service.Config {
	args := []string{"run"}
	if configFile != "" {
		if abs, err := filepath.Abs(configFile); err == nil {
			configFile = abs
		}
		args = append(args, "--config", configFile)
	}
	return &service.Config{
		Name:        config.Name,
		DisplayName: "Ruuvi Collector",
		Description: "Collects RuuviTag BLE advertisements and forwards the measurements",
		Arguments:   args,
		Dependencies: []string{
			"After=bluetooth.target network-online.target",
			"Wants=network-online.target",
		},
	}
}

func load(ctx context.Context, v *viper.Viper, configFile string) (service.Service, *program, error) {
	log := logr.FromContextOrDiscard(ctx)
	prg := newProgram(ctx, log, v)
	s, err := service.New(prg, serviceConfig(configFile))
	if err != nil {
		log.Error(err, "Failed to create (background) service")
		return nil, nil, err
	}
	return s, prg, nil
}
