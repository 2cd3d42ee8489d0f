package options

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/asnowfix/ruuvi-collector/internal/global"
)

var Flags struct {
	Verbose    bool
	Debug      bool
	Json       bool
	ConfigFile string // the value taken by --config / -c
}

// ViperConfig is the configuration source shared by the sub-commands,
// loaded by the root command.
var ViperConfig *viper.Viper

// CommandLineContext returns a context cancelled on SIGINT or SIGTERM,
// carrying its cancel function and the program version.
func CommandLineContext(ctx context.Context, log logr.Logger, version string) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	ctx = context.WithValue(ctx, global.CancelKey, cancel)
	ctx = context.WithValue(ctx, global.VersionKey, version)
	ctx = logr.NewContext(ctx, log)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)
		select {
		case s := <-signals:
			log.Info("Received signal", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

func PrintResult(out any) error {
	if Flags.Json {
		s, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(s))
	} else {
		s, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Print(string(s))
	}
	return nil
}
