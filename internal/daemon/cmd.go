package daemon

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/asnowfix/ruuvi-collector/internal/options"
)

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect RuuviTag measurements until interrupted",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindRunFlags(options.ViperConfig, cmd.Flags())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logr.FromContextOrDiscard(ctx)

		if service.Interactive() {
			return Run(ctx, log, options.ViperConfig)
		}

		s, prg, err := load(ctx, options.ViperConfig, options.Flags.ConfigFile)
		if err != nil {
			return err
		}
		if err := s.Run(); err != nil {
			return err
		}
		return prg.err
	},
}

func init() {
	RunCmd.Flags().String("sink", "", "where measurements go: mqtt, nats or log")
	RunCmd.Flags().String("metrics-listen", "", "serve /metrics and /health on this `address`")
}

// bindRunFlags lets the run flags override the configuration file.
func bindRunFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlag("sink.method", flags.Lookup("sink")); err != nil {
		return err
	}
	return v.BindPFlag("metrics.listen", flags.Lookup("metrics-listen"))
}

var InstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the collector as a " + service.Platform() + " service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := load(cmd.Context(), options.ViperConfig, options.Flags.ConfigFile)
		if err != nil {
			return err
		}
		logr.FromContextOrDiscard(cmd.Context()).Info("Installing service")
		return s.Install()
	},
}

var UninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the " + service.Platform() + " service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := load(cmd.Context(), options.ViperConfig, options.Flags.ConfigFile)
		if err != nil {
			return err
		}
		logr.FromContextOrDiscard(cmd.Context()).Info("Uninstalling service")
		return s.Uninstall()
	},
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the " + service.Platform() + " service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := load(cmd.Context(), options.ViperConfig, options.Flags.ConfigFile)
		if err != nil {
			return err
		}
		st, err := s.Status()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), statusString(st))
		return nil
	},
}

func statusString(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
