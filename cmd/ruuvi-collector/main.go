package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/asnowfix/ruuvi-collector/hlog"
	"github.com/asnowfix/ruuvi-collector/internal/config"
	"github.com/asnowfix/ruuvi-collector/internal/daemon"
	"github.com/asnowfix/ruuvi-collector/internal/debug"
	"github.com/asnowfix/ruuvi-collector/internal/decode"
	"github.com/asnowfix/ruuvi-collector/internal/global"
	"github.com/asnowfix/ruuvi-collector/internal/options"
)

var Cmd = &cobra.Command{
	Use:           config.Name,
	Short:         "Forward RuuviTag measurements captured from a Bluetooth adapter",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		hlog.InitForDaemon(options.Flags.Verbose, options.Flags.Debug || debug.IsDebuggerAttached())
		log := hlog.Logger

		home, err := os.UserHomeDir()
		if err != nil {
			log.V(1).Info("No home directory, skipping user configuration", "error", err)
			home = ""
		}
		v, err := config.NewViper(options.Flags.ConfigFile, home)
		if err != nil {
			log.Error(err, "Failed to read configuration", "file", options.Flags.ConfigFile)
			return err
		}
		if used := v.ConfigFileUsed(); used != "" {
			log.Info("Using configuration", "file", used)
		}
		options.ViperConfig = v

		ctx := options.CommandLineContext(cmd.Context(), log, getVersion())
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		global.Cancel(cmd.Context())
		return nil
	},
}

// wordSepNormalizeFunc accepts underscores in flag names, the spelling
// used by the configuration keys.
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func init() {
	Cmd.SetGlobalNormalizationFunc(wordSepNormalizeFunc)
	Cmd.PersistentFlags().StringVarP(&options.Flags.ConfigFile, "config", "c", "", "configuration `file` (default: ./"+config.Name+".yaml, /etc/"+config.Name+"/)")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Verbose, "verbose", "v", false, "verbose output")
	Cmd.PersistentFlags().BoolVar(&options.Flags.Debug, "debug", false, "debug output")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Json, "json", "j", false, "print results as JSON instead of YAML")

	Cmd.AddCommand(daemon.RunCmd)
	Cmd.AddCommand(daemon.InstallCmd)
	Cmd.AddCommand(daemon.UninstallCmd)
	Cmd.AddCommand(daemon.StatusCmd)
	Cmd.AddCommand(configCmd)
	Cmd.AddCommand(decode.Cmd)
	Cmd.AddCommand(versionCmd)
}

func main() {
	cobra.EnableTraverseRunHooks = true
	err := Cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
