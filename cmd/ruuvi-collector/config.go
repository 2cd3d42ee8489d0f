package main

import (
	"github.com/spf13/cobra"

	"github.com/asnowfix/ruuvi-collector/internal/config"
	"github.com/asnowfix/ruuvi-collector/internal/options"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the collector configuration",
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration, defaults and environment included",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(options.ViperConfig)
		if err != nil {
			return err
		}
		return options.PrintResult(redacted(cfg))
	},
}

func redacted(cfg *config.Config) *config.Config {
	c := *cfg
	if c.MQTT.Password != "" {
		c.MQTT.Password = "********"
	}
	return &c
}
