// Command altfusion replays sensor logs through the altitude filter, simulates
// flights to produce such logs and prints the filter configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/westphae/altfusion/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "altfusion:", err)
		stop()
		os.Exit(1)
	}
}

func NewCmd() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "altfusion [command] [flags] [args]",
		Short:         "altfusion estimates altitude from accelerometer, rangefinder, barometer and GPS logs",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "`<path>` of a YAML configuration file")
	rootCmd.PersistentFlags().StringP("preset", "p", config.AccelOnly,
		"`<name>` of the configuration preset, "+config.AccelOnly+" or "+config.AlwaysPredict)
	rootCmd.PersistentFlags().String("log-level", "", "`<level>` of log output: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-file", "", "`<path>` of a rotated log file")

	replayCmd := &cobra.Command{
		Use:   "replay [flags] <log file>",
		Short: "Run the filter over a sensor log",
		RunE:  doReplay,
	}
	replayCmd.Args = cobra.ExactArgs(1)
	replayCmd.Flags().String("policy", "", "`<policy>`: predict-on-accel-only or always-predict")
	replayCmd.Flags().String("observation", "", "`<model>`: fixed or distance-inflated")
	replayCmd.Flags().String("inverter", "", "`<inverter>`: guarded-diagonal or exact")
	replayCmd.Flags().String("csv", "", "`<path>` to write the estimates to as CSV")
	replayCmd.Flags().String("plot", "", "`<path>` to draw the estimates to, png, jpg or svg")
	replayCmd.Flags().StringP("series", "s", "", "`<letters>` selecting the plotted series, e.g. fvubpd2")
	replayCmd.Flags().String("web", "", "`<addr>` to serve the live estimate feed on, e.g. :8000")
	replayCmd.Flags().Duration("wait", 0, "`<duration>` to wait for a web viewer before replaying")
	replayCmd.Flags().Float64("pace", 0, "replay `<speed>` relative to the log clock, 0 for as fast as possible")
	replayCmd.Flags().Bool("mqtt", false, "publish the estimates to the configured MQTT broker")
	replayCmd.Flags().String("broker", "", "`<url>` of the MQTT broker")
	replayCmd.Flags().String("topic", "", "MQTT `<topic>` of the estimates")
	replayCmd.Flags().String("truth", "", "score the estimates against the simulated `<scenario>` the log was made from")

	simulateCmd := &cobra.Command{
		Use:   "simulate [flags]",
		Short: "Write the sensor log of a simulated flight",
		RunE:  doSimulate,
	}
	simulateCmd.Flags().String("scenario", "hover", "`<name>` of the flight: hover or steps")
	simulateCmd.Flags().StringP("out", "o", "", "`<path>` of the log to write")
	simulateCmd.Flags().Float64("jitter", 0, "`<probability>` of a sample being logged before its predecessor")
	simulateCmd.Flags().Int64("seed", 0, "`<seed>` of the sensor noise, 0 keeps the configured one")
	simulateCmd.MarkFlagRequired("out")

	configCmd := &cobra.Command{
		Use:   "config [flags]",
		Short: "Print the effective configuration as YAML",
		RunE:  doConfig,
	}
	configCmd.Flags().StringP("out", "o", "", "`<path>` to save the configuration to instead of printing it")

	rootCmd.AddCommand(
		replayCmd,
		simulateCmd,
		configCmd,
	)
	return rootCmd
}

// loadConfig reads the file named by --config, or the --preset, and applies the
// logging flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	var cfg *config.Config
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	} else {
		preset, err := cmd.Flags().GetString("preset")
		if err != nil {
			return nil, err
		}
		if cfg, err = config.Preset(preset); err != nil {
			return nil, err
		}
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.Filename, _ = cmd.Flags().GetString("log-file")
	}
	return cfg, nil
}

func doConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	if out != "" {
		return cfg.Save(out)
	}
	b, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}
