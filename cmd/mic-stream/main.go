package main

import (
	"fmt"
	"os"

	"github.com/petems/mic-stream/internal/audio"
	"github.com/petems/mic-stream/internal/config"
	"github.com/petems/mic-stream/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"

	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "mic-stream",
	Short:        "Stream microphone PCM as base64 data events",
	Version:      fmt.Sprintf("%s (%s)", Version, Commit),
	SilenceUsage: true,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logging.NewWithLevel(cfg.LogLevel)

		driver, err := audio.New(log)
		if err != nil {
			return err
		}
		defer driver.Close()

		devices, err := driver.ListDevices()
		if err != nil {
			return err
		}
		for _, d := range devices {
			marker := " "
			if d.Default {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-40s %s\n", marker, d.ID, d.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.Path()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(devicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.Path()
	}

	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}
