// Package cli implements the sweepnet command-line interface: the scan
// command, the embedded API server, and shared configuration handling.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweepnet/sweepnet/internal/config"
	"github.com/sweepnet/sweepnet/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sweepnet",
	Short: "Concurrent network port scanner",
	Long: `Sweepnet probes targets for open TCP ports using full connect or
half-open SYN scans, grabs service banners, and fingerprints what it
finds. Tuning presets trade speed against accuracy and noise.`,
	Version: getVersion(),
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sweepnet.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads the config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("sweepnet")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SWEEPNET")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging()
}

// loadConfig loads the effective configuration, falling back to defaults
// when no file is in use.
func loadConfig() *config.Config {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		return config.Default()
	}
	return cfg
}

// initLogging initializes structured logging from the loaded config.
func initLogging() {
	cfg := loadConfig()

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:     logging.LogLevel(level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: level == "debug",
	})
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
}

// getVersion returns the full version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the build information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}
