package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpcops/sentinel/internal/config"
	"github.com/hpcops/sentinel/internal/logging"
)

var (
	configFile    string
	logLevel      string
	logFormat     string
	cacheFile     string
	lockFile      string
	thresholdSecs int
	nagiosUser    string
	worldReadable bool
	disableLock   bool
	dryRun        bool

	cfg *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Sentinel - HPC operations check toolkit",
		Long:  "Run monitoring checks under a lock, cache their results, and replay them for Nagios/Icinga/Zabbix probes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(cmd)
			if err != nil {
				return err
			}
			logging.Init(cfg.LogFormat, cfg.LogLevel)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&cacheFile, "cache-file", "", "Check result cache file (default derived from check name)")
	rootCmd.PersistentFlags().StringVar(&lockFile, "lock-file", "", "Lock file (default derived from check name)")
	rootCmd.PersistentFlags().IntVar(&thresholdSecs, "threshold", 0, "Staleness threshold for cached results in seconds (<= 0 disables)")
	rootCmd.PersistentFlags().StringVar(&nagiosUser, "nagios-user", "", "Account that must be able to read the cached result")
	rootCmd.PersistentFlags().BoolVar(&worldReadable, "world-readable", false, "Make the cached result world readable")
	rootCmd.PersistentFlags().BoolVar(&disableLock, "disable-locking", false, "Do NOT protect the check with a file-based lock")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Do not make any updates whatsoever")

	rootCmd.AddCommand(
		runCmd(),
		reportCmd(),
		lockCmd(),
		unlockCmd(),
		sendMetricCmd(),
		sendMailCmd(),
		sshRunCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.Default()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		c = loaded
	}
	config.ApplyEnv(c)

	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if logFormat != "" {
		c.LogFormat = logFormat
	}
	if nagiosUser != "" {
		c.Nagios.User = nagiosUser
	}
	if worldReadable {
		c.Nagios.WorldReadable = true
	}
	// Changed, not the zero value: an explicit --threshold 0 must be able to
	// disable the staleness check over a configured threshold.
	if cmd.Flags().Changed("threshold") {
		c.Nagios.Threshold = config.Duration(time.Duration(thresholdSecs) * time.Second)
	}
	if disableLock {
		c.Lock.Disabled = true
	}
	return c, nil
}
