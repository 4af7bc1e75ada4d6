package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/hpcops/sentinel/internal/graphite"
	"github.com/hpcops/sentinel/internal/lockfile"
	"github.com/hpcops/sentinel/internal/nagios"
	"github.com/hpcops/sentinel/internal/runner"
	"github.com/hpcops/sentinel/internal/zabbix"
)

// newRunner wires a runner for the named check from the global flags.
func newRunner(name string) *runner.Runner {
	return runner.New(name, cfg, runner.Options{
		CacheFile:      cacheFile,
		LockFile:       lockFile,
		DisableLocking: cfg.Lock.Disabled,
		WorldReadable:  cfg.Nagios.WorldReadable,
		DryRun:         dryRun,
	})
}

func runCmd() *cobra.Command {
	var (
		path     string
		warning  string
		critical string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the filesystem usage check and cache the result",
		Run: func(cmd *cobra.Command, args []string) {
			r := newRunner("disk-usage")
			defer r.HandlePanic()
			r.PrologueOrExit()

			usage, err := fsUsagePct(path)
			if err != nil {
				r.Unknown(fmt.Sprintf("cannot stat %s: %v", path, err))
			}

			if m := r.Metrics(); m != nil {
				m.Enqueue("disk.usage_pct", usage, time.Now())
			}

			r.EpilogueAndExit(fmt.Sprintf("%s usage checked", path), []nagios.Metric{
				{Name: "usage_pct", Value: usage, Warning: warning, Critical: critical},
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "/", "Filesystem to check")
	cmd.Flags().StringVar(&warning, "warning", "80", "Warning range for usage percentage")
	cmd.Flags().StringVar(&critical, "critical", "95", "Critical range for usage percentage")
	return cmd
}

func reportCmd() *cobra.Command {
	var forZabbix bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Replay the last cached check result without recomputing anything",
		Run: func(cmd *cobra.Command, args []string) {
			rep := newRunner("disk-usage").Reporter()
			if forZabbix {
				zr := &zabbix.Reporter{Reporter: *rep}
				zr.ReportAndExit()
			}
			rep.ReportAndExit()
		},
	}

	cmd.Flags().BoolVar(&forZabbix, "zabbix", false, "Render the replayed perfdata as a JSON object for Zabbix")
	return cmd
}

func lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <path>",
		Short: "Acquire a timestamped pid lockfile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lock := lockfile.New(args[0], cfg.Lock.Staleness.Std())
			if err := lock.Acquire(); err != nil {
				return err
			}
			fmt.Printf("locked %s\n", args[0])
			return nil
		},
	}
}

func unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <path>",
		Short: "Release a timestamped pid lockfile held by this process tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lock := lockfile.New(args[0], cfg.Lock.Staleness.Std())
			if err := lock.Release(); err != nil {
				return err
			}
			fmt.Printf("unlocked %s\n", args[0])
			return nil
		},
	}
}

func sendMetricCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-metric <name> <value>",
		Short: "Send one metric sample to the configured Graphite ingest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid metric value %q: %w", args[1], err)
			}
			sender := graphite.New(graphite.Config{
				Addr:    cfg.Graphite.Addr,
				Prefix:  cfg.Graphite.Prefix,
				Timeout: cfg.Graphite.Timeout.Std(),
			})
			return sender.Send(args[0], value, time.Now())
		},
	}
}

func fsUsagePct(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	if st.Blocks == 0 {
		return 0, fmt.Errorf("filesystem at %s reports zero blocks", path)
	}
	used := st.Blocks - st.Bfree
	return 100 * float64(used) / float64(st.Blocks), nil
}
