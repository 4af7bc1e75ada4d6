// Package runner orchestrates the common prologue and epilogue of operations
// scripts: take a lock before doing anything, evaluate and cache a check
// result at the end, and release the lock on every exit path, panics
// included. Capabilities are held and invoked explicitly, in a fixed order;
// there is no inheritance or hook magic deciding what runs when.
package runner

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/hpcops/sentinel/internal/config"
	"github.com/hpcops/sentinel/internal/graphite"
	"github.com/hpcops/sentinel/internal/lockfile"
	"github.com/hpcops/sentinel/internal/logging"
	"github.com/hpcops/sentinel/internal/nagios"
)

// ErrNotHAMaster is returned by Prologue when the host does not own the
// configured high-availability address and the script should not run here.
var ErrNotHAMaster = errors.New("runner: not the active HA host")

// Options adjusts a Runner beyond the shared configuration, typically from
// CLI flags.
type Options struct {
	// CacheFile overrides the default check result cache path.
	CacheFile string
	// LockFile overrides the default lock path.
	LockFile string
	// Threshold, when set, overrides the configured staleness threshold for
	// replayed check results. Zero or negative disables the staleness check.
	Threshold *time.Duration
	// DisableLocking skips the file lock entirely.
	DisableLocking bool
	// WorldReadable opens up the cached check result to everyone.
	WorldReadable bool
	// DryRun skips the lock and every cache write; the check still computes
	// and prints its result.
	DryRun bool
}

// Runner drives one script invocation.
type Runner struct {
	// Name identifies the script; default lock and cache paths derive from it.
	Name string
	// RunID tags all log records of this invocation.
	RunID string

	cfg      *config.Config
	opts     Options
	reporter *nagios.Reporter
	lock     *lockfile.TimestampedPidLockfile
	metrics  *graphite.Sender
	exit     func(int)
}

// New builds a runner for the named script. Lock and cache paths default to
// <lock dir>/<name>.lock and <cache dir>/<name>.check.json.gz.
func New(name string, cfg *config.Config, opts Options) *Runner {
	cacheFile := opts.CacheFile
	if cacheFile == "" {
		cacheFile = filepath.Join(cfg.Nagios.CacheDir, name+".check.json.gz")
	}

	threshold := cfg.Nagios.Threshold.Std()
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	reporter := nagios.NewReporter(cacheFile, name, threshold)
	reporter.User = cfg.Nagios.User
	reporter.WorldReadable = opts.WorldReadable || cfg.Nagios.WorldReadable

	r := &Runner{
		Name:     name,
		RunID:    uuid.NewString(),
		cfg:      cfg,
		opts:     opts,
		reporter: reporter,
		exit:     os.Exit,
	}

	if !opts.DisableLocking && !cfg.Lock.Disabled && !opts.DryRun {
		lockFile := opts.LockFile
		if lockFile == "" {
			lockFile = filepath.Join(cfg.Lock.Dir, name+".lock")
		}
		r.lock = lockfile.New(lockFile, cfg.Lock.Staleness.Std())
	}

	if cfg.Graphite.Addr != "" {
		r.metrics = graphite.New(graphite.Config{
			Addr:     cfg.Graphite.Addr,
			Prefix:   cfg.Graphite.Prefix,
			Timeout:  cfg.Graphite.Timeout.Std(),
			Interval: cfg.Graphite.Interval.Std(),
		})
	}

	return r
}

// Reporter exposes the check result reporter, e.g. for report-only runs.
func (r *Runner) Reporter() *nagios.Reporter {
	return r.reporter
}

// Metrics returns the graphite sender, nil when none is configured.
func (r *Runner) Metrics() *graphite.Sender {
	return r.metrics
}

// Prologue runs the fixed start-of-script sequence: the HA gate first, then
// lock acquisition. It returns ErrNotHAMaster when this host should stand
// down, and a lock error the caller must treat as CRITICAL.
func (r *Runner) Prologue() error {
	if r.cfg.HAAddr != "" && !ownsAddress(r.cfg.HAAddr) {
		logging.Op().Warn("not the active HA host, standing down",
			"run_id", r.RunID, "ha_addr", r.cfg.HAAddr)
		return ErrNotHAMaster
	}

	if r.lock != nil {
		if err := r.lock.Acquire(); err != nil {
			return fmt.Errorf("failed to take lock on %s: %w", r.lock.Path(), err)
		}
	}

	if r.metrics != nil {
		r.metrics.Start()
	}

	logging.Op().Info("prologue done", "run_id", r.RunID, "script", r.Name)
	return nil
}

// PrologueOrExit runs the prologue and converts failures into their terminal
// form: standing down in an HA pair is an OK result, a lock failure is
// CRITICAL. Both are cached so the monitoring probe sees them.
func (r *Runner) PrologueOrExit() {
	err := r.Prologue()
	if err == nil {
		return
	}
	if errors.Is(err, ErrNotHAMaster) {
		r.finish(nagios.ExitOK, fmt.Sprintf("%s not active on this host, not running", r.Name))
	}
	logging.Op().Error("prologue failed", "run_id", r.RunID, "error", err)
	r.finish(nagios.ExitCritical, err.Error())
}

// Epilogue evaluates the metrics, caches the resulting check status, flushes
// pending graphite samples, and releases the lock. A lock release failure
// turns the result CRITICAL regardless of the evaluation.
func (r *Runner) Epilogue(message string, metrics []nagios.Metric) (nagios.Result, error) {
	result, err := nagios.Evaluate(message, metrics)
	if err != nil {
		result = nagios.Result{Exit: nagios.ExitUnknown, Message: fmt.Sprintf("%s evaluation failed: %v", r.Name, err)}
	}

	if r.opts.DryRun {
		logging.Op().Info("dry run, not caching check result", "run_id", r.RunID, "status", result.Exit.Text)
	} else if cerr := r.reporter.Cache(result.Exit, result.String()); cerr != nil {
		logging.Op().Error("cannot cache check result", "run_id", r.RunID, "error", cerr)
		result = nagios.Result{Exit: nagios.ExitUnknown, Message: fmt.Sprintf("%s cannot save check result", r.Name)}
	}

	if r.metrics != nil {
		r.metrics.Stop()
	}

	if rerr := r.releaseLock(); rerr != nil {
		result = nagios.Result{Exit: nagios.ExitCritical, Message: rerr.Error()}
		r.cacheResult(result.Exit, result.Message)
		return result, rerr
	}

	logging.Op().Info("epilogue done", "run_id", r.RunID, "status", result.Exit.Text)
	return result, err
}

// EpilogueAndExit runs the epilogue and terminates with the resulting status.
func (r *Runner) EpilogueAndExit(message string, metrics []nagios.Metric) {
	result, _ := r.Epilogue(message, metrics)
	r.exitWith(result.Exit, result.Message+perfSuffix(result))
}

// OK caches an OK result and exits. Warning, Critical, and Unknown do the
// same at their level, releasing the lock first.
func (r *Runner) OK(message string)       { r.finish(nagios.ExitOK, message) }
func (r *Runner) Warning(message string)  { r.finish(nagios.ExitWarning, message) }
func (r *Runner) Critical(message string) { r.finish(nagios.ExitCritical, message) }
func (r *Runner) Unknown(message string)  { r.finish(nagios.ExitUnknown, message) }

// HandlePanic is meant to be deferred around the check body. It converts a
// panic into a CRITICAL cached result, releasing the lock, so the script
// never crashes silently or leaves the lock held.
func (r *Runner) HandlePanic() {
	rec := recover()
	if rec == nil {
		return
	}
	logging.Op().Error("unhandled panic in check",
		"run_id", r.RunID, "panic", rec, "stack", string(debug.Stack()))
	r.finish(nagios.ExitCritical, fmt.Sprintf("%s crashed: %v", r.Name, rec))
}

// finish is the single terminal path: stop the metrics worker, release the
// lock, cache whatever status we end up with (a failed release overrides it
// with CRITICAL), and exit. Monitoring probes only ever see cached results,
// so a terminal status that skips the cache is invisible to them.
func (r *Runner) finish(e nagios.Exit, message string) {
	if r.metrics != nil {
		r.metrics.Stop()
	}
	if err := r.releaseLock(); err != nil {
		e, message = nagios.ExitCritical, err.Error()
	}
	r.cacheResult(e, message)
	r.exitWith(e, message)
}

func (r *Runner) cacheResult(e nagios.Exit, message string) {
	if r.opts.DryRun {
		logging.Op().Info("dry run, not caching check result", "run_id", r.RunID, "status", e.Text)
		return
	}
	if err := r.reporter.Cache(e, message); err != nil {
		logging.Op().Error("cannot cache check result", "run_id", r.RunID, "error", err)
	}
}

func (r *Runner) releaseLock() error {
	if r.lock == nil || !r.lock.IAmLocking() {
		return nil
	}
	if err := r.lock.Release(); err != nil {
		logging.Op().Error("lock release failed", "run_id", r.RunID, "error", err)
		return fmt.Errorf("failed to release lock on %s: %w", r.lock.Path(), err)
	}
	return nil
}

// exitWith prints the check line, status text colored when stdout is a
// terminal, and terminates.
func (r *Runner) exitWith(e nagios.Exit, message string) {
	line := nagios.FormatLine(e, message)
	statusColor(e).Print(e.Text)
	fmt.Println(line[len(e.Text):])
	r.exit(e.Code)
}

func statusColor(e nagios.Exit) *color.Color {
	switch e.Code {
	case nagios.ExitOK.Code:
		return color.New(color.FgGreen)
	case nagios.ExitWarning.Code:
		return color.New(color.FgYellow)
	case nagios.ExitCritical.Code:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgMagenta)
	}
}

func perfSuffix(result nagios.Result) string {
	full := result.String()
	if len(full) > len(result.Message) {
		return full[len(result.Message):]
	}
	return ""
}

// ownsAddress reports whether any local interface carries addr.
func ownsAddress(addr string) bool {
	target := net.ParseIP(addr)
	if target == nil {
		return false
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		logging.Op().Warn("cannot list interface addresses", "error", err)
		return false
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.Equal(target) {
			return true
		}
	}
	return false
}
