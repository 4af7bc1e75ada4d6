package runner

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpcops/sentinel/internal/config"
	"github.com/hpcops/sentinel/internal/nagios"
)

// exitInstead swaps the runner's process exit for a recorded code so terminal
// paths can run inside the test process. The stub panics because os.Exit
// never returns and the code after an exit call must not run.
func exitInstead(t *testing.T, r *Runner, fn func()) (code int) {
	t.Helper()
	code = -1
	r.exit = func(c int) {
		code = c
		panic("runner exit")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("terminal path did not exit")
		}
	}()
	fn()
	return code
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Nagios.CacheDir = t.TempDir()
	cfg.Nagios.User = ""
	cfg.Lock.Dir = t.TempDir()
	return cfg
}

func TestPrologueEpilogueFlow(t *testing.T) {
	cfg := testConfig(t)
	r := New("mycheck", cfg, Options{})

	if err := r.Prologue(); err != nil {
		t.Fatalf("Prologue failed: %v", err)
	}

	lockPath := filepath.Join(cfg.Lock.Dir, "mycheck.lock")
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("prologue must create the lock file: %v", err)
	}

	result, err := r.Epilogue("all good", []nagios.Metric{
		{Name: "jobs", Value: 12, Warning: "100", Critical: "200"},
	})
	if err != nil {
		t.Fatalf("Epilogue failed: %v", err)
	}
	if result.Exit != nagios.ExitOK {
		t.Fatalf("expected OK, got %v", result.Exit)
	}

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("epilogue must release the lock")
	}

	// The result must be replayable from the cache.
	e, msg, err := r.Reporter().Report()
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if e != nagios.ExitOK {
		t.Fatalf("cached status = %v", e)
	}
	if msg != "all good | jobs=12;100;200;" {
		t.Fatalf("cached message = %q", msg)
	}
}

func TestEpilogueCritical(t *testing.T) {
	cfg := testConfig(t)
	r := New("mycheck", cfg, Options{DisableLocking: true})

	result, err := r.Epilogue("queue state", []nagios.Metric{
		{Name: "backlog", Value: 500, Warning: "100", Critical: "250"},
	})
	if err != nil {
		t.Fatalf("Epilogue failed: %v", err)
	}
	if result.Exit != nagios.ExitCritical {
		t.Fatalf("expected CRITICAL, got %v", result.Exit)
	}
}

func TestPrologueLockHeld(t *testing.T) {
	cfg := testConfig(t)

	first := New("mycheck", cfg, Options{})
	if err := first.Prologue(); err != nil {
		t.Fatalf("first Prologue failed: %v", err)
	}

	// A second runner in the same process records the same pid, so fake a
	// foreign holder instead.
	lockPath := filepath.Join(cfg.Lock.Dir, "mycheck.lock")
	if err := os.Remove(lockPath); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := os.WriteFile(lockPath, []byte("1\n9999999999\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	second := New("mycheck", cfg, Options{})
	if err := second.Prologue(); err == nil {
		t.Fatalf("Prologue must fail when the lock is held")
	}
}

func TestPrologueHAGate(t *testing.T) {
	cfg := testConfig(t)
	cfg.HAAddr = "203.0.113.77" // TEST-NET, never a local address

	r := New("mycheck", cfg, Options{})
	if err := r.Prologue(); !errors.Is(err, ErrNotHAMaster) {
		t.Fatalf("expected ErrNotHAMaster, got %v", err)
	}
}

func TestPrologueHAGateLocalAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.HAAddr = "127.0.0.1"

	r := New("mycheck", cfg, Options{})
	if err := r.Prologue(); err != nil {
		t.Fatalf("loopback must pass the HA gate: %v", err)
	}
	r.Epilogue("cleanup", nil)
}

func TestPrologueOrExitCachesLockFailure(t *testing.T) {
	cfg := testConfig(t)
	lockPath := filepath.Join(cfg.Lock.Dir, "mycheck.lock")
	if err := os.WriteFile(lockPath, []byte("1\n9999999999\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	r := New("mycheck", cfg, Options{})
	code := exitInstead(t, r, r.PrologueOrExit)
	if code != nagios.ExitCritical.Code {
		t.Fatalf("exit code = %d, want %d", code, nagios.ExitCritical.Code)
	}

	// The failure must land in the result cache so a report-only run replays
	// it instead of a stale earlier result.
	e, msg, err := r.Reporter().Report()
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if e != nagios.ExitCritical {
		t.Fatalf("cached status = %v, want CRITICAL", e)
	}
	if !strings.Contains(msg, "failed to take lock") {
		t.Fatalf("cached message = %q", msg)
	}
}

func TestPrologueOrExitCachesHAStandDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.HAAddr = "203.0.113.77"

	r := New("mycheck", cfg, Options{})
	code := exitInstead(t, r, r.PrologueOrExit)
	if code != nagios.ExitOK.Code {
		t.Fatalf("exit code = %d, want %d", code, nagios.ExitOK.Code)
	}

	e, msg, err := r.Reporter().Report()
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if e != nagios.ExitOK {
		t.Fatalf("cached status = %v, want OK", e)
	}
	if !strings.Contains(msg, "not active on this host") {
		t.Fatalf("cached message = %q", msg)
	}
}

func TestEpilogueCachesReleaseFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not bind root")
	}

	cfg := testConfig(t)
	r := New("mycheck", cfg, Options{})
	if err := r.Prologue(); err != nil {
		t.Fatalf("Prologue failed: %v", err)
	}

	if err := os.Chmod(cfg.Lock.Dir, 0o555); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	defer os.Chmod(cfg.Lock.Dir, 0o755)

	result, err := r.Epilogue("all good", nil)
	if err == nil {
		t.Fatalf("Epilogue must fail when the lock cannot be released")
	}
	if result.Exit != nagios.ExitCritical {
		t.Fatalf("expected CRITICAL, got %v", result.Exit)
	}

	e, msg, rerr := r.Reporter().Report()
	if rerr != nil {
		t.Fatalf("Report failed: %v", rerr)
	}
	if e != nagios.ExitCritical {
		t.Fatalf("cached status = %v, want the release failure", e)
	}
	if !strings.Contains(msg, "failed to release lock") {
		t.Fatalf("cached message = %q", msg)
	}
}

func TestDryRunSkipsLockAndCache(t *testing.T) {
	cfg := testConfig(t)
	r := New("mycheck", cfg, Options{DryRun: true})

	if err := r.Prologue(); err != nil {
		t.Fatalf("Prologue failed: %v", err)
	}
	lockPath := filepath.Join(cfg.Lock.Dir, "mycheck.lock")
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("dry run must not take the lock")
	}

	result, err := r.Epilogue("all good", nil)
	if err != nil {
		t.Fatalf("Epilogue failed: %v", err)
	}
	if result.Exit != nagios.ExitOK {
		t.Fatalf("expected OK, got %v", result.Exit)
	}
	if _, err := os.Stat(r.Reporter().Filename); !os.IsNotExist(err) {
		t.Fatalf("dry run must not write the check result cache")
	}
}

func TestThresholdOptionOverridesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Nagios.Threshold = config.Duration(30 * time.Second)

	r := New("mycheck", cfg, Options{})
	if r.Reporter().Threshold != 30*time.Second {
		t.Fatalf("unset option must keep the configured threshold, got %v", r.Reporter().Threshold)
	}

	zero := time.Duration(0)
	r = New("mycheck", cfg, Options{Threshold: &zero})
	if r.Reporter().Threshold != 0 {
		t.Fatalf("explicit zero threshold must override the configured one, got %v", r.Reporter().Threshold)
	}
}

func TestRunnerDefaultPaths(t *testing.T) {
	cfg := testConfig(t)
	r := New("somecheck", cfg, Options{})

	want := filepath.Join(cfg.Nagios.CacheDir, "somecheck.check.json.gz")
	if r.Reporter().Filename != want {
		t.Fatalf("cache path = %q, want %q", r.Reporter().Filename, want)
	}
	if r.RunID == "" {
		t.Fatalf("runner must carry a run id")
	}
}
