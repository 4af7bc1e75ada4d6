package nagios

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/hpcops/sentinel/internal/filecache"
	"github.com/hpcops/sentinel/internal/logging"
)

// CacheKey is the cache key check results are stored under.
const CacheKey = "nagios"

// ErrNoCachedResult is returned by Report when the cache holds no check
// result to replay.
var ErrNoCachedResult = errors.New("nagios: no cached check result")

// CachedReport is the persisted form of one check result.
type CachedReport struct {
	Code    int    `json:"code"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

// Reporter caches check results in a gzipped JSON file so a later report-only
// invocation can replay them without recomputing anything.
type Reporter struct {
	// Filename is the cache file location.
	Filename string
	// Header prefixes messages the reporter generates itself (stale or
	// unavailable cache), identifying the script that owns the file.
	Header string
	// Threshold bounds how old a cached result may be before Report answers
	// UNKNOWN instead. A threshold <= 0 disables the staleness check and the
	// cached result is always served.
	Threshold time.Duration
	// User is the account that must be able to read the cache file.
	User string
	// WorldReadable opens up the cache file permissions to everyone.
	WorldReadable bool
}

// NewReporter returns a reporter for the given cache file.
func NewReporter(filename, header string, threshold time.Duration) *Reporter {
	return &Reporter{
		Filename:  filename,
		Header:    header,
		Threshold: threshold,
		User:      "nagios",
	}
}

// Cache persists the check result with the current timestamp, always
// overwriting the previous one, and adjusts the file permissions so the
// monitoring user can read it. Permission and ownership failures are logged
// warnings, not errors: the result itself was already persisted.
func (r *Reporter) Cache(e Exit, message string) error {
	cache, err := filecache.Open(r.Filename)
	if err != nil {
		return fmt.Errorf("nagios: open result cache %s: %w", r.Filename, err)
	}
	if _, err := cache.Update(CacheKey, CachedReport{Code: e.Code, Text: e.Text, Message: message}, 0); err != nil {
		return fmt.Errorf("nagios: store check result: %w", err)
	}
	if err := cache.Close(); err != nil {
		return fmt.Errorf("nagios: write result cache %s: %w", r.Filename, err)
	}
	logging.Op().Info("wrote check result cache", "path", r.Filename, "status", e.Text)

	r.adjustPermissions()
	return nil
}

// Report loads the last cached check result and decides what to replay. It
// returns the cached exit and message when the result is fresh enough (or the
// staleness check is disabled), and UNKNOWN with an explanatory message when
// the result is too old. An unreadable or empty cache is an error the caller
// should turn into UNKNOWN as well.
func (r *Reporter) Report() (Exit, string, error) {
	cache, err := filecache.Open(r.Filename, filecache.Strict())
	if err != nil {
		return ExitUnknown, fmt.Sprintf("%s check result cache unavailable (%s)", r.Header, r.Filename), err
	}

	entry, ok := cache.Load(CacheKey)
	if !ok {
		return ExitUnknown, fmt.Sprintf("%s no check result cached (%s)", r.Header, r.Filename),
			fmt.Errorf("%w: %s", ErrNoCachedResult, r.Filename)
	}

	var rec CachedReport
	if err := entry.Decode(&rec); err != nil {
		return ExitUnknown, fmt.Sprintf("%s check result cache corrupt (%s)", r.Header, r.Filename),
			fmt.Errorf("nagios: decode cached result: %w", err)
	}

	if r.Threshold <= 0 || time.Since(entry.Time) < r.Threshold {
		logging.Op().Info("replaying cached check result", "path", r.Filename, "status", rec.Text)
		return ExitFromCode(rec.Code), rec.Message, nil
	}

	msg := fmt.Sprintf("%s cached check result too old (timestamp = %s)", r.Header, entry.Time.Format(time.UnixDate))
	return ExitUnknown, msg, nil
}

// ReportAndExit replays the cached result and terminates the process with its
// exit code. Failures to read the cache terminate with UNKNOWN.
func (r *Reporter) ReportAndExit() {
	e, msg, err := r.Report()
	if err != nil {
		logging.Op().Error("cannot replay cached check result", "path", r.Filename, "error", err)
	}
	ExitWith(e, msg)
}

// CacheAndExit persists the result and terminates with its exit code. A
// persistence failure is itself reported as UNKNOWN.
func (r *Reporter) CacheAndExit(e Exit, message string) {
	if err := r.Cache(e, message); err != nil {
		logging.Op().Error("cannot cache check result", "path", r.Filename, "error", err)
		UnknownExit(fmt.Sprintf("%s cannot save check result (%s)", r.Header, r.Filename))
	}
	ExitWith(e, message)
}

// adjustPermissions makes the cache file readable by the monitoring user.
// Best-effort: chown needs root, and a failed chmod leaves a valid result
// behind either way.
func (r *Reporter) adjustPermissions() {
	mode := os.FileMode(0o640)
	if r.WorldReadable {
		mode = 0o644
	}
	if err := os.Chmod(r.Filename, mode); err != nil {
		logging.Op().Warn("cannot chmod check result cache", "path", r.Filename, "error", err)
		return
	}

	if r.User == "" {
		return
	}
	u, err := user.Lookup(r.User)
	if err != nil {
		logging.Op().Warn("monitoring user not found", "user", r.User, "error", err)
		return
	}
	if os.Geteuid() != 0 {
		logging.Op().Warn("not running as root, cannot chown check result cache",
			"path", r.Filename, "user", r.User)
		return
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	if err := os.Chown(r.Filename, uid, gid); err != nil {
		logging.Op().Warn("cannot chown check result cache", "path", r.Filename, "user", r.User, "error", err)
	}
}
