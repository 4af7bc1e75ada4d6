package nagios

import (
	"fmt"
	"os"
	"strings"

	"github.com/hpcops/sentinel/internal/logging"
)

// Exit pairs a process exit code with its Nagios status text. The table is
// fixed by the plugin API: OK=0, WARNING=1, CRITICAL=2, UNKNOWN=3.
type Exit struct {
	Code int
	Text string
}

var (
	ExitOK       = Exit{0, "OK"}
	ExitWarning  = Exit{1, "WARNING"}
	ExitCritical = Exit{2, "CRITICAL"}
	ExitUnknown  = Exit{3, "UNKNOWN"}
)

// MaxMessageLength is the longest message a monitoring system is expected to
// accept in one check line. Longer messages are truncated for output and
// logged in full.
const MaxMessageLength = 8192

// ExitFromCode maps an arbitrary integer exit code onto the fixed table,
// falling back to UNKNOWN for anything outside it.
func ExitFromCode(code int) Exit {
	switch code {
	case 0:
		return ExitOK
	case 1:
		return ExitWarning
	case 2:
		return ExitCritical
	case 3:
		return ExitUnknown
	default:
		return ExitUnknown
	}
}

// FormatLine renders the check output line: status text, message, perfdata.
// Only the message part is truncated to MaxMessageLength; the perfdata suffix
// after the first | is kept whole.
func FormatLine(e Exit, message string) string {
	msg, perf, found := strings.Cut(message, "|")
	if found {
		perf = "|" + perf
	}
	if len(msg) > MaxMessageLength {
		logging.Op().Info("check report", "status", e.Text, "message", msg, "perfdata", perf)
		msg = msg[:MaxMessageLength-3] + "..."
	}
	return fmt.Sprintf("%s %s%s", e.Text, msg, perf)
}

// ExitWith prints the check line and terminates the process with the matching
// exit code. Only thin CLI entry points should call this.
func ExitWith(e Exit, message string) {
	fmt.Println(FormatLine(e, message))
	os.Exit(e.Code)
}

// OKExit prints an OK line and exits 0.
func OKExit(message string) {
	ExitWith(ExitOK, message)
}

// WarningExit prints a WARNING line and exits 1.
func WarningExit(message string) {
	ExitWith(ExitWarning, message)
}

// CriticalExit prints a CRITICAL line and exits 2.
func CriticalExit(message string) {
	ExitWith(ExitCritical, message)
}

// UnknownExit prints an UNKNOWN line and exits 3.
func UnknownExit(message string) {
	ExitWith(ExitUnknown, message)
}

// ExitFromErrorcode exits through the fixed table for any integer code,
// noting in the message when the code had no direct mapping.
func ExitFromErrorcode(code int, message string) {
	if code < 0 || code > 3 {
		message = fmt.Sprintf("%s (errorcode %d out of range, reporting UNKNOWN)", message, code)
	}
	ExitWith(ExitFromCode(code), message)
}
