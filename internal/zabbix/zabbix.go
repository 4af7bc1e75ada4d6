// Package zabbix renders check results for Zabbix instead of Nagios: the
// perfdata goes out as a JSON object rather than the pipe-separated plugin
// format. Evaluation, caching, and exit codes are shared with the nagios
// package.
package zabbix

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hpcops/sentinel/internal/logging"
	"github.com/hpcops/sentinel/internal/nagios"
)

// Render formats a check result as the message followed by a JSON object
// mapping each metric name to its value and thresholds.
func Render(r nagios.Result) string {
	if len(r.Metrics) == 0 {
		return r.Message
	}

	perf := make(map[string]map[string]any, len(r.Metrics))
	for _, m := range r.Metrics {
		fields := map[string]any{"value": m.Value}
		if m.Warning != "" {
			fields["warning"] = m.Warning
		}
		if m.Critical != "" {
			fields["critical"] = m.Critical
		}
		perf[m.Name] = fields
	}

	encoded, err := json.Marshal(perf)
	if err != nil {
		// map[string]map[string]any with scalar leaves cannot fail to encode
		return r.Message
	}
	return fmt.Sprintf("%s | %s", r.Message, encoded)
}

// Reporter caches and replays Zabbix-rendered check results. It reuses the
// nagios reporter's cache file handling and staleness policy.
type Reporter struct {
	nagios.Reporter
}

// NewReporter returns a Zabbix reporter for the given cache file.
func NewReporter(filename, header string, threshold time.Duration) *Reporter {
	return &Reporter{Reporter: *nagios.NewReporter(filename, header, threshold)}
}

// Report replays the cached result with its perfdata re-rendered as the JSON
// object. Check results are cached once, in plugin form; the translation
// happens at replay time so both probe formats read the same file.
func (r *Reporter) Report() (nagios.Exit, string, error) {
	e, msg, err := r.Reporter.Report()
	if err != nil {
		return e, msg, err
	}
	return e, rerender(msg), nil
}

// ReportAndExit replays the cached result in Zabbix form and terminates with
// its exit code.
func (r *Reporter) ReportAndExit() {
	e, msg, err := r.Report()
	if err != nil {
		logging.Op().Error("cannot replay cached check result", "path", r.Filename, "error", err)
	}
	nagios.ExitWith(e, msg)
}

// rerender converts a plugin-format line back into the JSON form. Lines
// without parseable perfdata pass through unchanged, pre-rendered reporter
// messages (stale, unavailable) included.
func rerender(line string) string {
	msg, perf, found := strings.Cut(line, " | ")
	if !found {
		return line
	}
	metrics, ok := parsePerfdata(perf)
	if !ok {
		return line
	}
	return Render(nagios.Result{Message: msg, Metrics: metrics})
}

// parsePerfdata parses "name=value;warn;crit; ..." tokens, quoted names
// included, back into metrics.
func parsePerfdata(s string) ([]nagios.Metric, bool) {
	var metrics []nagios.Metric
	rest := strings.TrimSpace(s)
	for rest != "" {
		var name string
		if strings.HasPrefix(rest, "'") {
			end := strings.Index(rest[1:], "'")
			if end < 0 || !strings.HasPrefix(rest[end+2:], "=") {
				return nil, false
			}
			name = rest[1 : end+1]
			rest = rest[end+3:]
		} else {
			eq := strings.Index(rest, "=")
			if eq <= 0 {
				return nil, false
			}
			name = rest[:eq]
			rest = rest[eq+1:]
		}

		token := rest
		if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			token, rest = rest[:sp], strings.TrimLeft(rest[sp:], " ")
		} else {
			rest = ""
		}

		fields := strings.Split(strings.TrimSuffix(token, ";"), ";")
		value, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, false
		}
		m := nagios.Metric{Name: name, Value: value}
		if len(fields) > 1 {
			m.Warning = fields[1]
		}
		if len(fields) > 2 {
			m.Critical = fields[2]
		}
		metrics = append(metrics, m)
	}
	return metrics, true
}
