package nagios

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Metric is one named measurement with optional warning and critical ranges.
// Empty range specs mean the metric never alerts at that level.
type Metric struct {
	Name     string
	Value    float64
	Warning  string
	Critical string
}

// Result is the outcome of one check evaluation: the exit status, a
// human-readable message, and the metrics for perfdata rendering. A Result
// is created fresh per evaluation and never mutated after formatting.
type Result struct {
	Exit    Exit
	Message string
	Metrics []Metric
}

// String renders the result in check-output form:
//
//	<MESSAGE> | name1=value1;warn1;crit1; name2=value2;warn2;crit2;
//
// Metrics are sorted by name, absent bounds render as empty fields, and a
// result without metrics renders as the bare message.
func (r Result) String() string {
	if len(r.Metrics) == 0 {
		return r.Message
	}

	metrics := sortedByName(r.Metrics)
	perf := make([]string, 0, len(metrics))
	for _, m := range metrics {
		name := m.Name
		if strings.Contains(name, " ") {
			name = "'" + name + "'"
		}
		perf = append(perf, fmt.Sprintf("%s=%s;%s;%s;", name, formatValue(m.Value), m.Warning, m.Critical))
	}
	return fmt.Sprintf("%s | %s", r.Message, strings.Join(perf, " "))
}

// Evaluate computes the overall status for a set of metrics. Every metric
// with a critical range is tested first; any alert makes the whole result
// CRITICAL and the triggering metric names, sorted and comma-joined, prefix
// the message. Warning ranges are only consulted when nothing was critical,
// so a metric outside both ranges counts once, at the critical level. With
// no alerts the message passes through unchanged.
func Evaluate(message string, metrics []Metric) (Result, error) {
	sorted := sortedByName(metrics)

	crit, err := triggered(sorted, func(m Metric) string { return m.Critical })
	if err != nil {
		return Result{}, err
	}
	if len(crit) > 0 {
		return Result{
			Exit:    ExitCritical,
			Message: alertMessage(crit, message),
			Metrics: sorted,
		}, nil
	}

	warn, err := triggered(sorted, func(m Metric) string { return m.Warning })
	if err != nil {
		return Result{}, err
	}
	if len(warn) > 0 {
		return Result{
			Exit:    ExitWarning,
			Message: alertMessage(warn, message),
			Metrics: sorted,
		}, nil
	}

	return Result{Exit: ExitOK, Message: message, Metrics: sorted}, nil
}

// triggered returns the names of metrics whose value alerts against the range
// selected by spec. Metrics without a range at that level are skipped.
func triggered(metrics []Metric, spec func(Metric) string) ([]string, error) {
	var names []string
	for _, m := range metrics {
		s := spec(m)
		if s == "" {
			continue
		}
		r, err := ParseRange(s)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", m.Name, err)
		}
		if r.Alert(m.Value) {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

func alertMessage(names []string, message string) string {
	joined := strings.Join(names, ", ")
	if message == "" {
		return joined
	}
	return joined + " " + message
}

func sortedByName(metrics []Metric) []Metric {
	out := make([]Metric, len(metrics))
	copy(out, metrics)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
