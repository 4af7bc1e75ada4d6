// Package graphite sends metrics to a Graphite/Carbon ingest over the
// plaintext protocol ("name value timestamp\n" over TCP). Delivery is
// best-effort: the background sender drops samples when its queue is full or
// the ingest is unreachable, and guarantees no ordering beyond batch order.
package graphite

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hpcops/sentinel/internal/logging"
)

// Config configures a Sender.
type Config struct {
	// Addr is the host:port of the Carbon plaintext listener.
	Addr string
	// Prefix is prepended to every metric name, dot-separated.
	Prefix string
	// Timeout bounds dialing and writing. Defaults to 5s.
	Timeout time.Duration
	// Interval is the background flush period. Defaults to 10s.
	Interval time.Duration
	// QueueSize bounds the background queue. Defaults to 1000.
	QueueSize int
}

// Sender ships metric samples to Graphite, either synchronously via Send or
// through a background worker fed by Enqueue.
type Sender struct {
	cfg Config

	mu      sync.Mutex
	started bool
	queue   chan string
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New returns a Sender for the given configuration. Construct one and pass it
// around; there is no process-wide default sender.
func New(cfg Config) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	return &Sender{
		cfg:    cfg,
		queue:  make(chan string, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// BuildMessage renders one sample in Carbon plaintext form. Metric names and
// tag values must not contain whitespace.
func (s *Sender) BuildMessage(metric string, value float64, ts time.Time, tags map[string]string) (string, error) {
	if hasWhitespace(metric) {
		return "", fmt.Errorf("graphite: metric name %q contains whitespace", metric)
	}

	name := metric
	if s.cfg.Prefix != "" {
		name = s.cfg.Prefix + "." + metric
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if hasWhitespace(k) || hasWhitespace(tags[k]) {
			return "", fmt.Errorf("graphite: tag %s=%s contains whitespace", k, tags[k])
		}
		name += ";" + k + "=" + tags[k]
	}

	return fmt.Sprintf("%s %s %d\n", name, strconv.FormatFloat(value, 'f', -1, 64), ts.Unix()), nil
}

// Send ships one sample synchronously. A zero ts means now.
func (s *Sender) Send(metric string, value float64, ts time.Time) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	msg, err := s.BuildMessage(metric, value, ts, nil)
	if err != nil {
		return err
	}
	return s.write(msg)
}

// Enqueue stages a sample for the background worker. Reports false, with a
// logged warning, when the queue is full and the sample was dropped.
func (s *Sender) Enqueue(metric string, value float64, ts time.Time) bool {
	if ts.IsZero() {
		ts = time.Now()
	}
	msg, err := s.BuildMessage(metric, value, ts, nil)
	if err != nil {
		logging.Op().Warn("dropping invalid metric", "metric", metric, "error", err)
		return false
	}
	select {
	case s.queue <- msg:
		return true
	default:
		logging.Op().Warn("metrics queue full, dropping sample", "metric", metric)
		return false
	}
}

// Start launches the background flush worker. Idempotent.
func (s *Sender) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.worker()
	logging.Op().Info("graphite sender started", "addr", s.cfg.Addr, "interval", s.cfg.Interval)
}

// Stop flushes pending samples and joins the worker.
func (s *Sender) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.flush()
	logging.Op().Info("graphite sender stopped")
}

func (s *Sender) worker() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush drains the queue and ships everything in one write. Failures drop the
// batch: a check tool must never block on its metrics path.
func (s *Sender) flush() {
	var batch []string
	for {
		select {
		case msg := <-s.queue:
			batch = append(batch, msg)
		default:
			if len(batch) == 0 {
				return
			}
			if err := s.write(strings.Join(batch, "")); err != nil {
				logging.Op().Warn("metrics flush failed, dropping batch",
					"addr", s.cfg.Addr, "samples", len(batch), "error", err)
			}
			return
		}
	}
}

func (s *Sender) write(payload string) error {
	conn, err := net.DialTimeout("tcp", s.cfg.Addr, s.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("graphite: dial %s: %w", s.cfg.Addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return err
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("graphite: write to %s: %w", s.cfg.Addr, err)
	}
	return nil
}

func hasWhitespace(s string) bool {
	return strings.ContainsAny(s, " \t\n\r")
}
