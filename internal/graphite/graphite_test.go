package graphite

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// collector accepts connections and funnels everything written into a channel.
func collector(t *testing.T) (string, chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	received := make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				data, _ := io.ReadAll(c)
				received <- string(data)
			}(conn)
		}
	}()
	return ln.Addr().String(), received
}

func TestBuildMessage(t *testing.T) {
	s := New(Config{Addr: "unused", Prefix: "hpc.cluster"})

	msg, err := s.BuildMessage("load", 1.5, time.Unix(1700000000, 0), nil)
	if err != nil {
		t.Fatalf("BuildMessage failed: %v", err)
	}
	if msg != "hpc.cluster.load 1.5 1700000000\n" {
		t.Fatalf("got %q", msg)
	}
}

func TestBuildMessageTags(t *testing.T) {
	s := New(Config{Addr: "unused"})

	msg, err := s.BuildMessage("load", 2, time.Unix(1700000000, 0), map[string]string{
		"host": "node01",
		"env":  "prod",
	})
	if err != nil {
		t.Fatalf("BuildMessage failed: %v", err)
	}
	if msg != "load;env=prod;host=node01 2 1700000000\n" {
		t.Fatalf("tags must render sorted, got %q", msg)
	}
}

func TestBuildMessageRejectsWhitespace(t *testing.T) {
	s := New(Config{Addr: "unused"})
	if _, err := s.BuildMessage("bad metric", 1, time.Now(), nil); err == nil {
		t.Fatalf("whitespace in metric name must be rejected")
	}
}

func TestSendSynchronous(t *testing.T) {
	addr, received := collector(t)
	s := New(Config{Addr: addr, Prefix: "test"})

	if err := s.Send("metric", 42, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "test.metric 42 1700000000\n" {
			t.Fatalf("collector got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("collector received nothing")
	}
}

func TestBackgroundFlushOnStop(t *testing.T) {
	addr, received := collector(t)
	s := New(Config{Addr: addr, Interval: time.Hour}) // no tick before Stop

	s.Start()
	if !s.Enqueue("a", 1, time.Unix(1700000000, 0)) {
		t.Fatalf("Enqueue failed")
	}
	if !s.Enqueue("b", 2, time.Unix(1700000001, 0)) {
		t.Fatalf("Enqueue failed")
	}
	s.Stop()

	select {
	case got := <-received:
		if !strings.Contains(got, "a 1 1700000000\n") || !strings.Contains(got, "b 2 1700000001\n") {
			t.Fatalf("Stop must flush pending samples, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("collector received nothing after Stop")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	s := New(Config{Addr: "unused", QueueSize: 1})

	if !s.Enqueue("a", 1, time.Now()) {
		t.Fatalf("first Enqueue must succeed")
	}
	if s.Enqueue("b", 2, time.Now()) {
		t.Fatalf("Enqueue into a full queue must drop")
	}
}
