// Package netcat is a minimal connect-and-send helper for services that speak
// a one-shot request/response over a raw socket.
package netcat

import (
	"fmt"
	"io"
	"net"
	"time"
)

// ConnectAndSend dials addr, writes data, and returns everything read back
// until the peer closes the connection. timeout bounds the whole exchange.
func ConnectAndSend(addr string, data []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("netcat: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("netcat: write to %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("netcat: read from %s: %w", addr, err)
	}
	return resp, nil
}
