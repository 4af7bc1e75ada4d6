// Package sshutil runs command lists on remote hosts over SSH, capturing
// per-command output and exit status. It is a thin transport wrapper: the
// calling script decides what a non-zero exit means.
package sshutil

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hpcops/sentinel/internal/config"
	"github.com/hpcops/sentinel/internal/logging"
)

// CommandResult captures one remote command execution.
type CommandResult struct {
	Command  string
	ExitCode int
	Output   []byte
}

// Client holds an SSH connection to one host.
type Client struct {
	host string
	conn *ssh.Client
}

// Connect dials host with the given settings. Authentication uses the
// configured key file when set, falling back to the password argument.
func Connect(host string, cfg config.SSHConfig, password string) (*Client, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sshutil: read key %s: %w", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sshutil: parse key %s: %w", cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, errors.New("sshutil: no authentication method configured")
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	clientCfg := &ssh.ClientConfig{
		User:    cfg.User,
		Auth:    auth,
		Timeout: timeout,
		// Host keys are managed by the cluster config management, not by
		// individual check scripts.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	conn, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("sshutil: dial %s: %w", addr, err)
	}
	return &Client{host: host, conn: conn}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RunCommands executes the commands in order, one session each, capturing
// combined stdout/stderr. The returned overall status is the highest exit
// code seen; execution continues past failing commands so the caller gets a
// complete picture.
func (c *Client) RunCommands(commands []string) (int, []CommandResult, error) {
	overall := 0
	results := make([]CommandResult, 0, len(commands))

	for _, cmd := range commands {
		session, err := c.conn.NewSession()
		if err != nil {
			return overall, results, fmt.Errorf("sshutil: session on %s: %w", c.host, err)
		}

		out, runErr := session.CombinedOutput(cmd)
		session.Close()

		code := 0
		if runErr != nil {
			var exitErr *ssh.ExitError
			if errors.As(runErr, &exitErr) {
				code = exitErr.ExitStatus()
			} else {
				return overall, results, fmt.Errorf("sshutil: run %q on %s: %w", cmd, c.host, runErr)
			}
		}
		if code > overall {
			overall = code
		}
		logging.Op().Debug("remote command finished", "host", c.host, "command", cmd, "exit", code)
		results = append(results, CommandResult{Command: cmd, ExitCode: code, Output: out})
	}

	return overall, results, nil
}
