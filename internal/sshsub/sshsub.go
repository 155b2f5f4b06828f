// Package sshsub spawns the remote server process over ssh and exposes
// its stdin/stdout as the duplex byte stream the control channel runs
// on. The core protocol code knows nothing about how the stream came
// to exist; it only requires ordered, reliable, 8-bit-clean transport,
// which an interactive ssh session provides.
package sshsub

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/crazyscot/qcp-sub001/internal/logger"
)

// Options configures the subprocess.
type Options struct {
	// Command is the ssh binary to run. Empty means "ssh".
	Command string
	// User optionally selects the remote user.
	User string
	// Host is the remote host (required).
	Host string
	// ExtraArgs are passed to ssh before the host.
	ExtraArgs []string
	// RemoteCommand is what to run on the far side. Empty means
	// "qcp --server".
	RemoteCommand []string
}

// Subprocess is a live remote process; it satisfies
// io.ReadWriteCloser over the child's stdout/stdin.
type Subprocess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	closeOnce sync.Once
	closeErr  error
}

// Spawn starts the subprocess. The child's stderr is drained to our
// logs so remote diagnostics are not lost.
func Spawn(opts Options) (*Subprocess, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("no remote host given")
	}
	bin := opts.Command
	if bin == "" {
		bin = "ssh"
	}
	args := append([]string{}, opts.ExtraArgs...)
	if opts.User != "" {
		args = append(args, "-l", opts.User)
	}
	args = append(args, opts.Host)
	if len(opts.RemoteCommand) == 0 {
		opts.RemoteCommand = []string{"qcp", "--server"}
	}
	args = append(args, opts.RemoteCommand...)

	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", bin, err)
	}
	logger.Debug("spawned remote process", "cmd", bin, "pid", cmd.Process.Pid)

	go drainStderr(stderr)

	return &Subprocess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("remote", "stderr", scanner.Text())
	}
}

// Read pulls bytes from the child's stdout.
func (s *Subprocess) Read(p []byte) (int, error) { return s.stdout.Read(p) }

// Write pushes bytes into the child's stdin.
func (s *Subprocess) Write(p []byte) (int, error) { return s.stdin.Write(p) }

// Close terminates the subprocess: stdin is closed so a healthy remote
// exits on EOF, then the process is reaped; if it lingers it is
// killed. Called on both orderly shutdown and connection-level errors.
func (s *Subprocess) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()
		select {
		case err := <-done:
			s.closeErr = err
		case <-time.After(2 * time.Second):
			if err := s.cmd.Process.Kill(); err != nil && !os.IsPermission(err) {
				logger.Debug("kill remote process", "err", err)
			}
			s.closeErr = <-done
		}
	})
	return s.closeErr
}
