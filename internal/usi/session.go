// Package usi drives one USI engine subprocess over its standard streams.
// A Session is a synchronous request/response client: commands go out as
// newline-terminated lines, replies are collected by a reader goroutine and
// handed back through AwaitPattern with an explicit timeout.
package usi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// pollInterval is the slice used by AwaitPattern's bounded wait loop.
	pollInterval = 10 * time.Millisecond

	// handshakeTimeout bounds usi/isready acknowledgement waits.
	handshakeTimeout = 15 * time.Second

	// decisionGrace is added to the byoyomi budget when waiting for bestmove.
	decisionGrace = 10 * time.Second

	// quitGrace is how long Close waits for the process to exit after quit.
	quitGrace = 2 * time.Second
)

// Session owns a single engine process. It is not safe for concurrent use;
// every run drives its own Session.
type Session struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  []string // completed output lines, in arrival order
	cursor int      // first line not yet consumed by AwaitPattern

	closed bool
	wg     sync.WaitGroup
	log    *zap.Logger
}

// Open spawns the engine binary and starts the output readers.
// A missing or non-executable binary is a configuration error.
func Open(enginePath string, env map[string]string, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}

	info, err := os.Stat(enginePath)
	if err != nil {
		return nil, fmt.Errorf("engine not found: %s: %w", enginePath, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return nil, fmt.Errorf("engine not executable: %s", enginePath)
	}

	cmd := exec.Command(enginePath)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine %s: %w", enginePath, err)
	}

	s := &Session{cmd: cmd, stdin: stdin, log: log}

	s.wg.Add(1)
	go s.readStdout(stdout)
	s.wg.Add(1)
	go s.readStderr(stderr)

	return s, nil
}

// readStdout publishes completed lines only. bufio.Scanner keeps the trailing
// partial line internal until its newline arrives, so callers never observe a
// half-written reply.
func (s *Session) readStdout(r io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.mu.Unlock()
	}
}

func (s *Session) readStderr(r io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.log.Debug("engine stderr", zap.String("line", scanner.Text()))
	}
}

// Send writes one command line to the engine.
func (s *Session) Send(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return fmt.Errorf("failed to write command %q: %w", command, err)
	}
	return nil
}

// AwaitPattern polls the output stream until any of the target substrings
// appears in a completed line, or the timeout elapses. All lines observed
// while waiting are returned either way; nothing is discarded. The matching
// line, when there is one, is the last element of the returned slice.
func (s *Session) AwaitPattern(patterns []string, timeout time.Duration) (bool, []string) {
	deadline := time.Now().Add(timeout)
	var collected []string
	for {
		s.mu.Lock()
		for s.cursor < len(s.lines) {
			line := s.lines[s.cursor]
			s.cursor++
			collected = append(collected, line)
			for _, p := range patterns {
				if strings.Contains(line, p) {
					s.mu.Unlock()
					return true, collected
				}
			}
		}
		s.mu.Unlock()
		if time.Now().After(deadline) {
			return false, collected
		}
		time.Sleep(pollInterval)
	}
}

// Handshake sends usi and waits for usiok.
func (s *Session) Handshake() error {
	if err := s.Send("usi"); err != nil {
		return err
	}
	ok, _ := s.AwaitPattern([]string{"usiok"}, handshakeTimeout)
	if !ok {
		return fmt.Errorf("usi handshake timeout")
	}
	return nil
}

// Ready sends isready and waits for readyok.
func (s *Session) Ready() error {
	if err := s.Send("isready"); err != nil {
		return err
	}
	ok, _ := s.AwaitPattern([]string{"readyok"}, handshakeTimeout)
	if !ok {
		return fmt.Errorf("isready timeout")
	}
	return nil
}

// NewGame sends usinewgame. The protocol defines no acknowledgement for it.
func (s *Session) NewGame() error {
	return s.Send("usinewgame")
}

// SetPosition sends a position command for the given position body.
func (s *Session) SetPosition(position string) error {
	return s.Send("position " + position)
}

// Go starts a search with the given byoyomi budget and waits for the
// decision. A timeout is not an error: it yields an empty move and whatever
// lines arrived, and the caller proceeds with a null result.
func (s *Session) Go(byoyomiMs int) (move string, lines []string) {
	if err := s.Send(fmt.Sprintf("go btime 0 wtime 0 byoyomi %d", byoyomiMs)); err != nil {
		s.log.Warn("go command failed", zap.Error(err))
		return "", nil
	}
	budget := time.Duration(byoyomiMs)*time.Millisecond + decisionGrace
	ok, lines := s.AwaitPattern([]string{"bestmove"}, budget)
	if !ok {
		s.log.Warn("bestmove timeout", zap.Int("byoyomi_ms", byoyomiMs))
		return "", lines
	}
	last := lines[len(lines)-1]
	fields := strings.Fields(last)
	if len(fields) >= 2 {
		move = fields[1]
	}
	return move, lines
}

// Close sends quit and guarantees the process is gone before returning:
// if the engine does not exit within the grace window it is killed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	_, _ = io.WriteString(s.stdin, "quit\n")
	_ = s.stdin.Close()
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(quitGrace):
		s.log.Warn("engine did not exit after quit, killing")
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-done
	}

	s.wg.Wait()
	return nil
}
