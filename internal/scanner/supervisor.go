// Package scanner supervises the external capture tools: a scanner that
// keeps the adapter in LE scan mode and a dumper whose output is the
// line stream fed to the decoder.
package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

type State int

const (
	Stopped State = iota
	Starting
	Running
	Restarting
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	default:
		return "stopped"
	}
}

// Policy selects what makes the monitor restart the scanner.
type Policy string

const (
	// RestartOnIdle restarts the scanner when the dumper has been silent
	// for longer than Options.IdleTimeout.
	RestartOnIdle Policy = "idle"
	// RestartOnExit restarts the scanner when it exited on its own with
	// a failure code.
	RestartOnExit Policy = "exit"
)

// exit code of a shell whose child got SIGTERM
const terminatedExitCode = 128 + 15

var ErrStopped = errors.New("supervisor stopped")

// StartupError reports a process that could not be launched.
type StartupError struct {
	Command []string
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

type Options struct {
	ScanCommand     []string
	DumpCommand     []string
	Policy          Policy
	IdleTimeout     time.Duration
	RestartDelay    time.Duration
	MonitorInterval time.Duration

	// OnRestart is called with the reason of every scanner restart.
	OnRestart func(reason string)

	// Now defaults to time.Now.
	Now func() time.Time
}

type Supervisor struct {
	log  logr.Logger
	opts Options

	mu           sync.Mutex
	state        State
	scanner      *process
	dumper       *process
	stream       *os.File
	reader       *bufio.Reader
	lastActivity time.Time
	restartErr   error

	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(log logr.Logger, opts Options) *Supervisor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == "" {
		opts.Policy = RestartOnIdle
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = 5 * time.Second
	}
	return &Supervisor{
		log:    log,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the dumper, then the scanner if one is configured, and
// starts the health monitor. Cancelling ctx stops the supervisor.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}
	if s.state != Stopped {
		return fmt.Errorf("supervisor already %v", s.state)
	}
	s.state = Starting

	if err := s.startDumper(); err != nil {
		s.state = Stopped
		return err
	}
	if err := s.startScanner(); err != nil {
		s.dumper.kill()
		s.stream.Close()
		s.state = Stopped
		return err
	}

	s.lastActivity = s.opts.Now()
	s.state = Running
	s.log.Info("Capture started", "dump", s.opts.DumpCommand, "scan", s.opts.ScanCommand, "policy", s.opts.Policy)

	go s.monitor(ctx)
	return nil
}

// ReadLine returns the next dumper line without its line terminator. It
// returns io.EOF once the dumper terminated or the supervisor stopped,
// and a *StartupError if relaunching the scanner failed.
func (s *Supervisor) ReadLine() (string, error) {
	s.mu.Lock()
	if err := s.takeRestartErr(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	r := s.reader
	s.mu.Unlock()

	if r == nil {
		return "", io.EOF
	}

	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if rerr := s.takeRestartErr(); rerr != nil {
			return "", rerr
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || s.state == Stopped {
			return "", io.EOF
		}
		return "", err
	}

	s.mu.Lock()
	s.lastActivity = s.opts.Now()
	s.mu.Unlock()
	return strings.TrimRight(line, "\r\n"), nil
}

// Stop terminates both processes and unblocks a pending ReadLine. It may
// be called any number of times, before Start and from any goroutine.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		prev := s.state
		s.state = Stopped
		scanner, dumper, stream := s.scanner, s.dumper, s.stream
		s.mu.Unlock()

		if stream != nil {
			stream.Close()
		}
		var wg sync.WaitGroup
		for _, p := range []*process{scanner, dumper} {
			if p == nil {
				continue
			}
			wg.Add(1)
			go func(p *process) {
				defer wg.Done()
				p.kill()
			}(p)
		}
		wg.Wait()
		if prev != Stopped {
			s.log.Info("Capture stopped")
		}
	})
}

func (s *Supervisor) takeRestartErr() error {
	err := s.restartErr
	s.restartErr = nil
	return err
}

func (s *Supervisor) startDumper() error {
	r, w, err := os.Pipe()
	if err != nil {
		return &StartupError{Command: s.opts.DumpCommand, Err: err}
	}
	// stderr is merged: hcidump prints its diagnostics there
	p, err := spawn(s.opts.DumpCommand, w, w)
	w.Close()
	if err != nil {
		r.Close()
		return &StartupError{Command: s.opts.DumpCommand, Err: err}
	}
	s.dumper = p
	s.stream = r
	s.reader = bufio.NewReader(r)
	return nil
}

func (s *Supervisor) hasScanner() bool {
	return len(s.opts.ScanCommand) > 0 && strings.TrimSpace(s.opts.ScanCommand[0]) != ""
}

func (s *Supervisor) startScanner() error {
	if !s.hasScanner() {
		return nil
	}
	r, w, err := os.Pipe()
	if err != nil {
		return &StartupError{Command: s.opts.ScanCommand, Err: err}
	}
	p, err := spawn(s.opts.ScanCommand, nil, w)
	w.Close()
	if err != nil {
		r.Close()
		return &StartupError{Command: s.opts.ScanCommand, Err: err}
	}
	go s.logStderr(r)
	s.scanner = p
	return nil
}

func (s *Supervisor) logStderr(r *os.File) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.log.V(1).Info("Scanner output", "line", sc.Text())
	}
}

func (s *Supervisor) monitor(ctx context.Context) {
	ticker := time.NewTicker(s.opts.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.log.Info("Context done, stopping capture")
			s.Stop()
			return
		case <-ticker.C:
			if reason := s.check(); reason != "" {
				s.restart(reason)
			}
		}
	}
}

// check returns why the scanner needs a restart, or "" when healthy.
func (s *Supervisor) check() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || s.scanner == nil {
		return ""
	}
	switch s.opts.Policy {
	case RestartOnExit:
		code, exited := s.scanner.exitCode()
		if exited && code != 0 && code != -1 && code != terminatedExitCode {
			return fmt.Sprintf("scanner exited with code %d", code)
		}
	default:
		idle := s.opts.Now().Sub(s.lastActivity)
		if s.opts.IdleTimeout > 0 && idle > s.opts.IdleTimeout {
			return fmt.Sprintf("no data for %v", idle.Truncate(time.Millisecond))
		}
	}
	return ""
}

func (s *Supervisor) restart(reason string) {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Restarting
	old := s.scanner
	s.mu.Unlock()

	s.log.Info("Restarting scanner", "reason", reason, "delay", s.opts.RestartDelay)
	if s.opts.OnRestart != nil {
		s.opts.OnRestart(reason)
	}
	old.kill()

	timer := time.NewTimer(s.opts.RestartDelay)
	defer timer.Stop()
	select {
	case <-s.stopCh:
		return
	case <-timer.C:
	}

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Running
	s.lastActivity = s.opts.Now()
	s.scanner = nil
	err := s.startScanner()
	if err == nil {
		s.mu.Unlock()
		return
	}
	s.log.Error(err, "Scanner relaunch failed")
	s.restartErr = err
	dumper, stream := s.dumper, s.stream
	s.mu.Unlock()

	// wake up the reader so it sees the failure
	stream.Close()
	dumper.kill()
}
