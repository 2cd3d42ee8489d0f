package scanner

import (
	"io"
	"os/exec"
	"sync"
	"time"
)

// terminateGrace is how long a process group gets to exit after the
// termination signal before it is killed.
const terminateGrace = 2 * time.Second

type process struct {
	cmd   *exec.Cmd
	done  chan struct{}
	grace time.Duration

	mu   sync.Mutex
	code int
}

// spawn starts argv with the given stdout and stderr, nil meaning the
// null device, and reaps it in the background.
func spawn(argv []string, stdout, stderr io.Writer) (*process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &process{cmd: cmd, done: make(chan struct{}), grace: terminateGrace}
	go func() {
		cmd.Wait()
		p.mu.Lock()
		p.code = cmd.ProcessState.ExitCode()
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// exitCode returns the exit code once the process is gone; -1 means it
// was killed by a signal.
func (p *process) exitCode() (int, bool) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.code, true
	default:
		return 0, false
	}
}

// kill terminates the process group, escalating to a kill signal when it
// outlives the grace period. It returns once the process is reaped.
func (p *process) kill() {
	select {
	case <-p.done:
		return
	default:
	}
	if err := terminateProcessGroup(p.cmd); err == nil {
		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
		}
	}
	killProcessGroup(p.cmd)
	<-p.done
}
