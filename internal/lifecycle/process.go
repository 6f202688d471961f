package lifecycle

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// tailBuffer is an io.Writer that keeps only the last max bytes written.
// Child process output is captured solely for error reporting, so the head
// of a chatty log is not worth holding on to.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// managedProcess is a child started in its own process group so the whole
// tree (launcher scripts included) can be signalled at once.
type managedProcess struct {
	name   string
	cmd    *exec.Cmd
	output *tailBuffer
	waitCh chan error
}

// startProcess launches cmd in a new process group with its combined output
// captured. The command must not have been started yet.
func startProcess(name string, cmd *exec.Cmd) (*managedProcess, error) {
	out := newTailBuffer(8 * 1024)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	p := &managedProcess{name: name, cmd: cmd, output: out, waitCh: make(chan error, 1)}
	go func() {
		p.waitCh <- cmd.Wait()
	}()
	return p, nil
}

func (p *managedProcess) pid() int {
	return p.cmd.Process.Pid
}

// alive reports whether the child has not yet been reaped.
func (p *managedProcess) alive() bool {
	select {
	case err := <-p.waitCh:
		p.waitCh <- err
		return false
	default:
		return true
	}
}

// outputTail returns the retained end of the child's combined output.
func (p *managedProcess) outputTail() string {
	return p.output.String()
}

// stop terminates the process group: SIGTERM first, SIGKILL after grace.
// Safe to call on an already-exited child.
func (p *managedProcess) stop(grace time.Duration) {
	pgid := -p.cmd.Process.Pid
	_ = unix.Kill(pgid, unix.SIGTERM)

	select {
	case err := <-p.waitCh:
		p.waitCh <- err
		return
	case <-time.After(grace):
	}

	_ = unix.Kill(pgid, unix.SIGKILL)
	err := <-p.waitCh
	p.waitCh <- err
}
