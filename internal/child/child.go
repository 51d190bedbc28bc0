package child

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/sentryd/internal/state"
)

// ErrStopTimeout is returned by Stop when the workload could not be reaped
// within the allowed window even after escalating to SIGKILL.
var ErrStopTimeout = errors.New("child: stop timed out")

// maxCapturedLines bounds each in-memory capture ring between drains.
const maxCapturedLines = 2048

// Child is one spawned workload instance. Instances are replaced, never
// reused: Spawn creates one and a successful Stop retires it.
type Child struct {
	spec      Spec
	cmd       *exec.Cmd
	mu        sync.Mutex
	running   bool
	pid       int
	startedAt time.Time
	exitErr   error
	waitDone  chan struct{}
	stdout    []state.OutputLine
	stderr    []state.OutputLine
	outW      io.WriteCloser
	errW      io.WriteCloser
	captureWG sync.WaitGroup
}

// Spawn launches the workload, attaches output capture, and writes the PID
// file. The returned Child is live; its exit is reaped by a background
// goroutine that closes WaitDone.
func Spawn(spec Spec) (*Child, error) {
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = sysProcAttr()

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	c := &Child{spec: spec}
	c.outW, c.errW, err = spec.Log.Writers(spec.Name)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		c.closeWriters()
		return nil, err
	}
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.running = true
	c.startedAt = time.Now()
	c.waitDone = make(chan struct{})

	c.captureWG.Add(2)
	go c.capture(stdoutPipe, &c.stdout, c.outW)
	go c.capture(stderrPipe, &c.stderr, c.errW)
	go c.reap()

	c.WritePIDFile()
	return c, nil
}

// capture reads one stream line by line into the bounded ring, mirroring to
// the rotated file writer when configured. Runs until the pipe closes.
func (c *Child) capture(r io.Reader, dst *[]state.OutputLine, mirror io.WriteCloser) {
	defer c.captureWG.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if mirror != nil {
			_, _ = mirror.Write(append([]byte(line), '\n'))
		}
		c.mu.Lock()
		*dst = append(*dst, state.OutputLine{At: time.Now().UnixMilli(), Line: line})
		if n := len(*dst) - maxCapturedLines; n > 0 {
			*dst = append((*dst)[:0], (*dst)[n:]...)
		}
		c.mu.Unlock()
	}
}

// reap is the single waiter on the underlying process. Pipes must be drained
// before cmd.Wait per os/exec semantics.
func (c *Child) reap() {
	c.captureWG.Wait()
	err := c.cmd.Wait()
	c.mu.Lock()
	c.running = false
	c.exitErr = err
	c.mu.Unlock()
	c.closeWriters()
	close(c.waitDone)
}

func (c *Child) closeWriters() {
	c.mu.Lock()
	outW, errW := c.outW, c.errW
	c.outW, c.errW = nil, nil
	c.mu.Unlock()
	if outW != nil {
		_ = outW.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

// PID returns the workload's process id.
func (c *Child) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// StartedAt returns when this instance was spawned.
func (c *Child) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// ExitErr returns the error from cmd.Wait once the workload has exited.
func (c *Child) ExitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

// WaitDone is closed once the workload has exited and been reaped.
func (c *Child) WaitDone() <-chan struct{} {
	return c.waitDone
}

// Running reports workload liveness. The reaper flag is authoritative for
// exited-and-reaped children; a signal-0 probe covers the window where the
// process died but the reaper has not observed it yet.
func (c *Child) Running() bool {
	c.mu.Lock()
	running, pid := c.running, c.pid
	c.mu.Unlock()
	if !running {
		return false
	}
	return aliveProbe(pid)
}

// DrainStdout returns captured stdout lines and clears the ring.
func (c *Child) DrainStdout() []state.OutputLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stdout
	c.stdout = nil
	return out
}

// DrainStderr returns captured stderr lines and clears the ring.
func (c *Child) DrainStderr() []state.OutputLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stderr
	c.stderr = nil
	return out
}

// Stop terminates the workload's process group, escalating SIGTERM to
// SIGKILL after wait. Returns ErrStopTimeout when the workload could not be
// reaped even after the kill.
func (c *Child) Stop(wait time.Duration) error {
	if !c.Running() {
		// Already gone; make sure the reaper finished.
		select {
		case <-c.waitDone:
		case <-time.After(200 * time.Millisecond):
		}
		return nil
	}
	pid := c.PID()
	_ = terminateGroup(pid)
	select {
	case <-c.waitDone:
		return nil
	case <-time.After(wait):
	}
	_ = killGroup(pid)
	select {
	case <-c.waitDone:
		return nil
	case <-time.After(500 * time.Millisecond):
		return ErrStopTimeout
	}
}

// Kill force-terminates the workload group without a grace period.
func (c *Child) Kill() error {
	if !c.Running() {
		return nil
	}
	if err := killGroup(c.PID()); err != nil {
		return err
	}
	select {
	case <-c.waitDone:
		return nil
	case <-time.After(500 * time.Millisecond):
		return ErrStopTimeout
	}
}
