package als

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Proc is a handle on a running language-server process. The indirection lets
// the supervisor be driven by a fake event source in tests.
type Proc interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	PID() int
	// Wait blocks until the process exits and reports its exit error.
	// Safe to call from multiple goroutines.
	Wait() error
	// Alive reports whether the process is still running (liveness probe).
	Alive() bool
	// Terminate asks the process to exit (SIGTERM).
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// StderrTail returns the most recent captured stderr output.
	StderrTail() string
}

// Launcher starts the language-server executable for a project.
type Launcher interface {
	Launch(ctx context.Context, cfg ProcessConfig) (Proc, error)
}

// execLauncher spawns real processes with the project root as work directory.
type execLauncher struct{}

// NewExecLauncher returns the production Launcher backed by os/exec.
func NewExecLauncher() Launcher { return execLauncher{} }

func (execLauncher) Launch(ctx context.Context, cfg ProcessConfig) (Proc, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.ProjectRoot
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, ErrStartup("stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ErrStartup("stdout pipe", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, ErrStartup("start "+cfg.Command, err)
	}
	p := &execProc{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, done: make(chan struct{})}
	return p, nil
}

type execProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tailBuffer

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

func (p *execProc) Stdin() io.WriteCloser { return p.stdin }
func (p *execProc) Stdout() io.Reader     { return p.stdout }
func (p *execProc) PID() int              { return p.cmd.Process.Pid }

func (p *execProc) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	})
	<-p.done
	return p.waitErr
}

func (p *execProc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

func (p *execProc) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProc) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProc) StderrTail() string { return p.stderr.String() }

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(b)
	if t.buf.Len() > t.limit {
		data := t.buf.Bytes()
		trimmed := append([]byte(nil), data[len(data)-t.limit:]...)
		t.buf.Reset()
		t.buf.Write(trimmed)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// waitWithGrace waits for process exit, escalating to SIGTERM and then Kill.
func waitWithGrace(p Proc, grace time.Duration) {
	waitCh := make(chan struct{})
	go func() {
		_ = p.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
		return
	case <-time.After(grace):
	}
	_ = p.Terminate()
	select {
	case <-waitCh:
		return
	case <-time.After(2 * time.Second):
	}
	_ = p.Kill()
	<-waitCh
}
