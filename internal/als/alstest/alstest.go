// Package alstest provides an in-memory language server and launcher for
// driving the supervisor and pool without real processes.
package alstest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"adamcp/internal/als"
)

// Handler services one request from the client under test. Returning a
// non-nil ResponseError produces a structured error response.
type Handler func(method string, params json.RawMessage) (any, *als.ResponseError)

// Launcher hands out scripted in-memory processes.
type Launcher struct {
	mu       sync.Mutex
	handler  Handler
	failures int
	procs    []*Proc
}

// NewLauncher builds a launcher whose processes answer requests with h.
// A nil handler echoes {"ok":true,"method":...} for every request.
func NewLauncher(h Handler) *Launcher {
	return &Launcher{handler: h}
}

// FailNext makes the next n Launch calls fail before a process exists.
func (l *Launcher) FailNext(n int) {
	l.mu.Lock()
	l.failures = n
	l.mu.Unlock()
}

// Launches returns how many processes were started so far.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

// Proc returns the i-th launched process.
func (l *Launcher) Proc(i int) *Proc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

// Latest returns the most recently launched process.
func (l *Launcher) Latest() *Proc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

func (l *Launcher) Launch(ctx context.Context, cfg als.ProcessConfig) (als.Proc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("fake launcher: spawn refused")
	}
	p := newProc(len(l.procs)+1000, l.handler, cfg.ProjectRoot)
	l.procs = append(l.procs, p)
	go p.serve()
	return p, nil
}

// Proc is one scripted server session over in-memory pipes.
type Proc struct {
	pid     int
	root    string
	handler Handler

	inR  *io.PipeReader // server reads requests here
	inW  *io.PipeWriter // client's stdin
	outR *io.PipeReader // client's stdout
	outW *io.PipeWriter // server writes responses here

	framer *als.Framer

	mu       sync.Mutex
	alive    bool
	calls    map[string]int
	shutdown bool

	exited   chan error
	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

func newProc(pid int, h Handler, root string) *Proc {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &Proc{
		pid:     pid,
		root:    root,
		handler: h,
		inR:     inR,
		inW:     inW,
		outR:    outR,
		outW:    outW,
		framer:  als.NewFramer(inR, outW),
		alive:   true,
		calls:   make(map[string]int),
		exited:  make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (p *Proc) Stdin() io.WriteCloser { return p.inW }
func (p *Proc) Stdout() io.Reader     { return p.outR }
func (p *Proc) PID() int              { return p.pid }
func (p *Proc) StderrTail() string    { return "" }

func (p *Proc) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = <-p.exited
		close(p.done)
	})
	<-p.done
	return p.waitErr
}

func (p *Proc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *Proc) Terminate() error {
	p.Exit(nil)
	return nil
}

func (p *Proc) Kill() error {
	p.Exit(errors.New("killed"))
	return nil
}

// Crash simulates an unexpected process death.
func (p *Proc) Crash() {
	p.Exit(errors.New("exit status 2"))
}

// Exit ends the session: the client observes stream closure and Wait returns.
func (p *Proc) Exit(err error) {
	p.mu.Lock()
	if !p.alive {
		p.mu.Unlock()
		return
	}
	p.alive = false
	p.mu.Unlock()
	_ = p.outW.Close()
	_ = p.inR.CloseWithError(io.ErrClosedPipe)
	select {
	case p.exited <- err:
	default:
	}
}

// ShutdownRequested reports whether the client sent the shutdown request.
func (p *Proc) ShutdownRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// Calls returns how many times method was requested or notified.
func (p *Proc) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Notify pushes a server-to-client notification.
func (p *Proc) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return p.framer.WriteMessage(&als.Message{JSONRPC: "2.0", Method: method, Params: raw})
}

// Respond sends a response for an arbitrary id, for driving correlation
// edge cases (late or unknown ids) by hand.
func (p *Proc) Respond(id int64, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return p.framer.WriteMessage(&als.Message{JSONRPC: "2.0", ID: &id, Result: raw})
}

func (p *Proc) serve() {
	for {
		msg, err := p.framer.ReadMessage()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.calls[msg.Method]++
		p.mu.Unlock()

		if msg.ID == nil {
			if msg.Method == "exit" {
				p.Exit(nil)
				return
			}
			continue
		}
		switch msg.Method {
		case "initialize":
			p.reply(*msg.ID, map[string]any{"capabilities": map[string]any{
				"textDocumentSync":   1,
				"definitionProvider": true,
				"hoverProvider":      true,
			}}, nil)
		case "shutdown":
			p.mu.Lock()
			p.shutdown = true
			p.mu.Unlock()
			p.reply(*msg.ID, nil, nil)
		default:
			if p.handler != nil {
				result, rpcErr := p.handler(msg.Method, msg.Params)
				p.reply(*msg.ID, result, rpcErr)
				continue
			}
			p.reply(*msg.ID, map[string]any{"ok": true, "method": msg.Method}, nil)
		}
	}
}

func (p *Proc) reply(id int64, result any, rpcErr *als.ResponseError) {
	msg := &als.Message{JSONRPC: "2.0", ID: &id, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return
		}
		msg.Result = raw
	}
	_ = p.framer.WriteMessage(msg)
}
