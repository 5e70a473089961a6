package als

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of one supervised instance.
type State string

const (
	StateStarting     State = "starting"
	StateReady        State = "ready"
	StateDegraded     State = "degraded"
	StateRestarting   State = "restarting"
	StateShuttingDown State = "shutting_down"
	StateDead         State = "dead"
)

// Defaults applied when corresponding ProcessConfig fields are unset.
const (
	defaultStartupTimeout    = 30 * time.Second
	defaultShutdownGrace     = 5 * time.Second
	defaultMaxRestarts       = 5
	defaultBackoffBase       = 1 * time.Second
	defaultBackoffMax        = 60 * time.Second
	defaultProbeInterval     = 2 * time.Second
	defaultStabilityInterval = 30 * time.Second
)

// ProcessConfig holds the tunables for one supervised language-server process.
type ProcessConfig struct {
	Command     string
	Args        []string
	ProjectRoot string
	// GPRFile is the project file opened after the handshake. Discovered in
	// ProjectRoot when empty.
	GPRFile string

	StartupTimeout time.Duration
	ShutdownGrace  time.Duration
	// MaxRestartAttempts bounds consecutive crash recoveries before the
	// instance goes Dead.
	MaxRestartAttempts int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	ProbeInterval      time.Duration
	// StabilityInterval is how long the process must stay up after a restart
	// before the consecutive-crash counter resets.
	StabilityInterval time.Duration
}

func (cfg ProcessConfig) withDefaults() ProcessConfig {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = defaultMaxRestarts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.StabilityInterval <= 0 {
		cfg.StabilityInterval = defaultStabilityInterval
	}
	return cfg
}

// Process owns spawn, handshake, crash recovery, and shutdown for one
// language-server instance bound to one project root.
type Process struct {
	cfg      ProcessConfig
	launcher Launcher
	log      zerolog.Logger
	events   func(name string, fields map[string]any)

	mu       sync.Mutex
	state    State
	stateCh  chan struct{} // closed and replaced on every state change
	client   *Client
	proc     Proc
	crashes  int
	gen      int // spawn generation, guards stale stability resets
	caps     json.RawMessage
	stop     chan struct{}
	stopOnce sync.Once
}

// NewProcess builds an unstarted Process. Call Start to spawn and handshake.
func NewProcess(cfg ProcessConfig, launcher Launcher, log zerolog.Logger) *Process {
	return &Process{
		cfg:      cfg.withDefaults(),
		launcher: launcher,
		log:      log,
		events:   func(string, map[string]any) {},
		state:    StateStarting,
		stateCh:  make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// SetEventFunc installs a lifecycle-event hook. Must be called before Start.
func (p *Process) SetEventFunc(fn func(name string, fields map[string]any)) {
	if fn != nil {
		p.events = fn
	}
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Client returns the RPC client of the current process generation. May be a
// closed client while Degraded or Restarting; calls on it fail with
// Disconnected.
func (p *Process) Client() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// PID returns the current process id, or 0 when not running.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		return 0
	}
	return p.proc.PID()
}

// Crashes returns the consecutive-crash count.
func (p *Process) Crashes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.crashes
}

// Capabilities returns the raw server capabilities from the handshake.
func (p *Process) Capabilities() json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	close(p.stateCh)
	p.stateCh = make(chan struct{})
	p.mu.Unlock()
}

// WaitReady blocks until the instance is Ready (nil), Dead (error), or ctx
// is done. Used by the pool to wait out Starting/Restarting instead of
// racing a second spawn.
func (p *Process) WaitReady(ctx context.Context) error {
	for {
		p.mu.Lock()
		state := p.state
		ch := p.stateCh
		p.mu.Unlock()
		switch state {
		case StateReady:
			return nil
		case StateDead, StateShuttingDown:
			return deadError{root: p.cfg.ProjectRoot}
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Start spawns the process and performs the initialization handshake. On
// success the instance is Ready and supervised in the background; on failure
// it is Dead and a StartupError is returned. No retry happens at this layer.
func (p *Process) Start(ctx context.Context) error {
	client, proc, err := p.spawn(ctx)
	if err != nil {
		p.setState(StateDead)
		return err
	}
	p.mu.Lock()
	p.client = client
	p.proc = proc
	p.gen++
	p.mu.Unlock()
	p.setState(StateReady)
	p.events("spawn_ready", map[string]any{"pid": proc.PID()})
	go p.supervise()
	return nil
}

// spawn launches the executable and runs the handshake under the startup
// timeout. The caller installs the returned pair.
func (p *Process) spawn(ctx context.Context) (*Client, Proc, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StartupTimeout)
	defer cancel()

	p.events("spawn_start", map[string]any{})
	proc, err := p.launcher.Launch(ctx, p.cfg)
	if err != nil {
		p.events("spawn_error", map[string]any{"error": err.Error()})
		if IsStartup(err) {
			return nil, nil, err
		}
		return nil, nil, ErrStartup("launch "+p.cfg.Command, err)
	}
	p.log.Info().Int("pid", proc.PID()).Str("event", "spawn").Msg("language server started")

	client := NewClient(proc.Stdout(), proc.Stdin(), p.log)
	client.Start()
	if err := p.handshake(ctx, client); err != nil {
		client.Close(ErrDisconnected("handshake failed"))
		_ = proc.Kill()
		_ = proc.Wait()
		tail := proc.StderrTail()
		p.events("spawn_error", map[string]any{"error": err.Error()})
		if tail != "" {
			return nil, nil, ErrStartup("handshake; stderr tail: "+tail, err)
		}
		return nil, nil, ErrStartup("handshake", err)
	}
	return client, proc, nil
}

// handshake performs the mandatory initialize exchange, announces readiness,
// and opens the GPR project file so the server starts indexing.
func (p *Process) handshake(ctx context.Context, client *Client) error {
	gpr := p.cfg.GPRFile
	if gpr == "" {
		gpr = FindGPRFile(p.cfg.ProjectRoot)
	}
	res, err := client.Call(ctx, "initialize", initializeParams(p.cfg.ProjectRoot, gpr))
	if err != nil {
		return err
	}
	var init struct {
		Capabilities json.RawMessage `json:"capabilities"`
	}
	if err := json.Unmarshal(res, &init); err == nil {
		p.mu.Lock()
		p.caps = init.Capabilities
		p.mu.Unlock()
	}
	if err := client.Notify("initialized", struct{}{}); err != nil {
		return err
	}
	if gpr != "" {
		if err := client.EnsureOpen(gpr); err != nil {
			// Indexing degrades without the project file but the session works.
			p.log.Warn().Err(err).Str("gpr", gpr).Msg("could not open project file")
		}
	}
	return nil
}

// Shutdown sends the graceful-termination sequence, waits up to the grace
// timeout, then forcibly terminates. Pending requests fail with Shutdown.
func (p *Process) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.mu.Lock()
	if p.state == StateDead {
		p.mu.Unlock()
		return nil
	}
	client := p.client
	proc := p.proc
	p.mu.Unlock()
	p.setState(StateShuttingDown)

	if client != nil && proc != nil && proc.Alive() {
		client.BeginShutdown()
		sctx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownGrace)
		if _, err := client.Call(sctx, "shutdown", nil); err == nil {
			_ = client.Notify("exit", nil)
		}
		cancel()
		waitWithGrace(proc, p.cfg.ShutdownGrace)
	}
	if client != nil {
		client.Close(shutdownError{})
	}
	p.setState(StateDead)
	p.events("shutdown_done", map[string]any{})
	return nil
}

// FindGPRFile locates a GPR project file in root, preferring names not
// generated by alire (which emits a wrapper project).
func FindGPRFile(root string) string {
	matches, err := filepath.Glob(filepath.Join(root, "*.gpr"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	for _, m := range matches {
		if !strings.HasPrefix(strings.ToLower(filepath.Base(m)), "alire") {
			return m
		}
	}
	return matches[0]
}

// initializeParams builds the capability-exchange payload. Without a project
// file, indexing is disabled so the server does not scan unrelated trees.
func initializeParams(root, gprFile string) map[string]any {
	rootURI := FileURI(root)
	initOpts := map[string]any{}
	if gprFile != "" {
		initOpts["projectFile"] = gprFile
	} else {
		initOpts["enableIndexing"] = false
	}
	return map[string]any{
		"processId": os.Getpid(),
		"rootUri":   rootURI,
		"rootPath":  root,
		"workspaceFolders": []map[string]any{
			{"uri": rootURI, "name": filepath.Base(root)},
		},
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"definition":     map[string]any{"dynamicRegistration": true, "linkSupport": true},
				"references":     map[string]any{"dynamicRegistration": true},
				"hover":          map[string]any{"dynamicRegistration": true, "contentFormat": []string{"plaintext", "markdown"}},
				"documentSymbol": map[string]any{"dynamicRegistration": true, "hierarchicalDocumentSymbolSupport": true},
				"completion": map[string]any{
					"dynamicRegistration": true,
					"completionItem":      map[string]any{"snippetSupport": false, "documentationFormat": []string{"plaintext", "markdown"}},
				},
				"publishDiagnostics": map[string]any{"relatedInformation": true},
				"callHierarchy":      map[string]any{"dynamicRegistration": true},
				"rename":             map[string]any{"dynamicRegistration": true, "prepareSupport": true},
			},
			"workspace": map[string]any{
				"workspaceFolders": true,
				"symbol":           map[string]any{"dynamicRegistration": true},
			},
		},
		"initializationOptions": initOpts,
	}
}
