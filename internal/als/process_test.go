package als_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adamcp/internal/als"
	"adamcp/internal/als/alstest"
)

func fastConfig(root string) als.ProcessConfig {
	return als.ProcessConfig{
		Command:            "ada_language_server",
		ProjectRoot:        root,
		StartupTimeout:     5 * time.Second,
		ShutdownGrace:      time.Second,
		MaxRestartAttempts: 5,
		BackoffBase:        10 * time.Millisecond,
		BackoffMax:         40 * time.Millisecond,
		ProbeInterval:      10 * time.Millisecond,
		StabilityInterval:  60 * time.Millisecond,
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) record(name string, fields map[string]any) {
	e.mu.Lock()
	e.events = append(e.events, name)
	e.mu.Unlock()
}

func (e *eventLog) has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.events {
		if n == name {
			return true
		}
	}
	return false
}

func waitState(t *testing.T, p *als.Process, want als.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", p.State(), want)
}

func TestStartPerformsHandshake(t *testing.T) {
	launcher := alstest.NewLauncher(nil)
	p := als.NewProcess(fastConfig(t.TempDir()), launcher, zerolog.Nop())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.State() != als.StateReady {
		t.Fatalf("state = %s", p.State())
	}
	if len(p.Capabilities()) == 0 {
		t.Fatalf("capabilities not captured")
	}
	proc := launcher.Latest()
	if proc.Calls("initialize") != 1 {
		t.Fatalf("initialize calls = %d", proc.Calls("initialize"))
	}
	if proc.Calls("initialized") != 1 {
		t.Fatalf("initialized notifications = %d", proc.Calls("initialized"))
	}
}

func TestStartFailureIsStartupError(t *testing.T) {
	launcher := alstest.NewLauncher(nil)
	launcher.FailNext(1)
	p := als.NewProcess(fastConfig(t.TempDir()), launcher, zerolog.Nop())
	err := p.Start(context.Background())
	if !als.IsStartup(err) {
		t.Fatalf("err = %v, want startup error", err)
	}
	if p.State() != als.StateDead {
		t.Fatalf("state = %s, want dead", p.State())
	}
}

func TestCrashRecoversThroughBackoff(t *testing.T) {
	launcher := alstest.NewLauncher(nil)
	events := &eventLog{}
	p := als.NewProcess(fastConfig(t.TempDir()), launcher, zerolog.Nop())
	p.SetEventFunc(events.record)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Shutdown(context.Background())

	launcher.Latest().Crash()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready after crash: %v", err)
	}
	if launcher.Launches() != 2 {
		t.Fatalf("launches = %d, want 2", launcher.Launches())
	}
	for _, name := range []string{"crash", "restart_scheduled", "restarted"} {
		if !events.has(name) {
			t.Fatalf("missing event %q in %v", name, events.events)
		}
	}
	// The replacement session got its own handshake.
	if launcher.Latest().Calls("initialize") != 1 {
		t.Fatalf("restarted instance not initialized")
	}
}

func TestCrashFailsInFlightCalls(t *testing.T) {
	launcher := alstest.NewLauncher(nil)
	p := als.NewProcess(fastConfig(t.TempDir()), launcher, zerolog.Nop())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Shutdown(context.Background())

	client := p.Client()
	launcher.Latest().Crash()
	// Whether the call races the crash or lands after it, the outcome must be
	// Disconnected, never a hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Call(ctx, "textDocument/hover", nil)
	if !als.IsDisconnected(err) {
		t.Fatalf("err = %v, want disconnected", err)
	}
}

func TestRestartBudgetExhaustedGoesDead(t *testing.T) {
	launcher := alstest.NewLauncher(nil)
	events := &eventLog{}
	cfg := fastConfig(t.TempDir())
	cfg.MaxRestartAttempts = 1
	cfg.StabilityInterval = time.Hour // never reset during this test
	p := als.NewProcess(cfg, launcher, zerolog.Nop())
	p.SetEventFunc(events.record)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	launcher.Latest().Crash()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.WaitReady(ctx); err != nil {
		t.Fatalf("first recovery: %v", err)
	}
	launcher.Latest().Crash()
	waitState(t, p, als.StateDead)
	if !events.has("dead") {
		t.Fatalf("missing dead event: %v", events.events)
	}
	// WaitReady on a dead instance fails immediately.
	if err := p.WaitReady(context.Background()); !als.IsDead(err) {
		t.Fatalf("wait ready on dead: %v", err)
	}
}

func TestStabilityResetsCrashCounter(t *testing.T) {
	launcher := alstest.NewLauncher(nil)
	p := als.NewProcess(fastConfig(t.TempDir()), launcher, zerolog.Nop())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Shutdown(context.Background())

	launcher.Latest().Crash()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.WaitReady(ctx); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if p.Crashes() == 0 {
		t.Fatalf("crash counter reset too early")
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.Crashes() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("crash counter never reset, crashes = %d", p.Crashes())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownSendsGracefulSequence(t *testing.T) {
	launcher := alstest.NewLauncher(nil)
	events := &eventLog{}
	p := als.NewProcess(fastConfig(t.TempDir()), launcher, zerolog.Nop())
	p.SetEventFunc(events.record)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	proc := launcher.Latest()
	if !proc.ShutdownRequested() {
		t.Fatalf("shutdown request never sent")
	}
	if proc.Calls("exit") != 1 {
		t.Fatalf("exit notifications = %d", proc.Calls("exit"))
	}
	if p.State() != als.StateDead {
		t.Fatalf("state = %s", p.State())
	}
	// Shutdown must not trigger the crash-recovery path.
	time.Sleep(50 * time.Millisecond)
	if launcher.Launches() != 1 {
		t.Fatalf("launches = %d after shutdown", launcher.Launches())
	}
	if events.has("crash") {
		t.Fatalf("shutdown recorded as crash: %v", events.events)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	launcher := alstest.NewLauncher(nil)
	p := als.NewProcess(fastConfig(t.TempDir()), launcher, zerolog.Nop())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
