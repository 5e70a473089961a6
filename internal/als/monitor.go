package als

import (
	"context"
	"time"
)

// supervise watches the current process generation and drives the recovery
// state machine: Ready -> (Degraded -> Restarting -> Ready)* -> Dead.
// It exits when the restart budget is exhausted or Shutdown is requested.
func (p *Process) supervise() {
	for {
		if !p.watchCurrent() {
			return
		}
		if !p.recover() {
			return
		}
	}
}

// watchCurrent blocks until the current process dies unexpectedly (true) or
// shutdown is requested (false). Death is observed both by process exit and
// by the periodic liveness probe; both feed the same crash path.
func (p *Process) watchCurrent() bool {
	p.mu.Lock()
	proc := p.proc
	client := p.client
	p.mu.Unlock()

	exitCh := make(chan error, 1)
	go func() { exitCh <- proc.Wait() }()
	probe := time.NewTicker(p.cfg.ProbeInterval)
	defer probe.Stop()

	for {
		select {
		case <-p.stop:
			return false
		case err := <-exitCh:
			if p.State() == StateShuttingDown {
				return false
			}
			p.onCrash(client, proc, err)
			return true
		case <-probe.C:
			if proc.Alive() {
				continue
			}
			if p.State() == StateShuttingDown {
				return false
			}
			p.onCrash(client, proc, nil)
			return true
		}
	}
}

// onCrash transitions to Degraded and fails every pending request on the dead
// generation with Disconnected, within the same event.
func (p *Process) onCrash(client *Client, proc Proc, exitErr error) {
	reason := "process exited unexpectedly"
	if exitErr != nil {
		reason = "process exited: " + exitErr.Error()
	}
	p.mu.Lock()
	p.crashes++
	crashes := p.crashes
	p.mu.Unlock()
	p.setState(StateDegraded)
	p.log.Warn().Int("crashes", crashes).Str("reason", reason).Msg("language server crashed")
	p.events("crash", map[string]any{"crashes": crashes, "reason": reason})
	client.Close(ErrDisconnected(reason))
}

// recover waits out the exponential backoff and respawns. Each failed respawn
// counts as another consecutive crash. Returns false once the instance is
// Dead or shutdown was requested.
func (p *Process) recover() bool {
	for {
		p.mu.Lock()
		crashes := p.crashes
		p.mu.Unlock()
		if crashes > p.cfg.MaxRestartAttempts {
			p.setState(StateDead)
			p.log.Error().Int("crashes", crashes).Msg("restart budget exhausted, instance is dead")
			p.events("dead", map[string]any{"crashes": crashes})
			return false
		}

		backoff := backoffDelay(p.cfg.BackoffBase, p.cfg.BackoffMax, crashes)
		p.events("restart_scheduled", map[string]any{"attempt": crashes, "backoff_ms": int(backoff / time.Millisecond)})
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-p.stop:
			timer.Stop()
			return false
		}

		p.setState(StateRestarting)
		client, proc, err := p.spawn(context.Background())
		if err != nil {
			p.mu.Lock()
			p.crashes++
			p.mu.Unlock()
			p.setState(StateDegraded)
			p.log.Warn().Err(err).Msg("restart attempt failed")
			continue
		}

		p.mu.Lock()
		p.client = client
		p.proc = proc
		p.gen++
		gen := p.gen
		p.mu.Unlock()
		p.setState(StateReady)
		p.log.Info().Int("pid", proc.PID()).Int("attempt", crashes).Msg("language server restarted")
		p.events("restarted", map[string]any{"attempt": crashes, "pid": proc.PID()})
		p.armStabilityReset(gen)
		return true
	}
}

// armStabilityReset clears the consecutive-crash counter once the restarted
// process has stayed Ready for the stability interval.
func (p *Process) armStabilityReset(gen int) {
	time.AfterFunc(p.cfg.StabilityInterval, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen != gen || p.state != StateReady {
			return
		}
		if p.crashes != 0 {
			p.crashes = 0
			p.log.Debug().Msg("stable after restart, crash counter reset")
		}
	})
}

// backoffDelay doubles per consecutive crash, capped at max. crashes is
// 1-based: the first crash waits base.
func backoffDelay(base, max time.Duration, crashes int) time.Duration {
	if crashes < 1 {
		crashes = 1
	}
	d := base
	for i := 1; i < crashes; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
