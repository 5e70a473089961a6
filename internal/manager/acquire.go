package manager

import (
	"context"
	"time"

	"adamcp/internal/als"
)

// acquire returns root's instance with a pending reservation held, spawning
// or waiting as needed. Exactly one caller spawns per root; concurrent
// callers wait on the same startup instead of racing a second spawn.
func (m *Manager) acquire(ctx context.Context, root string) (*Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	for {
		m.mu.Lock()
		if m.shuttingDown {
			m.mu.Unlock()
			return nil, poolClosedError{}
		}

		if inst, ok := m.instances[root]; ok {
			select {
			case <-inst.readyCh:
			default:
				// Startup in flight; wait for it to settle.
				ch := inst.readyCh
				m.mu.Unlock()
				select {
				case <-ch:
					continue
				case <-ctx.Done():
					return nil, acquireErr(ctx, root)
				}
			}
			if inst.startErr != nil {
				// Initial spawn failed; the error propagates to every waiter
				// and the slot frees up.
				if m.instances[root] == inst {
					delete(m.instances, root)
					m.broadcastLocked()
				}
				err := inst.startErr
				m.mu.Unlock()
				return nil, err
			}
			switch inst.proc.State() {
			case als.StateReady:
				inst.pending++
				inst.lastUsed = time.Now()
				m.mu.Unlock()
				return inst, nil
			case als.StateDead, als.StateShuttingDown:
				// Replace the dead instance with a fresh spawn.
				delete(m.instances, root)
				m.broadcastLocked()
				m.mu.Unlock()
				continue
			default:
				// Degraded or Restarting: wait for the supervisor.
				proc := inst.proc
				m.mu.Unlock()
				if err := proc.WaitReady(ctx); err != nil {
					if ctx.Err() != nil {
						return nil, acquireErr(ctx, root)
					}
					// Instance went Dead; loop to replace it.
				}
				continue
			}
		}

		if len(m.instances) >= m.cfg.MaxInstances {
			if m.evictLRULocked() {
				m.mu.Unlock()
				continue
			}
			ch := m.idleCh
			m.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, acquireErr(ctx, root)
			}
		}

		inst := &Instance{Root: root, readyCh: make(chan struct{}), lastUsed: time.Now()}
		m.instances[root] = inst
		m.mu.Unlock()
		return m.startInstance(ctx, inst)
	}
}

// startInstance performs the initial spawn for a freshly inserted placeholder
// and settles readyCh for concurrent acquirers.
func (m *Manager) startInstance(ctx context.Context, inst *Instance) (*Instance, error) {
	root := inst.Root
	proc := als.NewProcess(m.processConfig(root), m.cfg.Launcher, m.log.With().Str("root", root).Logger())
	proc.SetEventFunc(func(name string, fields map[string]any) {
		m.observeProcessEvent(root, name, fields)
	})
	inst.proc = proc
	m.spawns.Add(1)
	poolSpawns.Inc()
	err := proc.Start(ctx)

	m.mu.Lock()
	inst.startErr = err
	close(inst.readyCh)
	if err != nil {
		if m.instances[root] == inst {
			delete(m.instances, root)
		}
		m.broadcastLocked()
		m.mu.Unlock()
		m.log.Error().Err(err).Str("root", root).Msg("instance startup failed")
		return nil, err
	}
	inst.pending++
	inst.lastUsed = time.Now()
	poolInstances.Set(float64(len(m.instances)))
	m.mu.Unlock()
	m.publish("instance_started", root, map[string]any{"pid": proc.PID()})
	return inst, nil
}

// release returns a reservation taken by acquire and wakes slot waiters.
func (m *Manager) release(inst *Instance) {
	m.mu.Lock()
	inst.pending--
	inst.lastUsed = time.Now()
	m.broadcastLocked()
	m.mu.Unlock()
}

// observeProcessEvent forwards supervisor events to the publisher and metrics.
func (m *Manager) observeProcessEvent(root, name string, fields map[string]any) {
	switch name {
	case "crash":
		processCrashes.Inc()
	case "restarted":
		processRestarts.Inc()
	case "dead":
		m.mu.Lock()
		if inst, ok := m.instances[root]; ok && inst.proc != nil && inst.proc.State() == als.StateDead {
			delete(m.instances, root)
			poolInstances.Set(float64(len(m.instances)))
			m.broadcastLocked()
		}
		m.mu.Unlock()
	}
	m.publish(name, root, fields)
}

// acquireErr maps context expiry during acquire to the pool-exhausted error.
func acquireErr(ctx context.Context, root string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return poolExhaustedError{root: root}
	}
	return ctx.Err()
}
