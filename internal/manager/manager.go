package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"adamcp/internal/als"
	"adamcp/internal/cache"
)

type Manager struct {
	cfg       ManagerConfig
	log       zerolog.Logger
	cache     *cache.Cache
	publisher EventPublisher

	mu        sync.Mutex
	instances map[string]*Instance
	// idleCh is closed and replaced whenever a slot may have freed up.
	idleCh       chan struct{}
	shuttingDown bool

	startTime time.Time
	evictions atomic.Uint64
	spawns    atomic.Uint64
}

// Ready reports whether at least one instance is Ready, or the pool is empty
// and accepting work.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shuttingDown {
		return false
	}
	if len(m.instances) == 0 {
		return true
	}
	for _, inst := range m.instances {
		if inst.proc != nil && inst.proc.State() == als.StateReady {
			return true
		}
	}
	return false
}

// Cache exposes the response cache for invalidation and stats.
func (m *Manager) Cache() *cache.Cache { return m.cache }

// InvalidateProject drops cached responses for root and returns the count.
func (m *Manager) InvalidateProject(root string) int {
	n := m.cache.InvalidateProject(root)
	if n > 0 {
		m.log.Debug().Str("root", root).Int("entries", n).Msg("cache invalidated")
	}
	return n
}

// EnsureOpen makes sure path is open on root's instance so positional
// requests and diagnostics refer to known documents.
func (m *Manager) EnsureOpen(ctx context.Context, root, path string) error {
	inst, err := m.acquire(ctx, root)
	if err != nil {
		return err
	}
	defer m.release(inst)
	return inst.proc.Client().EnsureOpen(path)
}

// Diagnostics returns the published diagnostics for a document on root's
// instance, opening the document first.
func (m *Manager) Diagnostics(ctx context.Context, root, path string) ([]als.Diagnostic, error) {
	inst, err := m.acquire(ctx, root)
	if err != nil {
		return nil, err
	}
	defer m.release(inst)
	client := inst.proc.Client()
	if err := client.EnsureOpen(path); err != nil {
		return nil, err
	}
	// Diagnostics arrive asynchronously after didOpen; give the server a beat.
	deadline := time.Now().Add(2 * time.Second)
	uri := als.FileURI(path)
	for {
		if ds, ok := client.Diagnostics(uri)[uri]; ok {
			return ds, nil
		}
		if time.Now().After(deadline) {
			return []als.Diagnostic{}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Capabilities returns the handshake capabilities of root's instance.
func (m *Manager) Capabilities(ctx context.Context, root string) ([]byte, error) {
	inst, err := m.acquire(ctx, root)
	if err != nil {
		return nil, err
	}
	defer m.release(inst)
	return inst.proc.Capabilities(), nil
}

// ShutdownAll gracefully stops every instance and rejects new work.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	m.shuttingDown = true
	insts := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.instances = make(map[string]*Instance)
	m.broadcastLocked()
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range insts {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			<-inst.readyCh
			if inst.startErr == nil {
				_ = inst.proc.Shutdown(ctx)
			}
		}(inst)
	}
	wg.Wait()
	m.cache.Clear()
	m.log.Info().Int("instances", len(insts)).Msg("pool shut down")
}

// broadcastLocked wakes every goroutine waiting for a pool slot.
func (m *Manager) broadcastLocked() {
	close(m.idleCh)
	m.idleCh = make(chan struct{})
}

func (m *Manager) publish(name, root string, fields map[string]any) {
	m.publisher.Publish(Event{Name: name, ProjectRoot: root, Fields: fields})
}
