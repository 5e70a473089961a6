package manager

import (
	"context"
	"time"
)

// evictLRULocked removes the least-recently-used idle instance to free a pool
// slot. Instances that are still starting or have requests in flight are
// never evicted. Returns false when nothing is evictable. Caller holds the
// manager mutex; the evicted process is shut down off the lock.
func (m *Manager) evictLRULocked() bool {
	var lru *Instance
	for _, inst := range m.instances {
		if !inst.idle() {
			continue
		}
		if lru == nil || inst.lastUsed.Before(lru.lastUsed) {
			lru = inst
		}
	}
	if lru == nil {
		return false
	}
	delete(m.instances, lru.Root)
	poolInstances.Set(float64(len(m.instances)))
	poolEvictions.Inc()
	m.evictions.Add(1)
	m.broadcastLocked()
	m.log.Info().Str("root", lru.Root).Time("last_used", lru.lastUsed).Msg("evicting idle instance")
	m.publish("instance_evicted", lru.Root, map[string]any{"last_used": lru.lastUsed.Unix()})

	go func(inst *Instance) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = inst.proc.Shutdown(ctx)
	}(lru)
	return true
}
