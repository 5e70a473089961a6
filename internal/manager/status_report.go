package manager

import (
	"sort"
	"time"

	"adamcp/internal/als"
	"adamcp/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := types.StatusResponse{
		MaxInstances:   m.cfg.MaxInstances,
		EvictionsTotal: m.evictions.Load(),
		SpawnsTotal:    m.spawns.Load(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(m.instances))
	for _, inst := range m.instances {
		st := types.InstanceStatus{
			ProjectRoot: inst.Root,
			LastUsed:    inst.lastUsed.Unix(),
			Pending:     inst.pending,
		}
		select {
		case <-inst.readyCh:
			if inst.startErr == nil {
				st.State = string(inst.proc.State())
				st.Crashes = inst.proc.Crashes()
				st.PID = inst.proc.PID()
			} else {
				st.State = string(als.StateDead)
			}
		default:
			st.State = string(als.StateStarting)
		}
		resp.Instances = append(resp.Instances, st)
	}
	sort.Slice(resp.Instances, func(i, j int) bool {
		return resp.Instances[i].ProjectRoot < resp.Instances[j].ProjectRoot
	})
	cs := m.cache.Stats()
	resp.Cache = types.CacheStats{
		Size:      m.cache.Size(),
		Hits:      cs.Hits,
		Misses:    cs.Misses,
		Evictions: cs.Evictions,
	}
	return resp
}
