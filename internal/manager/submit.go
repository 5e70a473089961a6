package manager

import (
	"context"
	"encoding/json"
	"time"

	"adamcp/internal/als"
	"adamcp/internal/cache"
)

// SubmitOptions tunes one request.
type SubmitOptions struct {
	// Timeout bounds the language-server call; the manager default when 0.
	Timeout time.Duration
	// Cacheable responses are memoized per (root, method, params).
	Cacheable bool
	// TTL overrides the cache default for this response when > 0.
	TTL time.Duration
}

// Submit routes one request to root's instance, consulting the response
// cache first for cacheable methods. Cached responses never hit the process.
func (m *Manager) Submit(ctx context.Context, root, method string, params any, opts SubmitOptions) (json.RawMessage, error) {
	var key string
	if opts.Cacheable {
		k, err := cache.Key(root, method, params)
		if err != nil {
			return nil, err
		}
		key = k
		if val, ok := m.cache.Get(key); ok {
			cacheHits.Inc()
			requestsTotal.WithLabelValues(method, "cache_hit").Inc()
			return val, nil
		}
		cacheMisses.Inc()
	}

	inst, err := m.acquire(ctx, root)
	if err != nil {
		requestsTotal.WithLabelValues(method, outcomeLabel(err)).Inc()
		return nil, err
	}
	defer m.release(inst)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := inst.proc.Client().Call(cctx, method, params)
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(method, outcomeLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	if opts.Cacheable {
		m.cache.Put(key, root, res, opts.TTL)
	}
	return res, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case als.IsTimeout(err):
		return "timeout"
	case als.IsDisconnected(err):
		return "disconnected"
	case als.IsProtocol(err):
		return "protocol_error"
	case als.IsStartup(err):
		return "startup_error"
	case IsPoolExhausted(err):
		return "pool_exhausted"
	default:
		return "error"
	}
}
