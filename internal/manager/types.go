package manager

import (
	"time"

	"adamcp/internal/als"
)

// Instance is one pooled language-server session bound to a project root.
type Instance struct {
	Root string

	proc *als.Process
	// readyCh is closed once the initial spawn settled (success or failure).
	readyCh  chan struct{}
	startErr error

	lastUsed time.Time
	pending  int
}

// idle reports whether the instance can be evicted: fully started and no
// request in flight. Caller holds the manager mutex.
func (i *Instance) idle() bool {
	select {
	case <-i.readyCh:
	default:
		return false
	}
	return i.startErr == nil && i.pending == 0
}
