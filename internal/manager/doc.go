// Package manager coordinates a bounded pool of Ada Language Server
// instances, one per project root. It is structured into small files by
// concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: internal state types (Instance).
//   - errors.go: error types and helpers (IsPoolExhausted, IsPoolClosed).
//   - acquire.go: instance lookup, spawn coordination, and LRU admission.
//   - evict.go: eviction of the least-recently-used idle instance.
//   - submit.go: request entry point with caching and per-request timeouts.
//   - events.go / eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus counters and gauges.
//   - status_report.go: Status reporting for the ops API.
//
// External packages should treat this package as the orchestration layer and
// use public methods only (NewWithConfig, Submit, EnsureOpen, Diagnostics,
// InvalidateProject, Status, ShutdownAll). Internal types are subject to
// change.
package manager
