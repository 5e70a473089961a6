package types

// Project represents a discoverable Ada project on disk.
type Project struct {
	// Stable identifier (directory name).
	ID string `json:"id"`
	// Absolute path to the project root.
	Root string `json:"root"`
	// Absolute path to the GPR project file, if one was found.
	GPRFile string `json:"gpr_file,omitempty"`
}

// InstanceStatus summarizes one supervised ALS instance for /status.
type InstanceStatus struct {
	// Project root this instance serves.
	ProjectRoot string `json:"project_root"`
	// Current lifecycle state (starting, ready, degraded, restarting, shutting_down, dead).
	State string `json:"state"`
	// Last time this instance served a request (unix seconds).
	LastUsed int64 `json:"last_used_unix"`
	// Number of in-flight requests on this instance.
	Pending int `json:"pending"`
	// Consecutive crash count since the last stable period.
	Crashes int `json:"crashes"`
	// Process ID of the language server, when running.
	PID int `json:"pid,omitempty"`
}

// CacheStats reports response-cache effectiveness for /status.
type CacheStats struct {
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Live instances in the pool.
	Instances []InstanceStatus `json:"instances"`
	// Configured maximum number of live instances.
	MaxInstances int `json:"max_instances"`
	// Response cache statistics.
	Cache CacheStats `json:"cache"`
	// Total number of LRU evictions performed.
	EvictionsTotal uint64 `json:"evictions_total"`
	// Total number of instance spawns.
	SpawnsTotal uint64 `json:"spawns_total"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
