package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	// OpsAddr is the listen address of the operational HTTP API. Empty
	// disables it; the MCP transport on stdio is always on.
	OpsAddr string `json:"ops_addr" yaml:"ops_addr" toml:"ops_addr"`

	// ALSCommand launches the Ada Language Server; ALSArgs its arguments.
	ALSCommand string   `json:"als_command" yaml:"als_command" toml:"als_command"`
	ALSArgs    []string `json:"als_args" yaml:"als_args" toml:"als_args"`

	// WorkspaceDir is scanned for Ada projects (directories holding *.gpr).
	WorkspaceDir string `json:"workspace_dir" yaml:"workspace_dir" toml:"workspace_dir"`
	// DefaultProject is the project root used when a tool call names none.
	DefaultProject string `json:"default_project" yaml:"default_project" toml:"default_project"`
	// GPRFile forces a specific project file on every instance.
	GPRFile string `json:"gpr_file" yaml:"gpr_file" toml:"gpr_file"`

	MaxInstances     int `json:"max_instances" yaml:"max_instances" toml:"max_instances"`
	RequestTimeoutMS int `json:"request_timeout_ms" yaml:"request_timeout_ms" toml:"request_timeout_ms"`
	AcquireTimeoutMS int `json:"acquire_timeout_ms" yaml:"acquire_timeout_ms" toml:"acquire_timeout_ms"`
	StartupTimeoutMS int `json:"startup_timeout_ms" yaml:"startup_timeout_ms" toml:"startup_timeout_ms"`
	ShutdownGraceMS  int `json:"shutdown_grace_ms" yaml:"shutdown_grace_ms" toml:"shutdown_grace_ms"`
	MaxRestarts      int `json:"max_restarts" yaml:"max_restarts" toml:"max_restarts"`
	ProbeIntervalMS  int `json:"probe_interval_ms" yaml:"probe_interval_ms" toml:"probe_interval_ms"`
	BackoffBaseMS    int `json:"backoff_base_ms" yaml:"backoff_base_ms" toml:"backoff_base_ms"`
	BackoffMaxMS     int `json:"backoff_max_ms" yaml:"backoff_max_ms" toml:"backoff_max_ms"`

	CacheTTLMS      int `json:"cache_ttl_ms" yaml:"cache_ttl_ms" toml:"cache_ttl_ms"`
	CacheMaxEntries int `json:"cache_max_entries" yaml:"cache_max_entries" toml:"cache_max_entries"`

	// WatchProjects enables source watching for automatic cache invalidation.
	WatchProjects bool `json:"watch_projects" yaml:"watch_projects" toml:"watch_projects"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
