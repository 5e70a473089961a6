package manager

import (
	"time"

	"github.com/rs/zerolog"

	"adamcp/internal/als"
	"adamcp/internal/cache"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxInstances   = 3
	defaultRequestTimeout = 30 * time.Second
	defaultAcquireTimeout = 30 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// ALSCommand is the language-server executable; ALSArgs its arguments.
	ALSCommand string
	ALSArgs    []string
	// GPRFile, when set, is passed to every instance instead of per-root
	// discovery.
	GPRFile string

	MaxInstances int
	// RequestTimeout bounds a single language-server request.
	RequestTimeout time.Duration
	// AcquireTimeout bounds waiting for a pool slot or a starting instance.
	AcquireTimeout time.Duration

	CacheTTL        time.Duration
	CacheMaxEntries int

	// Per-process supervision tunables; zero values select als defaults.
	StartupTimeout     time.Duration
	ShutdownGrace      time.Duration
	MaxRestartAttempts int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	ProbeInterval      time.Duration

	// Launcher is swappable for tests; nil selects the os/exec launcher.
	Launcher  als.Launcher
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = defaultMaxInstances
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.Launcher == nil {
		cfg.Launcher = als.NewExecLauncher()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	m := &Manager{
		cfg:       cfg,
		log:       cfg.Logger,
		cache:     cache.New(cfg.CacheTTL, cfg.CacheMaxEntries),
		publisher: cfg.Publisher,
		instances: make(map[string]*Instance),
		idleCh:    make(chan struct{}),
		startTime: time.Now(),
	}
	m.cache.SetEvictionHook(func(n int) { cacheEvictions.Add(float64(n)) })
	return m
}

// processConfig builds the per-instance supervision config for a project root.
func (m *Manager) processConfig(root string) als.ProcessConfig {
	return als.ProcessConfig{
		Command:            m.cfg.ALSCommand,
		Args:               m.cfg.ALSArgs,
		ProjectRoot:        root,
		GPRFile:            m.cfg.GPRFile,
		StartupTimeout:     m.cfg.StartupTimeout,
		ShutdownGrace:      m.cfg.ShutdownGrace,
		MaxRestartAttempts: m.cfg.MaxRestartAttempts,
		BackoffBase:        m.cfg.BackoffBase,
		BackoffMax:         m.cfg.BackoffMax,
		ProbeInterval:      m.cfg.ProbeInterval,
	}
}
