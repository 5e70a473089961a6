package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"adamcp/internal/config"
	"adamcp/internal/httpapi"
	"adamcp/internal/manager"
	"adamcp/internal/mcpserver"
	"adamcp/internal/registry"
	"adamcp/internal/watch"
	"adamcp/pkg/types"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		cfgPath string
		cfg     config.Config
	)
	root := &cobra.Command{
		Use:           "adamcp",
		Short:         "MCP server exposing Ada Language Server analysis over stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				fileCfg, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				mergeConfig(&cfg, fileCfg, cmd)
			}
			return run(cfg)
		},
	}
	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "Config file (.yaml/.json/.toml)")
	f.StringVar(&cfg.OpsAddr, "ops-addr", "", "Operational HTTP listen address (empty disables)")
	f.StringVar(&cfg.ALSCommand, "als-command", "ada_language_server", "Ada Language Server executable")
	f.StringSliceVar(&cfg.ALSArgs, "als-arg", nil, "Extra argument for the language server (repeatable)")
	f.StringVar(&cfg.WorkspaceDir, "workspace-dir", "", "Directory to scan for Ada projects (*.gpr)")
	f.StringVar(&cfg.DefaultProject, "default-project", "", "Project root used when a tool call names none")
	f.StringVar(&cfg.GPRFile, "gpr-file", "", "Force a specific GPR project file on every instance")
	f.IntVar(&cfg.MaxInstances, "max-instances", 0, "Maximum pooled language-server instances (default 3)")
	f.IntVar(&cfg.RequestTimeoutMS, "request-timeout-ms", 0, "Per-request timeout in milliseconds (default 30000)")
	f.IntVar(&cfg.AcquireTimeoutMS, "acquire-timeout-ms", 0, "Pool acquire timeout in milliseconds (default 30000)")
	f.IntVar(&cfg.StartupTimeoutMS, "startup-timeout-ms", 0, "Instance startup timeout in milliseconds (default 30000)")
	f.IntVar(&cfg.ShutdownGraceMS, "shutdown-grace-ms", 0, "Graceful shutdown window in milliseconds (default 5000)")
	f.IntVar(&cfg.MaxRestarts, "max-restarts", 0, "Consecutive crash recoveries before an instance is dead (default 5)")
	f.IntVar(&cfg.ProbeIntervalMS, "probe-interval-ms", 0, "Liveness probe period in milliseconds (default 2000)")
	f.IntVar(&cfg.BackoffBaseMS, "backoff-base-ms", 0, "Initial restart backoff in milliseconds (default 1000)")
	f.IntVar(&cfg.BackoffMaxMS, "backoff-max-ms", 0, "Maximum restart backoff in milliseconds (default 60000)")
	f.IntVar(&cfg.CacheTTLMS, "cache-ttl-ms", 0, "Default response cache TTL in milliseconds (default 5000)")
	f.IntVar(&cfg.CacheMaxEntries, "cache-max-entries", 0, "Response cache capacity (default 1000)")
	f.BoolVar(&cfg.WatchProjects, "watch-projects", false, "Invalidate caches when Ada sources change on disk")
	f.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")
	return root
}

// mergeConfig overlays file values under explicit flags: a flag the user set
// wins over the config file.
func mergeConfig(dst *config.Config, file config.Config, cmd *cobra.Command) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if !changed("ops-addr") {
		dst.OpsAddr = file.OpsAddr
	}
	if !changed("als-command") && file.ALSCommand != "" {
		dst.ALSCommand = file.ALSCommand
	}
	if !changed("als-arg") && len(file.ALSArgs) > 0 {
		dst.ALSArgs = file.ALSArgs
	}
	if !changed("workspace-dir") {
		dst.WorkspaceDir = file.WorkspaceDir
	}
	if !changed("default-project") {
		dst.DefaultProject = file.DefaultProject
	}
	if !changed("gpr-file") {
		dst.GPRFile = file.GPRFile
	}
	if !changed("max-instances") {
		dst.MaxInstances = file.MaxInstances
	}
	if !changed("request-timeout-ms") {
		dst.RequestTimeoutMS = file.RequestTimeoutMS
	}
	if !changed("acquire-timeout-ms") {
		dst.AcquireTimeoutMS = file.AcquireTimeoutMS
	}
	if !changed("startup-timeout-ms") {
		dst.StartupTimeoutMS = file.StartupTimeoutMS
	}
	if !changed("shutdown-grace-ms") {
		dst.ShutdownGraceMS = file.ShutdownGraceMS
	}
	if !changed("max-restarts") {
		dst.MaxRestarts = file.MaxRestarts
	}
	if !changed("probe-interval-ms") {
		dst.ProbeIntervalMS = file.ProbeIntervalMS
	}
	if !changed("backoff-base-ms") {
		dst.BackoffBaseMS = file.BackoffBaseMS
	}
	if !changed("backoff-max-ms") {
		dst.BackoffMaxMS = file.BackoffMaxMS
	}
	if !changed("cache-ttl-ms") {
		dst.CacheTTLMS = file.CacheTTLMS
	}
	if !changed("cache-max-entries") {
		dst.CacheMaxEntries = file.CacheMaxEntries
	}
	if !changed("watch-projects") {
		dst.WatchProjects = file.WatchProjects
	}
	if !changed("log-level") && file.LogLevel != "" {
		dst.LogLevel = file.LogLevel
	}
}

func run(cfg config.Config) error {
	// Stdout carries the MCP transport; all logging goes to stderr.
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(parseLevel(cfg.LogLevel))

	var projects []types.Project
	if cfg.WorkspaceDir != "" {
		var err error
		projects, err = registry.LoadDir(cfg.WorkspaceDir)
		if err != nil {
			return fmt.Errorf("scan workspace: %w", err)
		}
		log.Info().Int("projects", len(projects)).Str("dir", cfg.WorkspaceDir).Msg("workspace scanned")
	}
	defaultRoot := cfg.DefaultProject
	if defaultRoot == "" && len(projects) == 1 {
		defaultRoot = projects[0].Root
	}

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		ALSCommand:         cfg.ALSCommand,
		ALSArgs:            cfg.ALSArgs,
		GPRFile:            cfg.GPRFile,
		MaxInstances:       cfg.MaxInstances,
		RequestTimeout:     msDuration(cfg.RequestTimeoutMS),
		AcquireTimeout:     msDuration(cfg.AcquireTimeoutMS),
		StartupTimeout:     msDuration(cfg.StartupTimeoutMS),
		ShutdownGrace:      msDuration(cfg.ShutdownGraceMS),
		CacheTTL:           msDuration(cfg.CacheTTLMS),
		CacheMaxEntries:    cfg.CacheMaxEntries,
		MaxRestartAttempts: cfg.MaxRestarts,
		ProbeInterval:      msDuration(cfg.ProbeIntervalMS),
		BackoffBase:        msDuration(cfg.BackoffBaseMS),
		BackoffMax:         msDuration(cfg.BackoffMaxMS),
		Logger:             log.With().Str("component", "pool").Logger(),
	})

	if cfg.WatchProjects && len(projects) > 0 {
		w, err := watch.New(mgr, log.With().Str("component", "watch").Logger())
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer w.Close()
		for _, p := range projects {
			if err := w.WatchProject(p.Root); err != nil {
				log.Warn().Err(err).Str("root", p.Root).Msg("could not watch project")
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var opsSrv *http.Server
	if cfg.OpsAddr != "" {
		httpapi.SetLogger(log.With().Str("component", "http").Logger())
		httpapi.SetBaseContext(ctx)
		opsSrv = &http.Server{Addr: cfg.OpsAddr, Handler: httpapi.NewMux(opsService{mgr})}
		go func() {
			log.Info().Str("addr", cfg.OpsAddr).Msg("ops api listening")
			if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("ops api server error")
			}
		}()
	}

	// Signal-driven shutdown; the MCP server also stops when its client
	// closes stdin.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info().Msg("signal received, shutting down")
		cancel()
	}()

	srv := mcpserver.New(mgr, projects, defaultRoot, log.With().Str("component", "mcp").Logger())
	runErr := srv.Run(ctx)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if opsSrv != nil {
		if err := opsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("ops api shutdown error")
		}
	}
	mgr.ShutdownAll(shutdownCtx)

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
