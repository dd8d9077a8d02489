package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/internal/agent/providers"
	"github.com/tessellate-ai/loom/internal/artifacts"
	"github.com/tessellate-ai/loom/internal/config"
	"github.com/tessellate-ai/loom/internal/observability"
	"github.com/tessellate-ai/loom/internal/sessions"
	"github.com/tessellate-ai/loom/internal/skills"
	"github.com/tessellate-ai/loom/internal/tools/document"
	"github.com/tessellate-ai/loom/internal/tools/files"
	"github.com/tessellate-ai/loom/internal/tools/plan"
	"github.com/tessellate-ai/loom/internal/tools/subagent"
)

// runtime is the assembled application: everything a command needs to
// run the loop.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	loop      *agent.Loop
	store     sessions.Store
	skills    *skills.Manager
	subAgents *subagent.Manager
	artifacts artifacts.Repository
	janitor   *sessions.Janitor
}

// loadConfig reads the config file, falling back to defaults when no
// path is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildRuntime wires the full runtime from configuration.
func buildRuntime(ctx context.Context, cfg *config.Config, providerName, model string) (*runtime, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	metrics := observability.NewAgentMetrics(prometheus.DefaultRegisterer)
	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(cfg.Server.MetricsAddr, logger)
	}

	if providerName == "" {
		providerName = cfg.LLM.DefaultProvider
	}
	provider, err := buildProvider(cfg, providerName)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = cfg.Provider(providerName).DefaultModel
	}

	store, err := buildSessionStore(cfg)
	if err != nil {
		return nil, err
	}

	repo, err := buildArtifactRepo(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	skillManager := skills.NewManager(skills.Config{
		Dirs:            cfg.Skills.Dirs,
		Watch:           cfg.Skills.Watch,
		WatchDebounceMs: cfg.Skills.WatchDebounceMs,
	}, logger)
	if err := skillManager.Discover(ctx); err != nil {
		logger.Warn("skill discovery failed", "error", err)
	}
	if err := skillManager.StartWatching(ctx); err != nil {
		logger.Warn("skill watching failed", "error", err)
	}

	subAgents := subagent.NewManager(nil, model, cfg.Agent.MaxSubAgents, logger)

	registry := agent.NewToolRegistry()
	fileCfg := files.Config{Workspace: cfg.Workspace.Dir}
	for _, tool := range []agent.Tool{
		files.NewReadTool(fileCfg),
		files.NewWriteTool(fileCfg),
		files.NewListTool(fileCfg),
		document.NewCreateTool(repo.Create),
		plan.NewUpdateTasksTool(),
		plan.NewExitPlanModeTool(),
		skills.NewLoadTool(skillManager),
		subagent.NewSpawnTool(subAgents),
		subagent.NewStatusTool(subAgents),
		subagent.NewCancelTool(subAgents),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	loopCfg := agent.LoopConfig{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		Truncate:      agent.DefaultTruncateOptions(),
		BasePrompt:    cfg.Agent.SystemPrompt,
	}
	loop := agent.NewLoop(provider, registry, loopCfg, logger, metrics)
	subAgents.SetRunner(loop)

	janitor := sessions.NewJanitor(idleDeleter(store), sessions.JanitorConfig{
		TTL:      cfg.Sessions.TTL,
		Schedule: cfg.Sessions.Schedule,
	}, logger)
	if err := janitor.Start(); err != nil {
		logger.Warn("session janitor failed to start", "error", err)
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		loop:      loop,
		store:     store,
		skills:    skillManager,
		subAgents: subAgents,
		artifacts: repo,
		janitor:   janitor,
	}, nil
}

// Close shuts down runtime components.
func (r *runtime) Close() error {
	if r.janitor != nil {
		r.janitor.Stop()
	}
	if r.skills != nil {
		_ = r.skills.Close()
	}
	if r.artifacts != nil {
		_ = r.artifacts.Close()
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

func buildProvider(cfg *config.Config, name string) (agent.Provider, error) {
	pc := cfg.Provider(name)
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.Database.URL == "" {
		return sessions.NewMemoryStore(), nil
	}
	pgCfg := sessions.DefaultPostgresConfig()
	pgCfg.MaxOpenConns = cfg.Database.MaxConnections
	pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	return sessions.NewPostgresStoreFromDSN(cfg.Database.URL, pgCfg)
}

func buildArtifactRepo(cfg *config.Config, logger *slog.Logger) (artifacts.Repository, error) {
	store, err := artifacts.NewLocalStore(cfg.Artifacts.Dir)
	if err != nil {
		return nil, err
	}
	return artifacts.OpenSQLite(cfg.Artifacts.SQLitePath, store, logger)
}

// idleDeleter narrows a Store to the janitor's interface.
func idleDeleter(store sessions.Store) sessions.IdleDeleter {
	if d, ok := store.(sessions.IdleDeleter); ok {
		return d
	}
	return noopDeleter{}
}

type noopDeleter struct{}

func (noopDeleter) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

// sessionDir resolves (and creates) the working directory for a
// session under the workspace root.
func sessionDir(workspace, sessionID string) (string, error) {
	dir := filepath.Join(workspace, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	return dir, nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}
