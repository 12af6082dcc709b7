package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vk/symsteer/internal/config"
	"github.com/vk/symsteer/internal/ctxlog"
	"github.com/vk/symsteer/internal/engine"
	"github.com/vk/symsteer/internal/program"
	"github.com/vk/symsteer/internal/workers"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config
	model  *config.Model

	module  *program.Module
	spawner workers.Spawner

	mu         sync.Mutex
	engines    []*engine.Engine
	runs       int
	httpServer *http.Server
}

// Option customizes an App.
type Option func(*App)

// WithProgram explores m instead of loading the configured packages.
func WithProgram(m *program.Module) Option {
	return func(a *App) { a.module = m }
}

// WithSpawner replaces the process spawner used for worker processes.
func WithSpawner(s workers.Spawner) Option {
	return func(a *App) { a.spawner = s }
}

// NewApp is the constructor for the main application. It loads the
// configuration file through loader, applies the command-line overrides and
// validates the result.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model := config.NewModel()
	if cfg.ConfigPath != "" {
		loaded, err := loader.Load(ctx, cfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		model = loaded
		logger.Debug("Configuration file loaded.", "path", cfg.ConfigPath)
	}
	if cfg.Flags != nil {
		model.Merge(cfg.Flags)
	}
	if cfg.OutputTerminal != nil {
		model.Output.Terminal = *cfg.OutputTerminal
	}
	if model.Output.Path == "" {
		model.Output.Path = model.Participant + ".paths"
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger = participantLogger(logger, model.Participant)
	logger.Debug("Configuration validated.", "workers", model.Workers)

	a := &App{
		outW:   outW,
		logger: logger,
		cfg:    cfg,
		model:  model,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.spawner == nil {
		a.spawner = &workers.ExecSpawner{Stdout: outW, Stderr: outW}
	}
	return a, nil
}

// Model returns the effective run configuration. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}

// Stats sums the counters of every exploration run so far.
func (a *App) Stats() engine.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total engine.Stats
	for _, e := range a.engines {
		s := e.Stats()
		total.Steps += s.Steps
		total.Forks += s.Forks
		total.Terminated += s.Terminated
		total.Filtered += s.Filtered
		total.Emitted += s.Emitted
		total.Frontier += s.Frontier
	}
	return total
}

func (a *App) track(e *engine.Engine) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engines = append(a.engines, e)
	a.runs++
}
