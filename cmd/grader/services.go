package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/grader/internal/config"
	"github.com/jackzampolin/grader/internal/home"
	"github.com/jackzampolin/grader/internal/pipeline"
	"github.com/jackzampolin/grader/internal/providers"
	"github.com/jackzampolin/grader/internal/svcctx"
)

// withServices loads config, builds the provider registry and attaches both
// to the command context. Config edits are applied to the registry while
// the process runs.
func withServices(cmd *cobra.Command) (context.Context, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	mgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	if err := mgr.Get().Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", mgr.ConfigFile(), err)
	}
	logger.Debug("config loaded", "file", mgr.ConfigFile())

	registry := providers.NewRegistry()
	registry.SetLogger(logger)
	registry.Reload(mgr.Get().ToProviderRegistryConfig())

	mgr.OnChange(func(c *config.Config) {
		if err := c.Validate(); err != nil {
			logger.Warn("ignoring invalid config change", "error", err)
			return
		}
		registry.Reload(c.ToProviderRegistryConfig())
		logger.Info("provider registry reloaded from config")
	})
	if mgr.ConfigFile() != "" {
		mgr.WatchConfig()
	}

	return svcctx.WithServices(cmd.Context(), &svcctx.Services{
		Registry: registry,
		Config:   mgr,
		Logger:   logger,
		Home:     h,
	}), nil
}

// newOrchestrator builds a pipeline from the current config, so a document
// graded after a config edit sees the new settings.
func newOrchestrator(ctx context.Context, progress pipeline.Progress) (*pipeline.Orchestrator, error) {
	s := svcctx.ServicesFrom(ctx)
	if s == nil {
		return nil, fmt.Errorf("services not initialized")
	}
	g := s.Config.Get().Grading
	if g.PromptsDir == "" {
		if info, err := os.Stat(s.Home.PromptsPath()); err == nil && info.IsDir() {
			g.PromptsDir = s.Home.PromptsPath()
		}
	}
	return pipeline.New(pipeline.Config{
		Backends: s.Registry,
		Grading:  g,
		Progress: progress,
		Logger:   s.Logger,
	})
}
