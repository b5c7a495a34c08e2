package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agentforge/engine/internal/adapter"
	"github.com/agentforge/engine/internal/analytics"
	"github.com/agentforge/engine/internal/command"
	"github.com/agentforge/engine/internal/config"
	"github.com/agentforge/engine/internal/consensus"
	"github.com/agentforge/engine/internal/gate"
	"github.com/agentforge/engine/internal/memory"
	"github.com/agentforge/engine/internal/orchestrator"
	"github.com/agentforge/engine/internal/runner"
	"github.com/agentforge/engine/internal/storage"
	"github.com/agentforge/engine/internal/workflow"
)

// app bundles the wired Service plus the analytics/memory collaborators;
// the stats command consults Analytics directly.
type app struct {
	Service   *orchestrator.Service
	Analytics *analytics.Counters
	Memory    *memory.Store
	Repo      *storage.Repository
}

// newApp loads config and wires the full collaborator graph exactly once
// per invocation. Every subcommand calls this before doing anything else.
func newApp() (*app, func(), error) {
	var opts []config.Option
	if storageDir != "" {
		opts = append(opts, config.WithStorageDir(storageDir))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create storage dir: %w", err)
	}
	repo, err := storage.OpenSQLite(filepath.Join(cfg.StorageDir, "agentforge.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	closer := func() { _ = repo.Close() }

	artifacts := storage.NewArtifactStore(cfg.ArtifactRoot)
	memStore, err := memory.New(filepath.Join(cfg.StorageDir, "memory"))
	if err != nil {
		return nil, nil, fmt.Errorf("open memory store: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	r := runner.New()
	r.Logger = logger
	commands := command.New()
	adapters := adapter.NewRegistry(cfg.Providers)

	engine := workflow.New(r, commands, adapters)
	engine.Artifacts = artifacts
	engine.Memory = memStore
	engine.Logger = logger

	sub := consensus.New(r, adapters, artifacts)

	g := gate.New(repo, cfg.MaxConcurrentRunningTasks)

	svc := orchestrator.New(repo, artifacts, g, engine, sub, cfg)
	svc.Memory = memStore
	svc.Logger = logger

	return &app{
		Service:   svc,
		Analytics: analytics.New(repo),
		Memory:    memStore,
		Repo:      repo,
	}, closer, nil
}
