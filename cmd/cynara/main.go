// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lukaszwojciechowski/cynara/lib/clock"
	"github.com/lukaszwojciechowski/cynara/lib/config"
	"github.com/lukaszwojciechowski/cynara/lib/engine"
	"github.com/lukaszwojciechowski/cynara/lib/process"
	"github.com/lukaszwojciechowski/cynara/lib/service"
	"github.com/lukaszwojciechowski/cynara/lib/storage"
	"github.com/lukaszwojciechowski/cynara/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath  string
		inMemory    bool
		showVersion bool
	)
	flags := pflag.NewFlagSet("cynara", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to cynara.yaml (default: $"+config.EnvironmentVariable+")")
	flags.BoolVar(&inMemory, "in-memory", false, "keep policies in memory only; nothing is persisted")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("cynara %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if inMemory {
		cfg.Storage.Backend = config.BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := cfg.LogLevel()
	logger := service.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	clk := clock.Real()
	lock, err := storage.AcquireLock(ctx, cfg.Paths.LockFile, clk, logger)
	if err != nil {
		return err
	}
	defer lock.Release()

	plugins, err := engine.PluginsFromConfig(cfg.Plugins)
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg, plugins, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	agentTimeout, _ := cfg.AgentTimeout()
	daemon := newDaemon(daemonConfig{
		Storage:      store,
		Plugins:      plugins,
		Clock:        clk,
		Logger:       logger,
		AgentTimeout: agentTimeout,
		ClientSocket: cfg.Paths.ClientSocket,
		AdminSocket:  cfg.Paths.AdminSocket,
		AgentSocket:  cfg.Paths.AgentSocket,
	})

	logger.Info("cynara starting",
		"version", version.Info(),
		"environment", string(cfg.Environment),
		"backend", cfg.Storage.Backend,
		"plugins", len(cfg.Plugins),
	)
	if err := daemon.Run(ctx); err != nil {
		return err
	}
	logger.Info("cynara stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// openStorage opens the configured backend and loads it, applying the
// seed file to a fresh database. A nil logger discards.
func openStorage(ctx context.Context, cfg *config.Config, plugins *engine.Plugins, logger *slog.Logger) (*storage.Storage, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var backend storage.Backend
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		backend = storage.NewMemoryBackend()
	default:
		busyTimeout, _ := cfg.BusyTimeout()
		sqliteBackend, err := storage.OpenSQLite(storage.SQLiteConfig{
			Path:        cfg.Paths.Database,
			BusyTimeout: busyTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		backend = sqliteBackend
	}

	store := storage.New(backend, logger)
	if err := store.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if store.Fresh() && cfg.Paths.SeedFile != "" {
		if err := applySeed(ctx, store, cfg.Paths.SeedFile, plugins); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("policy database seeded", "seed_file", cfg.Paths.SeedFile)
	}
	return store, nil
}

func applySeed(ctx context.Context, store *storage.Storage, path string, plugins *engine.Plugins) error {
	seed, err := storage.ReadSeedFile(path)
	if err != nil {
		return err
	}
	buckets, err := seed.BuildBuckets(plugins.ParseType)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	if err := store.Replace(ctx, buckets); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	return nil
}
