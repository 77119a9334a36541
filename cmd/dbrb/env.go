package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dbrb/internal/backup"
	"dbrb/internal/config"
	"dbrb/internal/lock"
	"dbrb/internal/metrics"
	"dbrb/internal/remote"
	"dbrb/internal/storage"
	"dbrb/internal/strategy"
	"dbrb/internal/util"
)

// env is what every job command needs: config, logging, storage and metrics.
type env struct {
	cfg     *config.Config
	storage *storage.ObjectStoreStorage
	metrics *metrics.Collector
	logFile *os.File
}

func setup(ctx context.Context, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := util.SetupDirectories(util.RunDir(cfg.BaseDir), util.LogDir(cfg.BaseDir)); err != nil {
		return nil, err
	}

	logger, logFile, err := util.SetupLogging(util.LogPath(cfg.BaseDir, time.Now()), cfg.Level())
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	store, err := remote.New(ctx, cfg)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	m := metrics.New()
	return &env{
		cfg: cfg,
		storage: storage.New(store, storage.Options{
			Container:      cfg.Container(),
			SegmentMaxSize: cfg.SegmentMaxSize(),
			ChunkSize:      cfg.ChunkSize(),
			Metrics:        m,
		}),
		metrics: m,
		logFile: logFile,
	}, nil
}

func (e *env) agent() *backup.Agent {
	ds := e.cfg.Datastore
	reporter := backup.MultiReporter{
		backup.LogReporter{},
		backup.StateFileReporter{Dir: util.RunDir(e.cfg.BaseDir)},
	}
	a := backup.NewAgent(strategy.Default(), e.storage, reporter, strategy.Params{
		User:      ds.User,
		Password:  ds.Password,
		ExtraOpts: ds.ExtraOpts,
		DataDir:   ds.DataDir,
		Options:   e.cfg.RunnerOptions(),
	})
	a.Metrics = e.metrics
	return a
}

func (e *env) lock(operation, jobID string) (func() error, error) {
	return lock.Acquire(filepath.Join(util.RunDir(e.cfg.BaseDir), "dbrb.lock"), operation, jobID)
}

func (e *env) close() {
	path := filepath.Join(util.RunDir(e.cfg.BaseDir), "dbrb.prom")
	if err := e.metrics.WriteTextfile(path); err != nil {
		slog.Warn("Failed to write metrics", "path", path, "error", err)
	}
	e.logFile.Close()
}

func (e *env) jobType(typ string) (string, error) {
	if typ == "" {
		typ = e.cfg.Datastore.Type
	}
	if typ == "" {
		return "", fmt.Errorf("backup type must be specified with --type or datastore.type")
	}
	return typ, nil
}
