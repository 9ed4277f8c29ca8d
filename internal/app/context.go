package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"capplan/internal/config"
	"capplan/internal/db"
	"capplan/internal/engine"
	"capplan/internal/logger"
	"capplan/internal/metrics"
	"capplan/internal/migrate"
	"capplan/internal/repo"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	Logger    logger.Logger
	Metrics   metrics.Recorder
	Now       func() time.Time
}

// Workspace is an open workspace database and the engine bound to it.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Engine engine.Engine
}

// Open opens (creating if needed) the workspace database, applies migrations
// and resolves the planner config.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	dir := opts.Workspace
	if dir == "" {
		dir = "."
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := ResolveConfig(ctx, dir, repo.Repo{DB: conn})
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.NewWorkspace(conn, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	if opts.Metrics != nil {
		e.Metrics = opts.Metrics
	}
	if opts.Now != nil {
		e.Now = opts.Now
	}
	return &Workspace{Dir: dir, DB: conn, Engine: e}, nil
}

// Close releases the database.
func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// ResolveConfig prefers the config stored in the workspace database, then a
// planner.yml next to it, then defaults named after the directory.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return FileConfig(workspace)
}

// FileConfig reads planner.yml from the workspace directory, falling back to
// defaults named after the directory. It never touches the database.
func FileConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	return config.Default(defaultName(workspace)), nil
}

// Detached builds a planning-only engine for a workspace that has no
// database yet. Nothing is created on disk.
func Detached(opts Options) (engine.Engine, error) {
	dir := opts.Workspace
	if dir == "" {
		dir = "."
	}
	cfg, err := FileConfig(dir)
	if err != nil {
		return engine.Engine{}, err
	}
	e := engine.New(cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	if opts.Metrics != nil {
		e.Metrics = opts.Metrics
	}
	if opts.Now != nil {
		e.Now = opts.Now
	}
	return e, nil
}

func defaultName(workspace string) string {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "workspace"
	}
	name := filepath.Base(abs)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "workspace"
	}
	return name
}
