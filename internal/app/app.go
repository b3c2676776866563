package app

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"devmatch/internal/config"
	"devmatch/internal/db"
	"devmatch/internal/engine"
	"devmatch/internal/logger"
	"devmatch/internal/migrate"
)

// App bundles the long-lived pieces a command or server needs.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Log       *zap.Logger
	Engine    engine.Engine
}

// Options tweak Open. Zero values use the workspace config.
type Options struct {
	// ConfigPath overrides <workspace>/devmatch.yml.
	ConfigPath string
	// Logger replaces the logger built from the log section.
	Logger *zap.Logger
}

// Open loads config, opens and migrates the workspace database and wires the
// engine.
func Open(ctx context.Context, workspace string, opts Options) (*App, error) {
	cfg, err := loadConfig(workspace, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := opts.Logger
	if log == nil {
		logCfg := cfg.Log
		if logCfg.Output == "file" && !filepath.IsAbs(logCfg.File) {
			logCfg.File = filepath.Join(workspace, logCfg.File)
		}
		log, err = logger.New(logCfg)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &App{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Log:       log,
		Engine:    engine.New(conn, cfg, log),
	}, nil
}

func loadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	return config.Load(workspace)
}

// Close flushes the logger and closes the database.
func (a *App) Close() error {
	_ = a.Log.Sync()
	return a.DB.Close()
}
