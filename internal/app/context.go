package app

import (
	"database/sql"
	"fmt"

	"checkline/internal/catalog"
	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/engine"
	"checkline/internal/migrate"
	"checkline/internal/report"
)

// App bundles everything a workspace needs to run the engine: the open
// database, the resolved config and catalog, and a file renderer writing
// into the workspace reports directory.
type App struct {
	DB      *sql.DB
	Config  *config.Config
	Catalog *catalog.Catalog
	Engine  engine.Engine
}

// Open resolves a workspace into a ready App. The config file is optional;
// defaults apply when it is missing. A catalog path in the config replaces
// the built-in catalog. Migrations run on every open.
func Open(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		cat, err = catalog.FromFile(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("load catalog %s: %w", cfg.Catalog.Path, err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	reportsDir, err := db.ReportsDir(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &App{
		DB:      conn,
		Config:  cfg,
		Catalog: cat,
		Engine:  engine.New(conn, cfg, cat, report.FileRenderer{Dir: reportsDir}),
	}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
