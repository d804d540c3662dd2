// Package app wires the store, the type catalog, the document service and
// the workflow engine of one workspace.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"stepline/internal/catalog"
	"stepline/internal/config"
	"stepline/internal/db"
	"stepline/internal/document"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/events"
	"stepline/internal/logger"
	"stepline/internal/migrate"
	"stepline/internal/repo"
	"stepline/internal/schema"
	"stepline/internal/store"
)

type App struct {
	DB        *sql.DB
	Config    *config.Config
	Log       logger.Logger
	Registry  *schema.Registry
	Store     repo.Repo
	Documents *document.Service
	Engine    engine.Engine
}

type Options struct {
	Workspace string
	Config    *config.Config
	Log       logger.Logger
	// Events receives transitions in addition to the log.
	Events events.Recorder
	Now    func() time.Time
}

// NewLogger builds the logger described by cfg.
func NewLogger(cfg *config.Config, out io.Writer) logger.Logger {
	lc := logger.DefaultConfig()
	if out != nil {
		lc.Output = out
	}
	if cfg != nil {
		if cfg.Log.Level != "" {
			lc.Level = logger.Level(cfg.Log.Level)
		}
		lc.JSON = cfg.Log.JSON
	}
	return logger.NewLogger(lc)
}

// Open opens and migrates the workspace database and builds every service.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	log := opts.Log
	if log == nil {
		log = NewLogger(cfg, nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	reg, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("load type catalog: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		log.Debug("applied migrations", "count", applied)
	}

	st := repo.New(conn)
	st.Now = now
	a := &App{DB: conn, Config: cfg, Log: log, Registry: reg, Store: st}

	a.Engine = engine.New(st, log.With("component", "engine"))
	a.Engine.Now = now
	if opts.Events != nil {
		a.Engine.Events = events.Multi{a.Engine.Events, opts.Events}
	}

	norm := &document.Normalizer{
		Store:     st,
		Registry:  reg,
		Builders:  catalog.Builders(st),
		Modifiers: catalog.Modifiers(),
		Dev:       cfg.Dev,
		Log:       log.With("component", "normalizer"),
		Now:       now,
	}
	a.Documents = &document.Service{
		Normalizer:  norm,
		Hydrator:    document.Hydrator{Log: log.With("component", "hydrator")},
		Store:       st,
		Registry:    reg,
		AfterCreate: a.afterCreate,
	}
	return a, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// afterCreate schedules new projects and starts them when configured to.
func (a *App) afterCreate(ctx context.Context, actor domain.Actor, s *schema.Schema, doc store.Document) error {
	if s.Name != catalog.Projects {
		return nil
	}
	id := store.IDOf(doc)
	status, _ := doc[domain.FieldStatus].(string)
	if a.Config.Workflow.AutoStart && domain.Status(status) == domain.StatusAwaiting {
		_, err := a.Engine.Start(ctx, actor, id)
		return err
	}
	_, err := a.Engine.Reschedule(ctx, actor, id)
	return err
}
