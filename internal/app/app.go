// Package app wires the store, engine and sinks from a loaded configuration.
package app

import (
	"database/sql"
	"fmt"
	"time"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
	"caseflow/internal/notify"
	"caseflow/internal/repo"
	"caseflow/internal/stats"
	caseflowsdk "caseflow/sdk/go"
)

type App struct {
	Config   *config.Config
	DB       *sql.DB
	Engine   engine.Engine
	Stats    stats.Aggregator
	Webhooks *notify.Webhooks

	// Client is the remote-first case client; with no remote configured it
	// runs every operation on the local engine.
	Client *caseflowsdk.Client
}

// Open opens the store, runs migrations and builds the engine with the
// configured notification sinks.
func Open(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{DSN: cfg.DB.DSN})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn)
	a := &App{Config: cfg, DB: conn, Engine: e, Stats: stats.New(repo.Repo{DB: conn})}

	if hooks := enabledHooks(cfg.Webhooks); len(hooks) > 0 {
		a.Webhooks = notify.NewWebhooks(hooks)
		a.Engine.Sink = notify.Multi{notify.Log{}, a.Webhooks}
	}

	a.Client = caseflowsdk.NewResilient(cfg.Remote.BaseURL, &a.Engine)
	if cfg.Remote.TimeoutSeconds > 0 {
		a.Client.Timeout = time.Duration(cfg.Remote.TimeoutSeconds) * time.Second
	}
	return a, nil
}

// Close drains in-flight webhook deliveries and closes the store.
func (a *App) Close() error {
	if a.Webhooks != nil {
		a.Webhooks.Wait()
	}
	return a.DB.Close()
}

func enabledHooks(hooks []config.WebhookConfig) []notify.Hook {
	var out []notify.Hook
	for _, h := range hooks {
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		out = append(out, notify.Hook{
			URL:            h.URL,
			Events:         h.Events,
			Secret:         h.Secret,
			TimeoutSeconds: h.TimeoutSeconds,
		})
	}
	return out
}
