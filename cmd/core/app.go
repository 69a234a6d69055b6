package main

import (
	"github.com/kimhsiao/habitnexus/backend/internal/config"
	"github.com/kimhsiao/habitnexus/backend/internal/db"
	"github.com/kimhsiao/habitnexus/backend/internal/habits"
	"github.com/kimhsiao/habitnexus/backend/internal/settings"
	"github.com/kimhsiao/habitnexus/backend/internal/storage"
	syncpkg "github.com/kimhsiao/habitnexus/backend/internal/sync"
	"github.com/kimhsiao/habitnexus/backend/internal/sync/queue"
	"github.com/kimhsiao/habitnexus/backend/internal/transport"
)

// storeNamespace separates client keys from server documents in a shared file.
const storeNamespace = "client"

// app holds the wired client components.
type app struct {
	cfg      *config.Config
	db       *db.DB
	queue    *queue.QueueStore
	habits   *habits.Service
	repo     *habits.Repository
	engine   *syncpkg.Engine
	settings *settings.Syncer
	cache    *settings.Cache
}

func newApp(cfg *config.Config) (*app, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return wire(cfg, database, storage.NewSQLiteStore(database, storeNamespace)), nil
}

func wire(cfg *config.Config, database *db.DB, store storage.Store) *app {
	client := transport.NewClient(cfg.Client.ServerURL, cfg.Client.Token)
	q := queue.NewQueueStore(store)
	repo := habits.NewRepository(store)

	return &app{
		cfg:      cfg,
		db:       database,
		queue:    q,
		habits:   habits.NewService(repo, q),
		repo:     repo,
		engine:   syncpkg.NewEngine(q, repo, syncpkg.NewHTTPBackend(client)),
		settings: settings.NewSyncer(client),
		cache:    settings.NewCache(store),
	}
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
