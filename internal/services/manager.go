// Package services wires the configured backends into a running process.
package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/syntrixbase/medstore/internal/config"
	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/catalog"
	"github.com/syntrixbase/medstore/internal/core/changefeed"
	"github.com/syntrixbase/medstore/internal/core/cleanup"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/core/pubsub"
	"github.com/syntrixbase/medstore/internal/core/store"
	"github.com/syntrixbase/medstore/internal/gateway/rest"
	"github.com/syntrixbase/medstore/internal/server"
)

type Options struct {
	// RunServer starts the HTTP API.
	RunServer bool
	// RunCleanup starts the deleted-instance cleanup worker.
	RunCleanup bool
	// ListenHost overrides server.host.
	ListenHost string
}

type Manager struct {
	cfg    *config.Config
	opts   Options
	clock  clock.Clock
	logger *slog.Logger

	index     index.Store
	blobs     blob.Store
	meta      metadata.Store
	broker    pubsub.Provider
	publisher pubsub.Publisher
	events    changefeed.Publisher
	catalog   *catalog.Provider
	queue     *store.CleanupQueue
	runner    *operation.Runner

	orchestrator *store.Orchestrator
	services     rest.Services
	updates      *store.UpdateService

	cleanup *cleanup.Worker
	server  *server.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg *config.Config, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ListenHost != "" {
		cfg.Server.Host = opts.ListenHost
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		clock:  clock.New(),
		logger: logger,
	}
}

// Services returns the request-level services. Valid after Init.
func (m *Manager) Services() rest.Services {
	return m.services
}

// Broker returns the change feed broker. Valid after Init.
func (m *Manager) Broker() pubsub.Provider {
	return m.broker
}

// Server returns the HTTP server, nil unless RunServer is set.
func (m *Manager) Server() *server.Server {
	return m.server
}
