package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/catalog"
	"github.com/syntrixbase/medstore/internal/core/changefeed"
	"github.com/syntrixbase/medstore/internal/core/cleanup"
	"github.com/syntrixbase/medstore/internal/core/index"
	indexmem "github.com/syntrixbase/medstore/internal/core/index/memory"
	"github.com/syntrixbase/medstore/internal/core/index/postgres"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/core/pubsub"
	pubsubmem "github.com/syntrixbase/medstore/internal/core/pubsub/memory"
	pubsubnats "github.com/syntrixbase/medstore/internal/core/pubsub/nats"
	"github.com/syntrixbase/medstore/internal/core/store"
	"github.com/syntrixbase/medstore/internal/core/xqt"
	"github.com/syntrixbase/medstore/internal/gateway/rest"
	"github.com/syntrixbase/medstore/internal/server"
)

// Replaced in tests.
var (
	openPostgres = postgres.Open
	openBlobs    = blob.Open
	openMetadata = metadata.Open
	newBroker    = func(cfg pubsub.Config, m *Manager) pubsub.Provider {
		if cfg.Backend == pubsub.BackendNATS {
			return pubsubnats.NewProvider(cfg.NATS.URL, m.logger)
		}
		return pubsubmem.New()
	}
)

// Init opens every backend and builds the services. On error the backends
// opened so far are closed.
func (m *Manager) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.closeBackends(context.WithoutCancel(ctx))
		}
	}()

	if err := m.initIndex(ctx); err != nil {
		return err
	}
	if m.blobs, err = openBlobs(m.cfg.Blob, m.logger); err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	if m.meta, err = openMetadata(ctx, m.cfg.Metadata, m.logger); err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	if err := m.initChangeFeed(ctx); err != nil {
		return err
	}

	m.catalog = catalog.NewProvider(m.index, m.cfg.Catalog, m.clock, m.logger)
	m.queue = store.NewCleanupQueue(m.cfg.Store.CleanupQueue, m.cfg.Store.CompensationTimeout, m.logger)
	m.runner = operation.NewRunner(m.cfg.Operations, m.clock, m.logger)

	m.initStoreServices()
	m.initTagServices()

	if m.opts.RunCleanup {
		m.cleanup = cleanup.NewWorker(m.index, m.blobs, m.meta, m.cfg.Cleanup, m.clock, m.logger)
	}
	if m.opts.RunServer {
		m.initServer()
	}
	m.logger.Info("Services initialized",
		"index", m.cfg.Index.Backend,
		"blob", m.cfg.Blob.Backend,
		"metadata", m.cfg.Metadata.Backend,
		"pubsub", m.cfg.PubSub.Backend)
	return nil
}

func (m *Manager) initIndex(ctx context.Context) error {
	switch m.cfg.Index.Backend {
	case index.BackendMemory:
		m.index = indexmem.New(indexmem.WithClock(m.clock))
	case index.BackendPostgres:
		db, err := openPostgres(ctx, m.cfg.Index.Postgres)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		m.index = postgres.NewStore(db, postgres.WithClock(m.clock))
	default:
		return fmt.Errorf("unsupported index backend %q", m.cfg.Index.Backend)
	}
	return nil
}

func (m *Manager) initChangeFeed(ctx context.Context) error {
	cfg := m.cfg.PubSub
	m.broker = newBroker(cfg, m)
	if c, ok := m.broker.(pubsub.Connectable); ok {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	pub, err := m.broker.NewPublisher(pubsub.PublisherOptions{
		StreamName:    cfg.Stream,
		SubjectPrefix: cfg.Stream,
		Storage:       cfg.Storage,
	})
	if err != nil {
		return fmt.Errorf("create change feed publisher: %w", err)
	}
	m.publisher = pub
	m.events = changefeed.NewFeed(pub, m.clock, m.logger)
	return nil
}

// NewChangeConsumer subscribes a durable consumer to the change feed.
func (m *Manager) NewChangeConsumer(name string) (pubsub.Consumer, error) {
	return m.broker.NewConsumer(pubsub.ConsumerOptions{
		StreamName:    m.cfg.PubSub.Stream,
		ConsumerName:  name,
		FilterSubject: m.cfg.PubSub.Stream + ".>",
	})
}

func (m *Manager) initStoreServices() {
	deps := store.Dependencies{
		Index:    m.index,
		Blobs:    m.blobs,
		Metadata: m.meta,
		Catalog:  m.catalog,
		Queue:    m.queue,
		Events:   m.events,
		Clock:    m.clock,
		Logger:   m.logger,
	}
	m.orchestrator = store.NewOrchestrator(deps, m.cfg.Store)
	m.updates = store.NewUpdateService(deps, m.cfg.Store)
	m.runner.Register(operation.KindUpdateStudy, m.updates.Handler())

	m.services.Store = store.NewService(m.orchestrator, m.logger)
	m.services.Delete = store.NewDeleteService(m.index, m.events, m.cfg.Store, m.clock, m.logger)
	m.services.Operations = m.runner
}

func (m *Manager) initTagServices() {
	cfg := m.cfg.Tags
	m.services.AddTags = xqt.NewAddService(m.index, m.runner, m.catalog, cfg, m.logger)
	m.services.GetTags = xqt.NewGetService(m.index)
	m.services.DeleteTags = xqt.NewDeleteService(m.index, m.runner, m.catalog, cfg, m.logger, xqt.WithClock(m.clock))

	m.runner.Register(operation.KindReindex, xqt.NewReindexer(m.index, m.meta, m.runner, m.catalog, cfg, m.logger))
	m.runner.Register(operation.KindDeleteExtendedQueryTag, xqt.NewPurger(m.index, m.catalog, cfg, m.logger))
}

func (m *Manager) initServer() {
	m.server = server.New(m.cfg.Server, m.logger)
	rest.NewHandler(m.services, m.cfg.BaseURL).RegisterRoutes(m.server)

	m.server.AddHealthCheck("index", func(ctx context.Context) error {
		_, err := m.index.MaxWatermark(ctx)
		return err
	})
	m.server.AddHealthCheck("catalog", func(ctx context.Context) error {
		_, err := m.catalog.GetQueryTags(ctx, false)
		return err
	})
}

// closeBackends closes whatever Init opened, newest first.
func (m *Manager) closeBackends(ctx context.Context) error {
	var errs []error
	if m.runner != nil {
		errs = append(errs, m.runner.Close())
		m.runner = nil
	}
	if m.queue != nil {
		m.queue.Close()
		m.queue = nil
	}
	if m.publisher != nil {
		errs = append(errs, m.publisher.Close())
		m.publisher = nil
	}
	if m.broker != nil {
		errs = append(errs, m.broker.Close())
		m.broker = nil
	}
	if m.meta != nil {
		errs = append(errs, m.meta.Close())
		m.meta = nil
	}
	if m.blobs != nil {
		errs = append(errs, m.blobs.Close())
		m.blobs = nil
	}
	if m.index != nil {
		errs = append(errs, m.index.Close(ctx))
		m.index = nil
	}
	return errors.Join(errs...)
}
