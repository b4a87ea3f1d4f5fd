package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/metrics"
)

// TagLister is the part of the index the catalog reads.
type TagLister interface {
	ListExtendedQueryTags(ctx context.Context, opts index.TagListOptions) ([]index.ExtendedQueryTag, error)
}

type Config struct {
	// RefreshInterval bounds how long a cached snapshot is served. Zero
	// keeps it until invalidated.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

func DefaultConfig() Config {
	return Config{RefreshInterval: time.Minute}
}

// Provider caches the catalog snapshot. At most one refresh runs at a time;
// concurrent callers share its result.
type Provider struct {
	store  TagLister
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	group singleflight.Group

	mu         sync.RWMutex
	current    *Snapshot
	loadedAt   time.Time
	generation uint64
	epoch      uint64 // bumped by Invalidate
}

// NewProvider creates a catalog provider over store.
func NewProvider(store TagLister, cfg Config, c clock.Clock, logger *slog.Logger) *Provider {
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		store:  store,
		cfg:    cfg,
		clock:  c,
		logger: logger.With("component", "catalog"),
	}
}

// GetQueryTags returns the current snapshot, loading it when the cache is
// empty, expired or force is set.
func (p *Provider) GetQueryTags(ctx context.Context, force bool) (*Snapshot, error) {
	if !force {
		if s := p.cached(); s != nil {
			return s, nil
		}
	}

	ch := p.group.DoChan("refresh", func() (any, error) {
		// detached so one caller's cancellation does not fail the others
		return p.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (p *Provider) cached() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil
	}
	if p.cfg.RefreshInterval > 0 && p.clock.Since(p.loadedAt) >= p.cfg.RefreshInterval {
		return nil
	}
	return p.current
}

func (p *Provider) refresh(ctx context.Context) (*Snapshot, error) {
	p.mu.RLock()
	epoch := p.epoch
	p.mu.RUnlock()

	tags, err := p.store.ListExtendedQueryTags(ctx, index.TagListOptions{
		Statuses: []index.TagStatus{index.TagStatusAdding, index.TagStatusReady},
	})
	if err != nil {
		p.logger.Warn("Failed to load extended query tags", "error", err)
		metrics.CatalogRefreshes.WithLabelValues("error").Inc()
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	snap := NewSnapshot(tags, p.generation)
	if p.epoch != epoch {
		// invalidated while loading: callers already waiting get it, the
		// cache does not
		p.logger.Debug("Discarding catalog loaded before invalidation", "generation", p.generation)
		return snap, nil
	}
	p.current = snap
	p.loadedAt = p.clock.Now()
	metrics.CatalogRefreshes.WithLabelValues("ok").Inc()
	metrics.CatalogGeneration.Set(float64(p.generation))
	p.logger.Debug("Catalog refreshed", "generation", p.generation, "extended_tags", len(tags))
	return p.current, nil
}

// Invalidate drops the cached snapshot so the next call reloads it. A
// refresh already in flight is not cached and later callers do not join it.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.current = nil
	p.epoch++
	p.mu.Unlock()
	p.group.Forget("refresh")
}
