package services

import (
	"context"
	"time"
)

// pruneInterval is how often finished operations past retention are dropped.
const pruneInterval = 10 * time.Minute

// Start launches the background workers and the HTTP server. They run until
// ctx is done or Shutdown is called.
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	if m.cleanup != nil {
		if err := m.cleanup.Start(ctx); err != nil {
			m.cancel()
			return err
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pruneOperations(ctx)
	}()

	if m.server != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.server.Start(ctx); err != nil {
				m.logger.Error("HTTP server stopped", "error", err)
			}
		}()
	}
	return nil
}

func (m *Manager) pruneOperations(ctx context.Context) {
	ticker := m.clock.Ticker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.runner.Prune(); n > 0 {
				m.logger.Debug("Pruned finished operations", "count", n)
			}
		}
	}
}
