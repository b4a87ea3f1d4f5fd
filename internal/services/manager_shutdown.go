package services

import (
	"context"
	"errors"
)

// Shutdown stops the server and workers, then closes the backends. ctx
// bounds the wait for in-flight work.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if m.server != nil {
		if err := m.server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.cleanup != nil {
		if err := m.cleanup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for background tasks")
		errs = append(errs, ctx.Err())
	}

	if err := m.closeBackends(ctx); err != nil {
		errs = append(errs, err)
	}
	m.logger.Info("Services stopped")
	return errors.Join(errs...)
}
