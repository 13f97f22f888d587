package audiocore

import (
	"context"
	"time"
)

// tickLoop drives Tick at a fixed interval until ctx is done. Each tick's
// jobs finish before the next tick is scheduled.
func (m *Manager) tickLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("tick loop stopped")
			return
		case <-ticker.C:
			m.Tick().Complete()
		}
	}
}
