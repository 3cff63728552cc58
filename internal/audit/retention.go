package audit

import (
	"context"
	"time"
)

// Pruner is the part of a repository RunRetention needs.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Logger is the logging interface RunRetention uses.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// RunRetention prunes entries older than retention once immediately and
// then every interval, until ctx is cancelled. A non-positive retention
// or interval disables pruning and returns at once.
func RunRetention(ctx context.Context, p Pruner, retention, interval time.Duration, logger Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}

	prune := func() {
		deleted, err := p.Prune(ctx, retention)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				logger.Error("pruning event history failed", "error", err)
			}
		case deleted > 0:
			logger.Info("event history pruned", "deleted", deleted, "retention", retention)
		}
	}

	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
