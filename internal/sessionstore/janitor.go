package sessionstore

import (
	"context"
	"log/slog"
	"time"
)

// Janitor is implemented by backends that enforce TTLs at read time and need
// expired rows purged in the background.
type Janitor interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// StartJanitor purges expired records every interval until ctx is done.
func StartJanitor(ctx context.Context, j Janitor, interval time.Duration, logger *slog.Logger) {
	if j == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := j.PurgeExpired(ctx)
				if err != nil {
					logger.Warn("purge expired sessions failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Debug("purged expired sessions", "count", n)
				}
			}
		}
	}()
}
