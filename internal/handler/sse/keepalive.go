package sse

import (
	"context"
	"log/slog"
	"time"
)

// KeepAliveWriter abstracts the keep-alive write so the loop can be tested
// without an HTTP connection
type KeepAliveWriter interface {
	WriteKeepAlive() error
}

// KeepAlive pings writer every interval until ctx is done or a write fails.
// The returned channel closes when the loop has stopped.
func KeepAlive(ctx context.Context, interval time.Duration, writer KeepAliveWriter, logger *slog.Logger) <-chan struct{} {
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					// Connection dropped
					logger.Debug("keep-alive write failed, stopping", "error", err)
					return
				}
			}
		}
	}()

	return stopped
}
