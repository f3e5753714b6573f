package cli

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/guardrail"
	"github.com/aretw0/guardrail/pkg/runner"
)

// watchSessionID scopes the default watch-mode session by source path so
// two projects never share one.
func watchSessionID(sources string) string {
	if abs, err := filepath.Abs(sources); err == nil {
		sources = abs
	}
	hash := md5.Sum([]byte(sources))
	return fmt.Sprintf("watch-%x", hash[:4])
}

// watchReloads reports every successful reload of engine through handler
// until ctx is done. The session keeps running against the new program. A
// session parked on an element the edit removed fails to decode on its next
// turn; --fresh starts it over.
func watchReloads(ctx context.Context, engine *guardrail.Engine, handler runner.IOHandler, logger *slog.Logger) error {
	changes, err := engine.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch sources: %w", err)
	}
	logger.Info("Starting Watcher")

	go func() {
		for name := range changes {
			logger.Info("Change detected, program reloaded", "unit", name)
			if err := handler.SystemOutput(ctx, fmt.Sprintf("Reloaded '%s'.", name)); err != nil {
				logger.Warn("Failed to report reload", "err", err)
			}
		}
	}()
	return nil
}
