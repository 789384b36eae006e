// Package maintenance sweeps expired cache entries and keeps the SQLite
// file compact during long daemon runs.
package maintenance

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/sydlexius/crossfade/internal/cache"
)

// Service runs periodic database upkeep.
type Service struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewService creates a maintenance service.
func NewService(db *sql.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Sweep purges expired cache entries in every namespace and returns the
// total number of rows removed. Per-namespace failures are logged and the
// sweep continues.
func (s *Service) Sweep(ctx context.Context) int64 {
	start := time.Now()
	var total int64
	for _, ns := range cache.Namespaces() {
		purged, err := cache.PurgeExpired(ctx, s.db, ns)
		if err != nil {
			s.logger.Error("cache purge failed",
				slog.String("namespace", string(ns)), slog.Any("error", err))
			continue
		}
		total += purged
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		s.logger.Warn("optimize failed", slog.Any("error", err))
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("wal checkpoint failed", slog.Any("error", err))
	}

	s.logger.Info("cache sweep complete",
		slog.Int64("purged", total),
		slog.Duration("elapsed", time.Since(start)))
	return total
}

// StartScheduler sweeps once immediately and then on every interval tick
// until ctx is cancelled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
