package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// CleanupService handles data retention and cleanup
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(pool PgxPool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes data older than the retention period. Only requests
// that reached a terminal status are eligible; PENDING/PROCESSING rows are
// never removed regardless of age.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		DELETE FROM verification_requests
		WHERE updated_at < $1
		AND status IN ('COMPLETED', 'SKIPPED', 'FAILED')
	`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup requests: %w", err)
	}
	deletedRequests := tag.RowsAffected()

	tag, err = tx.Exec(ctx, `
		DELETE FROM job_documents
		WHERE updated_at < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup documents: %w", err)
	}
	deletedDocuments := tag.RowsAffected()

	tag, err = tx.Exec(ctx, `
		DELETE FROM activity_log
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup activity: %w", err)
	}
	deletedEvents := tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_requests", deletedRequests),
		slog.Int64("deleted_documents", deletedDocuments),
		slog.Int64("deleted_events", deletedEvents),
		slog.Time("cutoff", cutoff),
	)

	return nil
}

// RunPeriodic starts a periodic cleanup job
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour // daily by default
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial cleanup
	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
