// Package aggregator persists periodic snapshots of the aggregated analytics
// stats to PostgreSQL. The searcher and the analytics service may share one
// table; each row records which one wrote it.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    source      TEXT NOT NULL DEFAULT '',
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS analytics_snapshots_captured_at_idx
    ON analytics_snapshots (captured_at DESC)`,
}

// DefaultRetention bounds how long snapshots are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Source provides the stats to snapshot.
type Source interface {
	Stats() analytics.AggregatedStats
}

type Store struct {
	db        *postgres.Client
	source    string
	retention time.Duration
	logger    *slog.Logger
}

// NewStore tags every snapshot with source, the writing service's name.
func NewStore(db *postgres.Client, source string) *Store {
	return &Store{
		db:        db,
		source:    source,
		retention: DefaultRetention,
		logger:    slog.Default().With("component", "analytics-store", "source", source),
	}
}

// Migrate creates the snapshot table and index if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.EnsureSchema(ctx, schema...)
}

// SaveSnapshot inserts stats and, in the same transaction, drops this
// source's snapshots older than the retention period.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding analytics snapshot: %w", err)
	}
	now := time.Now().UTC()

	var pruned int64
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analytics_snapshots (source, data, captured_at) VALUES ($1, $2, $3)`,
			s.source, data, now,
		); err != nil {
			return fmt.Errorf("inserting analytics snapshot: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM analytics_snapshots WHERE source = $1 AND captured_at < $2`,
			s.source, now.Add(-s.retention),
		)
		if err != nil {
			return fmt.Errorf("pruning analytics snapshots: %w", err)
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"failed_requests", stats.FailedRequests,
		"pruned", pruned,
	)
	return nil
}

// ListSnapshots returns this source's newest limit snapshots, newest first.
// Rows that no longer decode are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data FROM analytics_snapshots WHERE source = $1 ORDER BY captured_at DESC LIMIT $2`,
		s.source, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing analytics snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]analytics.AggregatedStats, 0, limit)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning analytics snapshot: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping undecodable snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, stats)
	}
	return snapshots, rows.Err()
}

// StartPeriodicSave snapshots src every interval until ctx is cancelled,
// then saves a final one.
func (s *Store) StartPeriodicSave(ctx context.Context, src Source, interval time.Duration) {
	s.logger.Info("periodic snapshots started", "interval", interval, "retention", s.retention)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, src.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				if err := s.SaveSnapshot(finalCtx, src.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				cancel()
				return
			}
		}
	}()
}
