package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

func (b *PostgresBackend) RecordRebuild(ctx context.Context, run *types.RebuildRun) error {
	counts, err := json.Marshal(run.ByTypeCounts)
	if err != nil {
		return fmt.Errorf("encode type counts: %w", err)
	}

	query := `
		INSERT INTO rebuild_run (owner, repo, ref, index_path, files_processed, error_count, by_type_counts, requested_by, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, external_id
	`

	err = b.db.QueryRowContext(ctx, query,
		run.Owner, run.Repo, run.Ref, run.IndexPath, run.FilesProcessed, run.ErrorCount,
		counts, run.RequestedBy, run.StartedAt, run.FinishedAt,
	).Scan(&run.Id, &run.ExternalId)
	if err != nil {
		return fmt.Errorf("record rebuild: %w", err)
	}
	return nil
}

func (b *PostgresBackend) ListRebuilds(ctx context.Context, owner, repo string, limit int) ([]types.RebuildRun, error) {
	if limit <= 0 {
		limit = DefaultRebuildListLimit
	}

	query := `
		SELECT id, external_id, owner, repo, ref, index_path, files_processed, error_count, by_type_counts, requested_by, started_at, finished_at
		FROM rebuild_run
		WHERE owner = $1 AND repo = $2
		ORDER BY started_at DESC
		LIMIT $3
	`

	rows, err := b.db.QueryContext(ctx, query, owner, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("list rebuilds: %w", err)
	}
	defer rows.Close()

	runs := []types.RebuildRun{}
	for rows.Next() {
		var run types.RebuildRun
		var counts []byte
		if err := rows.Scan(
			&run.Id, &run.ExternalId, &run.Owner, &run.Repo, &run.Ref, &run.IndexPath,
			&run.FilesProcessed, &run.ErrorCount, &counts, &run.RequestedBy, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rebuild: %w", err)
		}
		if err := json.Unmarshal(counts, &run.ByTypeCounts); err != nil {
			return nil, fmt.Errorf("decode type counts: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
