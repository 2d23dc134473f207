package postgres_migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upRebuildRun, downRebuildRun)
}

func upRebuildRun(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return err
	}

	createStatements := []string{
		`CREATE TABLE IF NOT EXISTS rebuild_run (
			id SERIAL PRIMARY KEY,
			external_id UUID DEFAULT uuid_generate_v4() UNIQUE NOT NULL,
			owner VARCHAR(255) NOT NULL,
			repo VARCHAR(255) NOT NULL,
			ref VARCHAR(255) NOT NULL DEFAULT '',
			index_path TEXT NOT NULL,
			files_processed INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			by_type_counts JSONB NOT NULL DEFAULT '{}',
			requested_by VARCHAR(255) NOT NULL DEFAULT '',
			started_at TIMESTAMP WITH TIME ZONE NOT NULL,
			finished_at TIMESTAMP WITH TIME ZONE NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rebuild_run_repo ON rebuild_run(owner, repo, started_at DESC);`,
	}

	for _, stmt := range createStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func downRebuildRun(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS rebuild_run;`)
	return err
}
