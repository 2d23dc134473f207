package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/types"

	// Registers the rebuild_run migrations with goose
	_ "github.com/beam-cloud/conceptstore/pkg/repository/postgres_migrations"
)

const (
	postgresApplicationName = "conceptstore-gateway"
	postgresConnectTimeout  = 5 * time.Second
)

// PostgresBackend persists rebuild history. It is optional: the gateway
// falls back to MemoryRebuildRepository when no host is configured.
type PostgresBackend struct {
	db     *sql.DB
	config types.PostgresConfig
}

func withPostgresDefaults(cfg types.PostgresConfig) types.PostgresConfig {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.Database == "" {
		cfg.Database = "conceptstore"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	return cfg
}

// postgresDSN renders cfg as a URL so credentials with spaces or quotes
// survive intact.
func postgresDSN(cfg types.PostgresConfig) string {
	query := url.Values{}
	query.Set("sslmode", cfg.SSLMode)
	query.Set("application_name", postgresApplicationName)
	query.Set("connect_timeout", strconv.Itoa(int(postgresConnectTimeout.Seconds())))

	dsn := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: query.Encode(),
	}
	if cfg.User != "" {
		dsn.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return dsn.String()
}

func NewPostgresBackend(ctx context.Context, cfg types.PostgresConfig) (*PostgresBackend, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("postgres: no host configured")
	}
	cfg = withPostgresDefaults(cfg)

	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, postgresConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres %s/%s: %w", cfg.Host, cfg.Database, err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to postgres")

	return &PostgresBackend{db: db, config: cfg}, nil
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// RunMigrations brings the rebuild_run schema up to date
func (b *PostgresBackend) RunMigrations(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, b.db, nil)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, res := range results {
		log.Info().
			Int64("version", res.Source.Version).
			Dur("took", res.Duration).
			Msg("applied migration")
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	log.Info().Int64("version", version).Int("applied", len(results)).Msg("rebuild history schema ready")
	return nil
}
