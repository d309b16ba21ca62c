package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const insertQuery = `
	INSERT INTO countip (
		id, rule_name, source_ip, destination_ip, destination_geo_country,
		event_severity_label, destination_port, counts, created_date,
		first_seen_event, last_seen_event, modul, sub_type, tipe
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

// Migrate applies every embedded migration to the database at dsn.
func Migrate(dsn string) error {
	if dsn == "" {
		return ErrEmptyDSN
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PostgresRepository writes countip rows through a pgx pool.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresRepository connects and pings the database.
func NewPostgresRepository(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresRepository, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool, logger: logger, now: time.Now}, nil
}

// SaveEvents inserts one row per event in a single batch and returns the
// number of rows written.
func (r *PostgresRepository) SaveEvents(ctx context.Context, timeframe string, events []telemetry.Event) (int, error) {
	if r == nil || r.pool == nil {
		return 0, ErrNotConfigured
	}
	if len(events) == 0 {
		return 0, nil
	}

	rows := RowsFromEvents(events, timeframe, r.now())
	batch := &pgx.Batch{}
	for i := range rows {
		batch.Queue(insertQuery, rows[i].args()...)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	written := 0
	for range rows {
		if _, err := br.Exec(); err != nil {
			return written, fmt.Errorf("failed to insert countip row: %w", err)
		}
		written++
	}

	r.logger.Debug("Mirrored events", zap.String("timeframe", timeframe), zap.Int("rows", written))
	return written, nil
}

// Ping verifies the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return ErrNotConfigured
	}
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
}
