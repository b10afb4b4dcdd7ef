package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/kurve-cli/internal/db"
	"github.com/sells-group/kurve-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. It is typically the merge
// target shared by several devices.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership of
// the pool; Close is a no-op.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS hourly_meter_readings (
	meter_serial      TEXT NOT NULL,
	period_start_utc  TIMESTAMPTZ PRIMARY KEY,
	read_time_utc     TIMESTAMPTZ NOT NULL,
	actual_value      DOUBLE PRECISION NOT NULL,
	consumption_value DOUBLE PRECISION NOT NULL,
	consumption_cost  DOUBLE PRECISION NOT NULL,
	standing_charge   DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_meter_readings (LIKE hourly_meter_readings INCLUDING ALL);
CREATE TABLE IF NOT EXISTS monthly_meter_readings (LIKE hourly_meter_readings INCLUDING ALL);

CREATE TABLE IF NOT EXISTS daily_consumption_averages (
	period        TIMESTAMPTZ PRIMARY KEY,
	daily_cost    DOUBLE PRECISION,
	daily_usage   DOUBLE PRECISION,
	weekly_cost   DOUBLE PRECISION,
	weekly_usage  DOUBLE PRECISION,
	monthly_cost  DOUBLE PRECISION,
	monthly_usage DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS weekly_consumption_averages (LIKE daily_consumption_averages INCLUDING ALL);
CREATE TABLE IF NOT EXISTS monthly_consumption_averages (LIKE daily_consumption_averages INCLUDING ALL);
CREATE TABLE IF NOT EXISTS yearly_consumption_averages (LIKE daily_consumption_averages INCLUDING ALL);

CREATE TABLE IF NOT EXISTS tariff_history (
	tariff_id                BIGINT PRIMARY KEY,
	consumer_number          TEXT NOT NULL DEFAULT '',
	pricing_plan_code        TEXT NOT NULL DEFAULT '',
	pricing_plan_description TEXT NOT NULL DEFAULT '',
	rate                     DOUBLE PRECISION NOT NULL,
	standing_charge          DOUBLE PRECISION NOT NULL,
	tariff_change_date       TIMESTAMPTZ NOT NULL,
	is_current               BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	account       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ,
	pages         INTEGER NOT NULL DEFAULT 0,
	inserted      INTEGER NOT NULL DEFAULT 0,
	updated       INTEGER NOT NULL DEFAULT 0,
	unchanged     INTEGER NOT NULL DEFAULT 0,
	mismatches    INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tariff_history_current ON tariff_history(is_current) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	return &postgresTx{tx: tx, c: pgConn{tx}}, nil
}

func (s *PostgresStore) Readings(ctx context.Context, g model.Granularity, r Range) ([]model.MeterReading, error) {
	return listReadings(ctx, s.conn(), g, r)
}

func (s *PostgresStore) LatestReading(ctx context.Context, g model.Granularity) (*model.MeterReading, error) {
	return latestReading(ctx, s.conn(), g)
}

func (s *PostgresStore) Averages(ctx context.Context, g model.Granularity, r Range) ([]model.ConsumptionAverages, error) {
	return listAverages(ctx, s.conn(), g, r)
}

func (s *PostgresStore) Tariffs(ctx context.Context) ([]model.Tariff, error) {
	return listTariffs(ctx, s.conn())
}

func (s *PostgresStore) CurrentTariff(ctx context.Context) (*model.Tariff, error) {
	return currentTariff(ctx, s.conn())
}

func (s *PostgresStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	return snapshot(ctx, s.conn())
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, s.conn())
}

// Append bulk-loads snap with COPY inside a single transaction.
func (s *PostgresStore) Append(ctx context.Context, snap *Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, g := range model.ReadingGranularities {
		rows := make([][]any, 0, len(snap.Readings[g]))
		for _, r := range snap.Readings[g] {
			rows = append(rows, readingArgs(r))
		}
		if _, err := db.CopyFrom(ctx, tx, readingTables[g], readingColumns, rows); err != nil {
			return err
		}
	}
	for _, g := range model.AverageGranularities {
		rows := make([][]any, 0, len(snap.Averages[g]))
		for _, a := range snap.Averages[g] {
			rows = append(rows, averagesArgs(a))
		}
		if _, err := db.CopyFrom(ctx, tx, averagesTables[g], averagesColumns, rows); err != nil {
			return err
		}
	}
	rows := make([][]any, 0, len(snap.Tariffs))
	for _, t := range snap.Tariffs {
		rows = append(rows, tariffArgs(t))
	}
	if _, err := db.CopyFrom(ctx, tx, TariffTable, tariffColumns, rows); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit append")
}

func (s *PostgresStore) StartRun(ctx context.Context, account string) (*model.IngestRun, error) {
	run := model.IngestRun{
		ID:        uuid.New().String(),
		Account:   account,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := insertRun(ctx, s.conn(), run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, totals model.RunTotals) error {
	return finishRun(ctx, s.conn(), runID, model.RunStatusComplete, totals, nil)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, totals model.RunTotals, errMsg string) error {
	return finishRun(ctx, s.conn(), runID, model.RunStatusFailed, totals, &errMsg)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	return listRuns(ctx, s.conn(), limit)
}

func (s *PostgresStore) conn() pgConn { return pgConn{s.pool} }

type postgresTx struct {
	tx pgx.Tx
	c  pgConn
}

func (t *postgresTx) GetReading(ctx context.Context, g model.Granularity, periodStart time.Time) (*model.MeterReading, error) {
	return getReading(ctx, t.c, g, periodStart)
}

func (t *postgresTx) InsertReading(ctx context.Context, g model.Granularity, r model.MeterReading) error {
	return insertReading(ctx, t.c, g, r)
}

func (t *postgresTx) UpdateReading(ctx context.Context, g model.Granularity, r model.MeterReading) error {
	return updateReading(ctx, t.c, g, r)
}

func (t *postgresTx) GetAverages(ctx context.Context, g model.Granularity, period time.Time) (*model.ConsumptionAverages, error) {
	return getAverages(ctx, t.c, g, period)
}

func (t *postgresTx) InsertAverages(ctx context.Context, g model.Granularity, a model.ConsumptionAverages) error {
	return insertAverages(ctx, t.c, g, a)
}

func (t *postgresTx) UpdateAverages(ctx context.Context, g model.Granularity, a model.ConsumptionAverages) error {
	return updateAverages(ctx, t.c, g, a)
}

func (t *postgresTx) GetTariff(ctx context.Context, tariffID int64) (*model.Tariff, error) {
	return getTariff(ctx, t.c, tariffID)
}

func (t *postgresTx) InsertTariff(ctx context.Context, tf model.Tariff) error {
	return insertTariff(ctx, t.c, tf)
}

func (t *postgresTx) ClearCurrentTariffs(ctx context.Context, exceptTariffID int64) (int64, error) {
	return clearCurrentTariffs(ctx, t.c, exceptTariffID)
}

func (t *postgresTx) MarkCurrentTariff(ctx context.Context, tariffID int64) error {
	return markCurrentTariff(ctx, t.c, tariffID)
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return eris.Wrap(t.tx.Commit(ctx), "postgres: commit")
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return eris.Wrap(err, "postgres: rollback")
}

// pgQuerier is satisfied by db.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgConn struct {
	q pgQuerier
}

func (c pgConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.q.Exec(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c pgConn) queryRow(ctx context.Context, query string, args ...any) scannable {
	return c.q.QueryRow(ctx, rebind(query), args...)
}

func (c pgConn) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	return c.q.Query(ctx, rebind(query), args...)
}

// rebind rewrites "?" placeholders to PostgreSQL's "$n" form. Queries in this
// package never carry a literal "?".
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
