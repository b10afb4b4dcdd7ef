package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/kurve-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. One file holds the
// data captured by one device or ingestion host.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// sqliteParams are applied to every pooled connection.
const sqliteParams = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_time_format=sqlite"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+sqliteParams)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrapf(err, "sqlite: ping %s", path)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the file the store was opened from.
func (s *SQLiteStore) Path() string { return s.path }

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS hourly_meter_readings (
	meter_serial      TEXT NOT NULL,
	period_start_utc  DATETIME PRIMARY KEY,
	read_time_utc     DATETIME NOT NULL,
	actual_value      REAL NOT NULL,
	consumption_value REAL NOT NULL,
	consumption_cost  REAL NOT NULL,
	standing_charge   REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_meter_readings (
	meter_serial      TEXT NOT NULL,
	period_start_utc  DATETIME PRIMARY KEY,
	read_time_utc     DATETIME NOT NULL,
	actual_value      REAL NOT NULL,
	consumption_value REAL NOT NULL,
	consumption_cost  REAL NOT NULL,
	standing_charge   REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS monthly_meter_readings (
	meter_serial      TEXT NOT NULL,
	period_start_utc  DATETIME PRIMARY KEY,
	read_time_utc     DATETIME NOT NULL,
	actual_value      REAL NOT NULL,
	consumption_value REAL NOT NULL,
	consumption_cost  REAL NOT NULL,
	standing_charge   REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_consumption_averages (
	period        DATETIME PRIMARY KEY,
	daily_cost    REAL,
	daily_usage   REAL,
	weekly_cost   REAL,
	weekly_usage  REAL,
	monthly_cost  REAL,
	monthly_usage REAL
);

CREATE TABLE IF NOT EXISTS weekly_consumption_averages (
	period        DATETIME PRIMARY KEY,
	daily_cost    REAL,
	daily_usage   REAL,
	weekly_cost   REAL,
	weekly_usage  REAL,
	monthly_cost  REAL,
	monthly_usage REAL
);

CREATE TABLE IF NOT EXISTS monthly_consumption_averages (
	period        DATETIME PRIMARY KEY,
	daily_cost    REAL,
	daily_usage   REAL,
	weekly_cost   REAL,
	weekly_usage  REAL,
	monthly_cost  REAL,
	monthly_usage REAL
);

CREATE TABLE IF NOT EXISTS yearly_consumption_averages (
	period        DATETIME PRIMARY KEY,
	daily_cost    REAL,
	daily_usage   REAL,
	weekly_cost   REAL,
	weekly_usage  REAL,
	monthly_cost  REAL,
	monthly_usage REAL
);

CREATE TABLE IF NOT EXISTS tariff_history (
	tariff_id                INTEGER PRIMARY KEY,
	consumer_number          TEXT NOT NULL DEFAULT '',
	pricing_plan_code        TEXT NOT NULL DEFAULT '',
	pricing_plan_description TEXT NOT NULL DEFAULT '',
	rate                     REAL NOT NULL,
	standing_charge          REAL NOT NULL,
	tariff_change_date       DATETIME NOT NULL,
	is_current               BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id            TEXT PRIMARY KEY,
	account       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	pages         INTEGER NOT NULL DEFAULT 0,
	inserted      INTEGER NOT NULL DEFAULT 0,
	updated       INTEGER NOT NULL DEFAULT 0,
	unchanged     INTEGER NOT NULL DEFAULT 0,
	mismatches    INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tariff_history_current ON tariff_history(is_current) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	return &sqliteTx{tx: tx, c: sqlConn{tx}}, nil
}

func (s *SQLiteStore) Readings(ctx context.Context, g model.Granularity, r Range) ([]model.MeterReading, error) {
	return listReadings(ctx, s.conn(), g, r)
}

func (s *SQLiteStore) LatestReading(ctx context.Context, g model.Granularity) (*model.MeterReading, error) {
	return latestReading(ctx, s.conn(), g)
}

func (s *SQLiteStore) Averages(ctx context.Context, g model.Granularity, r Range) ([]model.ConsumptionAverages, error) {
	return listAverages(ctx, s.conn(), g, r)
}

func (s *SQLiteStore) Tariffs(ctx context.Context) ([]model.Tariff, error) {
	return listTariffs(ctx, s.conn())
}

func (s *SQLiteStore) CurrentTariff(ctx context.Context) (*model.Tariff, error) {
	return currentTariff(ctx, s.conn())
}

func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	return snapshot(ctx, s.conn())
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, s.conn())
}

// Append inserts every row of snap in a single transaction. Existing keys
// fail the whole append.
func (s *SQLiteStore) Append(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append")
	}
	defer tx.Rollback() //nolint:errcheck

	c := sqlConn{tx}
	for _, g := range model.ReadingGranularities {
		for _, r := range snap.Readings[g] {
			if err := insertReading(ctx, c, g, r); err != nil {
				return err
			}
		}
	}
	for _, g := range model.AverageGranularities {
		for _, a := range snap.Averages[g] {
			if err := insertAverages(ctx, c, g, a); err != nil {
				return err
			}
		}
	}
	for _, t := range snap.Tariffs {
		if err := insertTariff(ctx, c, t); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append")
}

func (s *SQLiteStore) StartRun(ctx context.Context, account string) (*model.IngestRun, error) {
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, totals model.RunTotals) error {
	return finishRun(ctx, s.conn(), runID, model.RunStatusComplete, totals, nil)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, totals model.RunTotals, errMsg string) error {
	return finishRun(ctx, s.conn(), runID, model.RunStatusFailed, totals, &errMsg)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	return listRuns(ctx, s.conn(), limit)
}

func (s *SQLiteStore) conn() sqlConn { return sqlConn{s.db} }

// sqliteTx implements Tx over a database/sql transaction.
type sqliteTx struct {
	tx *sql.Tx
	c  sqlConn
}

func (t *sqliteTx) GetReading(ctx context.Context, g model.Granularity, periodStart time.Time) (*model.MeterReading, error) {
	return getReading(ctx, t.c, g, periodStart)
}

func (t *sqliteTx) InsertReading(ctx context.Context, g model.Granularity, r model.MeterReading) error {
	return insertReading(ctx, t.c, g, r)
}

func (t *sqliteTx) UpdateReading(ctx context.Context, g model.Granularity, r model.MeterReading) error {
	return updateReading(ctx, t.c, g, r)
}

func (t *sqliteTx) GetAverages(ctx context.Context, g model.Granularity, period time.Time) (*model.ConsumptionAverages, error) {
	return getAverages(ctx, t.c, g, period)
}

func (t *sqliteTx) InsertAverages(ctx context.Context, g model.Granularity, a model.ConsumptionAverages) error {
	return insertAverages(ctx, t.c, g, a)
}

func (t *sqliteTx) UpdateAverages(ctx context.Context, g model.Granularity, a model.ConsumptionAverages) error {
	return updateAverages(ctx, t.c, g, a)
}

func (t *sqliteTx) GetTariff(ctx context.Context, tariffID int64) (*model.Tariff, error) {
	return getTariff(ctx, t.c, tariffID)
}

func (t *sqliteTx) InsertTariff(ctx context.Context, tf model.Tariff) error {
	return insertTariff(ctx, t.c, tf)
}

func (t *sqliteTx) ClearCurrentTariffs(ctx context.Context, exceptTariffID int64) (int64, error) {
	return clearCurrentTariffs(ctx, t.c, exceptTariffID)
}

func (t *sqliteTx) MarkCurrentTariff(ctx context.Context, tariffID int64) error {
	return markCurrentTariff(ctx, t.c, tariffID)
}

func (t *sqliteTx) Commit(_ context.Context) error {
	return eris.Wrap(t.tx.Commit(), "sqlite: commit")
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return eris.Wrap(err, "sqlite: rollback")
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlConn struct {
	q sqlQuerier
}

func (c sqlConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c sqlConn) queryRow(ctx context.Context, query string, args ...any) scannable {
	return c.q.QueryRowContext(ctx, query, args...)
}

func (c sqlConn) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() { _ = r.Rows.Close() }
