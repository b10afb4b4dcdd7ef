package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/kurve-cli/internal/model"
)

// conn is the query surface shared by the SQLite and Postgres backends.
// Queries use "?" placeholders; the Postgres adapter rebinds them.
type conn interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) scannable
	query(ctx context.Context, query string, args ...any) (rowIter, error)
}

type scannable interface {
	Scan(dest ...any) error
}

type rowIter interface {
	scannable
	Next() bool
	Err() error
	Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// TariffTable holds the tariff history.
const TariffTable = "tariff_history"

const runsTable = "ingest_runs"

var readingTables = map[model.Granularity]string{
	model.Hourly:  "hourly_meter_readings",
	model.Daily:   "daily_meter_readings",
	model.Monthly: "monthly_meter_readings",
}

var averagesTables = map[model.Granularity]string{
	model.Daily:   "daily_consumption_averages",
	model.Weekly:  "weekly_consumption_averages",
	model.Monthly: "monthly_consumption_averages",
	model.Yearly:  "yearly_consumption_averages",
}

// ReadingTable returns the reading table name for g.
func ReadingTable(g model.Granularity) (string, error) {
	t, ok := readingTables[g]
	if !ok {
		return "", eris.Errorf("store: no reading table for granularity %s", g)
	}
	return t, nil
}

// AveragesTable returns the consumption averages table name for g.
func AveragesTable(g model.Granularity) (string, error) {
	t, ok := averagesTables[g]
	if !ok {
		return "", eris.Errorf("store: no averages table for granularity %s", g)
	}
	return t, nil
}

// DataTables lists every data table: readings, then averages, then the
// tariff history.
func DataTables() []string {
	tables := make([]string, 0, len(readingTables)+len(averagesTables)+1)
	for _, g := range model.ReadingGranularities {
		tables = append(tables, readingTables[g])
	}
	for _, g := range model.AverageGranularities {
		tables = append(tables, averagesTables[g])
	}
	return append(tables, TariffTable)
}

// Column lists in table order. The natural key is listed first in the
// *Key/*Rest split used by merge ordering.
var (
	readingColumns  = []string{"meter_serial", "period_start_utc", "read_time_utc", "actual_value", "consumption_value", "consumption_cost", "standing_charge"}
	averagesColumns = []string{"period", "daily_cost", "daily_usage", "weekly_cost", "weekly_usage", "monthly_cost", "monthly_usage"}
	tariffColumns   = []string{"tariff_id", "consumer_number", "pricing_plan_code", "pricing_plan_description", "rate", "standing_charge", "tariff_change_date", "is_current"}
)

// ReadingColumns returns the meter reading columns in table order.
func ReadingColumns() []string { return append([]string(nil), readingColumns...) }

// AveragesColumns returns the consumption averages columns in table order.
func AveragesColumns() []string { return append([]string(nil), averagesColumns...) }

// TariffColumns returns the tariff history columns in table order.
func TariffColumns() []string { return append([]string(nil), tariffColumns...) }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func selectList(cols []string) string { return strings.Join(cols, ", ") }

// --- meter readings ---

func readingArgs(r model.MeterReading) []any {
	r = r.Normalize()
	return []any{r.MeterSerial, r.PeriodStartUTC, r.ReadTimeUTC, r.ActualValue, r.ConsumptionValue, r.ConsumptionCost, r.StandingCharge}
}

func scanReading(row scannable) (model.MeterReading, error) {
	var r model.MeterReading
	err := row.Scan(&r.MeterSerial, &r.PeriodStartUTC, &r.ReadTimeUTC, &r.ActualValue, &r.ConsumptionValue, &r.ConsumptionCost, &r.StandingCharge)
	return r.Normalize(), err
}

func getReading(ctx context.Context, c conn, g model.Granularity, periodStart time.Time) (*model.MeterReading, error) {
	table, err := ReadingTable(g)
	if err != nil {
		return nil, err
	}
	r, err := scanReading(c.queryRow(ctx,
		`SELECT `+selectList(readingColumns)+` FROM `+table+` WHERE period_start_utc = ?`,
		periodStart.UTC(),
	))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get %s row", table)
	}
	return &r, nil
}

func insertReading(ctx context.Context, c conn, g model.Granularity, r model.MeterReading) error {
	table, err := ReadingTable(g)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx,
		`INSERT INTO `+table+` (`+selectList(readingColumns)+`) VALUES (`+placeholders(len(readingColumns))+`)`,
		readingArgs(r)...,
	)
	return eris.Wrapf(err, "store: insert %s row", table)
}

func updateReading(ctx context.Context, c conn, g model.Granularity, r model.MeterReading) error {
	table, err := ReadingTable(g)
	if err != nil {
		return err
	}
	r = r.Normalize()
	n, err := c.exec(ctx,
		`UPDATE `+table+` SET meter_serial = ?, read_time_utc = ?, actual_value = ?, consumption_value = ?,
		 consumption_cost = ?, standing_charge = ? WHERE period_start_utc = ?`,
		r.MeterSerial, r.ReadTimeUTC, r.ActualValue, r.ConsumptionValue, r.ConsumptionCost, r.StandingCharge, r.PeriodStartUTC,
	)
	if err != nil {
		return eris.Wrapf(err, "store: update %s row", table)
	}
	return checkRowsAffected(n, table, r.PeriodStartUTC.Format(time.RFC3339))
}

func listReadings(ctx context.Context, c conn, g model.Granularity, rng Range) ([]model.MeterReading, error) {
	table, err := ReadingTable(g)
	if err != nil {
		return nil, err
	}
	where, args := rangeClause("period_start_utc", rng)
	rows, err := c.query(ctx, `SELECT `+selectList(readingColumns)+` FROM `+table+where+` ORDER BY period_start_utc`, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list %s", table)
	}
	defer rows.Close()

	var out []model.MeterReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "store: scan %s row", table)
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "store: list %s iterate", table)
}

func latestReading(ctx context.Context, c conn, g model.Granularity) (*model.MeterReading, error) {
	table, err := ReadingTable(g)
	if err != nil {
		return nil, err
	}
	r, err := scanReading(c.queryRow(ctx, `SELECT `+selectList(readingColumns)+` FROM `+table+` ORDER BY period_start_utc DESC LIMIT 1`))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: latest %s", table)
	}
	return &r, nil
}

// --- consumption averages ---

func averagesArgs(a model.ConsumptionAverages) []any {
	a = a.Normalize()
	return []any{a.Period, a.DailyCost, a.DailyUsage, a.WeeklyCost, a.WeeklyUsage, a.MonthlyCost, a.MonthlyUsage}
}

func scanAverages(row scannable) (model.ConsumptionAverages, error) {
	var a model.ConsumptionAverages
	err := row.Scan(&a.Period, &a.DailyCost, &a.DailyUsage, &a.WeeklyCost, &a.WeeklyUsage, &a.MonthlyCost, &a.MonthlyUsage)
	return a.Normalize(), err
}

func getAverages(ctx context.Context, c conn, g model.Granularity, period time.Time) (*model.ConsumptionAverages, error) {
	table, err := AveragesTable(g)
	if err != nil {
		return nil, err
	}
	a, err := scanAverages(c.queryRow(ctx,
		`SELECT `+selectList(averagesColumns)+` FROM `+table+` WHERE period = ?`,
		period.UTC(),
	))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get %s row", table)
	}
	return &a, nil
}

func insertAverages(ctx context.Context, c conn, g model.Granularity, a model.ConsumptionAverages) error {
	table, err := AveragesTable(g)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx,
		`INSERT INTO `+table+` (`+selectList(averagesColumns)+`) VALUES (`+placeholders(len(averagesColumns))+`)`,
		averagesArgs(a)...,
	)
	return eris.Wrapf(err, "store: insert %s row", table)
}

func updateAverages(ctx context.Context, c conn, g model.Granularity, a model.ConsumptionAverages) error {
	table, err := AveragesTable(g)
	if err != nil {
		return err
	}
	a = a.Normalize()
	n, err := c.exec(ctx,
		`UPDATE `+table+` SET daily_cost = ?, daily_usage = ?, weekly_cost = ?, weekly_usage = ?,
		 monthly_cost = ?, monthly_usage = ? WHERE period = ?`,
		a.DailyCost, a.DailyUsage, a.WeeklyCost, a.WeeklyUsage, a.MonthlyCost, a.MonthlyUsage, a.Period,
	)
	if err != nil {
		return eris.Wrapf(err, "store: update %s row", table)
	}
	return checkRowsAffected(n, table, a.Period.Format(time.RFC3339))
}

func listAverages(ctx context.Context, c conn, g model.Granularity, rng Range) ([]model.ConsumptionAverages, error) {
	table, err := AveragesTable(g)
	if err != nil {
		return nil, err
	}
	where, args := rangeClause("period", rng)
	rows, err := c.query(ctx, `SELECT `+selectList(averagesColumns)+` FROM `+table+where+` ORDER BY period`, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list %s", table)
	}
	defer rows.Close()

	var out []model.ConsumptionAverages
	for rows.Next() {
		a, err := scanAverages(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "store: scan %s row", table)
		}
		out = append(out, a)
	}
	return out, eris.Wrapf(rows.Err(), "store: list %s iterate", table)
}

// --- tariff history ---

func tariffArgs(t model.Tariff) []any {
	t = t.Normalize()
	return []any{t.TariffID, t.ConsumerNumber, t.PricingPlanCode, t.PricingPlanDescription, t.Rate, t.StandingCharge, t.TariffChangeDate, t.IsCurrent}
}

func scanTariff(row scannable) (model.Tariff, error) {
	var t model.Tariff
	err := row.Scan(&t.TariffID, &t.ConsumerNumber, &t.PricingPlanCode, &t.PricingPlanDescription, &t.Rate, &t.StandingCharge, &t.TariffChangeDate, &t.IsCurrent)
	return t.Normalize(), err
}

func getTariff(ctx context.Context, c conn, tariffID int64) (*model.Tariff, error) {
	t, err := scanTariff(c.queryRow(ctx,
		`SELECT `+selectList(tariffColumns)+` FROM `+TariffTable+` WHERE tariff_id = ?`,
		tariffID,
	))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get tariff %d", tariffID)
	}
	return &t, nil
}

func currentTariff(ctx context.Context, c conn) (*model.Tariff, error) {
	t, err := scanTariff(c.queryRow(ctx,
		`SELECT `+selectList(tariffColumns)+` FROM `+TariffTable+` WHERE is_current = ? ORDER BY tariff_id LIMIT 1`,
		true,
	))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get current tariff")
	}
	return &t, nil
}

func insertTariff(ctx context.Context, c conn, t model.Tariff) error {
	_, err := c.exec(ctx,
		`INSERT INTO `+TariffTable+` (`+selectList(tariffColumns)+`) VALUES (`+placeholders(len(tariffColumns))+`)`,
		tariffArgs(t)...,
	)
	return eris.Wrapf(err, "store: insert tariff %d", t.TariffID)
}

func clearCurrentTariffs(ctx context.Context, c conn, exceptTariffID int64) (int64, error) {
	n, err := c.exec(ctx,
		`UPDATE `+TariffTable+` SET is_current = ? WHERE is_current = ? AND tariff_id <> ?`,
		false, true, exceptTariffID,
	)
	return n, eris.Wrap(err, "store: clear current tariffs")
}

func markCurrentTariff(ctx context.Context, c conn, tariffID int64) error {
	n, err := c.exec(ctx,
		`UPDATE `+TariffTable+` SET is_current = ? WHERE tariff_id = ?`,
		true, tariffID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: mark tariff %d current", tariffID)
	}
	return checkRowsAffected(n, TariffTable, "tariff")
}

func listTariffs(ctx context.Context, c conn) ([]model.Tariff, error) {
	rows, err := c.query(ctx, `SELECT `+selectList(tariffColumns)+` FROM `+TariffTable+` ORDER BY tariff_id`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list tariffs")
	}
	defer rows.Close()

	var out []model.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan tariff")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "store: list tariffs iterate")
}

// --- bulk ---

func snapshot(ctx context.Context, c conn) (*Snapshot, error) {
	snap := NewSnapshot()
	for _, g := range model.ReadingGranularities {
		rows, err := listReadings(ctx, c, g, Range{})
		if err != nil {
			return nil, err
		}
		snap.Readings[g] = rows
	}
	for _, g := range model.AverageGranularities {
		rows, err := listAverages(ctx, c, g, Range{})
		if err != nil {
			return nil, err
		}
		snap.Averages[g] = rows
	}
	tariffs, err := listTariffs(ctx, c)
	if err != nil {
		return nil, err
	}
	snap.Tariffs = tariffs
	return snap, nil
}

func countRows(ctx context.Context, c conn) (int64, error) {
	var total int64
	for _, table := range DataTables() {
		var n int64
		if err := c.queryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return 0, eris.Wrapf(err, "store: count %s", table)
		}
		total += n
	}
	return total, nil
}

// --- ingestion run log ---

const runColumns = "id, account, status, started_at, completed_at, pages, inserted, updated, unchanged, mismatches, error_message"

func insertRun(ctx context.Context, c conn, run model.IngestRun) error {
	_, err := c.exec(ctx,
		`INSERT INTO `+runsTable+` (id, account, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Account, string(run.Status), run.StartedAt.UTC(),
	)
	return eris.Wrap(err, "store: insert run")
}

func finishRun(ctx context.Context, c conn, runID string, status model.RunStatus, totals model.RunTotals, errMsg *string) error {
	n, err := c.exec(ctx,
		`UPDATE `+runsTable+` SET status = ?, completed_at = ?, pages = ?, inserted = ?, updated = ?,
		 unchanged = ?, mismatches = ?, error_message = ? WHERE id = ?`,
		string(status), time.Now().UTC(), totals.Pages, totals.Inserted, totals.Updated,
		totals.Unchanged, totals.Mismatches, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: finish run %s", runID)
	}
	return checkRowsAffected(n, "run", runID)
}

func listRuns(ctx context.Context, c conn, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.query(ctx, `SELECT `+runColumns+` FROM `+runsTable+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var status string
		var completedAt *time.Time
		var errMsg *string
		if err := rows.Scan(&r.ID, &r.Account, &status, &r.StartedAt, &completedAt,
			&r.Pages, &r.Inserted, &r.Updated, &r.Unchanged, &r.Mismatches, &errMsg); err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		r.Status = model.RunStatus(status)
		r.StartedAt = r.StartedAt.UTC()
		if completedAt != nil {
			utc := completedAt.UTC()
			r.CompletedAt = &utc
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "store: list runs iterate")
}

// helpers

func rangeClause(column string, rng Range) (string, []any) {
	var conds []string
	var args []any
	if !rng.From.IsZero() {
		conds = append(conds, column+" >= ?")
		args = append(args, rng.From.UTC())
	}
	if !rng.To.IsZero() {
		conds = append(conds, column+" < ?")
		args = append(args, rng.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func checkRowsAffected(n int64, entity, id string) error {
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
