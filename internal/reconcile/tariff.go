package reconcile

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/model"
)

const tariffTable = "tariff_history"

// Tariffs reconciles the tariff history and the tariff in force now. History
// rows absent from the store are inserted as not current; rows already
// present are left alone. The current tariff ends up as the only row with
// is_current set: every other row is cleared before it is flagged.
func (r *Reconciler) Tariffs(ctx context.Context, history []model.Tariff, current model.Tariff) (Stats, error) {
	for i := range history {
		if err := history[i].Validate(i); err != nil {
			return Stats{}, err
		}
	}
	if err := current.Validate(-1); err != nil {
		return Stats{}, err
	}

	log := r.log.With(zap.String("table", tariffTable))
	var stats Stats

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return stats, &CommitError{Table: tariffTable, Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, t := range history {
		existing, err := tx.GetTariff(ctx, t.TariffID)
		if err != nil {
			return Stats{}, &CommitError{Table: tariffTable, Op: "lookup", Err: err}
		}
		if existing != nil {
			stats.Unchanged++
			continue
		}
		t.IsCurrent = false
		if err := tx.InsertTariff(ctx, t); err != nil {
			return Stats{}, &CommitError{Table: tariffTable, Op: "insert", Err: err}
		}
		stats.Inserted++
		log.Info("inserted tariff", zap.Int64("tariff_id", t.TariffID))
	}

	cleared, err := tx.ClearCurrentTariffs(ctx, current.TariffID)
	if err != nil {
		return Stats{}, &CommitError{Table: tariffTable, Op: "clear current", Err: err}
	}
	if cleared > 0 {
		log.Info("cleared previous current tariff", zap.Int64("rows", cleared), zap.Int64("tariff_id", current.TariffID))
	}

	existing, err := tx.GetTariff(ctx, current.TariffID)
	if err != nil {
		return Stats{}, &CommitError{Table: tariffTable, Op: "lookup", Err: err}
	}
	switch {
	case existing == nil:
		current.IsCurrent = true
		if err := tx.InsertTariff(ctx, current); err != nil {
			return Stats{}, &CommitError{Table: tariffTable, Op: "insert", Err: err}
		}
		stats.Inserted++
		log.Info("inserted current tariff", zap.Int64("tariff_id", current.TariffID))
	case !existing.IsCurrent:
		if err := tx.MarkCurrentTariff(ctx, current.TariffID); err != nil {
			return Stats{}, &CommitError{Table: tariffTable, Op: "mark current", Err: err}
		}
		stats.Updated++
		log.Info("marked tariff current", zap.Int64("tariff_id", current.TariffID))
	default:
		if cleared > 0 {
			stats.Updated++
		} else {
			stats.Unchanged++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Stats{}, &CommitError{Table: tariffTable, Op: "commit", Err: err}
	}

	r.record(tariffTable, stats)
	return stats, nil
}
