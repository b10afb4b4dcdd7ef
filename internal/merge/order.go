package merge

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/reconcile"
)

// Row orderings: natural key first, then the remaining columns in table
// order. NULL sorts before any value and false before true, so the largest
// row for a key always sorts last.

func compareReadings(a, b model.MeterReading) int {
	return cmp.Or(
		a.PeriodStartUTC.Compare(b.PeriodStartUTC),
		strings.Compare(a.MeterSerial, b.MeterSerial),
		a.ReadTimeUTC.Compare(b.ReadTimeUTC),
		cmp.Compare(a.ActualValue, b.ActualValue),
		cmp.Compare(a.ConsumptionValue, b.ConsumptionValue),
		cmp.Compare(a.ConsumptionCost, b.ConsumptionCost),
		cmp.Compare(a.StandingCharge, b.StandingCharge),
	)
}

func compareAverages(a, b model.ConsumptionAverages) int {
	return cmp.Or(
		a.Period.Compare(b.Period),
		reconcile.CompareOptional(a.DailyCost, b.DailyCost),
		reconcile.CompareOptional(a.DailyUsage, b.DailyUsage),
		reconcile.CompareOptional(a.WeeklyCost, b.WeeklyCost),
		reconcile.CompareOptional(a.WeeklyUsage, b.WeeklyUsage),
		reconcile.CompareOptional(a.MonthlyCost, b.MonthlyCost),
		reconcile.CompareOptional(a.MonthlyUsage, b.MonthlyUsage),
	)
}

func compareTariffs(a, b model.Tariff) int {
	return cmp.Or(
		cmp.Compare(a.TariffID, b.TariffID),
		strings.Compare(a.ConsumerNumber, b.ConsumerNumber),
		strings.Compare(a.PricingPlanCode, b.PricingPlanCode),
		strings.Compare(a.PricingPlanDescription, b.PricingPlanDescription),
		cmp.Compare(a.Rate, b.Rate),
		cmp.Compare(a.StandingCharge, b.StandingCharge),
		a.TariffChangeDate.Compare(b.TariffChangeDate),
		compareBool(a.IsCurrent, b.IsCurrent),
	)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// dedupLast sorts rows with compare and keeps the last row of every run of
// equal keys. It returns the kept rows and the number dropped.
func dedupLast[T any](rows []T, compare func(a, b T) int, sameKey func(a, b T) bool) ([]T, int) {
	if len(rows) == 0 {
		return nil, 0
	}
	sorted := slices.Clone(rows)
	slices.SortFunc(sorted, compare)

	out := make([]T, 0, len(sorted))
	for i, r := range sorted {
		if i+1 < len(sorted) && sameKey(r, sorted[i+1]) {
			continue
		}
		out = append(out, r)
	}
	return out, len(sorted) - len(out)
}

// normalizeCurrent leaves at most one tariff flagged current: the flagged row
// with the latest change date, then the largest id.
func normalizeCurrent(tariffs []model.Tariff) (cleared int) {
	winner := -1
	for i, t := range tariffs {
		if !t.IsCurrent {
			continue
		}
		if winner < 0 {
			winner = i
			continue
		}
		w := tariffs[winner]
		if c := t.TariffChangeDate.Compare(w.TariffChangeDate); c > 0 || (c == 0 && t.TariffID > w.TariffID) {
			winner = i
		}
	}
	for i := range tariffs {
		if i != winner && tariffs[i].IsCurrent {
			tariffs[i].IsCurrent = false
			cleared++
		}
	}
	return cleared
}
