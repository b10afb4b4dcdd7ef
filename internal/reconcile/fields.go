package reconcile

import (
	"cmp"
	"time"

	"github.com/sells-group/kurve-cli/internal/model"
)

// field is one comparable column of a record type T. compare returns the
// sign of incoming relative to stored: positive means incoming is larger.
type field[T any] struct {
	name    string
	compare func(stored, incoming *T) int
	assign  func(dst, src *T)
	value   func(r *T) any
}

func floatField[T any](name string, ptr func(*T) *float64) field[T] {
	return field[T]{
		name:    name,
		compare: func(stored, incoming *T) int { return cmp.Compare(*ptr(incoming), *ptr(stored)) },
		assign:  func(dst, src *T) { *ptr(dst) = *ptr(src) },
		value:   func(r *T) any { return *ptr(r) },
	}
}

func timeField[T any](name string, ptr func(*T) *time.Time) field[T] {
	return field[T]{
		name:    name,
		compare: func(stored, incoming *T) int { return ptr(incoming).Compare(*ptr(stored)) },
		assign:  func(dst, src *T) { *ptr(dst) = *ptr(src) },
		value:   func(r *T) any { return *ptr(r) },
	}
}

// optionalFloatField orders NULL below every value, so a value always
// replaces NULL and a NULL never replaces a value.
func optionalFloatField[T any](name string, ptr func(*T) **float64) field[T] {
	return field[T]{
		name:    name,
		compare: func(stored, incoming *T) int { return CompareOptional(*ptr(incoming), *ptr(stored)) },
		assign: func(dst, src *T) {
			if v := *ptr(src); v != nil {
				cp := *v
				*ptr(dst) = &cp
			}
		},
		value: func(r *T) any {
			if v := *ptr(r); v != nil {
				return *v
			}
			return nil
		},
	}
}

// CompareOptional orders nullable floats with nil before any value.
func CompareOptional(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}

// meter_serial is identity metadata and period_start_utc is the key; neither
// takes part in the comparison.
var readingFields = []field[model.MeterReading]{
	timeField("read_time_utc", func(r *model.MeterReading) *time.Time { return &r.ReadTimeUTC }),
	floatField("actual_value", func(r *model.MeterReading) *float64 { return &r.ActualValue }),
	floatField("consumption_value", func(r *model.MeterReading) *float64 { return &r.ConsumptionValue }),
	floatField("consumption_cost", func(r *model.MeterReading) *float64 { return &r.ConsumptionCost }),
	floatField("standing_charge", func(r *model.MeterReading) *float64 { return &r.StandingCharge }),
}

var averagesFields = []field[model.ConsumptionAverages]{
	optionalFloatField("daily_cost", func(a *model.ConsumptionAverages) **float64 { return &a.DailyCost }),
	optionalFloatField("daily_usage", func(a *model.ConsumptionAverages) **float64 { return &a.DailyUsage }),
	optionalFloatField("weekly_cost", func(a *model.ConsumptionAverages) **float64 { return &a.WeeklyCost }),
	optionalFloatField("weekly_usage", func(a *model.ConsumptionAverages) **float64 { return &a.WeeklyUsage }),
	optionalFloatField("monthly_cost", func(a *model.ConsumptionAverages) **float64 { return &a.MonthlyCost }),
	optionalFloatField("monthly_usage", func(a *model.ConsumptionAverages) **float64 { return &a.MonthlyUsage }),
}

// fieldChange is the outcome of comparing one field.
type fieldChange struct {
	field    string
	stored   any
	incoming any
}

// resolve applies the larger-wins rule field by field, writing into stored.
// It returns the fields that were overwritten and the fields where the
// incoming value was smaller and therefore ignored.
func resolve[T any](fields []field[T], stored, incoming *T) (updated, mismatched []fieldChange) {
	for _, f := range fields {
		switch c := f.compare(stored, incoming); {
		case c > 0:
			updated = append(updated, fieldChange{f.name, f.value(stored), f.value(incoming)})
			f.assign(stored, incoming)
		case c < 0:
			mismatched = append(mismatched, fieldChange{f.name, f.value(stored), f.value(incoming)})
		}
	}
	return updated, mismatched
}
