package model

import "time"

// ConsumptionAverages is a rollup summary keyed by Period. Not every rollup
// level populates every field, so all quantities are nullable.
type ConsumptionAverages struct {
	Period       time.Time `json:"period"`
	DailyCost    *float64  `json:"daily_cost"`
	DailyUsage   *float64  `json:"daily_usage"`
	WeeklyCost   *float64  `json:"weekly_cost"`
	WeeklyUsage  *float64  `json:"weekly_usage"`
	MonthlyCost  *float64  `json:"monthly_cost"`
	MonthlyUsage *float64  `json:"monthly_usage"`
}

// Normalize returns a with Period in UTC.
func (a ConsumptionAverages) Normalize() ConsumptionAverages {
	a.Period = a.Period.UTC()
	return a
}

// Validate checks the structural invariants of an averages record.
func (a ConsumptionAverages) Validate(index int) error {
	if a.Period.IsZero() {
		return invalid(recordAverages, index, "period", "missing")
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"daily_cost", a.DailyCost},
		{"daily_usage", a.DailyUsage},
		{"weekly_cost", a.WeeklyCost},
		{"weekly_usage", a.WeeklyUsage},
		{"monthly_cost", a.MonthlyCost},
		{"monthly_usage", a.MonthlyUsage},
	} {
		if f.v != nil && *f.v < 0 {
			return invalid(recordAverages, index, f.name, "negative")
		}
	}
	return nil
}

// Float returns a pointer to v, for populating nullable fields.
func Float(v float64) *float64 { return &v }
