package model

import "time"

// Tariff is one row of the pricing plan history. TariffID is the natural key.
// At most one row of the history may have IsCurrent set.
type Tariff struct {
	TariffID               int64     `json:"tariff_id"`
	ConsumerNumber         string    `json:"consumer_number"`
	PricingPlanCode        string    `json:"pricing_plan_code"`
	PricingPlanDescription string    `json:"pricing_plan_description"`
	Rate                   float64   `json:"rate"`
	StandingCharge         float64   `json:"standing_charge"`
	TariffChangeDate       time.Time `json:"tariff_change_date"`
	IsCurrent              bool      `json:"is_current"`
}

// Normalize returns t with TariffChangeDate in UTC.
func (t Tariff) Normalize() Tariff {
	t.TariffChangeDate = t.TariffChangeDate.UTC()
	return t
}

// Validate checks the structural invariants of a tariff.
func (t Tariff) Validate(index int) error {
	switch {
	case t.TariffID == 0:
		return invalid(recordTariff, index, "tariff_id", "missing")
	case t.TariffChangeDate.IsZero():
		return invalid(recordTariff, index, "tariff_change_date", "missing")
	case t.Rate < 0:
		return invalid(recordTariff, index, "rate", "negative")
	case t.StandingCharge < 0:
		return invalid(recordTariff, index, "standing_charge", "negative")
	}
	return nil
}
