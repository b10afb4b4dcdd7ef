package model

import (
	"time"
)

const (
	recordReading  = "meter reading"
	recordAverages = "consumption averages"
	recordTariff   = "tariff"
)

// MeterReading is one metered period. PeriodStartUTC is the natural key and is
// unique within each granularity table.
type MeterReading struct {
	MeterSerial      string    `json:"meter_serial"`
	PeriodStartUTC   time.Time `json:"period_start_utc"`
	ReadTimeUTC      time.Time `json:"read_time_utc"`
	ActualValue      float64   `json:"actual_value"`
	ConsumptionValue float64   `json:"consumption_value"`
	ConsumptionCost  float64   `json:"consumption_cost"`
	StandingCharge   float64   `json:"standing_charge"`
}

// Normalize returns r with both timestamps in UTC.
func (r MeterReading) Normalize() MeterReading {
	r.PeriodStartUTC = r.PeriodStartUTC.UTC()
	r.ReadTimeUTC = r.ReadTimeUTC.UTC()
	return r
}

// Validate checks the structural invariants of a reading. index is the
// reading's position in its batch and only feeds the error message.
func (r MeterReading) Validate(index int) error {
	switch {
	case r.MeterSerial == "":
		return invalid(recordReading, index, "meter_serial", "missing")
	case r.PeriodStartUTC.IsZero():
		return invalid(recordReading, index, "period_start_utc", "missing")
	case r.ReadTimeUTC.IsZero():
		return invalid(recordReading, index, "read_time_utc", "missing")
	case r.ActualValue < 0:
		return invalid(recordReading, index, "actual_value", "negative")
	case r.ConsumptionValue < 0:
		return invalid(recordReading, index, "consumption_value", "negative")
	case r.ConsumptionCost < 0:
		return invalid(recordReading, index, "consumption_cost", "negative")
	case r.StandingCharge < 0:
		return invalid(recordReading, index, "standing_charge", "negative")
	}
	return nil
}

// Anomalies lists suspicious but accepted properties of the reading.
func (r MeterReading) Anomalies() []string {
	var out []string
	if r.ReadTimeUTC.Before(r.PeriodStartUTC) {
		out = append(out, "read_time_utc precedes period_start_utc")
	}
	return out
}

// AtDayBoundary reports whether the period starts at hour zero (UTC).
func (r MeterReading) AtDayBoundary() bool {
	return r.PeriodStartUTC.UTC().Hour() == 0
}
