package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ConsumptionPage is one page of the consumption graph API for a single
// (granularity, page index) pair.
type ConsumptionPage struct {
	ConsumptionMeter    *ConsumptionMeter     `json:"consumptionMeter"`
	ConsumptionAverages *AveragesPayload      `json:"consumptionAverages"`
	TariffHistory       *TariffHistoryPayload `json:"tariffHistory"`
}

// ConsumptionMeter carries the meter identity and its paged readings.
type ConsumptionMeter struct {
	MeterSerial        string           `json:"meterSerial"`
	PagedMeterReadings []ReadingPayload `json:"pagedMeterReadings"`
}

// ReadingPayload is a meter reading as served by the API.
type ReadingPayload struct {
	PeriodStartUTC   string   `json:"periodStartUtc"`
	ReadTimeUTC      string   `json:"readTimeUtc"`
	ActualValue      *float64 `json:"actualValue"`
	ConsumptionValue *float64 `json:"consumptionValue"`
	ConsumptionCost  *float64 `json:"consumptionCost"`
	StandingCharge   *float64 `json:"standingCharge"`
}

// AveragesPayload is the consumption averages block of a page.
type AveragesPayload struct {
	DailyCost    *float64 `json:"dailyCost"`
	DailyUsage   *float64 `json:"dailyUsage"`
	WeeklyCost   *float64 `json:"weeklyCost"`
	WeeklyUsage  *float64 `json:"weeklyUsage"`
	MonthlyCost  *float64 `json:"monthlyCost"`
	MonthlyUsage *float64 `json:"monthlyUsage"`
}

// TariffHistoryPayload is the tariff block of a page.
type TariffHistoryPayload struct {
	Tariffs          []TariffPayload `json:"tariffs"`
	TariffInForceNow *TariffPayload  `json:"tariffInForceNow"`
}

// TariffPayload is a tariff as served by the API.
type TariffPayload struct {
	TariffID               *int64   `json:"tariffId"`
	ConsumerNumber         string   `json:"consumerNumber"`
	PricingPlanCode        string   `json:"pricingPlanCode"`
	PricingPlanDescription string   `json:"pricingPlanDescription"`
	Rate                   *float64 `json:"rate"`
	StandingCharge         *float64 `json:"standingCharge"`
	TariffChangeDate       string   `json:"tariffChangeDate"`
}

// ReadingCount returns the number of readings on the page.
func (p *ConsumptionPage) ReadingCount() int {
	if p == nil || p.ConsumptionMeter == nil {
		return 0
	}
	return len(p.ConsumptionMeter.PagedMeterReadings)
}

// Readings parses the page's readings into records. A page without a
// consumption meter block is malformed; a meter with no readings is not,
// and its serial is only required once it has readings.
func (p *ConsumptionPage) Readings() ([]MeterReading, error) {
	if p == nil || p.ConsumptionMeter == nil {
		return nil, invalid(recordReading, -1, "consumptionMeter", "missing")
	}
	if len(p.ConsumptionMeter.PagedMeterReadings) == 0 {
		return []MeterReading{}, nil
	}
	serial := p.ConsumptionMeter.MeterSerial
	if serial == "" {
		return nil, invalid(recordReading, -1, "consumptionMeter.meterSerial", "missing")
	}

	out := make([]MeterReading, 0, len(p.ConsumptionMeter.PagedMeterReadings))
	for i, rp := range p.ConsumptionMeter.PagedMeterReadings {
		r, err := rp.toReading(serial, i)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (rp ReadingPayload) toReading(serial string, index int) (MeterReading, error) {
	start, err := ParseTimestamp(rp.PeriodStartUTC)
	if err != nil {
		return MeterReading{}, invalid(recordReading, index, "periodStartUtc", err.Error())
	}
	read, err := ParseTimestamp(rp.ReadTimeUTC)
	if err != nil {
		return MeterReading{}, invalid(recordReading, index, "readTimeUtc", err.Error())
	}

	values := []struct {
		name string
		v    *float64
	}{
		{"actualValue", rp.ActualValue},
		{"consumptionValue", rp.ConsumptionValue},
		{"consumptionCost", rp.ConsumptionCost},
		{"standingCharge", rp.StandingCharge},
	}
	for _, f := range values {
		if f.v == nil {
			return MeterReading{}, invalid(recordReading, index, f.name, "missing")
		}
	}

	r := MeterReading{
		MeterSerial:      serial,
		PeriodStartUTC:   start,
		ReadTimeUTC:      read,
		ActualValue:      *rp.ActualValue,
		ConsumptionValue: *rp.ConsumptionValue,
		ConsumptionCost:  *rp.ConsumptionCost,
		StandingCharge:   *rp.StandingCharge,
	}
	return r, r.Validate(index)
}

// Averages parses the page's averages block. The record is keyed by the
// period start of the first reading on the page; ErrNoReadings is returned
// when there is none.
func (p *ConsumptionPage) Averages() (ConsumptionAverages, error) {
	if p.ReadingCount() == 0 {
		return ConsumptionAverages{}, ErrNoReadings
	}
	if p.ConsumptionAverages == nil {
		return ConsumptionAverages{}, invalid(recordAverages, -1, "consumptionAverages", "missing")
	}

	period, err := ParseTimestamp(p.ConsumptionMeter.PagedMeterReadings[0].PeriodStartUTC)
	if err != nil {
		return ConsumptionAverages{}, invalid(recordAverages, -1, "period", err.Error())
	}

	ap := p.ConsumptionAverages
	if ap.DailyCost == nil {
		return ConsumptionAverages{}, invalid(recordAverages, -1, "dailyCost", "missing")
	}
	if ap.DailyUsage == nil {
		return ConsumptionAverages{}, invalid(recordAverages, -1, "dailyUsage", "missing")
	}

	a := ConsumptionAverages{
		Period:       period,
		DailyCost:    ap.DailyCost,
		DailyUsage:   ap.DailyUsage,
		WeeklyCost:   ap.WeeklyCost,
		WeeklyUsage:  ap.WeeklyUsage,
		MonthlyCost:  ap.MonthlyCost,
		MonthlyUsage: ap.MonthlyUsage,
	}
	return a, a.Validate(-1)
}

// HasTariffHistory reports whether the page carries a tariff block.
func (p *ConsumptionPage) HasTariffHistory() bool {
	return p != nil && p.TariffHistory != nil
}

// Tariffs parses the tariff history and the tariff in force now.
func (p *ConsumptionPage) Tariffs() ([]Tariff, Tariff, error) {
	if !p.HasTariffHistory() {
		return nil, Tariff{}, invalid(recordTariff, -1, "tariffHistory", "missing")
	}
	if p.TariffHistory.TariffInForceNow == nil {
		return nil, Tariff{}, invalid(recordTariff, -1, "tariffInForceNow", "missing")
	}

	history := make([]Tariff, 0, len(p.TariffHistory.Tariffs))
	for i, tp := range p.TariffHistory.Tariffs {
		t, err := tp.toTariff(i)
		if err != nil {
			return nil, Tariff{}, err
		}
		history = append(history, t)
	}

	current, err := p.TariffHistory.TariffInForceNow.toTariff(-1)
	if err != nil {
		return nil, Tariff{}, err
	}
	current.IsCurrent = true
	return history, current, nil
}

func (tp TariffPayload) toTariff(index int) (Tariff, error) {
	if tp.TariffID == nil {
		return Tariff{}, invalid(recordTariff, index, "tariffId", "missing")
	}
	if tp.Rate == nil {
		return Tariff{}, invalid(recordTariff, index, "rate", "missing")
	}
	if tp.StandingCharge == nil {
		return Tariff{}, invalid(recordTariff, index, "standingCharge", "missing")
	}
	changed, err := ParseTimestamp(tp.TariffChangeDate)
	if err != nil {
		return Tariff{}, invalid(recordTariff, index, "tariffChangeDate", err.Error())
	}

	t := Tariff{
		TariffID:               *tp.TariffID,
		ConsumerNumber:         tp.ConsumerNumber,
		PricingPlanCode:        tp.PricingPlanCode,
		PricingPlanDescription: tp.PricingPlanDescription,
		Rate:                   *tp.Rate,
		StandingCharge:         *tp.StandingCharge,
		TariffChangeDate:       changed,
	}
	return t, t.Validate(index)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an API timestamp. Values without a zone offset are
// taken to be UTC. The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("missing")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unparseable timestamp %q", s)
}
