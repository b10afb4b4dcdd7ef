package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `{
	"consumptionMeter": {
		"meterSerial": "WM-0042",
		"pagedMeterReadings": [
			{"periodStartUtc": "2024-01-01T00:00:00Z", "readTimeUtc": "2024-01-01T01:00:00Z",
			 "actualValue": 120.5, "consumptionValue": 0.4, "consumptionCost": 0.12, "standingCharge": 0.05},
			{"periodStartUtc": "2024-01-01T01:00:00", "readTimeUtc": "2024-01-01T02:00:00",
			 "actualValue": 120.9, "consumptionValue": 0.3, "consumptionCost": 0.09, "standingCharge": 0.05}
		]
	},
	"consumptionAverages": {"dailyCost": 1.5, "dailyUsage": 4.2, "weeklyCost": 10.1},
	"tariffHistory": {
		"tariffs": [
			{"tariffId": 7, "consumerNumber": "C1", "pricingPlanCode": "STD", "pricingPlanDescription": "Standard",
			 "rate": 2.1, "standingCharge": 0.3, "tariffChangeDate": "2023-04-01T00:00:00Z"}
		],
		"tariffInForceNow": {"tariffId": 9, "consumerNumber": "C1", "pricingPlanCode": "ECO", "pricingPlanDescription": "Eco",
			 "rate": 2.4, "standingCharge": 0.35, "tariffChangeDate": "2024-04-01T00:00:00Z"}
	}
}`

func decodePage(t *testing.T, raw string) *ConsumptionPage {
	t.Helper()
	var p ConsumptionPage
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func TestConsumptionPage_Readings(t *testing.T) {
	t.Parallel()
	p := decodePage(t, samplePage)

	readings, err := p.Readings()
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, "WM-0042", readings[0].MeterSerial)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), readings[0].PeriodStartUTC)
	assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), readings[1].ReadTimeUTC)
	assert.InDelta(t, 0.09, readings[1].ConsumptionCost, 1e-9)
}

func TestConsumptionPage_Readings_MissingField(t *testing.T) {
	t.Parallel()
	p := decodePage(t, `{"consumptionMeter": {"meterSerial": "WM-1", "pagedMeterReadings": [
		{"periodStartUtc": "2024-01-01T00:00:00Z", "readTimeUtc": "2024-01-01T00:30:00Z",
		 "actualValue": 1, "consumptionValue": 1, "standingCharge": 0}
	]}}`)

	_, err := p.Readings()
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "consumptionCost", ve.Field)
	assert.Equal(t, 0, ve.Index)
}

func TestConsumptionPage_Readings_BadTimestamp(t *testing.T) {
	t.Parallel()
	p := decodePage(t, `{"consumptionMeter": {"meterSerial": "WM-1", "pagedMeterReadings": [
		{"periodStartUtc": "yesterday", "readTimeUtc": "2024-01-01T00:30:00Z",
		 "actualValue": 1, "consumptionValue": 1, "consumptionCost": 1, "standingCharge": 0}
	]}}`)

	_, err := p.Readings()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "periodStartUtc", ve.Field)
}

func TestConsumptionPage_Readings_MissingMeter(t *testing.T) {
	t.Parallel()
	p := decodePage(t, `{}`)

	_, err := p.Readings()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "consumptionMeter", ve.Field)
}

func TestConsumptionPage_Readings_BlankSerial(t *testing.T) {
	t.Parallel()

	empty := decodePage(t, `{"consumptionMeter": {"meterSerial": "", "pagedMeterReadings": []}}`)
	readings, err := empty.Readings()
	require.NoError(t, err)
	assert.Empty(t, readings)

	withRows := decodePage(t, `{"consumptionMeter": {"pagedMeterReadings": [
		{"periodStartUtc": "2024-01-01T00:00:00Z", "readTimeUtc": "2024-01-01T01:00:00Z",
		 "actualValue": 1, "consumptionValue": 1, "consumptionCost": 1, "standingCharge": 1}]}}`)
	_, err = withRows.Readings()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "consumptionMeter.meterSerial", ve.Field)
}

func TestConsumptionPage_Averages(t *testing.T) {
	t.Parallel()
	p := decodePage(t, samplePage)

	a, err := p.Averages()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), a.Period)
	require.NotNil(t, a.DailyCost)
	assert.InDelta(t, 1.5, *a.DailyCost, 1e-9)
	require.NotNil(t, a.WeeklyCost)
	assert.Nil(t, a.WeeklyUsage)
	assert.Nil(t, a.MonthlyCost)
}

func TestConsumptionPage_Averages_NoReadings(t *testing.T) {
	t.Parallel()
	p := decodePage(t, `{"consumptionMeter": {"meterSerial": "WM-1", "pagedMeterReadings": []},
		"consumptionAverages": {"dailyCost": 1, "dailyUsage": 2}}`)

	_, err := p.Averages()
	assert.ErrorIs(t, err, ErrNoReadings)
}

func TestConsumptionPage_Averages_MissingBlock(t *testing.T) {
	t.Parallel()
	p := decodePage(t, `{"consumptionMeter": {"meterSerial": "WM-1", "pagedMeterReadings": [
		{"periodStartUtc": "2024-01-01T00:00:00Z"}]}}`)

	_, err := p.Averages()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "consumptionAverages", ve.Field)
}

func TestConsumptionPage_Tariffs(t *testing.T) {
	t.Parallel()
	p := decodePage(t, samplePage)

	history, current, err := p.Tariffs()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(7), history[0].TariffID)
	assert.False(t, history[0].IsCurrent)

	assert.Equal(t, int64(9), current.TariffID)
	assert.True(t, current.IsCurrent)
	assert.Equal(t, "ECO", current.PricingPlanCode)
}

func TestConsumptionPage_Tariffs_Missing(t *testing.T) {
	t.Parallel()
	p := decodePage(t, `{"tariffHistory": {"tariffs": []}}`)

	_, _, err := p.Tariffs()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "tariffInForceNow", ve.Field)
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-03-05T06:00:00Z", want, false},
		{"2024-03-05T06:00:00+00:00", want, false},
		{"2024-03-05T07:00:00+01:00", want, false},
		{"2024-03-05T06:00:00", want, false},
		{"2024-03-05 06:00:00", want, false},
		{"", time.Time{}, true},
		{"not a time", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
