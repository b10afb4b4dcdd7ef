package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/kurve-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(2 * time.Minute)
	runs := []model.IngestRun{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Account:     "ACC-1",
			Status:      model.RunStatusComplete,
			StartedAt:   now,
			CompletedAt: &done,
			Pages:       20,
			Inserted:    168,
			Mismatches:  2,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Account:   "ACC-1",
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ACCOUNT")
	assert.Contains(t, output, "MISMATCHES")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "168")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.IngestRun{{
		ID:        "abc12345",
		Account:   "ACC-9",
		Status:    model.RunStatusFailed,
		StartedAt: now,
		CompletedAt: func() *time.Time {
			t := now.Add(30 * time.Second)
			return &t
		}(),
		Error: "ingest: fetch hourly page 0: fetcher: unexpected status 401 from https://api.mykurve.com",
	}}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "30s")
	assert.Contains(t, output, "ingest: fetch hourly page 0: fetcher:...")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
