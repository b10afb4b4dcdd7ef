package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Granularity is the time bucket of a reading or an average.
type Granularity string

const (
	Hourly  Granularity = "hourly"
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
)

// ErrUnknownGranularity is returned by ParseGranularity for unrecognized input.
var ErrUnknownGranularity = eris.New("unknown granularity")

// ReadingGranularities lists the granularities that own a meter reading table.
// Weekly readings carry the same data as Daily and are never stored.
var ReadingGranularities = []Granularity{Hourly, Daily, Monthly}

// AverageGranularities lists the rollup levels that own a consumption averages table.
var AverageGranularities = []Granularity{Daily, Weekly, Monthly, Yearly}

// FetchGranularities lists the granularities the consumption API can serve, in
// the order ingestion walks them.
var FetchGranularities = []Granularity{Hourly, Daily, Weekly, Monthly}

// ParseGranularity converts a string such as "hourly" into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	switch g {
	case Hourly, Daily, Weekly, Monthly, Yearly:
		return g, nil
	default:
		return "", eris.Wrapf(ErrUnknownGranularity, "granularity %q", s)
	}
}

func (g Granularity) String() string { return string(g) }

// TimeRange returns the consumption graph "timeRange" query value that serves
// this granularity. The API names its views after the span shown on screen:
// the "Day" view holds hourly data, "Week" holds daily data and so on.
func (g Granularity) TimeRange() (string, error) {
	switch g {
	case Hourly:
		return "Day", nil
	case Daily:
		return "Week", nil
	case Weekly:
		return "Month", nil
	case Monthly:
		return "Year", nil
	default:
		return "", eris.Errorf("granularity %s has no consumption view", g)
	}
}

// HasReadings reports whether meter readings of this granularity are stored.
func (g Granularity) HasReadings() bool {
	switch g {
	case Hourly, Daily, Monthly:
		return true
	default:
		return false
	}
}

// HasAverages reports whether consumption averages are stored at this level.
func (g Granularity) HasAverages() bool {
	switch g {
	case Daily, Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

// Rollup returns the averages granularity one level coarser than g.
func (g Granularity) Rollup() (Granularity, bool) {
	switch g {
	case Hourly:
		return Daily, true
	case Daily:
		return Weekly, true
	case Weekly:
		return Monthly, true
	case Monthly:
		return Yearly, true
	default:
		return "", false
	}
}
