package ingest

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/kurve-cli/internal/model"
)

// Step fetches the most recent Pages pages of one granularity. Page indexes
// run from -(Pages-1) up to 0, oldest first.
type Step struct {
	Granularity model.Granularity `json:"granularity"`
	Pages       int               `json:"pages"`
}

// First returns the index of the oldest page of the step.
func (s Step) First() int { return 1 - s.Pages }

// Plan is an ordered list of steps.
type Plan []Step

// DefaultPlan walks hourly pages -6..0, daily -3..0, weekly -5..0 and
// monthly -2..0.
func DefaultPlan() Plan {
	return Plan{
		{Granularity: model.Hourly, Pages: 7},
		{Granularity: model.Daily, Pages: 4},
		{Granularity: model.Weekly, Pages: 6},
		{Granularity: model.Monthly, Pages: 3},
	}
}

// PlanFromPages builds a plan in fetch order from per-granularity page
// counts. Granularities with a non-positive count are left out.
func PlanFromPages(pages map[model.Granularity]int) Plan {
	var p Plan
	for _, g := range model.FetchGranularities {
		if n := pages[g]; n > 0 {
			p = append(p, Step{Granularity: g, Pages: n})
		}
	}
	return p
}

// Pages returns the total number of pages the plan fetches.
func (p Plan) Pages() int {
	n := 0
	for _, s := range p {
		n += s.Pages
	}
	return n
}

// Validate checks every step targets a fetchable granularity.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return eris.New("ingest: empty plan")
	}
	for _, s := range p {
		if _, err := s.Granularity.TimeRange(); err != nil {
			return eris.Wrapf(err, "ingest: plan step %s", s.Granularity)
		}
		if s.Pages <= 0 {
			return eris.Errorf("ingest: plan step %s: pages must be positive", s.Granularity)
		}
	}
	return nil
}
