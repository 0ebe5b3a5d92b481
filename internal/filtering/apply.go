package filtering

import (
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/posting"
)

// Applier derives filtered views of a ranked match list.
type Applier struct {
	dates  DateNormalizer
	logger *zap.Logger
}

func NewApplier(dates DateNormalizer, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{dates: dates, logger: logger}
}

// Steps returns the filters selected by state.
func (a *Applier) Steps(state State) []Filter {
	return []Filter{
		NewCompanies(state.SelectedCompanies),
		NewDateRange(state.DateRange, a.dates),
	}
}

// Apply filters and orders m according to state. The input is never
// modified and the result shares no memory with it.
func (a *Applier) Apply(m posting.Matches, state State) posting.Matches {
	filtered := New(a.Steps(state), a.logger).Run(m)
	return Sort(filtered, state.SortOrder, a.dates)
}

// Describe returns the status of the filters selected by state.
func (a *Applier) Describe(state State) []Status {
	return New(a.Steps(state), a.logger).Describe()
}
