// Package filtering narrows and orders a ranked match list.
package filtering

import (
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/posting"
)

// Filter represents a single filtering step applied to matches. Apply must
// not modify its input.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Apply(m posting.Matches) (posting.Matches, Step)
	Status() Status
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

type Filtering struct {
	steps  []Filter
	logger *zap.Logger
}

func New(steps []Filter, logger *zap.Logger) *Filtering {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filtering{steps: steps, logger: logger}
}

// Run executes the filters sequentially and returns a fresh match list.
func (f *Filtering) Run(m posting.Matches) posting.Matches {
	result := m.Clone()
	for _, step := range f.steps {
		if !step.IsEnabled() {
			f.logger.Debug("filter disabled", zap.String("name", step.Name()))
			continue
		}

		next, info := step.Apply(result)
		f.logger.Debug("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)
		result = next
	}
	return result
}

// Describe returns status entries for the configured filters.
func (f *Filtering) Describe() []Status {
	statuses := make([]Status, 0, len(f.steps))
	for _, step := range f.steps {
		statuses = append(statuses, step.Status())
	}
	return statuses
}

// keep builds a new list with the matches accepted by pred.
func keep(m posting.Matches, pred func(posting.RankedMatch) bool) (posting.Matches, Step) {
	items := make([]posting.RankedMatch, 0, len(m.Items))
	for _, match := range m.Items {
		if pred(match) {
			items = append(items, match)
		}
	}
	return posting.Matches{Items: items}, Step{
		Initial: m.Len(),
		Dropped: m.Len() - len(items),
		Left:    len(items),
	}
}
