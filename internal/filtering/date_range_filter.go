package filtering

import (
	"strconv"

	"github.com/spigell/resume-matcher/internal/posting"
)

type dateRangeFilter struct {
	dateRange DateRange
	dates     DateNormalizer
	reason    string
	disabled  bool
}

// NewDateRange keeps matches posted within the range. Outside DateRangeAll,
// missing, unparsable and future dates are dropped.
func NewDateRange(dateRange DateRange, dates DateNormalizer) Filter {
	return &dateRangeFilter{dateRange: dateRange, dates: dates}
}

func (f *dateRangeFilter) Name() string { return "date_range" }

func (f *dateRangeFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *dateRangeFilter) IsEnabled() bool {
	_, bounded := f.dateRange.MaxDays()
	return bounded && !f.disabled
}

func (f *dateRangeFilter) Apply(m posting.Matches) (posting.Matches, Step) {
	maxDays, bounded := f.dateRange.MaxDays()
	if !bounded || f.disabled {
		return keep(m, func(posting.RankedMatch) bool { return true })
	}
	return keep(m, func(match posting.RankedMatch) bool {
		delta, ok := f.dates.DayDelta(match.DatePosted)
		return ok && delta >= 0 && delta <= maxDays
	})
}

func (f *dateRangeFilter) Status() Status {
	details := map[string]string{"range": string(f.dateRange)}
	if f.dates.ReferenceYear != 0 {
		details["reference_year"] = strconv.Itoa(f.dates.ReferenceYear)
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
