package filtering

import (
	"fmt"
	"slices"
)

type DateRange string

const (
	DateRangeAll   DateRange = "all"
	DateRangeToday DateRange = "today"
	DateRangeWeek  DateRange = "week"
	DateRangeMonth DateRange = "month"
)

// MaxDays is the largest day delta accepted by the range. ok is false for
// DateRangeAll, which applies no bound.
func (r DateRange) MaxDays() (days int, ok bool) {
	switch r {
	case DateRangeToday:
		return 0, true
	case DateRangeWeek:
		return 7, true
	case DateRangeMonth:
		return 30, true
	default:
		return 0, false
	}
}

func ParseDateRange(s string) (DateRange, error) {
	switch r := DateRange(s); r {
	case DateRangeAll, DateRangeToday, DateRangeWeek, DateRangeMonth:
		return r, nil
	case "":
		return DateRangeAll, nil
	default:
		return "", fmt.Errorf("unknown date range %q, expected one of all, today, week, month", s)
	}
}

type SortOrder string

const (
	SortBySimilarity SortOrder = "similarity"
	SortByDate       SortOrder = "date"
)

func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(s); o {
	case SortBySimilarity, SortByDate:
		return o, nil
	case "":
		return SortBySimilarity, nil
	default:
		return "", fmt.Errorf("unknown sort order %q, expected similarity or date", s)
	}
}

// State is the user's view over a ranked match list.
type State struct {
	SelectedCompanies []string  `json:"companies"`
	DateRange         DateRange `json:"date_range"`
	SortOrder         SortOrder `json:"sort"`
}

// DefaultState keeps everything ordered by similarity.
func DefaultState() State {
	return State{
		SelectedCompanies: []string{},
		DateRange:         DateRangeAll,
		SortOrder:         SortBySimilarity,
	}
}

// Normalize fills empty fields with defaults and validates the rest.
func (s State) Normalize() (State, error) {
	dateRange, err := ParseDateRange(string(s.DateRange))
	if err != nil {
		return State{}, err
	}
	order, err := ParseSortOrder(string(s.SortOrder))
	if err != nil {
		return State{}, err
	}

	companies := slices.Clone(s.SelectedCompanies)
	if companies == nil {
		companies = []string{}
	}
	return State{SelectedCompanies: companies, DateRange: dateRange, SortOrder: order}, nil
}
