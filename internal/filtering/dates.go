package filtering

import (
	"strings"
	"time"
)

var datedLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

var yearlessLayouts = []string{
	"Jan 2",
	"Jan 02",
	"January 2",
}

// DateNormalizer turns raw posting dates into civil UTC dates.
//
// With a ReferenceYear every posting date and today are moved into that
// year before day deltas are computed. Without one, yearless dates take the
// current year, or the previous one when that would put them in the future.
type DateNormalizer struct {
	ReferenceYear int
	Now           func() time.Time
}

func (n DateNormalizer) today() time.Time {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return n.rebase(civil(now().UTC()))
}

// Parse returns the civil date of raw. ok is false for missing or
// unparsable values.
func (n DateNormalizer) Parse(raw string) (date time.Time, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	for _, layout := range datedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return n.rebase(civil(t.UTC())), true
		}
	}

	for _, layout := range yearlessLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		today := n.today()
		date := inYear(today.Year(), t.Month(), t.Day())
		if n.ReferenceYear == 0 && date.After(today) {
			date = date.AddDate(-1, 0, 0)
		}
		return date, true
	}

	return time.Time{}, false
}

// DayDelta is the number of civil days from the posting date to today.
// Negative values are dates in the future.
func (n DateNormalizer) DayDelta(raw string) (int, bool) {
	date, ok := n.Parse(raw)
	if !ok {
		return 0, false
	}
	return int(n.today().Sub(date).Hours() / 24), true
}

func (n DateNormalizer) rebase(t time.Time) time.Time {
	if n.ReferenceYear == 0 {
		return t
	}
	return inYear(n.ReferenceYear, t.Month(), t.Day())
}

// inYear builds the civil date in year. Feb 29 becomes Feb 28 when year
// has no leap day, so the date keeps its month.
func inYear(year int, month time.Month, day int) time.Time {
	if month == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
