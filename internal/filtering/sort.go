package filtering

import (
	"slices"

	"github.com/spigell/resume-matcher/internal/matching"
	"github.com/spigell/resume-matcher/internal/posting"
)

// Sort returns a new list in the requested order. Date order puts dated
// matches first, newest first; ties and undated matches fall back to
// similarity order.
func Sort(m posting.Matches, order SortOrder, dates DateNormalizer) posting.Matches {
	result := m.Clone()

	if order != SortByDate {
		slices.SortStableFunc(result.Items, matching.BySimilarity)
		return result
	}

	type dated struct {
		match posting.RankedMatch
		date  int64
		ok    bool
	}
	keyed := make([]dated, len(result.Items))
	for i, match := range result.Items {
		t, ok := dates.Parse(match.DatePosted)
		keyed[i] = dated{match: match, date: t.Unix(), ok: ok}
	}

	slices.SortStableFunc(keyed, func(a, b dated) int {
		switch {
		case a.ok && !b.ok:
			return -1
		case !a.ok && b.ok:
			return 1
		case a.ok && b.ok && a.date != b.date:
			if a.date > b.date {
				return -1
			}
			return 1
		}
		return matching.BySimilarity(a.match, b.match)
	})

	for i := range keyed {
		result.Items[i] = keyed[i].match
	}
	return result
}
