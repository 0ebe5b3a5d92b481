package matching

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/spigell/resume-matcher/internal/posting"
)

// Rank returns a new slice ordered by score descending, ties by id ascending.
// The input is left untouched.
func Rank(matches []posting.RankedMatch) []posting.RankedMatch {
	ranked := slices.Clone(matches)
	if ranked == nil {
		ranked = []posting.RankedMatch{}
	}
	slices.SortStableFunc(ranked, BySimilarity)
	return ranked
}

// BySimilarity orders by score descending with NaN last, then by id.
func BySimilarity(a, b posting.RankedMatch) int {
	aNaN, bNaN := math.IsNaN(a.SimilarityScore), math.IsNaN(b.SimilarityScore)
	switch {
	case aNaN && !bNaN:
		return 1
	case !aNaN && bNaN:
		return -1
	case !aNaN && !bNaN && a.SimilarityScore != b.SimilarityScore:
		return cmp.Compare(b.SimilarityScore, a.SimilarityScore)
	}
	return CompareIDs(a.ID, b.ID)
}

// CompareIDs orders integer ids before all other ids. Integer ids compare
// numerically, other ids and equal numbers compare lexicographically.
func CompareIDs(a, b string) int {
	an, aErr := strconv.ParseInt(a, 10, 64)
	bn, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		if an != bn {
			return cmp.Compare(an, bn)
		}
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
