package emotion

import (
	"cmp"
	"math"
	"slices"
)

const (
	// TopN is the number of scored emotions surfaced to users.
	TopN = 3

	normalizedTotal = 100
	minShare        = 1
)

// Normalize returns the TopN highest scores rescaled to sum to exactly 100 with
// every share at least 1.
//
// Inputs with fewer than TopN scores are returned unchanged. Scores are ordered
// by percentage descending, ties by declared label order, and raw percentages
// are clamped into [0, 100] before rescaling. The first two shares are rounded
// independently; the last absorbs the rounding residual. If the residual would
// push the last share below 1 the excess is taken from the largest share instead.
func Normalize(scores []Score) []Score {
	if len(scores) < TopN {
		return slices.Clone(scores)
	}

	ranked := make([]Score, len(scores))
	for index, score := range scores {
		ranked[index] = Score{Type: score.Type, Percentage: ClampPercentage(score.Percentage)}
	}

	slices.SortStableFunc(ranked, func(left, right Score) int {
		if left.Percentage != right.Percentage {
			return cmp.Compare(right.Percentage, left.Percentage)
		}

		return cmp.Compare(left.Type, right.Type)
	})

	top := ranked[:TopN]
	weights := make([]int, TopN)
	total := 0

	for index, score := range top {
		weights[index] = score.Percentage
		total += score.Percentage
	}

	// All-zero scores carry no ranking signal; share evenly.
	if total == 0 {
		for index := range weights {
			weights[index] = 1
		}

		total = TopN
	}

	first := max(minShare, share(weights[0], total))
	second := max(minShare, share(weights[1], total))
	last := max(minShare, normalizedTotal-first-second)

	last += normalizedTotal - (first + second + last)
	if last < minShare {
		first -= minShare - last
		last = minShare
	}

	return []Score{
		{Type: top[0].Type, Percentage: first},
		{Type: top[1].Type, Percentage: second},
		{Type: top[2].Type, Percentage: last},
	}
}

func share(weight, total int) int {
	return int(math.Round(normalizedTotal * float64(weight) / float64(total)))
}

// Selections converts normalized scores into tone selections.
func Selections(scores []Score) []Selection {
	selections := make([]Selection, 0, len(scores))
	for _, score := range scores {
		selections = append(selections, Selection(score))
	}

	return selections
}
