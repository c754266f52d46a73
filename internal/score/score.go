// Package score redistributes a day's global scores when the raw model
// scores lack discriminative spread.
//
// Detection looks at the distinct-value count and standard deviation of the
// batch; recalibration ranks items by a blend of model score and popularity,
// then maps ranks onto a concave curve inside a fixed band. The whole pass is
// a pure function of its input batch.
package score

import (
	"math"
	"sort"
)

const (
	// minBatchSize is the smallest batch worth recalibrating.
	minBatchSize = 8

	// minStdDev below which scores count as collapsed.
	minStdDev = 7.0

	// distinctFraction of the batch that must be distinct to avoid a trigger.
	distinctFraction = 0.25

	// Popularity blends vote and comment signals on log scales.
	pointsWeight   = 14.0
	commentsWeight = 11.0

	// Ranking blend between model score and popularity.
	llmWeight        = 0.65
	popularityWeight = 0.35

	// curveExponent front-loads differentiation among top-ranked items.
	curveExponent = 0.85

	// DefaultMinScore and DefaultMaxScore bound recalibrated scores.
	DefaultMinScore = 30
	DefaultMaxScore = 98
)

// CalibrationItem is the projection of one scored record used by the
// calibration pass.
type CalibrationItem struct {
	HNID        int64
	GlobalScore int
	HNScore     *int
	Descendants *int
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}

	return math.Max(0, math.Min(100, s))
}

func popularityScore(hnScore, descendants *int) float64 {
	var points, comments float64

	if hnScore != nil && *hnScore > 0 {
		points = float64(*hnScore)
	}

	if descendants != nil && *descendants > 0 {
		comments = float64(*descendants)
	}

	raw := math.Log1p(points)*pointsWeight + math.Log1p(comments)*commentsWeight

	return clampScore(raw)
}

func scoreStats(scores []float64) (std float64, distinct int) {
	if len(scores) == 0 {
		return 0, 0
	}

	seen := make(map[int]struct{}, len(scores))

	var sum float64

	for _, s := range scores {
		seen[int(math.Round(s))] = struct{}{}
		sum += s
	}

	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}

	variance /= float64(len(scores))

	return math.Sqrt(variance), len(seen)
}

// ShouldRecalibrate reports whether the batch's scores are too clustered to
// rank usefully. Small batches never trigger.
func ShouldRecalibrate(items []CalibrationItem) bool {
	if len(items) < minBatchSize {
		return false
	}

	scores := make([]float64, len(items))
	for i, item := range items {
		scores[i] = clampScore(float64(item.GlobalScore))
	}

	std, distinct := scoreStats(scores)

	maxCollapsed := int(math.Floor(float64(len(items)) * distinctFraction))
	if maxCollapsed < 3 {
		maxCollapsed = 3
	}

	if distinct <= maxCollapsed {
		return true
	}

	return std < minStdDev
}

// Recalibrate maps every item to a new score spread across [minScore,
// maxScore]. Ranking blends the model score with a popularity signal; ties
// break by ascending id so the mapping is deterministic. It never invents or
// drops items and only ever produces integer scores in [0,100].
func Recalibrate(items []CalibrationItem, minScore, maxScore int) map[int64]int {
	n := len(items)
	mapping := make(map[int64]int, n)

	if n == 0 {
		return mapping
	}

	type rankedItem struct {
		id  int64
		key float64
	}

	ranked := make([]rankedItem, n)
	for i, item := range items {
		llm := clampScore(float64(item.GlobalScore))
		pop := popularityScore(item.HNScore, item.Descendants)
		ranked[i] = rankedItem{id: item.HNID, key: llm*llmWeight + pop*popularityWeight}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].key != ranked[j].key {
			return ranked[i].key > ranked[j].key
		}

		return ranked[i].id < ranked[j].id
	})

	for i, r := range ranked {
		t := 1.0
		if n > 1 {
			t = 1.0 - float64(i)/float64(n-1)
		}

		curved := math.Pow(t, curveExponent)
		s := math.Round(float64(minScore) + float64(maxScore-minScore)*curved)
		mapping[r.id] = int(clampScore(s))
	}

	return mapping
}
