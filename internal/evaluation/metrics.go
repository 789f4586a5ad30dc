package evaluation

import (
	"math"
	"sort"
)

// Gain is the graded gain 2^rel - 1. Non-positive grades gain nothing.
func Gain(rel int) float64 {
	if rel <= 0 {
		return 0
	}
	return math.Exp2(float64(rel)) - 1
}

// DCG calculates Discounted Cumulative Gain over the first k grades.
// grades[i] is the label of the document at rank i+1, 0 when unjudged.
func DCG(grades []int, k int) float64 {
	if k > len(grades) {
		k = len(grades)
	}

	dcg := 0.0
	for i := 0; i < k; i++ {
		dcg += Gain(grades[i]) / math.Log2(float64(i+2))
	}
	return dcg
}

// IdealDCG calculates the DCG of the best possible ranking of the judged grades,
// truncated to k or the number of judged documents if fewer.
func IdealDCG(judged []int, k int) float64 {
	sorted := make([]int, len(judged))
	copy(sorted, judged)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	return DCG(sorted, k)
}

// NDCG calculates Normalized Discounted Cumulative Gain at K.
// It is 0 when the ideal DCG is 0, never NaN.
func NDCG(grades, judged []int, k int) float64 {
	idcg := IdealDCG(judged, k)
	if idcg == 0 {
		return 0
	}
	return DCG(grades, k) / idcg
}

// Precision calculates Precision at K. The denominator is k even when fewer
// documents were retrieved.
func Precision(grades []int, k int, threshold int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(countRelevant(grades, k, threshold)) / float64(k)
}

// Recall calculates Recall at K against the number of judged relevant documents.
func Recall(grades []int, k int, threshold int, totalRelevant int) float64 {
	if totalRelevant == 0 {
		return 0
	}
	return float64(countRelevant(grades, k, threshold)) / float64(totalRelevant)
}

// ReciprocalRank returns 1/rank of the first relevant document, 0 if none.
func ReciprocalRank(grades []int, threshold int) float64 {
	for i, g := range grades {
		if g >= threshold {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// AveragePrecision calculates Average Precision, normalized by the number of
// judged relevant documents so unretrieved relevant documents count as misses.
func AveragePrecision(grades []int, threshold int, totalRelevant int) float64 {
	if totalRelevant == 0 {
		return 0
	}

	relevant := 0
	sumPrecision := 0.0
	for i, g := range grades {
		if g >= threshold {
			relevant++
			sumPrecision += float64(relevant) / float64(i+1)
		}
	}
	return sumPrecision / float64(totalRelevant)
}

// CountAtLeast returns how many grades reach threshold.
func CountAtLeast(grades []int, threshold int) int {
	return countRelevant(grades, len(grades), threshold)
}

func countRelevant(grades []int, k int, threshold int) int {
	if k > len(grades) {
		k = len(grades)
	}
	n := 0
	for i := 0; i < k; i++ {
		if grades[i] >= threshold {
			n++
		}
	}
	return n
}
