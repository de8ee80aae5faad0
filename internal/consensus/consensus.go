// Package consensus computes the stake-weighted verdict for one bounty's
// submission set. The calculation is pure and deterministic: integer
// arithmetic only, and category iteration follows a fixed verdict order so
// the result never depends on submission order or map iteration.
package consensus

import (
	"github.com/deep60/nexus-security/internal/models"
)

// Threshold is the weighted percentage one verdict category must reach to
// become authoritative.
const Threshold = 66

// Result is the outcome of one consensus computation. Reached is false when
// no category hits the threshold or total weight is zero; Verdict is then
// empty and AgreeingCount zero.
type Result struct {
	Reached       bool
	Verdict       models.Verdict
	AgreeingCount int
	TotalWeight   int64
}

// verdictOrder fixes the scan order. At threshold 66 at most one category
// can qualify, so the order only affects reproducibility, not the winner.
var verdictOrder = []models.Verdict{
	models.VerdictMalicious,
	models.VerdictBenign,
	models.VerdictSuspicious,
}

// Weight is the consensus weight one submission contributes:
// stake * confidence / 100, floor division.
func Weight(sub models.Submission) int64 {
	return sub.Stake * int64(sub.Confidence) / 100
}

// Calculate folds the submission set into a Result. AgreeingCount is a raw
// count of submissions matching the winning verdict, not a weighted sum;
// settlement divides the pool by this count, so the asymmetry is load-bearing.
func Calculate(subs []models.Submission) Result {
	weights := map[models.Verdict]int64{}
	var total int64
	for _, sub := range subs {
		w := Weight(sub)
		weights[sub.Verdict] += w
		total += w
	}
	if total == 0 {
		return Result{}
	}

	for _, v := range verdictOrder {
		percent := weights[v] * 100 / total
		if percent >= Threshold {
			agreeing := 0
			for _, sub := range subs {
				if sub.Verdict == v {
					agreeing++
				}
			}
			return Result{
				Reached:       true,
				Verdict:       v,
				AgreeingCount: agreeing,
				TotalWeight:   total,
			}
		}
	}
	return Result{TotalWeight: total}
}
